package decision

import "time"

// TransactionContext is the immutable per-request snapshot of transaction
// attributes that both the rule evaluator and the scorer read. It is built
// once, before fan-out begins, and never mutated afterwards: the two
// concurrent paths share it without locks.
type TransactionContext struct {
	attrs map[string]Value
}

// NewTransactionContext builds a context from named attributes.
func NewTransactionContext(attrs map[string]Value) *TransactionContext {
	cp := make(map[string]Value, len(attrs))
	for k, v := range attrs {
		cp[k] = v
	}
	return &TransactionContext{attrs: cp}
}

// ContextFromRequest flattens a score request into evaluation attributes.
// Nested attribute maps use dotted keys (merchant.country, merchant.mcc).
func ContextFromRequest(req *ScoreRequest) *TransactionContext {
	attrs := map[string]Value{
		"amount":   Number(req.Amount),
		"currency": String(req.Currency),
		"channel":  String(req.Channel),
	}
	if req.CardType != "" {
		attrs["card.type"] = String(req.CardType)
	}
	if req.IP != "" {
		attrs["ip"] = String(req.IP)
	}
	if req.DeviceID != "" {
		attrs["device.id"] = String(req.DeviceID)
	}
	if !req.OccurredAt.IsZero() {
		attrs["occurred_at"] = Number(float64(req.OccurredAt.Unix()))
		attrs["hour_of_day"] = Number(float64(req.OccurredAt.UTC().Hour()))
	}
	for k, v := range req.Merchant {
		attrs["merchant."+k] = FromAny(v)
	}
	for k, v := range req.Attributes {
		attrs[k] = FromAny(v)
	}
	// Velocity figures precomputed upstream are injected like any other
	// attribute (e.g. velocity.tx_count_1h).
	for k, v := range req.Velocity {
		attrs["velocity."+k] = Number(v)
	}
	return NewTransactionContext(attrs)
}

// Get resolves an attribute. Missing attributes are Absent, never an error.
func (c *TransactionContext) Get(name string) Value {
	if c == nil {
		return Absent
	}
	v, ok := c.attrs[name]
	if !ok {
		return Absent
	}
	return v
}

// Amount returns the transaction amount, or 0 if absent.
func (c *TransactionContext) Amount() float64 {
	if f, ok := c.Get("amount").AsNumber(); ok {
		return f
	}
	return 0
}

// Keys returns the attribute names (for logging and the scorer payload).
func (c *TransactionContext) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}

// Export renders the attributes as plain JSON-compatible values for the
// scorer call payload.
func (c *TransactionContext) Export() map[string]interface{} {
	out := make(map[string]interface{}, len(c.attrs))
	for k, v := range c.attrs {
		switch v.Kind {
		case KindNumber:
			out[k] = v.Num
		case KindString:
			out[k] = v.Str
		case KindBool:
			out[k] = v.Bool
		}
	}
	return out
}

// ScoreRequest is the inbound API payload for a scoring call.
type ScoreRequest struct {
	EventID        string                 `json:"eventId"`
	TenantID       string                 `json:"tenantId"`
	IdempotencyKey string                 `json:"idempotencyKey"`
	Amount         float64                `json:"amount"`
	Currency       string                 `json:"currency"`
	Channel        string                 `json:"channel"`
	CardType       string                 `json:"cardType,omitempty"`
	IP             string                 `json:"ip,omitempty"`
	DeviceID       string                 `json:"deviceId,omitempty"`
	OccurredAt     time.Time              `json:"occurredAt,omitempty"`
	Merchant       map[string]interface{} `json:"merchant,omitempty"`
	Velocity       map[string]float64     `json:"velocity,omitempty"`
	Attributes     map[string]interface{} `json:"attributes,omitempty"`
}
