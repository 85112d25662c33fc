package rules

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cardinalpay/arbiter/internal/decision"
	"github.com/cardinalpay/arbiter/internal/velocity"
)

// DefaultFuncTimeout bounds a single gateway function call. It is tighter
// than the rules path's own sub-budget so one slow lookup cannot starve
// the remaining rules.
const DefaultFuncTimeout = 5 * time.Millisecond

// ErrNilAST is returned when Evaluate is handed an uncompiled rule.
var ErrNilAST = errors.New("rules: nil AST")

// Trace collects diagnostic notes from one evaluation: which gateway calls
// degraded, which identifiers were absent. Attached to the Decision's
// reasons when the evaluation was degraded.
type Trace struct {
	Notes    []string
	Degraded bool
}

func (t *Trace) notef(format string, args ...interface{}) {
	t.Notes = append(t.Notes, fmt.Sprintf(format, args...))
}

// Evaluator walks compiled ASTs against transaction contexts. Gateway
// functions (velocity counters, list membership) are resolved here, at
// evaluation time, each under its own timeout.
type Evaluator struct {
	gateway     velocity.Gateway
	funcTimeout time.Duration
}

// NewEvaluator creates an evaluator. A nil gateway is allowed: every
// function call then degrades to Absent.
func NewEvaluator(gw velocity.Gateway) *Evaluator {
	return &Evaluator{gateway: gw, funcTimeout: DefaultFuncTimeout}
}

// WithFuncTimeout overrides the per-function-call timeout.
func (e *Evaluator) WithFuncTimeout(d time.Duration) *Evaluator {
	e.funcTimeout = d
	return e
}

// Evaluate walks the AST and reports whether the rule triggered. It never
// fails on data problems: absent fields and degraded gateway calls make
// the enclosing comparison false instead of aborting. The only error is a
// nil AST.
func (e *Evaluator) Evaluate(ctx context.Context, root Node, txc *decision.TransactionContext) (bool, *Trace, error) {
	if root == nil {
		return false, nil, ErrNilAST
	}
	trace := &Trace{}
	v := e.eval(ctx, root, txc, trace)
	return v.Kind == decision.KindBool && v.Bool, trace, nil
}

func (e *Evaluator) eval(ctx context.Context, n Node, txc *decision.TransactionContext, tr *Trace) decision.Value {
	switch node := n.(type) {
	case *NumberLit:
		return decision.Number(node.Value)
	case *StringLit:
		return decision.String(node.Value)
	case *BoolLit:
		return decision.Bool(node.Value)
	case *ListLit:
		elems := make([]decision.Value, 0, len(node.Elems))
		for _, el := range node.Elems {
			elems = append(elems, e.eval(ctx, el, txc, tr))
		}
		return decision.List(elems...)
	case *Ident:
		v := txc.Get(node.Name)
		if v.IsAbsent() {
			tr.notef("attribute %s absent", node.Name)
		}
		return v
	case *Call:
		return e.callFunc(ctx, node, txc, tr)
	case *Compare:
		return e.compare(ctx, node, txc, tr)
	case *Logical:
		return e.logical(ctx, node, txc, tr)
	case *Not:
		v := e.eval(ctx, node.Expr, txc, tr)
		// NOT of a non-boolean (including a degraded sub-expression) stays
		// false: negation must not turn a degraded lookup into a match.
		if v.Kind != decision.KindBool {
			return decision.Bool(false)
		}
		return decision.Bool(!v.Bool)
	default:
		return decision.Absent
	}
}

func (e *Evaluator) compare(ctx context.Context, n *Compare, txc *decision.TransactionContext, tr *Trace) decision.Value {
	left := e.eval(ctx, n.Left, txc, tr)

	if n.Op == OpIn {
		right := e.eval(ctx, n.Right, txc, tr)
		if left.IsAbsent() || right.Kind != decision.KindList {
			return decision.Bool(false)
		}
		for _, el := range right.List {
			if left.Equal(el) {
				return decision.Bool(true)
			}
		}
		return decision.Bool(false)
	}

	right := e.eval(ctx, n.Right, txc, tr)
	if left.IsAbsent() || right.IsAbsent() {
		return decision.Bool(false)
	}

	switch n.Op {
	case OpEQ, OpNEQ:
		var eq bool
		// Numeric operands compare numerically so 10 == 10.0; everything
		// else is exact, type-tagged equality (strings case-sensitive).
		if ln, lok := numericPair(left, right); lok {
			eq = ln.a == ln.b
		} else {
			eq = left.Equal(right)
		}
		if n.Op == OpNEQ {
			eq = !eq
		}
		return decision.Bool(eq)
	default:
		pair, ok := numericPair(left, right)
		if !ok {
			tr.notef("non-numeric operands for %s: %s vs %s", n.Op, left.Kind, right.Kind)
			return decision.Bool(false)
		}
		switch n.Op {
		case OpGT:
			return decision.Bool(pair.a > pair.b)
		case OpLT:
			return decision.Bool(pair.a < pair.b)
		case OpGTE:
			return decision.Bool(pair.a >= pair.b)
		case OpLTE:
			return decision.Bool(pair.a <= pair.b)
		}
	}
	return decision.Bool(false)
}

type numPair struct{ a, b float64 }

func numericPair(l, r decision.Value) (numPair, bool) {
	a, aok := l.AsNumber()
	b, bok := r.AsNumber()
	if !aok || !bok {
		return numPair{}, false
	}
	return numPair{a: a, b: b}, true
}

func (e *Evaluator) logical(ctx context.Context, n *Logical, txc *decision.TransactionContext, tr *Trace) decision.Value {
	left := e.eval(ctx, n.Left, txc, tr)
	lb := left.Kind == decision.KindBool && left.Bool

	// Short-circuit before touching the right side: a short-circuited
	// branch never triggers its gateway calls.
	if n.Op == OpAnd && !lb {
		return decision.Bool(false)
	}
	if n.Op == OpOr && lb {
		return decision.Bool(true)
	}

	right := e.eval(ctx, n.Right, txc, tr)
	rb := right.Kind == decision.KindBool && right.Bool
	return decision.Bool(rb)
}

// callFunc routes a function call through the gateway under its own
// timeout. Any error or timeout degrades the call to Absent, which makes
// the enclosing comparison false.
func (e *Evaluator) callFunc(ctx context.Context, n *Call, txc *decision.TransactionContext, tr *Trace) decision.Value {
	if e.gateway == nil {
		tr.Degraded = true
		tr.notef("%s: no gateway configured", n.Name)
		return decision.Absent
	}

	fctx, cancel := context.WithTimeout(ctx, e.funcTimeout)
	defer cancel()

	v, err := e.dispatch(fctx, n, txc, tr)
	if err != nil {
		tr.Degraded = true
		tr.notef("%s degraded: %v", n.Name, err)
		return decision.Absent
	}
	return v
}

func (e *Evaluator) dispatch(ctx context.Context, n *Call, txc *decision.TransactionContext, tr *Trace) (decision.Value, error) {
	switch n.Name {
	case "velocity_1h", "velocity_24h", "velocity_7d":
		key, ok := e.counterKey(ctx, n, txc, tr)
		if !ok {
			return decision.Absent, nil
		}
		count, err := e.gateway.Count(ctx, key, funcWindow(n.Name))
		if err != nil {
			return decision.Absent, err
		}
		return decision.Number(float64(count)), nil

	case "sum_1h", "sum_24h", "sum_7d":
		key, ok := e.counterKey(ctx, n, txc, tr)
		if !ok {
			return decision.Absent, nil
		}
		sum, err := e.gateway.Sum(ctx, key, funcWindow(n.Name))
		if err != nil {
			return decision.Absent, err
		}
		return decision.Number(sum), nil

	case "in_list":
		if len(n.Args) != 2 {
			return decision.Absent, fmt.Errorf("in_list expects 2 arguments, got %d", len(n.Args))
		}
		listID := e.eval(ctx, n.Args[0], txc, tr)
		value := e.eval(ctx, n.Args[1], txc, tr)
		if listID.Kind != decision.KindString || value.IsAbsent() {
			return decision.Bool(false), nil
		}
		member, err := e.gateway.IsMember(ctx, listID.Str, rawValue(value))
		if err != nil {
			return decision.Absent, err
		}
		return decision.Bool(member), nil

	default:
		return decision.Absent, fmt.Errorf("unknown function %s", n.Name)
	}
}

// counterKey resolves the function's single argument to the counter key.
// The argument names a context attribute (e.g. 'device.id'); the key is
// "<attr>=<value>" so counters for different entities never collide.
func (e *Evaluator) counterKey(ctx context.Context, n *Call, txc *decision.TransactionContext, tr *Trace) (string, bool) {
	if len(n.Args) != 1 {
		tr.notef("%s expects 1 argument, got %d", n.Name, len(n.Args))
		return "", false
	}
	arg := e.eval(ctx, n.Args[0], txc, tr)
	if arg.Kind != decision.KindString {
		tr.notef("%s argument must be an attribute name string", n.Name)
		return "", false
	}
	attr := txc.Get(arg.Str)
	if attr.IsAbsent() {
		tr.notef("%s: attribute %s absent", n.Name, arg.Str)
		return "", false
	}
	return arg.Str + "=" + rawValue(attr), true
}

// rawValue renders a value for use as a lookup key or list member. Strings
// stay unquoted so keys match what the write side recorded.
func rawValue(v decision.Value) string {
	if v.Kind == decision.KindString {
		return v.Str
	}
	return v.GoString()
}

func funcWindow(name string) time.Duration {
	switch {
	case len(name) >= 2 && name[len(name)-2:] == "1h":
		return velocity.Window1h
	case len(name) >= 3 && name[len(name)-3:] == "24h":
		return velocity.Window24h
	default:
		return velocity.Window7d
	}
}
