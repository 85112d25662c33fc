// Package rules implements the rule expression language: a compiler from
// source text to an immutable AST, and an evaluator that walks the AST
// against a transaction context. Compilation happens once at load time;
// evaluation is allocation-light and safe to run concurrently over the
// same AST.
package rules

import "fmt"

// Node is a compiled expression node. ASTs are immutable after Compile.
type Node interface {
	node()
	String() string
}

// NumberLit is a numeric literal.
type NumberLit struct {
	Value float64
}

// StringLit is a quoted string literal.
type StringLit struct {
	Value string
}

// BoolLit is true or false.
type BoolLit struct {
	Value bool
}

// ListLit is a bracketed list of literals, the right-hand side of IN.
type ListLit struct {
	Elems []Node
}

// Ident is an attribute reference resolved against the transaction context
// at evaluation time. Dotted names (merchant.country) are a single token.
type Ident struct {
	Name string
}

// Call invokes a gateway function (velocity counters, list membership) at
// evaluation time. Functions are resolved by name against the evaluator's
// registry, never at compile time.
type Call struct {
	Name string
	Args []Node
}

// CompareOp identifies a comparison operator.
type CompareOp int

const (
	OpGT CompareOp = iota
	OpLT
	OpGTE
	OpLTE
	OpEQ
	OpNEQ
	OpIn
)

func (op CompareOp) String() string {
	switch op {
	case OpGT:
		return ">"
	case OpLT:
		return "<"
	case OpGTE:
		return ">="
	case OpLTE:
		return "<="
	case OpEQ:
		return "=="
	case OpNEQ:
		return "!="
	case OpIn:
		return "IN"
	default:
		return "?"
	}
}

// Compare is a binary comparison, including IN membership.
type Compare struct {
	Op    CompareOp
	Left  Node
	Right Node
}

// LogicOp identifies a logical connective.
type LogicOp int

const (
	OpAnd LogicOp = iota
	OpOr
)

func (op LogicOp) String() string {
	if op == OpAnd {
		return "AND"
	}
	return "OR"
}

// Logical is AND/OR with short-circuit evaluation.
type Logical struct {
	Op    LogicOp
	Left  Node
	Right Node
}

// Not negates its operand.
type Not struct {
	Expr Node
}

func (*NumberLit) node() {}
func (*StringLit) node() {}
func (*BoolLit) node()   {}
func (*ListLit) node()   {}
func (*Ident) node()     {}
func (*Call) node()      {}
func (*Compare) node()   {}
func (*Logical) node()   {}
func (*Not) node()       {}

func (n *NumberLit) String() string { return fmt.Sprintf("%g", n.Value) }
func (n *StringLit) String() string { return fmt.Sprintf("%q", n.Value) }
func (n *BoolLit) String() string   { return fmt.Sprintf("%t", n.Value) }
func (n *Ident) String() string     { return n.Name }

func (n *ListLit) String() string {
	s := "["
	for i, e := range n.Elems {
		if i > 0 {
			s += ", "
		}
		s += e.String()
	}
	return s + "]"
}

func (n *Call) String() string {
	s := n.Name + "("
	for i, a := range n.Args {
		if i > 0 {
			s += ", "
		}
		s += a.String()
	}
	return s + ")"
}

func (n *Compare) String() string {
	return fmt.Sprintf("(%s %s %s)", n.Left, n.Op, n.Right)
}

func (n *Logical) String() string {
	return fmt.Sprintf("(%s %s %s)", n.Left, n.Op, n.Right)
}

func (n *Not) String() string {
	return fmt.Sprintf("(NOT %s)", n.Expr)
}
