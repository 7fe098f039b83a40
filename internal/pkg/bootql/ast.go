package bootql

import (
	"strconv"
	"strings"
)

// Op is the comparison a MatchExpr performs.
type Op string

const (
	OpEq       Op = "="
	OpNeq      Op = "!="
	OpContains Op = "CONTAINS"
	OpLt       Op = "<"
	OpLte      Op = "<="
	OpGt       Op = ">"
	OpGte      Op = ">="
)

// ordered reports whether op compares values rather than matching them.
func (op Op) ordered() bool {
	switch op {
	case OpLt, OpLte, OpGt, OpGte:
		return true
	}
	return false
}

// Logic joins two expressions.
type Logic string

const (
	And Logic = "AND"
	Or  Logic = "OR"
)

// Node is an expression in a parsed query.
type Node interface {
	node()
	String() string
}

// BinaryExpr joins two expressions with AND or OR.
type BinaryExpr struct {
	Op    Logic
	Left  Node
	Right Node
}

// MatchExpr tests one field, or every field when Key is empty.
type MatchExpr struct {
	Key   string
	Value string
	Op    Op
}

// NotExpr negates Expr.
type NotExpr struct {
	Expr Node
}

func (BinaryExpr) node() {}
func (MatchExpr) node()  {}
func (NotExpr) node()    {}

func (b BinaryExpr) String() string {
	return "(" + b.Left.String() + " " + string(b.Op) + " " + b.Right.String() + ")"
}

func (m MatchExpr) String() string {
	value := m.Value
	if value == "" || strings.ContainsAny(value, " \t():!<>=\"") {
		value = strconv.Quote(value)
	}
	switch {
	case m.Key == "":
		return value
	case m.Op == OpEq:
		return m.Key + ":" + value
	}
	return m.Key + string(m.Op) + value
}

func (n NotExpr) String() string {
	return "NOT " + n.Expr.String()
}
