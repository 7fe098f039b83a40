// Package bootql is a small query language for selecting timeline events,
// e.g. `source:journal AND (priority<=3 OR label:WARNING_*)`.
//
// Terms are joined with AND, OR and NOT; adjacent terms are ANDed. A bare
// word or quoted string searches all fields.
package bootql

import (
	"errors"
	"fmt"
)

// ErrSyntax is wrapped by every parse error.
var ErrSyntax = errors.New("query syntax error")

// Parser parses queries into an AST.
type Parser struct {
	lexer   *Lexer
	current Token
}

// Parse parses the input string and returns the AST root node. An empty query
// returns a nil node, which matches everything.
func Parse(input string) (Node, error) {
	p := &Parser{lexer: NewLexer(input)}
	p.advance()
	if p.current.Type == TokenEOF {
		return nil, nil
	}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.current.Type != TokenEOF {
		return nil, p.errorf("unexpected %s", p.current.Type)
	}
	return node, nil
}

// MustParse is like Parse but panics on error.
func MustParse(input string) Node {
	n, err := Parse(input)
	if err != nil {
		panic(err)
	}
	return n
}

func (p *Parser) advance() {
	p.current = p.lexer.NextToken()
}

func (p *Parser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w at %d: %s", ErrSyntax, p.current.Pos, fmt.Sprintf(format, args...))
}

// parseOr handles OR expressions (lowest precedence).
func (p *Parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}

	for p.current.Type == TokenOr {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: Or, Left: left, Right: right}
	}

	return left, nil
}

// parseAnd handles explicit and implicit AND expressions.
func (p *Parser) parseAnd() (Node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}

	for {
		switch p.current.Type {
		case TokenAnd:
			p.advance()
		case TokenIdent, TokenString, TokenLParen, TokenNot:
		default:
			return left, nil
		}
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: And, Left: left, Right: right}
	}
}

// parseNot handles NOT expressions.
func (p *Parser) parseNot() (Node, error) {
	if p.current.Type == TokenNot {
		p.advance()
		expr, err := p.parseNot() // NOT is right-associative
		if err != nil {
			return nil, err
		}
		return NotExpr{Expr: expr}, nil
	}
	return p.parsePrimary()
}

var comparisons = map[TokenType]Op{
	TokenColon: OpEq,
	TokenNeq:   OpNeq,
	TokenLt:    OpLt,
	TokenLte:   OpLte,
	TokenGt:    OpGt,
	TokenGte:   OpGte,
}

// parsePrimary handles primary expressions: (expr), key:value, key<value, "string".
func (p *Parser) parsePrimary() (Node, error) {
	switch p.current.Type {
	case TokenLParen:
		p.advance()
		expr, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.current.Type != TokenRParen {
			return nil, p.errorf("expected ')' but got %s", p.current.Type)
		}
		p.advance()
		return expr, nil

	case TokenString:
		value := p.current.Value
		p.advance()
		return MatchExpr{Value: value, Op: OpContains}, nil

	case TokenIdent:
		key := p.current.Value
		p.advance()

		if op, ok := comparisons[p.current.Type]; ok {
			p.advance()
			return p.parseValue(key, op)
		}

		// Bare identifier: treat as full-text search
		return MatchExpr{Value: key, Op: OpContains}, nil

	case TokenIllegal:
		return nil, p.errorf("%s %q", p.current.Type, p.current.Value)

	default:
		return nil, p.errorf("unexpected %s", p.current.Type)
	}
}

// parseValue parses the value after the key and operator.
func (p *Parser) parseValue(key string, op Op) (Node, error) {
	switch p.current.Type {
	case TokenString, TokenIdent:
		value := p.current.Value
		p.advance()
		return MatchExpr{Key: key, Value: value, Op: op}, nil
	}
	return nil, p.errorf("expected value after '%s%s' but got %s", key, op, p.current.Type)
}
