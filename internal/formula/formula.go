// Package formula parses and evaluates driver formulas.
//
// Formulas are a deliberately small subset of HCL expression syntax: numeric
// literals, bare driver tokens, the four arithmetic operators, unary minus
// and parentheses. Anything else (function calls, conditionals, templates,
// indexing) is rejected at parse time. Parsing reuses hclsyntax so formula
// text is never handed to a general-purpose evaluator; evaluation walks the
// validated syntax tree directly, which keeps the arithmetic semantics fully
// specified and closes off injection through formula text.
package formula

import (
	"fmt"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
)

// Expression is a parsed, validated driver formula.
type Expression struct {
	src  string
	expr hclsyntax.Expression
}

// Parse parses src into an Expression. It fails on malformed syntax and on
// any construct outside the supported arithmetic grammar.
func Parse(src string) (*Expression, error) {
	expr, diags := hclsyntax.ParseExpression([]byte(src), "formula", hcl.Pos{Line: 1, Column: 1})
	if diags.HasErrors() {
		return nil, fmt.Errorf("malformed formula %q: %s", src, diags.Error())
	}
	if err := validate(expr); err != nil {
		return nil, fmt.Errorf("unsupported formula %q: %w", src, err)
	}
	return &Expression{src: src, expr: expr}, nil
}

// String returns the original formula text.
func (e *Expression) String() string {
	return e.src
}

// Tokens returns the unique driver tokens referenced by the formula, sorted
// for deterministic output.
func (e *Expression) Tokens() []string {
	seen := make(map[string]struct{})
	for _, traversal := range e.expr.Variables() {
		seen[traversal.RootName()] = struct{}{}
	}
	tokens := make([]string, 0, len(seen))
	for t := range seen {
		tokens = append(tokens, t)
	}
	sort.Strings(tokens)
	return tokens
}

// Eval evaluates the formula against the given token bindings. Every token
// returned by Tokens must be present in vars. Division by zero evaluates to
// the sentinel value 0 rather than failing, so a degenerate denominator in
// one period never aborts a whole computation.
func (e *Expression) Eval(vars map[string]float64) (float64, error) {
	return eval(e.expr, vars)
}

// validate walks the syntax tree and rejects everything outside the
// supported grammar. The switch mirrors the tree walk hclsyntax itself uses.
func validate(expr hclsyntax.Expression) error {
	switch node := expr.(type) {
	case *hclsyntax.LiteralValueExpr:
		if node.Val.Type() != cty.Number {
			return fmt.Errorf("literal of type %s is not numeric", node.Val.Type().FriendlyName())
		}
		return nil
	case *hclsyntax.ScopeTraversalExpr:
		if len(node.Traversal) != 1 {
			return fmt.Errorf("token %q must be a bare driver reference", node.Traversal.RootName())
		}
		return nil
	case *hclsyntax.ParenthesesExpr:
		return validate(node.Expression)
	case *hclsyntax.UnaryOpExpr:
		if node.Op != hclsyntax.OpNegate {
			return fmt.Errorf("unary operator not supported")
		}
		return validate(node.Val)
	case *hclsyntax.BinaryOpExpr:
		switch node.Op {
		case hclsyntax.OpAdd, hclsyntax.OpSubtract, hclsyntax.OpMultiply, hclsyntax.OpDivide:
		default:
			return fmt.Errorf("binary operator not supported")
		}
		if err := validate(node.LHS); err != nil {
			return err
		}
		return validate(node.RHS)
	default:
		return fmt.Errorf("construct %T not allowed in formulas", expr)
	}
}

func eval(expr hclsyntax.Expression, vars map[string]float64) (float64, error) {
	switch node := expr.(type) {
	case *hclsyntax.LiteralValueExpr:
		f, _ := node.Val.AsBigFloat().Float64()
		return f, nil
	case *hclsyntax.ScopeTraversalExpr:
		name := node.Traversal.RootName()
		v, ok := vars[name]
		if !ok {
			return 0, fmt.Errorf("token %q has no bound value", name)
		}
		return v, nil
	case *hclsyntax.ParenthesesExpr:
		return eval(node.Expression, vars)
	case *hclsyntax.UnaryOpExpr:
		v, err := eval(node.Val, vars)
		if err != nil {
			return 0, err
		}
		return -v, nil
	case *hclsyntax.BinaryOpExpr:
		lhs, err := eval(node.LHS, vars)
		if err != nil {
			return 0, err
		}
		rhs, err := eval(node.RHS, vars)
		if err != nil {
			return 0, err
		}
		switch node.Op {
		case hclsyntax.OpAdd:
			return lhs + rhs, nil
		case hclsyntax.OpSubtract:
			return lhs - rhs, nil
		case hclsyntax.OpMultiply:
			return lhs * rhs, nil
		case hclsyntax.OpDivide:
			if rhs == 0 {
				return 0, nil
			}
			return lhs / rhs, nil
		}
	}
	// Unreachable for expressions that passed validate.
	return 0, fmt.Errorf("unexpected construct %T during evaluation", expr)
}
