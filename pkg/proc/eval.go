package proc

import (
	"bytes"
	"fmt"
	"go/ast"
	"go/constant"
	"go/parser"
	"go/printer"
	"go/token"
	"reflect"

	"github.com/go-delve/tlsvar/pkg/dwarf/op"
	"github.com/go-delve/tlsvar/pkg/logflags"
)

// EvalScope is the scope for variable evaluation: a stopped thread of the
// target and the variables visible to it.
type EvalScope struct {
	Mem      MemoryReader
	Resolver *Resolver
	Thread   ThreadContext
	Symbols  SymbolTable
}

// EvalExpression returns the value of the given expression.
func (scope *EvalScope) EvalExpression(expr string) (*Variable, error) {
	t, err := parser.ParseExpr(expr)
	if err != nil {
		return nil, err
	}
	v, err := scope.evalAST(t)
	if err != nil {
		if logflags.Eval() {
			logflags.EvalLogger().Debugf("%q: %v", expr, err)
		}
		return nil, err
	}
	return v, nil
}

func (scope *EvalScope) evalAST(t ast.Expr) (*Variable, error) {
	switch node := t.(type) {
	case *ast.Ident:
		return scope.evalIdent(node)

	case *ast.ParenExpr:
		return scope.evalAST(node.X)

	case *ast.StarExpr:
		// pointer dereferencing *<expression>
		return scope.evalPointerDeref(node)

	case *ast.UnaryExpr:
		return scope.evalUnary(node)

	case *ast.BinaryExpr:
		return scope.evalBinary(node)

	case *ast.BasicLit:
		if node.Kind != token.INT {
			return nil, fmt.Errorf("literal %s not supported", node.Value)
		}
		return newConstant(constant.MakeFromLiteral(node.Value, node.Kind, 0)), nil

	default:
		return nil, fmt.Errorf("expression %T not implemented", t)
	}
}

func exprToString(t ast.Expr) string {
	var buf bytes.Buffer
	printer.Fprint(&buf, token.NewFileSet(), t)
	return buf.String()
}

func (scope *EvalScope) evalIdent(node *ast.Ident) (*Variable, error) {
	sym, ok := scope.Symbols.LookupSymbol(node.Name)
	if !ok {
		return nil, fmt.Errorf("could not find symbol value for %s", node.Name)
	}
	v, err := scope.symbolVariable(sym)
	if err != nil {
		return nil, fmt.Errorf("couldn't get the value of variable %s: %w", node.Name, err)
	}
	return v, nil
}

// symbolVariable loads the value of sym, resolving its address through the
// TLS resolver if it is a thread-local variable.
func (scope *EvalScope) symbolVariable(sym *Symbol) (*Variable, error) {
	if sym.Type == nil {
		return nil, fmt.Errorf("variable has no type")
	}
	loc, err := op.ExecuteTLSProgram(sym.Location, scope.Resolver.PtrSize(), sym.StaticBase)
	if err != nil {
		return nil, err
	}
	addr := loc.Addr
	if loc.TLS {
		res, err := scope.Resolver.Resolve(sym.descriptor(loc), scope.Thread)
		if err != nil {
			return nil, err
		}
		if err := res.Err(); err != nil {
			return nil, err
		}
		addr = res.Addr
	}
	return loadVariable(scope.Mem, sym.Name, addr, sym.Type)
}

func (scope *EvalScope) evalPointerDeref(node *ast.StarExpr) (*Variable, error) {
	xev, err := scope.evalAST(node.X)
	if err != nil {
		return nil, err
	}
	if xev.Type == nil || xev.Type.Kind != reflect.Ptr {
		return nil, fmt.Errorf("expression \"%s\" (%s) can not be dereferenced", exprToString(node.X), xev.Type)
	}
	addr, _ := constant.Uint64Val(xev.Value)
	if addr == 0 {
		return nil, fmt.Errorf("nil pointer dereference")
	}
	return loadVariable(scope.Mem, "", addr, xev.Type.Elem)
}

func (scope *EvalScope) evalUnary(node *ast.UnaryExpr) (*Variable, error) {
	switch node.Op {
	case token.ADD, token.SUB, token.XOR:
	default:
		return nil, fmt.Errorf("operator %s not supported", node.Op.String())
	}
	xv, err := scope.evalAST(node.X)
	if err != nil {
		return nil, err
	}
	if xv.Type != nil && xv.Type.Kind == reflect.Ptr {
		return nil, fmt.Errorf("operator %s can not be applied to \"%s\"", node.Op.String(), exprToString(node.X))
	}
	var prec uint
	if xv.Type != nil && !xv.Type.signed() {
		prec = xv.Type.bits()
	}
	return &Variable{Type: xv.Type, Value: xv.Type.wrap(constant.UnaryOp(node.Op, xv.Value, prec))}, nil
}

func (scope *EvalScope) evalBinary(node *ast.BinaryExpr) (*Variable, error) {
	tok := node.Op
	switch tok {
	case token.ADD, token.SUB, token.MUL, token.REM:
	case token.QUO:
		// integer division
		tok = token.QUO_ASSIGN
	default:
		return nil, fmt.Errorf("operator %s not supported", node.Op.String())
	}

	xv, err := scope.evalAST(node.X)
	if err != nil {
		return nil, err
	}
	yv, err := scope.evalAST(node.Y)
	if err != nil {
		return nil, err
	}

	for _, v := range []*Variable{xv, yv} {
		if v.Type != nil && v.Type.Kind == reflect.Ptr {
			return nil, fmt.Errorf("pointer arithmetic not supported in \"%s\"", exprToString(node))
		}
	}
	if (tok == token.QUO_ASSIGN || tok == token.REM) && constant.Sign(yv.Value) == 0 {
		return nil, fmt.Errorf("division by zero")
	}

	typ := xv.Type
	if typ == nil {
		typ = yv.Type
	}
	return &Variable{Type: typ, Value: typ.wrap(constant.BinaryOp(xv.Value, tok, yv.Value))}, nil
}
