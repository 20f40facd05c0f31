package engine

import (
	"strconv"

	"github.com/yuin/gopher-lua/ast"
)

// hookGlobal is the global the instrumenter injects calls to. It is
// installed by the engine and carries (source index, line) to the line
// event handler before every statement.
const hookGlobal = "__luadap_line"

// instrument rewrites a parsed chunk so that every statement is preceded
// by a hook call, recursing into nested blocks and function literals.
// It returns the set of instrumented lines, which is exactly the set of
// lines a breakpoint can be armed on.
func instrument(chunk []ast.Stmt, srcIdx int) ([]ast.Stmt, map[int]bool) {
	in := &instrumenter{srcIdx: srcIdx, lines: make(map[int]bool)}
	return in.block(chunk), in.lines
}

type instrumenter struct {
	srcIdx int
	lines  map[int]bool
}

// block interleaves hook calls with the statements of one block.
func (in *instrumenter) block(stmts []ast.Stmt) []ast.Stmt {
	out := make([]ast.Stmt, 0, len(stmts)*2)
	for _, stmt := range stmts {
		if line := stmt.Line(); line > 0 {
			out = append(out, in.hookCall(line))
			in.lines[line] = true
		}
		in.stmt(stmt)
		out = append(out, stmt)
	}
	return out
}

// hookCall builds `__luadap_line(srcIdx, line)` attributed to line.
func (in *instrumenter) hookCall(line int) ast.Stmt {
	fn := &ast.IdentExpr{Value: hookGlobal}
	fn.SetLine(line)

	src := &ast.NumberExpr{Value: strconv.Itoa(in.srcIdx)}
	src.SetLine(line)
	num := &ast.NumberExpr{Value: strconv.Itoa(line)}
	num.SetLine(line)

	call := &ast.FuncCallExpr{
		Func: fn,
		Args: []ast.Expr{src, num},
	}
	call.SetLine(line)

	stmt := &ast.FuncCallStmt{Expr: call}
	stmt.SetLine(line)
	return stmt
}

// stmt rewrites the nested blocks of one statement in place.
func (in *instrumenter) stmt(stmt ast.Stmt) {
	switch st := stmt.(type) {
	case *ast.AssignStmt:
		in.exprs(st.Lhs)
		in.exprs(st.Rhs)
	case *ast.LocalAssignStmt:
		in.exprs(st.Exprs)
	case *ast.FuncCallStmt:
		in.expr(st.Expr)
	case *ast.DoBlockStmt:
		st.Stmts = in.block(st.Stmts)
	case *ast.WhileStmt:
		in.expr(st.Condition)
		st.Stmts = in.block(st.Stmts)
	case *ast.RepeatStmt:
		st.Stmts = in.block(st.Stmts)
		in.expr(st.Condition)
	case *ast.IfStmt:
		in.expr(st.Condition)
		st.Then = in.block(st.Then)
		st.Else = in.block(st.Else)
	case *ast.NumberForStmt:
		in.expr(st.Init)
		in.expr(st.Limit)
		in.expr(st.Step)
		st.Stmts = in.block(st.Stmts)
	case *ast.GenericForStmt:
		in.exprs(st.Exprs)
		st.Stmts = in.block(st.Stmts)
	case *ast.FuncDefStmt:
		in.expr(st.Func)
	case *ast.ReturnStmt:
		in.exprs(st.Exprs)
	}
}

// exprs rewrites a slice of expressions.
func (in *instrumenter) exprs(exprs []ast.Expr) {
	for _, e := range exprs {
		in.expr(e)
	}
}

// expr descends into an expression looking for function literals, whose
// bodies get instrumented like any other block. Nil is tolerated: some
// statement fields (a for loop's step) are optional.
func (in *instrumenter) expr(expr ast.Expr) {
	if expr == nil {
		return
	}
	switch ex := expr.(type) {
	case *ast.FunctionExpr:
		ex.Stmts = in.block(ex.Stmts)
	case *ast.AttrGetExpr:
		in.expr(ex.Object)
		in.expr(ex.Key)
	case *ast.TableExpr:
		for _, field := range ex.Fields {
			if field.Key != nil {
				in.expr(field.Key)
			}
			in.expr(field.Value)
		}
	case *ast.FuncCallExpr:
		in.expr(ex.Func)
		in.expr(ex.Receiver)
		in.exprs(ex.Args)
	case *ast.LogicalOpExpr:
		in.expr(ex.Lhs)
		in.expr(ex.Rhs)
	case *ast.RelationalOpExpr:
		in.expr(ex.Lhs)
		in.expr(ex.Rhs)
	case *ast.StringConcatOpExpr:
		in.expr(ex.Lhs)
		in.expr(ex.Rhs)
	case *ast.ArithmeticOpExpr:
		in.expr(ex.Lhs)
		in.expr(ex.Rhs)
	case *ast.UnaryMinusOpExpr:
		in.expr(ex.Expr)
	case *ast.UnaryNotOpExpr:
		in.expr(ex.Expr)
	case *ast.UnaryLenOpExpr:
		in.expr(ex.Expr)
	}
}
