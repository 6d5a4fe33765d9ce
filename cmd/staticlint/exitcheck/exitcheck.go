// Package exitcheck defines an analyzer that keeps process termination in one place:
// main.main must not call os.Exit directly, and no package other than main may
// call os.Exit or log.Fatal*.
package exitcheck

import (
	"errors"
	"go/ast"
	"go/types"
	"strings"

	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/analysis/passes/inspect"
	"golang.org/x/tools/go/ast/inspector"
	"golang.org/x/tools/go/types/typeutil"
)

// Analyzer is the exitcheck analyzer.
var Analyzer = &analysis.Analyzer{
	Name:     "exitcheck",
	Doc:      "reports os.Exit in main.main and process-terminating calls outside package main",
	Requires: []*analysis.Analyzer{inspect.Analyzer},
	Run:      run,
}

var terminating = map[string]bool{
	"os.Exit":     true,
	"log.Fatal":   true,
	"log.Fatalf":  true,
	"log.Fatalln": true,
}

func run(pass *analysis.Pass) (any, error) {
	if pass.Pkg == nil {
		return nil, nil
	}
	insp, ok := pass.ResultOf[inspect.Analyzer].(*inspector.Inspector)
	if !ok {
		return nil, errors.New("exitcheck: inspect result is not *inspector.Inspector")
	}
	isMain := pass.Pkg.Name() == "main"

	insp.WithStack([]ast.Node{(*ast.CallExpr)(nil)}, func(n ast.Node, push bool, stack []ast.Node) bool {
		if !push {
			return true
		}
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		name := calleeName(pass.TypesInfo, call)
		if !terminating[name] {
			return true
		}
		switch {
		case isMain && name == "os.Exit" && inMainFunc(stack):
			pass.Reportf(call.Pos(), "os.Exit called directly in main.main; return an error instead")
		case !isMain && !inTestFile(pass, call):
			pass.Reportf(call.Pos(), "%s terminates the process from package %s; return an error instead",
				name, pass.Pkg.Name())
		}
		return true
	})
	return nil, nil
}

// calleeName returns "pkg.Func" for package-level functions, "" otherwise.
func calleeName(info *types.Info, call *ast.CallExpr) string {
	if info == nil {
		return ""
	}
	fn, ok := typeutil.Callee(info, call).(*types.Func)
	if !ok || fn.Pkg() == nil {
		return ""
	}
	if sig, ok := fn.Type().(*types.Signature); ok && sig.Recv() != nil {
		return ""
	}
	return fn.Pkg().Path() + "." + fn.Name()
}

// inMainFunc reports whether the innermost enclosing function is main.main.
func inMainFunc(stack []ast.Node) bool {
	for i := len(stack) - 1; i >= 0; i-- {
		switch f := stack[i].(type) {
		case *ast.FuncLit:
			return false
		case *ast.FuncDecl:
			return f.Recv == nil && f.Name != nil && f.Name.Name == "main"
		}
	}
	return false
}

func inTestFile(pass *analysis.Pass, n ast.Node) bool {
	f := pass.Fset.File(n.Pos())
	return f != nil && strings.HasSuffix(f.Name(), "_test.go")
}
