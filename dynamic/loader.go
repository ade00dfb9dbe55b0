package dynamic

import (
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strings"
)

// PackageName is the package every plugin source file declares.
const PackageName = "plugin"

// Entrypoint names looked up in plugin code.
const (
	EntryBuilder   = "Builder"
	EntryDashboard = "Dashboard"
)

// ErrInvalidSource is returned for plugin code that can never load.
var ErrInvalidSource = errors.New("invalid plugin source")

// ValidateSource checks syntax, the package name, the import allow-list, that
// no goroutines are started and that at least one entrypoint is declared.
func ValidateSource(source string) error {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, "plugin.go", source, parser.SkipObjectResolution)
	if err != nil {
		return fmt.Errorf("%w: syntax error: %v", ErrInvalidSource, err)
	}
	if f.Name.Name != PackageName {
		return fmt.Errorf("%w: package must be %q, got %q", ErrInvalidSource, PackageName, f.Name.Name)
	}

	timeName := ""
	for _, imp := range f.Imports {
		// imp.Path.Value includes surrounding quotes
		pkg := strings.Trim(imp.Path.Value, `"`)
		if !IsPackageAllowed(pkg) {
			return fmt.Errorf("%w: import %q is not allowed in plugins", ErrInvalidSource, pkg)
		}
		if pkg == "time" {
			timeName = "time"
			if imp.Name != nil {
				timeName = imp.Name.Name
			}
		}
	}

	// Plugin code only runs inside host calls, so it may not start
	// goroutines of its own.
	var spawn token.Pos
	ast.Inspect(f, func(n ast.Node) bool {
		if spawn.IsValid() {
			return false
		}
		switch n := n.(type) {
		case *ast.GoStmt:
			spawn = n.Pos()
		case *ast.SelectorExpr:
			if x, ok := n.X.(*ast.Ident); ok && timeName != "" && x.Name == timeName && n.Sel.Name == "AfterFunc" {
				spawn = n.Pos()
			}
		}
		return true
	})
	if spawn.IsValid() {
		return fmt.Errorf("%w: %s: plugins may not start goroutines", ErrInvalidSource, fset.Position(spawn))
	}

	if len(Entrypoints(f)) == 0 {
		return fmt.Errorf("%w: no %s or %s function declared", ErrInvalidSource, EntryBuilder, EntryDashboard)
	}
	return nil
}

// Entrypoints returns the entrypoint functions a parsed file declares.
func Entrypoints(f *ast.File) []string {
	var names []string
	for _, decl := range f.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Recv != nil {
			continue
		}
		if fn.Name.Name == EntryBuilder || fn.Name.Name == EntryDashboard {
			if fn.Type.Params != nil && fn.Type.Params.NumFields() == 1 && fn.Type.Results == nil {
				names = append(names, fn.Name.Name)
			}
		}
	}
	return names
}
