package testcase

import (
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
)

// Loader turns a case file into an instantiated case.
type Loader interface {
	Load(path string) (*Loaded, error)
}

var _ Loader = (*SourceLoader)(nil)

// SourceLoader reads a Go source file, finds the first declared type that is
// present in the case registry and collects the doc comments of that type's
// methods in declaration order.
type SourceLoader struct{}

// NewSourceLoader creates a loader backed by the global case registry.
func NewSourceLoader() *SourceLoader {
	return &SourceLoader{}
}

// Load implements Loader. Failures are returned as *LoadError wrapping
// ErrNotFound or ErrUnreadable.
func (l *SourceLoader) Load(path string) (*Loaded, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &LoadError{Path: path, Err: fmt.Errorf("%w: %v", ErrNotFound, err)}
		}
		return nil, &LoadError{Path: path, Err: fmt.Errorf("%w: %v", ErrUnreadable, err)}
	}

	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, path, src, parser.ParseComments)
	if err != nil {
		return nil, &LoadError{Path: path, Err: fmt.Errorf("%w: %v", ErrUnreadable, err)}
	}

	name := findCaseType(f)
	if name == "" {
		return nil, &LoadError{Path: path, Err: fmt.Errorf("%w: no registered case type declared", ErrNotFound)}
	}

	instance, err := instantiate(name)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}

	return &Loaded{
		Name:     name,
		Path:     path,
		Instance: instance,
		Methods:  methodDocs(f, name),
	}, nil
}

// findCaseType returns the first type declared in f that is registered.
func findCaseType(f *ast.File) string {
	for _, decl := range f.Decls {
		gen, ok := decl.(*ast.GenDecl)
		if !ok || gen.Tok != token.TYPE {
			continue
		}
		for _, spec := range gen.Specs {
			ts, ok := spec.(*ast.TypeSpec)
			if ok && Registered(ts.Name.Name) {
				return ts.Name.Name
			}
		}
	}
	return ""
}

// methodDocs collects methods declared on typeName, value or pointer
// receiver, in source order.
func methodDocs(f *ast.File, typeName string) []MethodDoc {
	var docs []MethodDoc
	for _, decl := range f.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Recv == nil || len(fn.Recv.List) == 0 {
			continue
		}
		if receiverName(fn.Recv.List[0].Type) != typeName {
			continue
		}
		doc := ""
		if fn.Doc != nil {
			doc = fn.Doc.Text()
		}
		docs = append(docs, MethodDoc{Name: fn.Name.Name, Doc: doc})
	}
	return docs
}

func receiverName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return receiverName(t.X)
	case *ast.Ident:
		return t.Name
	case *ast.IndexExpr:
		return receiverName(t.X)
	}
	return ""
}
