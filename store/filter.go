package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/itchyny/gojq"
)

// DataFilter is a compiled jq expression evaluated against document data.
// A document matches when the first value the expression yields is neither
// false nor null.
type DataFilter struct {
	expr    string
	code    *gojq.Code
	lenient bool
}

// CompileFilter parses and compiles a jq expression such as
// `.id == "global_styles"`.
func CompileFilter(expr string) (*DataFilter, error) {
	q, err := gojq.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: parse filter: %v", ErrValidation, err)
	}
	code, err := gojq.Compile(q)
	if err != nil {
		return nil, fmt.Errorf("%w: compile filter: %v", ErrValidation, err)
	}
	return &DataFilter{expr: expr, code: code}, nil
}

// MustCompileFilter is CompileFilter for expressions fixed at build time.
func MustCompileFilter(expr string) *DataFilter {
	f, err := CompileFilter(expr)
	if err != nil {
		panic(err)
	}
	return f
}

// Lenient returns a copy of f that treats documents it cannot evaluate as
// non-matching instead of failing the whole list.
func (f *DataFilter) Lenient() *DataFilter {
	c := *f
	c.lenient = true
	return &c
}

// String returns the source expression.
func (f *DataFilter) String() string { return f.expr }

// Match evaluates the filter against one document's data. Evaluation
// errors, such as indexing a string, wrap ErrValidation; a cancelled ctx
// is returned as is.
func (f *DataFilter) Match(ctx context.Context, data json.RawMessage) (bool, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return false, fmt.Errorf("decode document data: %w", err)
	}
	iter := f.code.RunWithContext(ctx, v)
	out, ok := iter.Next()
	if !ok {
		return false, nil
	}
	if err, isErr := out.(error); isErr {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, fmt.Errorf("evaluate filter %q: %w", f.expr, ctxErr)
		}
		return false, fmt.Errorf("%w: evaluate filter %q: %v", ErrValidation, f.expr, err)
	}
	return out != nil && out != false, nil
}

// Apply returns the documents that match, keeping their order.
func (f *DataFilter) Apply(ctx context.Context, docs []*PluginDocument) ([]*PluginDocument, error) {
	if f == nil {
		return docs, nil
	}
	out := make([]*PluginDocument, 0, len(docs))
	for _, d := range docs {
		ok, err := f.Match(ctx, d.Data)
		if err != nil {
			if f.lenient && ctx.Err() == nil {
				continue
			}
			return nil, err
		}
		if ok {
			out = append(out, d)
		}
	}
	return out, nil
}

// ListFiltered lists a scope and keeps only documents matching expr. An
// empty expression returns the full list.
func ListFiltered(ctx context.Context, s PluginDataStore, scope Scope, expr string) ([]*PluginDocument, error) {
	docs, err := s.List(ctx, scope)
	if err != nil || expr == "" {
		return docs, err
	}
	f, err := CompileFilter(expr)
	if err != nil {
		return nil, err
	}
	return f.Apply(ctx, docs)
}
