package batch

import (
	"errors"
	"fmt"

	language "github.com/hanpama/querymux/internal/language"
)

// ErrMergeInvariant reports an alias collision between two members of
// a group. The per-member prefix scheme makes this impossible for
// parser-produced documents; hitting it is a bug. The whole group is
// failed with it, never retried.
var ErrMergeInvariant = errors.New("batch: merge produced a colliding name")

// MergedRequest is one document, operation name, and variable map
// standing in for an entire group.
type MergedRequest struct {
	Document      *language.QueryDocument
	OperationName string
	Variables     map[string]any
}

// memberPrefix returns the namespace prefix for group member i.
// Prefixes are monotonic in i and therefore unique per group.
func memberPrefix(i int) string { return fmt.Sprintf("__%d_", i) }

// Merge rewrites every member of group, in encounter order, into one
// collision-free merged request. Member i's top-level response keys,
// variable names, and fragment names all gain the prefix "__i_"; the
// ordered alias table recording alias→original response key is attached
// to the member for demultiplexing. The merged operation name is the
// first non-empty name across the group.
//
// A member whose document cannot be rewritten fails alone: its handle
// is failed here and its siblings still ride the merged request. Merge
// returns an error only when no member could be merged, or on an
// ErrMergeInvariant violation.
func Merge(group *OperationGroup) (*MergedRequest, error) {
	op := &language.OperationDefinition{Operation: group.Operation}
	doc := &language.QueryDocument{Operations: language.OperationList{op}}
	variables := make(map[string]any)
	taken := make(map[string]struct{})
	merged := 0

	for i, member := range group.Members {
		src := member.operation()
		if src == nil {
			member.Handle.Fail(fmt.Errorf("batch: operation %q not found in document", member.OperationName))
			continue
		}

		mm := &memberMerge{
			rw:    rewriter{prefix: memberPrefix(i)},
			keys:  make(map[string]struct{}),
			taken: taken,
		}
		sels, err := mm.topLevel(src.SelectionSet)
		if err != nil {
			if errors.Is(err, ErrMergeInvariant) {
				return nil, err
			}
			member.Handle.Fail(err)
			continue
		}

		if op.Name == "" && src.Name != "" {
			op.Name = src.Name
		}
		op.SelectionSet = append(op.SelectionSet, sels...)
		for _, e := range mm.table {
			taken[e.Alias] = struct{}{}
		}

		for _, vd := range src.VariableDefinitions {
			cp := *vd
			cp.Variable = mm.rw.prefix + vd.Variable
			cp.DefaultValue = mm.rw.value(vd.DefaultValue)
			cp.Directives = mm.rw.directives(vd.Directives)
			op.VariableDefinitions = append(op.VariableDefinitions, &cp)
		}
		for name, value := range member.Variables {
			variables[mm.rw.prefix+name] = value
		}

		for _, fr := range member.Document.Fragments {
			cp := *fr
			cp.Name = mm.rw.prefix + fr.Name
			cp.Directives = mm.rw.directives(fr.Directives)
			cp.SelectionSet = mm.rw.selectionSet(fr.SelectionSet)
			doc.Fragments = append(doc.Fragments, &cp)
		}

		member.aliases = mm.table
		merged++
	}

	if merged == 0 {
		return nil, fmt.Errorf("batch: no member of the group could be merged")
	}
	return &MergedRequest{Document: doc, OperationName: op.Name, Variables: variables}, nil
}

// memberMerge accumulates one member's rewritten top-level slice before
// it is committed to the merged document.
type memberMerge struct {
	rw    rewriter
	table AliasTable
	keys  map[string]struct{} // response keys this member already owns
	taken map[string]struct{} // aliases committed by earlier members
}

// topLevel rewrites one member's top-level selections. A response key
// repeated within the member (legal GraphQL; identical fields merge)
// keeps a single alias table entry, while every field copy stays in the
// merged document so the upstream performs the field merging. Inline
// fragments are kept in place with their fields rewritten; fragment
// spreads cannot be namespaced at the top level and fail the member.
func (m *memberMerge) topLevel(set language.SelectionSet) (language.SelectionSet, error) {
	out := make(language.SelectionSet, 0, len(set))
	for _, sel := range set {
		switch s := sel.(type) {
		case *language.Field:
			key := responseKey(s)
			alias := m.rw.prefix + key
			if _, dup := m.taken[alias]; dup {
				return nil, fmt.Errorf("%w: alias %q", ErrMergeInvariant, alias)
			}
			cp := m.rw.field(s)
			cp.Alias = alias
			out = append(out, cp)
			if _, dup := m.keys[key]; !dup {
				m.keys[key] = struct{}{}
				m.table = append(m.table, AliasEntry{Alias: alias, Key: key})
			}
		case *language.InlineFragment:
			cp := *s
			cp.Directives = m.rw.directives(s.Directives)
			inner, err := m.topLevel(s.SelectionSet)
			if err != nil {
				return nil, err
			}
			cp.SelectionSet = inner
			out = append(out, &cp)
		case *language.FragmentSpread:
			return nil, fmt.Errorf("batch: top-level fragment spread %q cannot be merged", s.Name)
		}
	}
	return out, nil
}

// responseKey is the field name as it appears in the caller's result.
func responseKey(f *language.Field) string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.Name
}

// rewriter deep-copies AST nodes while pushing one member's namespace
// prefix onto every variable reference and fragment spread. Source
// documents are never touched.
type rewriter struct {
	prefix string
}

func (r rewriter) selectionSet(set language.SelectionSet) language.SelectionSet {
	if set == nil {
		return nil
	}
	out := make(language.SelectionSet, 0, len(set))
	for _, sel := range set {
		switch s := sel.(type) {
		case *language.Field:
			out = append(out, r.field(s))
		case *language.InlineFragment:
			cp := *s
			cp.Directives = r.directives(s.Directives)
			cp.SelectionSet = r.selectionSet(s.SelectionSet)
			out = append(out, &cp)
		case *language.FragmentSpread:
			cp := *s
			cp.Name = r.prefix + s.Name
			cp.Directives = r.directives(s.Directives)
			out = append(out, &cp)
		}
	}
	return out
}

func (r rewriter) field(f *language.Field) *language.Field {
	cp := *f
	cp.Arguments = r.arguments(f.Arguments)
	cp.Directives = r.directives(f.Directives)
	cp.SelectionSet = r.selectionSet(f.SelectionSet)
	return &cp
}

func (r rewriter) arguments(args language.ArgumentList) language.ArgumentList {
	if args == nil {
		return nil
	}
	out := make(language.ArgumentList, 0, len(args))
	for _, a := range args {
		cp := *a
		cp.Value = r.value(a.Value)
		out = append(out, &cp)
	}
	return out
}

func (r rewriter) directives(ds language.DirectiveList) language.DirectiveList {
	if ds == nil {
		return nil
	}
	out := make(language.DirectiveList, 0, len(ds))
	for _, d := range ds {
		cp := *d
		cp.Arguments = r.arguments(d.Arguments)
		out = append(out, &cp)
	}
	return out
}

func (r rewriter) value(v *language.Value) *language.Value {
	if v == nil {
		return nil
	}
	cp := *v
	if cp.Kind == language.Variable {
		cp.Raw = r.prefix + v.Raw
	}
	if len(v.Children) > 0 {
		children := make(language.ChildValueList, 0, len(v.Children))
		for _, c := range v.Children {
			cc := *c
			cc.Value = r.value(c.Value)
			children = append(children, &cc)
		}
		cp.Children = children
	}
	return &cp
}
