package batch

import (
	"fmt"
)

// UnattributedPolicy decides what happens to merged-result errors whose
// root path segment matches no alias in the group. The inherited
// behavior attaches them to the last member; that is a fallback with no
// correctness guarantee, so it stays a named, swappable policy rather
// than hidden behavior.
type UnattributedPolicy int

const (
	// AttachToLast appends unattributed errors to the final member's
	// result. Default.
	AttachToLast UnattributedPolicy = iota
	// BroadcastAll appends unattributed errors to every member's result.
	BroadcastAll
	// Drop discards unattributed errors.
	Drop
)

// Demuxer splits one merged result back across a group's members and
// resolves every completion handle exactly once.
type Demuxer struct {
	Unattributed UnattributedPolicy

	// sliceFn overrides the member slicing step; nil means sliceMember.
	sliceFn func(*PendingRequest, *MergedResult, []bool) (*Result, error)
}

// Demux slices res across group in the same encounter order used for
// merging. Member i's handle is resolved as soon as processing advances
// to member i+1, so earlier callers unblock before the whole group is
// sliced. A slicing failure for one member fails only that member; the
// loop continues for its siblings.
func (d *Demuxer) Demux(group *OperationGroup, res *MergedResult) {
	attributed := make([]bool, len(res.Errors))

	// BroadcastAll must know the unattributed set before the first
	// member resolves; earlier members cannot be amended afterwards.
	var broadcast []Error
	if d.Unattributed == BroadcastAll {
		broadcast = unclaimed(group, res)
	}

	var prev *PendingRequest
	var prevResult *Result
	for _, member := range group.Members {
		if prev != nil {
			prev.Handle.Resolve(prevResult)
		}

		r, err := d.slice(member, res, attributed)
		if err != nil {
			member.Handle.Fail(err)
			prev, prevResult = nil, nil
			continue
		}
		r.Errors = append(r.Errors, broadcast...)
		prev, prevResult = member, r
	}

	if prev != nil {
		if d.Unattributed == AttachToLast {
			for i := range res.Errors {
				if !attributed[i] {
					prevResult.Errors = append(prevResult.Errors, res.Errors[i])
					attributed[i] = true
				}
			}
		}
		prev.Handle.Resolve(prevResult)
	}
}

// slice runs the member slicing step. Panics while slicing are
// converted to errors so one bad member cannot take its siblings down.
func (d *Demuxer) slice(member *PendingRequest, res *MergedResult, attributed []bool) (result *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("batch: slicing result for %q: %v", member.OperationName, r)
		}
	}()
	fn := d.sliceFn
	if fn == nil {
		fn = sliceMember
	}
	return fn(member, res, attributed)
}

// sliceMember builds one member's result from the merged result.
func sliceMember(member *PendingRequest, res *MergedResult, attributed []bool) (*Result, error) {
	// Data slice: the caller always gets exactly the key set it asked
	// for, in request order. An absent merged data tree yields nulls.
	data := NewOrderedMap()
	for _, entry := range member.aliases {
		if res.Data == nil {
			data.Set(entry.Key, nil)
			continue
		}
		data.Set(entry.Key, res.Data[entry.Alias])
	}

	// Error slice: claim errors whose root segment is one of this
	// member's aliases, rewriting only that root segment.
	var errs []Error
	for i, e := range res.Errors {
		if attributed[i] {
			continue
		}
		root, ok := errorRoot(e)
		if !ok {
			continue
		}
		key, hit := member.aliases.lookup(root)
		if !hit {
			continue
		}
		rewritten := e
		rewritten.Path = append(Path{key}, e.Path[1:]...)
		errs = append(errs, rewritten)
		attributed[i] = true
	}

	return &Result{
		Data:       data,
		Errors:     errs,
		Extensions: res.Extensions,
		Context:    res.Context,
	}, nil
}

// errorRoot returns the error path's root segment when it is a response
// key. Errors without a path, or rooted at a list index, can never be
// attributed to a member.
func errorRoot(e Error) (string, bool) {
	if len(e.Path) == 0 {
		return "", false
	}
	root, ok := e.Path[0].(string)
	return root, ok
}

// unclaimed returns the errors no member of group would attribute.
func unclaimed(group *OperationGroup, res *MergedResult) []Error {
	known := make(map[string]struct{})
	for _, m := range group.Members {
		for _, e := range m.aliases {
			known[e.Alias] = struct{}{}
		}
	}
	var out []Error
	for _, e := range res.Errors {
		root, ok := errorRoot(e)
		if !ok {
			out = append(out, e)
			continue
		}
		if _, hit := known[root]; !hit {
			out = append(out, e)
		}
	}
	return out
}

// FailPending fails every member handle that has not reached a terminal
// state. Used when dispatch fails or demultiplexing aborts so that no
// caller is left blocked; already-resolved members are unaffected.
func FailPending(group *OperationGroup, err error) {
	for _, m := range group.Members {
		m.Handle.Fail(err)
	}
}
