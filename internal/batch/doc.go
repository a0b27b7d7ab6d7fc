// Package batch implements the merge/dispatch/demultiplex core: many
// independently issued GraphQL operations against the same upstream are
// combined into a single request, executed once, and the single result
// is split back into per-caller results indistinguishable from direct
// execution.
//
// # Pipeline
//
// A closed set of PendingRequests flows through four stages:
//
//  1. GroupByOperation partitions requests by operation kind. Kind is
//     the only criterion; queries, mutations, and subscriptions never
//     share a merged request because their side-effect ordering
//     guarantees differ.
//  2. Merge rewrites each group member into a namespaced slice of one
//     merged document. Member i (encounter order) owns the prefix
//     "__i_"; its top-level response keys, variable names, and fragment
//     names all move under that prefix, which makes the merged document
//     collision-free regardless of overlapping names across
//     independently authored requests. The alias→original-key mapping
//     is attached to the member as its AliasTable.
//  3. A Dispatcher executes the merged document once. This is the only
//     suspension point; grouping, merging, and demultiplexing are
//     synchronous and CPU-bound.
//  4. Demuxer slices the merged result back across the group using each
//     member's AliasTable, and resolves every completion handle.
//
// # Demultiplexing
//
// Members are processed in the encounter order used for merging. For
// each member the demuxer emits a data container holding exactly the
// key set the caller requested, in request order (nulls when the merged
// data tree is absent), claims merged-result errors whose root path
// segment is one of the member's aliases (rewriting only that root
// segment back to the original response key), and copies extensions and
// context entries verbatim. Member i's handle is resolved as soon as
// processing advances to member i+1, so earlier callers unblock without
// waiting for the whole group.
//
// Errors whose root segment matches no alias in the entire group are
// handled by the Demuxer's UnattributedPolicy. The inherited default,
// AttachToLast, appends them to the final member's result; it is an
// explicit fallback, not an attribution guarantee.
//
// # Failure model
//
//   - Dispatch failure is total: the caller fails every member handle
//     (FailPending). It is never retried here.
//   - A member whose document cannot be rewritten during merging (for
//     example a top-level fragment spread) fails alone; its siblings
//     still ride the merged request.
//   - A slicing failure while processing one member fails only that
//     member; siblings continue.
//   - ErrMergeInvariant signals an alias collision between members.
//     The prefix scheme makes this impossible for documents the parser
//     produces, so it indicates a bug and fails the group.
//
// Every handle reaches a terminal state exactly once: Resolve and Fail
// are mutually exclusive and idempotent after the first call.
package batch
