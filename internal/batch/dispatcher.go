package batch

import "context"

// Dispatcher executes one merged request against the upstream and
// returns its single result. The core makes exactly one attempt per
// group, does not interpret transport-specific error kinds, and treats
// any failure as total for the group. Cancellation is delegated to ctx.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *MergedRequest) (*MergedResult, error)
}

// DispatchFunc adapts a function to the Dispatcher interface.
type DispatchFunc func(ctx context.Context, req *MergedRequest) (*MergedResult, error)

func (f DispatchFunc) Dispatch(ctx context.Context, req *MergedRequest) (*MergedResult, error) {
	return f(ctx, req)
}
