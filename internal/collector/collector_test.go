package collector

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	batch "github.com/hanpama/querymux/internal/batch"
	language "github.com/hanpama/querymux/internal/language"
)

// echoDispatcher answers every merged alias with the unaliased field
// name, simulating an upstream that resolves each field independently.
type echoDispatcher struct {
	calls atomic.Int64
}

func (d *echoDispatcher) Dispatch(ctx context.Context, req *batch.MergedRequest) (*batch.MergedResult, error) {
	d.calls.Add(1)
	data := map[string]any{}
	for _, sel := range req.Document.Operations[0].SelectionSet {
		f := sel.(*language.Field)
		data[f.Alias] = f.Name
	}
	return &batch.MergedResult{Data: data}, nil
}

func request(t *testing.T, src string) *batch.PendingRequest {
	t.Helper()
	doc, err := language.ParseQuery(src)
	if err != nil {
		t.Fatal(err)
	}
	req, err := batch.NewPendingRequest(context.Background(), doc, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	return req
}

func waitData(t *testing.T, req *batch.PendingRequest) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := req.Handle.Wait(ctx)
	if err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	out := map[string]any{}
	for _, k := range res.Data.Keys() {
		v, _ := res.Data.Get(k)
		out[k] = v
	}
	return out
}

func TestCollector_FlushBySize(t *testing.T) {
	d := &echoDispatcher{}
	c := New(d, zerolog.Nop(), Options{MaxBatch: 2, MaxWait: time.Hour})
	defer c.Close()

	r1 := request(t, "{ a b }")
	r2 := request(t, "{ c }")
	c.Enqueue(r1)
	c.Enqueue(r2)

	if diff := cmp.Diff(map[string]any{"a": "a", "b": "b"}, waitData(t, r1)); diff != "" {
		t.Fatalf("r1 data (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]any{"c": "c"}, waitData(t, r2)); diff != "" {
		t.Fatalf("r2 data (-want +got):\n%s", diff)
	}
	if got := d.calls.Load(); got != 1 {
		t.Fatalf("expected a single upstream trip, got %d", got)
	}
}

func TestCollector_FlushByTime(t *testing.T) {
	d := &echoDispatcher{}
	c := New(d, zerolog.Nop(), Options{MaxBatch: 100, MaxWait: 5 * time.Millisecond})
	defer c.Close()

	r := request(t, "{ a }")
	c.Enqueue(r)

	if diff := cmp.Diff(map[string]any{"a": "a"}, waitData(t, r)); diff != "" {
		t.Fatalf("data (-want +got):\n%s", diff)
	}
}

func TestCollector_BatchedEqualsUnbatched(t *testing.T) {
	run := func(t *testing.T, maxBatch int) []map[string]any {
		d := &echoDispatcher{}
		c := New(d, zerolog.Nop(), Options{MaxBatch: maxBatch, MaxWait: time.Millisecond})
		defer c.Close()
		reqs := []*batch.PendingRequest{
			request(t, "{ a b }"),
			request(t, "{ c }"),
			request(t, "{ d e f }"),
		}
		for _, r := range reqs {
			c.Enqueue(r)
		}
		var out []map[string]any
		for _, r := range reqs {
			out = append(out, waitData(t, r))
		}
		return out
	}

	batched := run(t, 3)
	individual := run(t, 1)
	if diff := cmp.Diff(individual, batched); diff != "" {
		t.Fatalf("batched results must match unbatched execution (-unbatched +batched):\n%s", diff)
	}
}

func TestCollector_MixedKindsDispatchSeparately(t *testing.T) {
	d := &echoDispatcher{}
	c := New(d, zerolog.Nop(), Options{MaxBatch: 2, MaxWait: time.Hour})
	defer c.Close()

	q := request(t, "{ a }")
	m := request(t, "mutation { save }")
	c.Enqueue(q)
	c.Enqueue(m)

	waitData(t, q)
	waitData(t, m)
	if got := d.calls.Load(); got != 2 {
		t.Fatalf("kinds must never share a merged request; got %d dispatches", got)
	}
}

func TestCollector_DispatchFailureFailsEveryMember(t *testing.T) {
	cause := errors.New("upstream down")
	d := batch.DispatchFunc(func(ctx context.Context, req *batch.MergedRequest) (*batch.MergedResult, error) {
		return nil, cause
	})
	c := New(d, zerolog.Nop(), Options{MaxBatch: 2, MaxWait: time.Hour})
	defer c.Close()

	r1 := request(t, "{ a }")
	r2 := request(t, "{ c }")
	c.Enqueue(r1)
	c.Enqueue(r2)

	for i, r := range []*batch.PendingRequest{r1, r2} {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, err := r.Handle.Wait(ctx)
		cancel()
		if !errors.Is(err, cause) {
			t.Fatalf("member %d error = %v, want %v", i, err, cause)
		}
	}
}

func TestCollector_FlushProcessesSynchronously(t *testing.T) {
	d := &echoDispatcher{}
	c := New(d, zerolog.Nop(), Options{MaxBatch: 100, MaxWait: time.Hour})
	defer c.Close()

	r := request(t, "{ a }")
	c.Enqueue(r)
	c.Flush()

	if !r.Handle.Sealed() {
		t.Fatal("Flush must resolve pending handles before returning")
	}
}

func TestCollector_CloseFailsPending(t *testing.T) {
	d := &echoDispatcher{}
	c := New(d, zerolog.Nop(), Options{MaxBatch: 100, MaxWait: time.Hour})

	r := request(t, "{ a }")
	c.Enqueue(r)
	c.Close()

	if _, err := r.Handle.Wait(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("error = %v, want ErrClosed", err)
	}

	late := request(t, "{ b }")
	c.Enqueue(late)
	if _, err := late.Handle.Wait(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("late enqueue error = %v, want ErrClosed", err)
	}
}
