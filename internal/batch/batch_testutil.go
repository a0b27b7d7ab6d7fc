package batch

import (
	"context"
	"testing"

	language "github.com/hanpama/querymux/internal/language"
)

func mustParseQuery(t *testing.T, src string) *language.QueryDocument {
	t.Helper()
	doc, err := language.ParseQuery(src)
	if err != nil {
		t.Fatalf("parse %q: %v", src, err)
	}
	return doc
}

func mustRequest(t *testing.T, src string, vars map[string]any) *PendingRequest {
	t.Helper()
	req, err := NewPendingRequest(context.Background(), mustParseQuery(t, src), "", vars)
	if err != nil {
		t.Fatalf("pending request for %q: %v", src, err)
	}
	return req
}

func mustGroup(t *testing.T, reqs ...*PendingRequest) *OperationGroup {
	t.Helper()
	groups := GroupByOperation(reqs)
	if len(groups) != 1 {
		t.Fatalf("expected one group, got %d", len(groups))
	}
	return groups[0]
}
