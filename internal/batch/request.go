package batch

import (
	"context"
	"fmt"

	language "github.com/hanpama/querymux/internal/language"
)

// AliasEntry maps one merged-document alias to the response key the
// caller originally requested.
type AliasEntry struct {
	Alias string
	Key   string
}

// AliasTable is the ordered alias→response-key mapping for one request.
// It is built during merging and consumed when slicing the merged
// result; entries are never shared between group members.
type AliasTable []AliasEntry

func (t AliasTable) lookup(alias string) (string, bool) {
	for _, e := range t {
		if e.Alias == alias {
			return e.Key, true
		}
	}
	return "", false
}

// PendingRequest is one caller operation waiting to ride a merged
// dispatch. The document is never mutated; merging deep-copies it and
// attaches the alias table here.
type PendingRequest struct {
	Operation     language.Operation
	OperationName string
	Document      *language.QueryDocument
	Variables     map[string]any
	Ctx           context.Context
	Handle        *Handle

	aliases AliasTable
}

// NewPendingRequest builds a pending request around an already parsed
// document. The named operation must exist and carry an operation kind;
// both are construction invariants, not runtime conditions.
func NewPendingRequest(ctx context.Context, doc *language.QueryDocument, operationName string, variables map[string]any) (*PendingRequest, error) {
	op := doc.Operations.ForName(operationName)
	if op == nil {
		if operationName == "" {
			return nil, fmt.Errorf("batch: document has no single unambiguous operation")
		}
		return nil, fmt.Errorf("batch: operation %q not found in document", operationName)
	}
	if op.Operation == "" {
		return nil, fmt.Errorf("batch: operation %q has no operation kind", operationName)
	}
	if variables == nil {
		variables = map[string]any{}
	}
	return &PendingRequest{
		Operation:     op.Operation,
		OperationName: op.Name,
		Document:      doc,
		Variables:     variables,
		Ctx:           ctx,
		Handle:        NewHandle(),
	}, nil
}

// Aliases returns the alias table attached during merging. Empty until
// the request has been merged.
func (r *PendingRequest) Aliases() AliasTable { return r.aliases }

func (r *PendingRequest) operation() *language.OperationDefinition {
	return r.Document.Operations.ForName(r.OperationName)
}
