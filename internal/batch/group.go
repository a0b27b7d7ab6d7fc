package batch

import (
	"fmt"

	language "github.com/hanpama/querymux/internal/language"
)

// OperationGroup is an ordered run of pending requests sharing one
// operation kind. Mixing kinds in one merged request is forbidden:
// side-effect ordering guarantees differ between them.
type OperationGroup struct {
	Operation language.Operation
	Members   []*PendingRequest
}

// GroupByOperation partitions reqs by operation kind. Encounter order
// is preserved both across groups (by first occurrence) and within each
// group. Operation kind is the only grouping criterion: differing
// operation names or variable shapes still merge.
func GroupByOperation(reqs []*PendingRequest) []*OperationGroup {
	var order []*OperationGroup
	index := make(map[language.Operation]*OperationGroup)
	for _, r := range reqs {
		if r.Operation == "" {
			// Construction invariant; NewPendingRequest rejects this.
			panic(fmt.Sprintf("batch: pending request %q has no operation kind", r.OperationName))
		}
		g, ok := index[r.Operation]
		if !ok {
			g = &OperationGroup{Operation: r.Operation}
			index[r.Operation] = g
			order = append(order, g)
		}
		g.Members = append(g.Members, r)
	}
	return order
}
