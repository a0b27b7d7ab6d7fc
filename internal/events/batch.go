package events

import "time"

// BatchStart is emitted when a closed batch group begins processing.
type BatchStart struct {
	Operation string
	Size      int
}

// BatchFinish is emitted once every member of the group is resolved.
type BatchFinish struct {
	Operation string
	Size      int
	Err       error
	Duration  time.Duration
}

// DispatchStart is emitted before the merged request goes upstream.
type DispatchStart struct {
	OperationName string
	Size          int
}

// DispatchFinish is emitted when the upstream call returns.
type DispatchFinish struct {
	OperationName string
	Err           error
	Duration      time.Duration
}
