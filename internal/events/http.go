package events

import (
	"net/http"
	"time"
)

// HTTPStart is emitted when an incoming request reaches the handler.
type HTTPStart struct {
	Request *http.Request
}

// HTTPFinish is emitted after the response is written.
type HTTPFinish struct {
	Request    *http.Request
	Status     int
	Operations int
	Duration   time.Duration
}
