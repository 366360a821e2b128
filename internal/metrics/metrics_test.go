package metrics

import (
	"testing"
	"time"
)

func TestInitIdempotent(t *testing.T) {
	// Call Init multiple times; promauto panics on duplicate registration
	// if the once guard fails.
	Init()
	Init()

	if httpRequestsTotal == nil || httpRequestDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveHTTPRequestBeforeInit(t *testing.T) {
	saved := httpRequestsTotal
	httpRequestsTotal = nil
	defer func() { httpRequestsTotal = saved }()

	// Must not panic when called before Init.
	ObserveHTTPRequest("GET", "/healthz", 200, 5*time.Millisecond)
}
