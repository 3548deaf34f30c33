package orders

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusReceived         Status = "RECEIVED"
	StatusProcessing       Status = "PROCESSING"
	StatusCompleted        Status = "COMPLETED"
	StatusFailedEnrichment Status = "FAILED_ENRICHMENT"
)

var transitions = map[Status][]Status{
	StatusReceived:   {StatusProcessing, StatusFailedEnrichment},
	StatusProcessing: {StatusProcessing, StatusCompleted, StatusFailedEnrichment},
}

// ParseStatus accepts any letter case.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if err := st.Validate(); err != nil {
		return "", err
	}
	return st, nil
}

func (s Status) Validate() error {
	switch s {
	case StatusReceived, StatusProcessing, StatusCompleted, StatusFailedEnrichment:
		return nil
	default:
		return fmt.Errorf("unknown order status %q", string(s))
	}
}

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailedEnrichment
}

// CanTransitionTo reports whether next is reachable from s in one step.
// PROCESSING -> PROCESSING covers redelivery after a lost lease.
// RECEIVED -> FAILED_ENRICHMENT goes beyond the documented RECEIVED ->
// PROCESSING -> terminal path: a job can exhaust its attempts before any
// attempt managed to persist PROCESSING, and the order must still end
// FAILED_ENRICHMENT rather than stay RECEIVED.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s Status) String() string { return string(s) }
