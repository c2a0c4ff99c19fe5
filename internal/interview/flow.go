package interview

import (
	"encoding/json"
	"fmt"
)

// FlowState tracks each round's status for one candidate.
type FlowState map[Round]Status

// NewFlowState returns a flow with every round not started.
func NewFlowState() FlowState {
	f := make(FlowState, len(Order))
	for _, r := range Order {
		f[r] = StatusNotStarted
	}
	return f
}

// Status returns r's status, treating a missing entry as not started.
func (f FlowState) Status(r Round) Status {
	if s, ok := f[r]; ok {
		return s
	}
	return StatusNotStarted
}

// Clone returns an independent copy.
func (f FlowState) Clone() FlowState {
	c := make(FlowState, len(f))
	for k, v := range f {
		c[k] = v
	}
	return c
}

// DecodeFlowState parses a stored flow document. Keys that are not rounds are
// ignored and missing rounds default to not started; an unknown status value
// is an error.
func DecodeFlowState(data []byte) (FlowState, error) {
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("interview: decode flow state: %w", err)
	}
	f := NewFlowState()
	for k, v := range raw {
		r := Round(k)
		if r.Index() < 0 {
			continue
		}
		s := Status(v)
		if !s.Valid() {
			return nil, fmt.Errorf("interview: decode flow state: round %s has unknown status %q", k, v)
		}
		f[r] = s
	}
	return f, nil
}
