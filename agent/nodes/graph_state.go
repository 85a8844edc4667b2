// Package turnnode holds the node functions of the turn pipeline graph.
// Each node takes the shared GraphState plus the dependencies the
// coordinator binds in, mutates the state, and hands it to the next node.
package turnnode

import (
	"errors"
	"strings"
	"time"

	contractx "github.com/chatcart-ai/chatcart/agent/contract"
	statex "github.com/chatcart-ai/chatcart/agent/state"
)

var (
	ErrInvalidMessage = errors.New("message is empty")
	ErrInvalidSession = errors.New("session id is empty")
	ErrNilSession     = errors.New("graph session is nil")
)

// GraphInput is one user turn entering the pipeline. Session is the live
// session; the coordinator holds its lock for the whole graph run, so nodes
// may mutate it directly.
type GraphInput struct {
	Session *statex.Session
	Text    string
	Now     time.Time
}

type GraphOutput struct {
	Reply string
}

// GraphState threads the turn through the pipeline.
type GraphState struct {
	Session *statex.Session
	Text    string
	Now     time.Time

	Route   contractx.RouteDecision
	Flow    string
	Outcome contractx.FlowOutcome
}

// ValidateTurn normalizes the input and opens the pipeline. The coordinator
// already rejected blank input before taking the session lock; this guards
// the graph when it is driven directly.
func ValidateTurn(in GraphInput, nowFn func() time.Time) (*GraphState, error) {
	if in.Session == nil {
		return nil, ErrNilSession
	}

	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, ErrInvalidMessage
	}

	now := in.Now
	if now.IsZero() {
		now = nowFn().UTC()
	}

	return &GraphState{
		Session: in.Session,
		Text:    text,
		Now:     now,
	}, nil
}
