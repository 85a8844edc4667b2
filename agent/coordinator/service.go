// Package coordinator owns the turn pipeline: the single externally
// callable entry point that carries a user message through routing, the
// flow loop, and session persistence, all under the per-session lock.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	contractx "github.com/chatcart-ai/chatcart/agent/contract"
	turnnode "github.com/chatcart-ai/chatcart/agent/nodes"
	statex "github.com/chatcart-ai/chatcart/agent/state"
)

// SystemUnavailableReply is the only thing a shopper sees when
// infrastructure fails mid-turn. Specific failures stay in the logs.
const SystemUnavailableReply = "The system is temporarily unavailable. Please try again in a moment."

var (
	ErrInvalidMessage = turnnode.ErrInvalidMessage
	ErrInvalidSession = turnnode.ErrInvalidSession
)

const defaultTurnTimeout = 60 * time.Second

type Config struct {
	TurnTimeout time.Duration `envconfig:"TURN_TIMEOUT" split_words:"true" default:"60s"`
}

type Coordinator struct {
	sessions *statex.Manager
	router   contractx.Router
	flows    contractx.FlowRunner

	graphRunner compose.Runnable[turnnode.GraphInput, turnnode.GraphOutput]

	turnTimeout time.Duration
	now         func() time.Time
	logger      zerolog.Logger
}

type Option func(*Coordinator)

// WithClock overrides the turn timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

func New(
	sessions *statex.Manager,
	router contractx.Router,
	flows contractx.FlowRunner,
	cfg Config,
	opts ...Option,
) (*Coordinator, error) {
	if sessions == nil {
		return nil, errors.New("session manager is required")
	}
	if router == nil {
		return nil, errors.New("router is required")
	}
	if flows == nil {
		return nil, errors.New("flow runner is required")
	}

	turnTimeout := cfg.TurnTimeout
	if turnTimeout <= 0 {
		turnTimeout = defaultTurnTimeout
	}

	c := &Coordinator{
		sessions:    sessions,
		router:      router,
		flows:       flows,
		turnTimeout: turnTimeout,
		now:         time.Now,
		logger:      log.With().Str("component", "coordinator").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}

	graphRunner, err := c.compileHandleTurnGraph(context.Background())
	if err != nil {
		return nil, err
	}
	c.graphRunner = graphRunner

	return c, nil
}

// HandleTurn carries one user message to a reply. The whole turn runs under
// the session lock so concurrent turns on one session serialize; the turn
// timeout bounds how long the lock can be held. Infrastructure failure
// returns SystemUnavailableReply alongside the error, with the attempt
// persisted whenever the store permits.
func (c *Coordinator) HandleTurn(ctx context.Context, sessionID string, text string) (string, error) {
	if strings.TrimSpace(sessionID) == "" {
		return "", ErrInvalidSession
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrInvalidMessage
	}

	ctx, cancel := context.WithTimeout(ctx, c.turnTimeout)
	defer cancel()

	var (
		reply  string
		runErr error
	)
	_, err := c.sessions.Mutate(ctx, sessionID, func(sess *statex.Session) error {
		out, gerr := c.graphRunner.Invoke(ctx, turnnode.GraphInput{
			Session: sess,
			Text:    text,
			Now:     c.now(),
		})
		if gerr != nil {
			runErr = gerr
			reply = SystemUnavailableReply
			closeFailedTurn(sess, text, c.now())
			return nil
		}
		reply = out.Reply
		return nil
	})
	if err != nil {
		c.logger.Error().
			Err(err).
			Str("session_id", sessionID).
			Msg("turn aborted, session not persisted")
		return SystemUnavailableReply, fmt.Errorf("handle turn: %w", err)
	}
	if runErr != nil {
		c.logger.Error().
			Err(runErr).
			Str("session_id", sessionID).
			Msg("turn failed, persisted as failed attempt")
		return reply, fmt.Errorf("handle turn: %w", runErr)
	}

	return reply, nil
}

// closeFailedTurn keeps a failed turn visible in the transcript: the user
// message when the pipeline died before recording it, then the generic
// reply that was actually sent back.
func closeFailedTurn(sess *statex.Session, text string, now time.Time) {
	if !hasUserTurnFor(sess, text) {
		sess.AppendTurn(statex.RoleUser, strings.TrimSpace(text), nil, now)
	}
	sess.AppendTurn(statex.RoleAgent, SystemUnavailableReply, nil, now)
}

// hasUserTurnFor reports whether the tail of the transcript already carries
// this turn's user message. The pipeline appends it right after input
// validation, so only a validation failure leaves it missing.
func hasUserTurnFor(sess *statex.Session, text string) bool {
	want := strings.TrimSpace(text)
	turns := sess.Turns
	for i := len(turns) - 1; i >= 0; i-- {
		switch turns[i].Role {
		case statex.RoleUser:
			return turns[i].Content == want
		case statex.RoleAgent:
			return false
		}
	}
	return false
}
