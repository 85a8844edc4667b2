// Package router decides which flow handles a turn. The primary path is a
// structured classification by the reasoning engine; a keyword heuristic
// keeps routing alive when the model is unreachable.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	contractx "github.com/chatcart-ai/chatcart/agent/contract"
	statex "github.com/chatcart-ai/chatcart/agent/state"
)

// DefaultClarifyQuestion is asked when the router cannot commit to an
// intent and the model supplied no question of its own.
const DefaultClarifyQuestion = "Could you tell me a bit more about what you're looking for?"

const (
	defaultConfidenceThreshold = 0.55
	defaultHistoryWindow       = 6
)

type Config struct {
	ConfidenceThreshold float64 `envconfig:"CONFIDENCE_THRESHOLD" split_words:"true" default:"0.55"`
	HistoryWindow       int     `envconfig:"HISTORY_WINDOW" split_words:"true" default:"6"`
}

// Classifier is the slice of the reasoning engine the router depends on.
type Classifier interface {
	Classify(ctx context.Context, payload map[string]any) (contractx.RouteDecision, error)
}

type Router struct {
	classifier Classifier
	cfg        Config
	logger     zerolog.Logger
}

func New(cfg Config, classifier Classifier) (*Router, error) {
	if classifier == nil {
		return nil, errors.New("classifier is required")
	}
	if cfg.ConfidenceThreshold < 0 || cfg.ConfidenceThreshold > 1 {
		return nil, fmt.Errorf("confidence threshold %v out of range [0, 1]", cfg.ConfidenceThreshold)
	}
	if cfg.ConfidenceThreshold == 0 {
		cfg.ConfidenceThreshold = defaultConfidenceThreshold
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = defaultHistoryWindow
	}

	return &Router{
		classifier: classifier,
		cfg:        cfg,
		logger:     log.With().Str("component", "router").Logger(),
	}, nil
}

// Route classifies the turn. A low-confidence or failed classification
// never becomes an error for the user: it degrades to a keyword heuristic
// and finally to a clarifying question.
func (r *Router) Route(ctx context.Context, sess *statex.Session, text string) (contractx.RouteDecision, error) {
	payload := map[string]any{
		"user_message":    text,
		"recent_turns":    recentTurns(sess, r.cfg.HistoryWindow),
		"has_active_cart": sess.ActiveCart() != nil,
	}

	decision, err := r.classifier.Classify(ctx, payload)
	if err != nil {
		r.logger.Warn().Err(err).Str("session_id", sess.ID).Msg("classification failed, falling back to keywords")
		return r.keywordFallback(text), nil
	}

	return r.normalize(decision), nil
}

// normalize folds a low-confidence decision into a clarifying question and
// guarantees Clarify decisions always carry one.
func (r *Router) normalize(d contractx.RouteDecision) contractx.RouteDecision {
	if d.Intent != contractx.IntentClarify && d.Confidence < r.cfg.ConfidenceThreshold {
		r.logger.Debug().
			Str("intent", string(d.Intent)).
			Float64("confidence", d.Confidence).
			Msg("confidence below threshold, asking to clarify")
		return contractx.RouteDecision{
			Intent:     contractx.IntentClarify,
			Confidence: d.Confidence,
			Question:   DefaultClarifyQuestion,
		}
	}
	if d.Intent == contractx.IntentClarify && strings.TrimSpace(d.Question) == "" {
		d.Question = DefaultClarifyQuestion
	}
	return d
}

// Checkout words are checked first: "add a charger and check out" is a
// checkout turn even though it mentions the cart.
var (
	checkoutWords  = []string{"checkout", "check out", "buy", "purchase", "place my order", "place the order", "pay"}
	cartWords      = []string{"cart", "basket", "add ", "remove", "quantity"}
	discoveryWords = []string{"find", "search", "show", "recommend", "looking for", "need", "want"}
)

func (r *Router) keywordFallback(text string) contractx.RouteDecision {
	lowered := strings.ToLower(text)
	switch {
	case containsAny(lowered, checkoutWords):
		return contractx.RouteDecision{Intent: contractx.IntentCheckout, Confidence: r.cfg.ConfidenceThreshold}
	case containsAny(lowered, cartWords):
		return contractx.RouteDecision{Intent: contractx.IntentCartAction, Confidence: r.cfg.ConfidenceThreshold}
	case containsAny(lowered, discoveryWords):
		return contractx.RouteDecision{Intent: contractx.IntentDiscovery, Confidence: r.cfg.ConfidenceThreshold}
	default:
		return contractx.RouteDecision{Intent: contractx.IntentClarify, Question: DefaultClarifyQuestion}
	}
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func recentTurns(sess *statex.Session, window int) []map[string]string {
	turns := sess.LastTurns(window)
	out := make([]map[string]string, 0, len(turns))
	for _, t := range turns {
		if t.Role != statex.RoleUser && t.Role != statex.RoleAgent {
			continue
		}
		out = append(out, map[string]string{
			"role":    string(t.Role),
			"content": t.Content,
		})
	}
	return out
}
