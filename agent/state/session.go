package state

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Session is the persistent source-of-truth for one conversation.
// - History: ordered Turns with strictly increasing, gapless Seq starting at 0
// - Cart lifecycle: at most one active CartRef, retired after a placed order
// - Scratch: small routing hints carried between turns
type Session struct {
	ID      string            `json:"id"`
	Turns   []Turn            `json:"turns,omitempty"`
	Cart    *CartRef          `json:"cart,omitempty"`
	Scratch map[string]string `json:"scratch,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Role identifies who produced a Turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
	RoleTool  Role = "tool"
)

// Turn is one immutable history entry. Tool is set only for RoleTool turns.
type Turn struct {
	Seq       int         `json:"seq"`
	Role      Role        `json:"role"`
	Content   string      `json:"content"`
	Tool      *ToolRecord `json:"tool,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// ToolRecord is the structured half of a tool Turn. Kind is empty on
// success and carries the failure kind otherwise.
type ToolRecord struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
	Kind string         `json:"kind,omitempty"`
}

// CartRef points at the session's active backend cart. ID is the
// backend-assigned identifier (the GUID for anonymous carts). Snapshot is
// advisory only; the backend stays authoritative and the snapshot is
// refreshed after every mutating tool call.
type CartRef struct {
	ID       string       `json:"id"`
	Snapshot CartSnapshot `json:"snapshot"`
}

type CartSnapshot struct {
	Entries            []CartEntry `json:"entries,omitempty"`
	Subtotal           float64     `json:"subtotal"`
	Currency           string      `json:"currency,omitempty"`
	HasDeliveryAddress bool        `json:"has_delivery_address"`
	HasDeliveryMode    bool        `json:"has_delivery_mode"`
}

type CartEntry struct {
	EntryNumber int    `json:"entry_number"`
	ProductID   string `json:"product_id"`
	Name        string `json:"name,omitempty"`
	Quantity    int    `json:"quantity"`
}

/* ------------------------------ CartRef helpers ------------------------------ */

// EntryFor returns the snapshot entry for a product code.
func (c *CartRef) EntryFor(productID string) (CartEntry, bool) {
	if c == nil {
		return CartEntry{}, false
	}
	for _, e := range c.Snapshot.Entries {
		if e.ProductID == productID {
			return e, true
		}
	}
	return CartEntry{}, false
}

// QuantityOf returns the snapshot quantity for a product code, 0 if absent.
func (c *CartRef) QuantityOf(productID string) int {
	e, ok := c.EntryFor(productID)
	if !ok {
		return 0
	}
	return e.Quantity
}

// CheckoutReady reports whether the snapshot shows both a delivery address
// and a delivery mode.
func (c *CartRef) CheckoutReady() bool {
	return c != nil && c.Snapshot.HasDeliveryAddress && c.Snapshot.HasDeliveryMode
}

/* ------------------------------ Session helpers ------------------------------ */

var (
	ErrSeqCorrupt   = errors.New("turn sequence corrupt")
	ErrNoActiveCart = errors.New("no active cart")
)

func NewSession(sessionID string, now time.Time) *Session {
	return &Session{
		ID:        strings.TrimSpace(sessionID),
		Scratch:   make(map[string]string, 4),
		UpdatedAt: now.UTC(),
	}
}

func (s *Session) Touch(now time.Time) {
	s.UpdatedAt = now.UTC()
}

// AppendTurn assigns the next sequence number and appends. Callers must hold
// the session lock (see Manager); Seq gaplessness depends on it.
func (s *Session) AppendTurn(role Role, content string, rec *ToolRecord, now time.Time) Turn {
	turn := Turn{
		Seq:       len(s.Turns),
		Role:      role,
		Content:   content,
		Tool:      rec,
		Timestamp: now.UTC(),
	}
	s.Turns = append(s.Turns, turn)
	s.Touch(now)
	return turn
}

// LastTurns returns up to n most recent turns, oldest first.
func (s *Session) LastTurns(n int) []Turn {
	if s == nil || n <= 0 || len(s.Turns) == 0 {
		return nil
	}
	if n >= len(s.Turns) {
		return s.Turns
	}
	return s.Turns[len(s.Turns)-n:]
}

// ActiveCart returns the current CartRef (or nil).
func (s *Session) ActiveCart() *CartRef {
	if s == nil {
		return nil
	}
	return s.Cart
}

// AttachCart sets the active cart, replacing any prior one. A session holds
// at most one active cart at a time.
func (s *Session) AttachCart(cartID string) (*CartRef, error) {
	if s == nil {
		return nil, ErrNilSession
	}
	id := strings.TrimSpace(cartID)
	if id == "" {
		return nil, fmt.Errorf("%w: cart id is empty", ErrNoActiveCart)
	}
	s.Cart = &CartRef{ID: id}
	return s.Cart, nil
}

// RetireCart clears the active cart after a placed order so the next add
// creates a fresh cart.
func (s *Session) RetireCart() {
	if s == nil {
		return
	}
	s.Cart = nil
}

func (s *Session) SetScratch(key, val string) {
	if s == nil || strings.TrimSpace(key) == "" {
		return
	}
	if s.Scratch == nil {
		s.Scratch = make(map[string]string, 4)
	}
	s.Scratch[key] = val
}

func (s *Session) ScratchValue(key string) string {
	if s == nil || s.Scratch == nil {
		return ""
	}
	return s.Scratch[key]
}

// Validate checks structural invariants: non-empty id, gapless turn
// sequence from 0, known roles, and a non-empty cart id when a cart is set.
func (s *Session) Validate() error {
	if s == nil {
		return ErrNilSession
	}
	if strings.TrimSpace(s.ID) == "" {
		return ErrInvalidSession
	}
	for i, turn := range s.Turns {
		if turn.Seq != i {
			return fmt.Errorf("%w: turn at index %d has seq=%d", ErrSeqCorrupt, i, turn.Seq)
		}
		switch turn.Role {
		case RoleUser, RoleAgent, RoleTool:
		default:
			return fmt.Errorf("%w: turn seq=%d has unknown role=%q", ErrSeqCorrupt, turn.Seq, turn.Role)
		}
	}
	if s.Cart != nil && strings.TrimSpace(s.Cart.ID) == "" {
		return fmt.Errorf("%w: cart ref without id", ErrNoActiveCart)
	}
	return nil
}
