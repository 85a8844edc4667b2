// Package occ is a client for the OCC-style commerce REST API the agent
// shops against. It owns the OAuth2 token lifecycle, bounded retry with
// exponential backoff, and the idempotency rules that decide when a failed
// mutation may be replayed and when its outcome must be reported as unknown.
package occ

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	defaultPageSize  = 20
	maxPageSize      = 50
	maxResponseBytes = 4 << 20
)

type Config struct {
	// BaseURL points at the site root, e.g. https://api.example.com/occ/v2/electronics.
	BaseURL      string `envconfig:"BASE_URL" split_words:"true" required:"true"`
	TokenURL     string `envconfig:"TOKEN_URL" split_words:"true" required:"true"`
	ClientID     string `envconfig:"CLIENT_ID" split_words:"true" required:"true"`
	ClientSecret string `envconfig:"CLIENT_SECRET" split_words:"true" required:"true"`

	// UserID is the cart owner on user-scoped routes. Anonymous carts use
	// the literal "anonymous" and are addressed by GUID.
	UserID string `envconfig:"USER_ID" split_words:"true" default:"anonymous"`

	Timeout        time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"15s"`
	MaxAttempts    int           `envconfig:"MAX_ATTEMPTS" split_words:"true" default:"3"`
	RetryBaseDelay time.Duration `envconfig:"RETRY_BASE_DELAY" split_words:"true" default:"500ms"`
	RetryMaxDelay  time.Duration `envconfig:"RETRY_MAX_DELAY" split_words:"true" default:"8s"`
}

// Client calls the commerce API. Safe for concurrent use; the access token
// is shared and refreshed by at most one caller at a time.
type Client struct {
	cfg        Config
	httpClient *http.Client
	auth       *tokenSource
	logger     zerolog.Logger

	// checkout tracks delivery readiness per cart id so PlaceOrder can
	// reject an unready cart without a backend call.
	checkout sync.Map
}

type checkoutState struct {
	hasAddress bool
	hasMode    bool
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func New(cfg Config, opts ...Option) (*Client, error) {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		return nil, errors.New("commerce api base url is required")
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid commerce api base url: %w", err)
	}
	if strings.TrimSpace(cfg.UserID) == "" {
		cfg.UserID = "anonymous"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay < cfg.RetryBaseDelay {
		cfg.RetryMaxDelay = cfg.RetryBaseDelay
	}

	client := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     log.With().Str("component", "occ").Logger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	auth, err := newTokenSource(cfg.TokenURL, cfg.ClientID, cfg.ClientSecret, client.httpClient)
	if err != nil {
		return nil, err
	}
	client.auth = auth

	return client, nil
}

/* ------------------------------ catalog operations ------------------------------ */

// SearchProducts runs a free-text catalog search. An empty result page is a
// normal outcome, not an error.
func (c *Client) SearchProducts(ctx context.Context, query string, pageSize int) ([]Product, error) {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	q := url.Values{}
	q.Set("query", strings.TrimSpace(query))
	q.Set("pageSize", strconv.Itoa(pageSize))

	var page SearchPage
	if err := c.call(ctx, callSpec{
		method:     http.MethodGet,
		path:       "/products/search",
		query:      q,
		out:        &page,
		idempotent: true,
	}); err != nil {
		return nil, err
	}
	return page.Products, nil
}

func (c *Client) GetProductDetails(ctx context.Context, productCode string) (*Product, error) {
	productCode = strings.TrimSpace(productCode)
	if productCode == "" {
		return nil, errors.New("product code is required")
	}

	q := url.Values{}
	q.Set("fields", "FULL")

	var product Product
	if err := c.call(ctx, callSpec{
		method:     http.MethodGet,
		path:       "/products/" + url.PathEscape(productCode),
		query:      q,
		out:        &product,
		idempotent: true,
	}); err != nil {
		return nil, err
	}
	return &product, nil
}

/* ------------------------------ cart operations ------------------------------ */

func (c *Client) CreateCart(ctx context.Context) (*Cart, error) {
	var cart Cart
	if err := c.call(ctx, callSpec{
		method:     http.MethodPost,
		path:       c.userPath("/carts"),
		out:        &cart,
		idempotent: false,
	}); err != nil {
		return nil, err
	}
	if cart.ID() == "" {
		return nil, fmt.Errorf("%w: created cart has no identifier", ErrUpstream)
	}
	return &cart, nil
}

// AddToCart appends quantity units of a product. Quantity increments are
// not idempotent: an in-flight timeout surfaces as ErrAmbiguousOutcome and
// the caller reconciles through GetCart before any replay.
func (c *Client) AddToCart(ctx context.Context, cartID, productCode string, quantity int) (*CartModification, error) {
	cartID = strings.TrimSpace(cartID)
	if cartID == "" {
		return nil, errors.New("cart id is required")
	}
	productCode = strings.TrimSpace(productCode)
	if productCode == "" {
		return nil, errors.New("product code is required")
	}
	if quantity <= 0 {
		quantity = 1
	}

	var mod CartModification
	if err := c.call(ctx, callSpec{
		method:     http.MethodPost,
		path:       c.cartPath(cartID, "/entries"),
		body:       addEntryPayload{Product: productRef{Code: productCode}, Quantity: quantity},
		out:        &mod,
		idempotent: false,
	}); err != nil {
		return nil, err
	}
	return &mod, nil
}

// UpdateCartEntry sets an entry's absolute quantity. Quantity 0 removes the
// entry. Setting an absolute value converges on replay, so the call is
// retried like a read.
func (c *Client) UpdateCartEntry(ctx context.Context, cartID string, entryNumber, quantity int) (*CartModification, error) {
	cartID = strings.TrimSpace(cartID)
	if cartID == "" {
		return nil, errors.New("cart id is required")
	}
	if entryNumber < 0 {
		return nil, errors.New("entry number must be >= 0")
	}
	if quantity < 0 {
		return nil, errors.New("quantity must be >= 0")
	}

	var mod CartModification
	if err := c.call(ctx, callSpec{
		method:     http.MethodPatch,
		path:       c.cartPath(cartID, "/entries/"+strconv.Itoa(entryNumber)),
		body:       updateEntryPayload{Quantity: quantity},
		out:        &mod,
		idempotent: true,
	}); err != nil {
		return nil, err
	}
	return &mod, nil
}

func (c *Client) GetCart(ctx context.Context, cartID string) (*Cart, error) {
	cartID = strings.TrimSpace(cartID)
	if cartID == "" {
		return nil, errors.New("cart id is required")
	}

	q := url.Values{}
	q.Set("fields", "FULL")

	var cart Cart
	if err := c.call(ctx, callSpec{
		method:     http.MethodGet,
		path:       c.cartPath(cartID, ""),
		query:      q,
		out:        &cart,
		idempotent: true,
	}); err != nil {
		return nil, err
	}
	c.checkout.Store(cartID, checkoutState{
		hasAddress: cart.DeliveryAddress != nil,
		hasMode:    cart.DeliveryMode != nil,
	})
	return &cart, nil
}

/* ------------------------------ checkout operations ------------------------------ */

func (c *Client) SetDeliveryAddress(ctx context.Context, cartID string, addr Address) error {
	cartID = strings.TrimSpace(cartID)
	if cartID == "" {
		return errors.New("cart id is required")
	}
	if strings.TrimSpace(addr.Line1) == "" || strings.TrimSpace(addr.Town) == "" ||
		strings.TrimSpace(addr.PostalCode) == "" || strings.TrimSpace(addr.Country.ISOCode) == "" {
		return fmt.Errorf("%w: delivery address needs line1, town, postal code and country", ErrInvalidState)
	}

	if err := c.call(ctx, callSpec{
		method:     http.MethodPost,
		path:       c.cartPath(cartID, "/addresses/delivery"),
		body:       addr,
		idempotent: true,
	}); err != nil {
		return err
	}
	c.markCheckout(cartID, func(st *checkoutState) { st.hasAddress = true })
	return nil
}

func (c *Client) SetDeliveryMode(ctx context.Context, cartID, modeCode string) error {
	cartID = strings.TrimSpace(cartID)
	if cartID == "" {
		return errors.New("cart id is required")
	}
	modeCode = strings.TrimSpace(modeCode)
	if modeCode == "" {
		return errors.New("delivery mode code is required")
	}

	q := url.Values{}
	q.Set("deliveryModeId", modeCode)

	if err := c.call(ctx, callSpec{
		method:     http.MethodPut,
		path:       c.cartPath(cartID, "/deliverymode"),
		query:      q,
		idempotent: true,
	}); err != nil {
		return err
	}
	c.markCheckout(cartID, func(st *checkoutState) { st.hasMode = true })
	return nil
}

// PlaceOrder converts the cart into an order. A cart known to lack a
// delivery address or mode is rejected locally with ErrInvalidState before
// any request leaves the process; a cart this client has never observed is
// verified with one GetCart first. Order placement itself is never replayed.
func (c *Client) PlaceOrder(ctx context.Context, cartID string) (*Order, error) {
	cartID = strings.TrimSpace(cartID)
	if cartID == "" {
		return nil, errors.New("cart id is required")
	}

	st, known := c.checkoutFor(cartID)
	if !known {
		cart, err := c.GetCart(ctx, cartID)
		if err != nil {
			return nil, err
		}
		st = checkoutState{
			hasAddress: cart.DeliveryAddress != nil,
			hasMode:    cart.DeliveryMode != nil,
		}
	}
	if !st.hasAddress || !st.hasMode {
		return nil, fmt.Errorf("%w: cart %s needs a delivery address and delivery mode before checkout", ErrInvalidState, cartID)
	}

	q := url.Values{}
	q.Set("cartId", cartID)
	q.Set("fields", "FULL")

	var order Order
	if err := c.call(ctx, callSpec{
		method:     http.MethodPost,
		path:       c.userPath("/orders"),
		query:      q,
		out:        &order,
		idempotent: false,
	}); err != nil {
		return nil, err
	}
	c.checkout.Delete(cartID)
	return &order, nil
}

func (c *Client) markCheckout(cartID string, update func(*checkoutState)) {
	st, _ := c.checkoutFor(cartID)
	update(&st)
	c.checkout.Store(cartID, st)
}

func (c *Client) checkoutFor(cartID string) (checkoutState, bool) {
	v, ok := c.checkout.Load(cartID)
	if !ok {
		return checkoutState{}, false
	}
	return v.(checkoutState), true
}

func (c *Client) userPath(suffix string) string {
	return "/users/" + url.PathEscape(c.cfg.UserID) + suffix
}

func (c *Client) cartPath(cartID, suffix string) string {
	return c.userPath("/carts/" + url.PathEscape(cartID) + suffix)
}

/* ------------------------------ transport ------------------------------ */

type callSpec struct {
	method string
	path   string
	query  url.Values
	body   any
	out    any

	// idempotent marks calls safe to replay after an in-flight failure.
	// Reads and absolute sets qualify; creates and increments do not.
	idempotent bool
}

// call runs one API operation through the retry loop. Transient failures
// (5xx, 429, dial errors, timeouts on idempotent calls) are retried with
// exponential backoff; everything else returns on the first attempt.
func (c *Client) call(ctx context.Context, sp callSpec) error {
	var payload []byte
	if sp.body != nil {
		var err error
		payload, err = json.Marshal(sp.body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := retryDelay(attempt-1, c.cfg.RetryBaseDelay, c.cfg.RetryMaxDelay)
			c.logger.Warn().
				Err(lastErr).
				Str("method", sp.method).
				Str("path", sp.path).
				Int("attempt", attempt+1).
				Dur("backoff", delay).
				Msg("retrying commerce api call")
			if err := sleepWithContext(ctx, delay); err != nil {
				return fmt.Errorf("retry wait: %w (last error: %v)", err, lastErr)
			}
		}

		err := c.dispatch(ctx, sp, payload)
		if err == nil {
			return nil
		}
		lastErr = err
		if !errors.Is(err, errTransient) {
			return err
		}
	}

	return fmt.Errorf("%w: %s %s failed after %d attempts: %w",
		ErrRemoteUnavailable, sp.method, sp.path, c.cfg.MaxAttempts, lastErr)
}

// dispatch performs one authorized attempt, absorbing a single token
// refresh: the first ErrAuthExpired invalidates the token and replays the
// request once, the second becomes ErrUnauthorized.
func (c *Client) dispatch(ctx context.Context, sp callSpec, payload []byte) error {
	refreshed := false
	for {
		token, err := c.auth.Token(ctx)
		if err != nil {
			return err
		}

		err = c.roundTrip(ctx, sp, payload, token)
		if errors.Is(err, ErrAuthExpired) {
			if refreshed {
				return fmt.Errorf("%w: credentials rejected after token refresh", ErrUnauthorized)
			}
			refreshed = true
			c.auth.Invalidate(token)
			continue
		}
		return err
	}
}

func (c *Client) roundTrip(ctx context.Context, sp callSpec, payload []byte, token string) error {
	endpoint := c.cfg.BaseURL + sp.path
	if len(sp.query) > 0 {
		endpoint += "?" + sp.query.Encode()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, sp.method, endpoint, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// A request that died in flight may still have been applied. Only
		// dial failures prove it never reached the server.
		if !sp.idempotent && !isDialFailure(err) {
			return ambiguousErr(sp.method, sp.path, err)
		}
		return transientErr(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		if sp.out == nil || len(bytes.TrimSpace(raw)) == 0 {
			return nil
		}
		if err := json.Unmarshal(raw, sp.out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}

	return c.statusError(sp, resp.StatusCode, raw)
}

// statusError maps an HTTP failure onto the sentinel taxonomy. Response
// bodies go to the log, never into returned error text.
func (c *Client) statusError(sp callSpec, status int, raw []byte) error {
	apiErrs := decodeAPIErrors(raw)
	c.logger.Debug().
		Int("status", status).
		Str("method", sp.method).
		Str("path", sp.path).
		Str("body", truncateBody(raw)).
		Msg("commerce api error response")

	switch {
	case status == http.StatusUnauthorized:
		return fmt.Errorf("%w: status 401", ErrAuthExpired)
	case status == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, joinAPIErrors(apiErrs, "forbidden"))
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s %s", ErrNotFound, sp.method, sp.path)
	case status == http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrConflict, joinAPIErrors(apiErrs, "conflict"))
	case status == http.StatusBadRequest:
		if hasAPIErrorType(apiErrs, "UnknownIdentifierError") {
			return fmt.Errorf("%w: %s", ErrNotFound, joinAPIErrors(apiErrs, "unknown identifier"))
		}
		if hasAPIErrorType(apiErrs, "InsufficientStockError") {
			return fmt.Errorf("%w: %s", ErrConflict, joinAPIErrors(apiErrs, "insufficient stock"))
		}
		return fmt.Errorf("%w: %s", ErrUpstream, joinAPIErrors(apiErrs, "bad request"))
	case status == http.StatusTooManyRequests:
		return transientErr(fmt.Errorf("status 429: rate limited"))
	case status >= http.StatusInternalServerError:
		return transientErr(fmt.Errorf("status %d: %s", status, joinAPIErrors(apiErrs, http.StatusText(status))))
	default:
		return fmt.Errorf("%w: status %d: %s", ErrUpstream, status, joinAPIErrors(apiErrs, http.StatusText(status)))
	}
}

func truncateBody(raw []byte) string {
	const max = 512
	s := string(bytes.TrimSpace(raw))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
