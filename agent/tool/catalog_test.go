package tool

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	contractx "github.com/chatcart-ai/chatcart/agent/contract"
	statex "github.com/chatcart-ai/chatcart/agent/state"
	"github.com/chatcart-ai/chatcart/pkg/occ"
)

/* ------------------------------ fakes ------------------------------ */

type fakeBackend struct {
	mu sync.Mutex

	searchOut []occ.Product
	searchErr error
	lastQuery string
	lastSize  int

	detail    *occ.Product
	detailErr error

	created     *occ.Cart
	createErr   error
	createCalls int

	addErrs  []error
	addCalls int
	lastAdd  struct {
		cartID string
		code   string
		qty    int
	}

	updateErr   error
	updateCalls int
	lastUpdate  struct{ entry, qty int }

	getQueue []*occ.Cart
	getErr   error
	getCalls int

	addrErr  error
	lastAddr occ.Address

	modeErr  error
	lastMode string

	order      *occ.Order
	orderErr   error
	orderCalls int
}

func (f *fakeBackend) SearchProducts(_ context.Context, query string, pageSize int) ([]occ.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuery, f.lastSize = query, pageSize
	return f.searchOut, f.searchErr
}

func (f *fakeBackend) GetProductDetails(_ context.Context, _ string) (*occ.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.detail, f.detailErr
}

func (f *fakeBackend) CreateCart(_ context.Context) (*occ.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	return f.created, f.createErr
}

func (f *fakeBackend) AddToCart(_ context.Context, cartID, productCode string, quantity int) (*occ.CartModification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addCalls++
	f.lastAdd.cartID, f.lastAdd.code, f.lastAdd.qty = cartID, productCode, quantity
	if len(f.addErrs) > 0 {
		err := f.addErrs[0]
		f.addErrs = f.addErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &occ.CartModification{QuantityAdded: quantity}, nil
}

func (f *fakeBackend) UpdateCartEntry(_ context.Context, _ string, entryNumber, quantity int) (*occ.CartModification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	f.lastUpdate.entry, f.lastUpdate.qty = entryNumber, quantity
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	return &occ.CartModification{Quantity: quantity}, nil
}

func (f *fakeBackend) GetCart(_ context.Context, cartID string) (*occ.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.getErr != nil {
		return nil, f.getErr
	}
	if len(f.getQueue) == 0 {
		return &occ.Cart{GUID: cartID}, nil
	}
	cart := f.getQueue[0]
	if len(f.getQueue) > 1 {
		f.getQueue = f.getQueue[1:]
	}
	return cart, nil
}

func (f *fakeBackend) SetDeliveryAddress(_ context.Context, _ string, addr occ.Address) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastAddr = addr
	return f.addrErr
}

func (f *fakeBackend) SetDeliveryMode(_ context.Context, _ string, modeCode string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastMode = modeCode
	return f.modeErr
}

func (f *fakeBackend) PlaceOrder(_ context.Context, _ string) (*occ.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orderCalls++
	return f.order, f.orderErr
}

type fakeDiscoverer struct {
	out       []contractx.ProductCandidate
	err       error
	lastQuery string
}

func (f *fakeDiscoverer) Resolve(_ context.Context, query string) ([]contractx.ProductCandidate, error) {
	f.lastQuery = query
	return f.out, f.err
}

/* ------------------------------ helpers ------------------------------ */

func newSession(id string) *statex.Session {
	return statex.NewSession(id, time.Now())
}

func newCatalog(t *testing.T, backend Backend, discoverer Discoverer) *Registry {
	t.Helper()
	if discoverer == nil {
		discoverer = &fakeDiscoverer{}
	}
	reg := NewRegistry()
	if err := RegisterCatalog(reg, backend, discoverer); err != nil {
		t.Fatalf("RegisterCatalog: %v", err)
	}
	return reg
}

func runTool(t *testing.T, reg *Registry, name string, sess *statex.Session, args map[string]any) (any, error) {
	t.Helper()
	spec, ok := reg.Spec(name)
	if !ok {
		t.Fatalf("tool %s not registered", name)
	}
	return spec.Run(context.Background(), sess, args)
}

func sessionWithCart(t *testing.T, cartID string) *statex.Session {
	t.Helper()
	sess := newSession("sess-1")
	if _, err := sess.AttachCart(cartID); err != nil {
		t.Fatalf("AttachCart: %v", err)
	}
	return sess
}

func entryOf(num int, code string, qty int) occ.Entry {
	return occ.Entry{
		EntryNumber: num,
		Quantity:    qty,
		Product:     occ.Product{Code: code, Name: "Product " + code},
	}
}

func cartWith(guid string, entries ...occ.Entry) *occ.Cart {
	return &occ.Cart{GUID: guid, Entries: entries}
}

/* ------------------------------ registration ------------------------------ */

func TestRegisterCatalogBindsFullSurface(t *testing.T) {
	t.Parallel()

	reg := newCatalog(t, &fakeBackend{}, nil)

	want := []string{
		ToolSearchProducts, ToolGetProductDetails, ToolVectorSearch,
		ToolCreateCart, ToolAddToCart, ToolUpdateCartEntry, ToolGetCart,
		ToolSetDeliveryAddress, ToolSetDeliveryMode, ToolPlaceOrder,
	}
	for _, name := range want {
		if _, ok := reg.Spec(name); !ok {
			t.Fatalf("tool %s missing from catalog", name)
		}
	}

	if got := len(reg.Infos(DiscoveryToolNames()...)); got != 3 {
		t.Fatalf("discovery tools = %d, want 3", got)
	}
	if got := len(reg.Infos(CartToolNames()...)); got != 4 {
		t.Fatalf("cart tools = %d, want 4", got)
	}
	if got := len(reg.Infos(CheckoutToolNames()...)); got != 4 {
		t.Fatalf("checkout tools = %d, want 4", got)
	}
}

func TestRegisterCatalogRequiresCollaborators(t *testing.T) {
	t.Parallel()

	if err := RegisterCatalog(nil, &fakeBackend{}, &fakeDiscoverer{}); err == nil {
		t.Fatal("expected error for nil registry")
	}
	if err := RegisterCatalog(NewRegistry(), nil, &fakeDiscoverer{}); err == nil {
		t.Fatal("expected error for nil backend")
	}
	if err := RegisterCatalog(NewRegistry(), &fakeBackend{}, nil); err == nil {
		t.Fatal("expected error for nil discoverer")
	}
}

/* ------------------------------ discovery tools ------------------------------ */

func TestSearchProductsMapsPayload(t *testing.T) {
	t.Parallel()

	longSummary := strings.Repeat("a", 300)
	fb := &fakeBackend{searchOut: []occ.Product{
		{
			Code:    "p-1",
			Name:    "Wireless Mouse",
			Summary: longSummary,
			Price:   &occ.Price{CurrencyISO: "USD", Value: 29.99},
			Stock:   &occ.Stock{StockLevelStatus: "inStock"},
		},
		{
			Code:  "p-2",
			Name:  "Gone Mouse",
			Stock: &occ.Stock{StockLevelStatus: "outOfStock"},
		},
	}}
	reg := newCatalog(t, fb, nil)

	out, err := runTool(t, reg, ToolSearchProducts, newSession("sess-1"), map[string]any{
		"query": "mouse", "page_size": float64(5),
	})
	if err != nil {
		t.Fatalf("search_products: %v", err)
	}
	if fb.lastQuery != "mouse" || fb.lastSize != 5 {
		t.Fatalf("backend call = (%q, %d), want (mouse, 5)", fb.lastQuery, fb.lastSize)
	}

	products, ok := out.([]ProductOutput)
	if !ok || len(products) != 2 {
		t.Fatalf("payload = %#v, want two products", out)
	}
	if products[0].Price != 29.99 || products[0].Currency != "USD" {
		t.Fatalf("price = %v %s, want 29.99 USD", products[0].Price, products[0].Currency)
	}
	if len(products[0].Summary) != summaryLimit+3 {
		t.Fatalf("summary length = %d, want truncated to %d plus ellipsis", len(products[0].Summary), summaryLimit)
	}
	if !products[0].InStock || products[1].InStock {
		t.Fatalf("stock flags = (%v, %v), want (true, false)", products[0].InStock, products[1].InStock)
	}
}

func TestSearchProductsEmptyResultIsNotAnError(t *testing.T) {
	t.Parallel()

	reg := newCatalog(t, &fakeBackend{}, nil)
	out, err := runTool(t, reg, ToolSearchProducts, newSession("sess-1"), map[string]any{"query": "nothing"})
	if err != nil {
		t.Fatalf("search_products: %v", err)
	}
	if products := out.([]ProductOutput); len(products) != 0 {
		t.Fatalf("len = %d, want 0", len(products))
	}
}

func TestVectorSearchDelegatesToDiscoverer(t *testing.T) {
	t.Parallel()

	disc := &fakeDiscoverer{out: []contractx.ProductCandidate{
		{ProductID: "p-1", Name: "Trail Shoe", Similarity: 0.91},
	}}
	reg := newCatalog(t, &fakeBackend{}, disc)

	out, err := runTool(t, reg, ToolVectorSearch, newSession("sess-1"), map[string]any{
		"query": "something for muddy runs",
	})
	if err != nil {
		t.Fatalf("vector_search: %v", err)
	}
	if disc.lastQuery != "something for muddy runs" {
		t.Fatalf("query = %q", disc.lastQuery)
	}
	candidates := out.([]contractx.ProductCandidate)
	if len(candidates) != 1 || candidates[0].ProductID != "p-1" {
		t.Fatalf("candidates = %+v", candidates)
	}
}

/* ------------------------------ cart tools ------------------------------ */

func TestCreateCartAttachesToSession(t *testing.T) {
	t.Parallel()

	fb := &fakeBackend{created: &occ.Cart{Code: "00001", GUID: "guid-1"}}
	reg := newCatalog(t, fb, nil)
	sess := newSession("sess-1")

	out, err := runTool(t, reg, ToolCreateCart, sess, nil)
	if err != nil {
		t.Fatalf("create_cart: %v", err)
	}
	cart := out.(CartOutput)
	if cart.CartID != "guid-1" {
		t.Fatalf("cart id = %q, want guid-1", cart.CartID)
	}
	if ref := sess.ActiveCart(); ref == nil || ref.ID != "guid-1" {
		t.Fatalf("active cart = %+v, want guid-1", ref)
	}

	// A second create must not orphan a fresh backend cart.
	if _, err := runTool(t, reg, ToolCreateCart, sess, nil); err != nil {
		t.Fatalf("second create_cart: %v", err)
	}
	if fb.createCalls != 1 {
		t.Fatalf("create calls = %d, want 1", fb.createCalls)
	}
}

func TestAddToCartWithoutCartIsInvalidState(t *testing.T) {
	t.Parallel()

	reg := newCatalog(t, &fakeBackend{}, nil)
	iv, err := NewInvoker(reg)
	if err != nil {
		t.Fatalf("NewInvoker: %v", err)
	}

	res := iv.Invoke(context.Background(), newSession("sess-1"), contractx.ToolCallRequest{
		Tool: ToolAddToCart, Args: map[string]any{"product_code": "p-1"},
	})
	if res.OK() {
		t.Fatal("expected failure without an active cart")
	}
	if res.Failure.Kind != contractx.KindInvalidState {
		t.Fatalf("kind = %q, want %q", res.Failure.Kind, contractx.KindInvalidState)
	}
}

func TestAddToCartHappyPathRefreshesSnapshot(t *testing.T) {
	t.Parallel()

	fb := &fakeBackend{getQueue: []*occ.Cart{cartWith("cart-1", entryOf(0, "p-1", 2))}}
	reg := newCatalog(t, fb, nil)
	sess := sessionWithCart(t, "cart-1")

	out, err := runTool(t, reg, ToolAddToCart, sess, map[string]any{"product_code": "p-1", "quantity": float64(2)})
	if err != nil {
		t.Fatalf("add_to_cart: %v", err)
	}
	if fb.lastAdd.cartID != "cart-1" || fb.lastAdd.code != "p-1" || fb.lastAdd.qty != 2 {
		t.Fatalf("backend add = %+v", fb.lastAdd)
	}
	cart := out.(CartOutput)
	if len(cart.Items) != 1 || cart.Items[0].Quantity != 2 {
		t.Fatalf("items = %+v, want one entry with quantity 2", cart.Items)
	}
	if got := sess.ActiveCart().QuantityOf("p-1"); got != 2 {
		t.Fatalf("snapshot quantity = %d, want 2", got)
	}
}

func TestAddToCartAmbiguousButAlreadyApplied(t *testing.T) {
	t.Parallel()

	fb := &fakeBackend{
		addErrs:  []error{occ.ErrAmbiguousOutcome},
		getQueue: []*occ.Cart{cartWith("cart-1", entryOf(0, "p-1", 1))},
	}
	reg := newCatalog(t, fb, nil)
	sess := sessionWithCart(t, "cart-1")

	out, err := runTool(t, reg, ToolAddToCart, sess, map[string]any{"product_code": "p-1"})
	if err != nil {
		t.Fatalf("add_to_cart: %v", err)
	}
	if fb.addCalls != 1 {
		t.Fatalf("add calls = %d, want 1 (applied add must not be resubmitted)", fb.addCalls)
	}
	cart := out.(CartOutput)
	if len(cart.Items) != 1 || cart.Items[0].Quantity != 1 {
		t.Fatalf("items = %+v, want exactly one unit", cart.Items)
	}
}

func TestAddToCartAmbiguousThenRetryAddsExactlyOnce(t *testing.T) {
	t.Parallel()

	fb := &fakeBackend{
		addErrs: []error{occ.ErrAmbiguousOutcome, nil},
		getQueue: []*occ.Cart{
			cartWith("cart-1"),
			cartWith("cart-1", entryOf(0, "p-1", 1)),
		},
	}
	reg := newCatalog(t, fb, nil)
	sess := sessionWithCart(t, "cart-1")

	out, err := runTool(t, reg, ToolAddToCart, sess, map[string]any{"product_code": "p-1"})
	if err != nil {
		t.Fatalf("add_to_cart: %v", err)
	}
	if fb.addCalls != 2 {
		t.Fatalf("add calls = %d, want 2", fb.addCalls)
	}
	cart := out.(CartOutput)
	if len(cart.Items) != 1 || cart.Items[0].Quantity != 1 {
		t.Fatalf("items = %+v, want exactly one unit after reconcile and retry", cart.Items)
	}
}

func TestAddToCartSecondAmbiguitySurfaces(t *testing.T) {
	t.Parallel()

	fb := &fakeBackend{
		addErrs:  []error{occ.ErrAmbiguousOutcome, occ.ErrAmbiguousOutcome},
		getQueue: []*occ.Cart{cartWith("cart-1")},
	}
	reg := newCatalog(t, fb, nil)
	sess := sessionWithCart(t, "cart-1")

	_, err := runTool(t, reg, ToolAddToCart, sess, map[string]any{"product_code": "p-1"})
	if !errors.Is(err, occ.ErrAmbiguousOutcome) {
		t.Fatalf("err = %v, want ErrAmbiguousOutcome", err)
	}
	if fb.addCalls != 2 {
		t.Fatalf("add calls = %d, want 2", fb.addCalls)
	}
}

func TestAddToCartReconcileFailureKeepsAmbiguity(t *testing.T) {
	t.Parallel()

	fb := &fakeBackend{
		addErrs: []error{occ.ErrAmbiguousOutcome},
		getErr:  occ.ErrRemoteUnavailable,
	}
	reg := newCatalog(t, fb, nil)
	sess := sessionWithCart(t, "cart-1")

	_, err := runTool(t, reg, ToolAddToCart, sess, map[string]any{"product_code": "p-1"})
	if !errors.Is(err, occ.ErrAmbiguousOutcome) {
		t.Fatalf("err = %v, want the original ambiguity", err)
	}
	if fb.addCalls != 1 {
		t.Fatalf("add calls = %d, want 1 (no blind resubmit when reconcile fails)", fb.addCalls)
	}
}

func TestUpdateCartEntrySetsAbsoluteQuantity(t *testing.T) {
	t.Parallel()

	fb := &fakeBackend{getQueue: []*occ.Cart{cartWith("cart-1", entryOf(0, "p-1", 4))}}
	reg := newCatalog(t, fb, nil)
	sess := sessionWithCart(t, "cart-1")

	out, err := runTool(t, reg, ToolUpdateCartEntry, sess, map[string]any{
		"entry_number": float64(0), "quantity": float64(4),
	})
	if err != nil {
		t.Fatalf("update_cart_entry: %v", err)
	}
	if fb.lastUpdate.entry != 0 || fb.lastUpdate.qty != 4 {
		t.Fatalf("backend update = %+v, want entry 0 quantity 4", fb.lastUpdate)
	}
	cart := out.(CartOutput)
	if len(cart.Items) != 1 || cart.Items[0].Quantity != 4 {
		t.Fatalf("items = %+v, want quantity 4", cart.Items)
	}
}

func TestGetCartRefreshesSnapshotFromBackend(t *testing.T) {
	t.Parallel()

	backendCart := cartWith("cart-1", entryOf(0, "p-1", 3))
	backendCart.SubTotal = &occ.Price{CurrencyISO: "USD", Value: 89.97}
	backendCart.DeliveryAddress = &occ.Address{Line1: "1 Main St"}
	fb := &fakeBackend{getQueue: []*occ.Cart{backendCart}}
	reg := newCatalog(t, fb, nil)
	sess := sessionWithCart(t, "cart-1")

	out, err := runTool(t, reg, ToolGetCart, sess, nil)
	if err != nil {
		t.Fatalf("get_cart: %v", err)
	}
	cart := out.(CartOutput)
	if cart.Subtotal != 89.97 || cart.Currency != "USD" {
		t.Fatalf("subtotal = %v %s, want 89.97 USD", cart.Subtotal, cart.Currency)
	}
	if !cart.HasDeliveryAddress || cart.HasDeliveryMode {
		t.Fatalf("readiness = (%v, %v), want (true, false)", cart.HasDeliveryAddress, cart.HasDeliveryMode)
	}
	if got := sess.ActiveCart().QuantityOf("p-1"); got != 3 {
		t.Fatalf("snapshot quantity = %d, want 3", got)
	}
}

func TestGetCartWithoutCart(t *testing.T) {
	t.Parallel()

	reg := newCatalog(t, &fakeBackend{}, nil)
	_, err := runTool(t, reg, ToolGetCart, newSession("sess-1"), nil)
	if !errors.Is(err, statex.ErrNoActiveCart) {
		t.Fatalf("err = %v, want ErrNoActiveCart", err)
	}
}

/* ------------------------------ checkout tools ------------------------------ */

func TestSetDeliveryAddressMarksReadiness(t *testing.T) {
	t.Parallel()

	ready := cartWith("cart-1", entryOf(0, "p-1", 1))
	ready.DeliveryAddress = &occ.Address{Line1: "1 Main St"}
	fb := &fakeBackend{getQueue: []*occ.Cart{ready}}
	reg := newCatalog(t, fb, nil)
	sess := sessionWithCart(t, "cart-1")

	_, err := runTool(t, reg, ToolSetDeliveryAddress, sess, map[string]any{
		"first_name":  "Ada",
		"line1":       "1 Main St",
		"town":        "Springfield",
		"postal_code": "12345",
		"country":     "us",
	})
	if err != nil {
		t.Fatalf("set_delivery_address: %v", err)
	}
	if fb.lastAddr.Country.ISOCode != "US" {
		t.Fatalf("country = %q, want US", fb.lastAddr.Country.ISOCode)
	}
	if fb.lastAddr.Line1 != "1 Main St" || fb.lastAddr.Town != "Springfield" {
		t.Fatalf("address = %+v", fb.lastAddr)
	}
	if !sess.ActiveCart().Snapshot.HasDeliveryAddress {
		t.Fatal("snapshot does not record the delivery address")
	}
}

func TestSetDeliveryAddressMissingFieldFailsValidation(t *testing.T) {
	t.Parallel()

	fb := &fakeBackend{}
	reg := newCatalog(t, fb, nil)
	iv, err := NewInvoker(reg)
	if err != nil {
		t.Fatalf("NewInvoker: %v", err)
	}

	res := iv.Invoke(context.Background(), sessionWithCart(t, "cart-1"), contractx.ToolCallRequest{
		Tool: ToolSetDeliveryAddress,
		Args: map[string]any{"line1": "1 Main St", "town": "Springfield", "postal_code": "12345"},
	})
	if res.OK() {
		t.Fatal("expected validation failure")
	}
	if res.Failure.Kind != contractx.KindSchemaValidation {
		t.Fatalf("kind = %q, want %q", res.Failure.Kind, contractx.KindSchemaValidation)
	}
	if !strings.Contains(res.Failure.Message, "country") {
		t.Fatalf("message %q does not name the missing field", res.Failure.Message)
	}
	if fb.lastAddr.Line1 != "" {
		t.Fatal("backend called despite invalid arguments")
	}
}

func TestSetDeliveryModeMarksReadiness(t *testing.T) {
	t.Parallel()

	ready := cartWith("cart-1", entryOf(0, "p-1", 1))
	ready.DeliveryMode = &occ.DeliveryMode{Code: "standard-gross"}
	fb := &fakeBackend{getQueue: []*occ.Cart{ready}}
	reg := newCatalog(t, fb, nil)
	sess := sessionWithCart(t, "cart-1")

	_, err := runTool(t, reg, ToolSetDeliveryMode, sess, map[string]any{"mode_code": "standard-gross"})
	if err != nil {
		t.Fatalf("set_delivery_mode: %v", err)
	}
	if fb.lastMode != "standard-gross" {
		t.Fatalf("mode = %q, want standard-gross", fb.lastMode)
	}
	if !sess.ActiveCart().Snapshot.HasDeliveryMode {
		t.Fatal("snapshot does not record the delivery mode")
	}
}

func TestPlaceOrderFailsFastWhenNotReady(t *testing.T) {
	t.Parallel()

	fb := &fakeBackend{}
	reg := newCatalog(t, fb, nil)
	sess := sessionWithCart(t, "cart-1")
	sess.ActiveCart().Snapshot = statex.CartSnapshot{
		Entries: []statex.CartEntry{{EntryNumber: 0, ProductID: "p-1", Quantity: 1}},
	}

	_, err := runTool(t, reg, ToolPlaceOrder, sess, nil)
	if !errors.Is(err, occ.ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
	if fb.orderCalls != 0 || fb.getCalls != 0 {
		t.Fatalf("backend calls = (%d orders, %d reads), want none", fb.orderCalls, fb.getCalls)
	}
}

func TestPlaceOrderRejectsEmptyCart(t *testing.T) {
	t.Parallel()

	fb := &fakeBackend{}
	reg := newCatalog(t, fb, nil)
	sess := sessionWithCart(t, "cart-1")
	sess.ActiveCart().Snapshot = statex.CartSnapshot{
		HasDeliveryAddress: true,
		HasDeliveryMode:    true,
	}

	_, err := runTool(t, reg, ToolPlaceOrder, sess, nil)
	if !errors.Is(err, occ.ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
	if fb.orderCalls != 0 {
		t.Fatalf("order calls = %d, want 0", fb.orderCalls)
	}
}

func TestPlaceOrderSuccessRetiresCart(t *testing.T) {
	t.Parallel()

	fb := &fakeBackend{order: &occ.Order{
		Code:       "order-42",
		Status:     "CREATED",
		TotalPrice: &occ.Price{CurrencyISO: "USD", Value: 59.98},
	}}
	reg := newCatalog(t, fb, nil)
	sess := sessionWithCart(t, "cart-1")
	sess.ActiveCart().Snapshot = statex.CartSnapshot{
		Entries:            []statex.CartEntry{{EntryNumber: 0, ProductID: "p-1", Quantity: 2}},
		HasDeliveryAddress: true,
		HasDeliveryMode:    true,
	}

	out, err := runTool(t, reg, ToolPlaceOrder, sess, nil)
	if err != nil {
		t.Fatalf("place_order: %v", err)
	}
	order := out.(OrderOutput)
	if order.OrderCode != "order-42" || order.Status != "CREATED" {
		t.Fatalf("order = %+v", order)
	}
	if order.Total != 59.98 || order.Currency != "USD" {
		t.Fatalf("total = %v %s, want 59.98 USD", order.Total, order.Currency)
	}
	if sess.ActiveCart() != nil {
		t.Fatal("cart still active after the order consumed it")
	}
	if fb.orderCalls != 1 {
		t.Fatalf("order calls = %d, want 1", fb.orderCalls)
	}
}
