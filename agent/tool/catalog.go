package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"

	contractx "github.com/chatcart-ai/chatcart/agent/contract"
	statex "github.com/chatcart-ai/chatcart/agent/state"
	"github.com/chatcart-ai/chatcart/pkg/occ"
)

// Tool names are the stable contract with the reasoning layer; renaming one
// is a breaking change for every prompt and model that learned it.
const (
	ToolSearchProducts     = "search_products"
	ToolGetProductDetails  = "get_product_details"
	ToolVectorSearch       = "vector_search"
	ToolCreateCart         = "create_cart"
	ToolAddToCart          = "add_to_cart"
	ToolUpdateCartEntry    = "update_cart_entry"
	ToolGetCart            = "get_cart"
	ToolSetDeliveryAddress = "set_delivery_address"
	ToolSetDeliveryMode    = "set_delivery_mode"
	ToolPlaceOrder         = "place_order"
)

const (
	defaultSearchSize  = 10
	summaryLimit       = 200
	descriptionLimit   = 400
	defaultAddQuantity = 1
)

// DiscoveryToolNames lists the tools the discovery flow may call.
func DiscoveryToolNames() []string {
	return []string{ToolSearchProducts, ToolGetProductDetails, ToolVectorSearch}
}

// CartToolNames lists the tools the cart flow may call.
func CartToolNames() []string {
	return []string{ToolCreateCart, ToolAddToCart, ToolUpdateCartEntry, ToolGetCart}
}

// CheckoutToolNames lists the tools the checkout flow may call.
func CheckoutToolNames() []string {
	return []string{ToolGetCart, ToolSetDeliveryAddress, ToolSetDeliveryMode, ToolPlaceOrder}
}

// Backend is the slice of the commerce client the catalog binds tools to.
type Backend interface {
	SearchProducts(ctx context.Context, query string, pageSize int) ([]occ.Product, error)
	GetProductDetails(ctx context.Context, productCode string) (*occ.Product, error)
	CreateCart(ctx context.Context) (*occ.Cart, error)
	AddToCart(ctx context.Context, cartID, productCode string, quantity int) (*occ.CartModification, error)
	UpdateCartEntry(ctx context.Context, cartID string, entryNumber, quantity int) (*occ.CartModification, error)
	GetCart(ctx context.Context, cartID string) (*occ.Cart, error)
	SetDeliveryAddress(ctx context.Context, cartID string, addr occ.Address) error
	SetDeliveryMode(ctx context.Context, cartID, modeCode string) error
	PlaceOrder(ctx context.Context, cartID string) (*occ.Order, error)
}

// Discoverer resolves free-text shopper wording into ranked candidates.
type Discoverer interface {
	Resolve(ctx context.Context, query string) ([]contractx.ProductCandidate, error)
}

/* ------------------------------ tool payloads ------------------------------ */

type ProductOutput struct {
	Code        string  `json:"code"`
	Name        string  `json:"name,omitempty"`
	Summary     string  `json:"summary,omitempty"`
	Description string  `json:"description,omitempty"`
	Price       float64 `json:"price,omitempty"`
	Currency    string  `json:"currency,omitempty"`
	InStock     bool    `json:"in_stock"`
}

type CartItemOutput struct {
	EntryNumber int    `json:"entry_number"`
	Code        string `json:"code"`
	Name        string `json:"name,omitempty"`
	Quantity    int    `json:"quantity"`
}

type CartOutput struct {
	CartID             string           `json:"cart_id"`
	Items              []CartItemOutput `json:"items"`
	Subtotal           float64          `json:"subtotal"`
	Currency           string           `json:"currency,omitempty"`
	HasDeliveryAddress bool             `json:"has_delivery_address"`
	HasDeliveryMode    bool             `json:"has_delivery_mode"`
}

type OrderOutput struct {
	OrderCode string  `json:"order_code"`
	Status    string  `json:"status,omitempty"`
	Total     float64 `json:"total,omitempty"`
	Currency  string  `json:"currency,omitempty"`
}

/* ------------------------------ registration ------------------------------ */

// RegisterCatalog binds the full shopping tool surface onto reg.
func RegisterCatalog(reg *Registry, backend Backend, discoverer Discoverer) error {
	if reg == nil {
		return errors.New("registry is required")
	}
	if backend == nil {
		return errors.New("backend is required")
	}
	if discoverer == nil {
		return errors.New("discoverer is required")
	}

	specs := []Spec{
		searchProductsSpec(backend),
		productDetailsSpec(backend),
		vectorSearchSpec(discoverer),
		createCartSpec(backend),
		addToCartSpec(backend),
		updateCartEntrySpec(backend),
		getCartSpec(backend),
		deliveryAddressSpec(backend),
		deliveryModeSpec(backend),
		placeOrderSpec(backend),
	}
	for _, spec := range specs {
		if err := reg.Register(spec); err != nil {
			return err
		}
	}
	return nil
}

func newSpec(name, desc string, params map[string]*schema.ParameterInfo, mutating bool, run Runner) Spec {
	return Spec{
		Info: &schema.ToolInfo{
			Name:        name,
			Desc:        desc,
			ParamsOneOf: schema.NewParamsOneOfByParams(params),
		},
		Params:   params,
		Mutating: mutating,
		Run:      run,
	}
}

func searchProductsSpec(backend Backend) Spec {
	params := map[string]*schema.ParameterInfo{
		"query":     {Type: schema.String, Desc: "Product name, brand, or keywords", Required: true},
		"page_size": {Type: schema.Integer, Desc: "Maximum results to return, default 10"},
	}
	return newSpec(ToolSearchProducts, "Search the catalog by keyword. Best for specific product names or brands.", params, false,
		func(ctx context.Context, _ *statex.Session, args map[string]any) (any, error) {
			query, err := requireString(ToolSearchProducts, args, "query")
			if err != nil {
				return nil, err
			}
			products, err := backend.SearchProducts(ctx, query, argInt(args, "page_size", defaultSearchSize))
			if err != nil {
				return nil, err
			}
			out := make([]ProductOutput, 0, len(products))
			for i := range products {
				out = append(out, productOutput(&products[i], summaryLimit, false))
			}
			return out, nil
		})
}

func productDetailsSpec(backend Backend) Spec {
	params := map[string]*schema.ParameterInfo{
		"product_code": {Type: schema.String, Desc: "Catalog code of the product", Required: true},
	}
	return newSpec(ToolGetProductDetails, "Fetch full details for one product by its catalog code.", params, false,
		func(ctx context.Context, _ *statex.Session, args map[string]any) (any, error) {
			code, err := requireString(ToolGetProductDetails, args, "product_code")
			if err != nil {
				return nil, err
			}
			product, err := backend.GetProductDetails(ctx, code)
			if err != nil {
				return nil, err
			}
			return productOutput(product, summaryLimit, true), nil
		})
}

func vectorSearchSpec(discoverer Discoverer) Spec {
	params := map[string]*schema.ParameterInfo{
		"query": {Type: schema.String, Desc: "The shopper's own words describing what they want", Required: true},
	}
	return newSpec(ToolVectorSearch, "Search for products by meaning rather than keywords. Good for vague descriptions.", params, false,
		func(ctx context.Context, _ *statex.Session, args map[string]any) (any, error) {
			query, err := requireString(ToolVectorSearch, args, "query")
			if err != nil {
				return nil, err
			}
			return discoverer.Resolve(ctx, query)
		})
}

func createCartSpec(backend Backend) Spec {
	params := map[string]*schema.ParameterInfo{}
	return newSpec(ToolCreateCart, "Create a shopping cart for this session. Call before the first add_to_cart.", params, true,
		func(ctx context.Context, sess *statex.Session, _ map[string]any) (any, error) {
			// One active cart per session: a second create returns the
			// cart that already exists instead of orphaning it.
			if ref := sess.ActiveCart(); ref != nil {
				return cartOutput(ref), nil
			}

			cart, err := backend.CreateCart(ctx)
			if err != nil {
				return nil, err
			}
			ref, err := sess.AttachCart(cart.ID())
			if err != nil {
				return nil, err
			}
			applySnapshot(ref, cart)
			return cartOutput(ref), nil
		})
}

func addToCartSpec(backend Backend) Spec {
	params := map[string]*schema.ParameterInfo{
		"product_code": {Type: schema.String, Desc: "Catalog code of the product to add", Required: true},
		"quantity":     {Type: schema.Integer, Desc: "Units to add, default 1"},
	}
	return newSpec(ToolAddToCart, "Add a product to the session's active cart.", params, true,
		func(ctx context.Context, sess *statex.Session, args map[string]any) (any, error) {
			ref := sess.ActiveCart()
			if ref == nil {
				return nil, fmt.Errorf("%w: create a cart before adding items", statex.ErrNoActiveCart)
			}
			code, err := requireString(ToolAddToCart, args, "product_code")
			if err != nil {
				return nil, err
			}
			quantity := argInt(args, "quantity", defaultAddQuantity)
			if quantity <= 0 {
				return nil, &SchemaValidationError{Tool: ToolAddToCart, Field: "quantity", Reason: "must be positive"}
			}
			prior := ref.QuantityOf(code)

			_, err = backend.AddToCart(ctx, ref.ID, code, quantity)
			switch {
			case err == nil:
			case errors.Is(err, occ.ErrAmbiguousOutcome):
				// The add may or may not have landed. Re-read the cart;
				// only a provably unapplied add is submitted again.
				applied, rerr := addApplied(ctx, backend, ref, code, prior)
				if rerr != nil {
					return nil, err
				}
				if applied {
					return cartOutput(ref), nil
				}
				if _, err := backend.AddToCart(ctx, ref.ID, code, quantity); err != nil {
					return nil, err
				}
			default:
				return nil, err
			}

			refreshSnapshot(ctx, backend, ref, func(snap *statex.CartSnapshot) {
				bumpEntry(snap, code, quantity)
			})
			return cartOutput(ref), nil
		})
}

func updateCartEntrySpec(backend Backend) Spec {
	params := map[string]*schema.ParameterInfo{
		"entry_number": {Type: schema.Integer, Desc: "Entry number shown by get_cart", Required: true},
		"quantity":     {Type: schema.Integer, Desc: "New absolute quantity; 0 removes the entry", Required: true},
	}
	return newSpec(ToolUpdateCartEntry, "Change the quantity of a cart entry, or remove it with quantity 0.", params, true,
		func(ctx context.Context, sess *statex.Session, args map[string]any) (any, error) {
			ref := sess.ActiveCart()
			if ref == nil {
				return nil, fmt.Errorf("%w: no cart to update", statex.ErrNoActiveCart)
			}
			entry := argInt(args, "entry_number", -1)
			if entry < 0 {
				return nil, &SchemaValidationError{Tool: ToolUpdateCartEntry, Field: "entry_number", Reason: "must be zero or positive"}
			}
			quantity := argInt(args, "quantity", -1)
			if quantity < 0 {
				return nil, &SchemaValidationError{Tool: ToolUpdateCartEntry, Field: "quantity", Reason: "must be zero or positive"}
			}

			if _, err := backend.UpdateCartEntry(ctx, ref.ID, entry, quantity); err != nil {
				return nil, err
			}
			refreshSnapshot(ctx, backend, ref, func(snap *statex.CartSnapshot) {
				setEntryQuantity(snap, entry, quantity)
			})
			return cartOutput(ref), nil
		})
}

func getCartSpec(backend Backend) Spec {
	params := map[string]*schema.ParameterInfo{}
	return newSpec(ToolGetCart, "Show the current cart: items, quantities, subtotal, and checkout readiness.", params, false,
		func(ctx context.Context, sess *statex.Session, _ map[string]any) (any, error) {
			ref := sess.ActiveCart()
			if ref == nil {
				return nil, fmt.Errorf("%w: nothing in progress yet", statex.ErrNoActiveCart)
			}
			cart, err := backend.GetCart(ctx, ref.ID)
			if err != nil {
				return nil, err
			}
			applySnapshot(ref, cart)
			return cartOutput(ref), nil
		})
}

func deliveryAddressSpec(backend Backend) Spec {
	params := map[string]*schema.ParameterInfo{
		"first_name":  {Type: schema.String, Desc: "Recipient first name"},
		"last_name":   {Type: schema.String, Desc: "Recipient last name"},
		"line1":       {Type: schema.String, Desc: "Street address", Required: true},
		"town":        {Type: schema.String, Desc: "Town or city", Required: true},
		"postal_code": {Type: schema.String, Desc: "Postal or ZIP code", Required: true},
		"country":     {Type: schema.String, Desc: "Two-letter country code, e.g. US", Required: true},
	}
	return newSpec(ToolSetDeliveryAddress, "Set the cart's delivery address. Required before place_order.", params, true,
		func(ctx context.Context, sess *statex.Session, args map[string]any) (any, error) {
			ref := sess.ActiveCart()
			if ref == nil {
				return nil, fmt.Errorf("%w: no cart to deliver", statex.ErrNoActiveCart)
			}

			addr := occ.Address{
				FirstName:  argString(args, "first_name"),
				LastName:   argString(args, "last_name"),
				Line1:      argString(args, "line1"),
				Town:       argString(args, "town"),
				PostalCode: argString(args, "postal_code"),
			}
			addr.Country.ISOCode = strings.ToUpper(argString(args, "country"))

			if err := backend.SetDeliveryAddress(ctx, ref.ID, addr); err != nil {
				return nil, err
			}
			refreshSnapshot(ctx, backend, ref, func(snap *statex.CartSnapshot) {
				snap.HasDeliveryAddress = true
			})
			return cartOutput(ref), nil
		})
}

func deliveryModeSpec(backend Backend) Spec {
	params := map[string]*schema.ParameterInfo{
		"mode_code": {Type: schema.String, Desc: "Delivery mode code, e.g. standard-gross or premium-gross", Required: true},
	}
	return newSpec(ToolSetDeliveryMode, "Set the cart's delivery mode. Required before place_order.", params, true,
		func(ctx context.Context, sess *statex.Session, args map[string]any) (any, error) {
			ref := sess.ActiveCart()
			if ref == nil {
				return nil, fmt.Errorf("%w: no cart to deliver", statex.ErrNoActiveCart)
			}
			mode, err := requireString(ToolSetDeliveryMode, args, "mode_code")
			if err != nil {
				return nil, err
			}
			if err := backend.SetDeliveryMode(ctx, ref.ID, mode); err != nil {
				return nil, err
			}
			refreshSnapshot(ctx, backend, ref, func(snap *statex.CartSnapshot) {
				snap.HasDeliveryMode = true
			})
			return cartOutput(ref), nil
		})
}

func placeOrderSpec(backend Backend) Spec {
	params := map[string]*schema.ParameterInfo{}
	return newSpec(ToolPlaceOrder, "Place the order for the active cart. The cart needs items, a delivery address, and a delivery mode.", params, true,
		func(ctx context.Context, sess *statex.Session, _ map[string]any) (any, error) {
			ref := sess.ActiveCart()
			if ref == nil {
				return nil, fmt.Errorf("%w: nothing to check out", statex.ErrNoActiveCart)
			}
			if len(ref.Snapshot.Entries) == 0 {
				return nil, fmt.Errorf("%w: cart is empty", occ.ErrInvalidState)
			}
			if !ref.CheckoutReady() {
				return nil, fmt.Errorf("%w: cart needs a delivery address and delivery mode before checkout", occ.ErrInvalidState)
			}

			order, err := backend.PlaceOrder(ctx, ref.ID)
			if err != nil {
				return nil, err
			}

			// The cart is consumed by the order; the next add starts fresh.
			sess.RetireCart()

			out := OrderOutput{OrderCode: order.Code, Status: order.Status}
			if order.TotalPrice != nil {
				out.Total = order.TotalPrice.Value
				out.Currency = order.TotalPrice.CurrencyISO
			}
			return out, nil
		})
}

/* ------------------------------ snapshot plumbing ------------------------------ */

func applySnapshot(ref *statex.CartRef, cart *occ.Cart) {
	entries := make([]statex.CartEntry, 0, len(cart.Entries))
	for _, e := range cart.Entries {
		entries = append(entries, statex.CartEntry{
			EntryNumber: e.EntryNumber,
			ProductID:   e.Product.Code,
			Name:        e.Product.Name,
			Quantity:    e.Quantity,
		})
	}

	snap := statex.CartSnapshot{
		Entries:            entries,
		HasDeliveryAddress: cart.DeliveryAddress != nil,
		HasDeliveryMode:    cart.DeliveryMode != nil,
	}
	switch {
	case cart.SubTotal != nil:
		snap.Subtotal = cart.SubTotal.Value
		snap.Currency = cart.SubTotal.CurrencyISO
	case cart.TotalPrice != nil:
		snap.Subtotal = cart.TotalPrice.Value
		snap.Currency = cart.TotalPrice.CurrencyISO
	}
	ref.Snapshot = snap
}

// refreshSnapshot re-reads the cart after a successful mutation. When the
// read fails the mutation still happened, so the snapshot is patched
// locally instead of reporting the whole call as failed.
func refreshSnapshot(ctx context.Context, backend Backend, ref *statex.CartRef, patch func(*statex.CartSnapshot)) {
	cart, err := backend.GetCart(ctx, ref.ID)
	if err != nil {
		log.Warn().Err(err).Str("cart_id", ref.ID).Msg("snapshot refresh failed after mutation")
		patch(&ref.Snapshot)
		return
	}
	applySnapshot(ref, cart)
}

func addApplied(ctx context.Context, backend Backend, ref *statex.CartRef, code string, prior int) (bool, error) {
	cart, err := backend.GetCart(ctx, ref.ID)
	if err != nil {
		return false, err
	}
	applySnapshot(ref, cart)
	return cart.QuantityOf(code) > prior, nil
}

func bumpEntry(snap *statex.CartSnapshot, code string, quantity int) {
	for i := range snap.Entries {
		if snap.Entries[i].ProductID == code {
			snap.Entries[i].Quantity += quantity
			return
		}
	}
	snap.Entries = append(snap.Entries, statex.CartEntry{
		EntryNumber: len(snap.Entries),
		ProductID:   code,
		Quantity:    quantity,
	})
}

func setEntryQuantity(snap *statex.CartSnapshot, entryNumber, quantity int) {
	for i := range snap.Entries {
		if snap.Entries[i].EntryNumber != entryNumber {
			continue
		}
		if quantity == 0 {
			snap.Entries = append(snap.Entries[:i], snap.Entries[i+1:]...)
		} else {
			snap.Entries[i].Quantity = quantity
		}
		return
	}
}

func cartOutput(ref *statex.CartRef) CartOutput {
	items := make([]CartItemOutput, 0, len(ref.Snapshot.Entries))
	for _, e := range ref.Snapshot.Entries {
		items = append(items, CartItemOutput{
			EntryNumber: e.EntryNumber,
			Code:        e.ProductID,
			Name:        e.Name,
			Quantity:    e.Quantity,
		})
	}
	return CartOutput{
		CartID:             ref.ID,
		Items:              items,
		Subtotal:           ref.Snapshot.Subtotal,
		Currency:           ref.Snapshot.Currency,
		HasDeliveryAddress: ref.Snapshot.HasDeliveryAddress,
		HasDeliveryMode:    ref.Snapshot.HasDeliveryMode,
	}
}

func productOutput(p *occ.Product, limit int, includeDescription bool) ProductOutput {
	out := ProductOutput{
		Code:    p.Code,
		Name:    p.Name,
		Summary: truncate(p.Summary, limit),
		InStock: p.InStock(),
	}
	if includeDescription {
		out.Description = truncate(p.Description, descriptionLimit)
	}
	if p.Price != nil {
		out.Price = p.Price.Value
		out.Currency = p.Price.CurrencyISO
	}
	return out
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

/* ------------------------------ argument access ------------------------------ */

func argString(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return strings.TrimSpace(v)
}

// requireString catches blank values that pass declared-type validation,
// e.g. a model sending "  " for a required query.
func requireString(tool string, args map[string]any, key string) (string, error) {
	v := argString(args, key)
	if v == "" {
		return "", &SchemaValidationError{Tool: tool, Field: key, Reason: "must not be blank"}
	}
	return v, nil
}

func argInt(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	default:
		return def
	}
}
