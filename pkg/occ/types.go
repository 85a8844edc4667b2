package occ

import "strings"

// Wire types mirror the OCC v2 JSON shapes. Only fields the agent consumes
// are declared; unknown fields are dropped on decode.

type Price struct {
	CurrencyISO    string  `json:"currencyIso,omitempty"`
	Value          float64 `json:"value"`
	FormattedValue string  `json:"formattedValue,omitempty"`
}

type Stock struct {
	StockLevel       int    `json:"stockLevel"`
	StockLevelStatus string `json:"stockLevelStatus,omitempty"`
}

type Product struct {
	Code        string `json:"code"`
	Name        string `json:"name,omitempty"`
	Summary     string `json:"summary,omitempty"`
	Description string `json:"description,omitempty"`
	Price       *Price `json:"price,omitempty"`
	Stock       *Stock `json:"stock,omitempty"`
}

// InStock reports whether the product can be added to a cart. A missing
// stock block means the backend did not expose availability; treat as
// sellable and let the cart mutation be the judge.
func (p *Product) InStock() bool {
	if p == nil {
		return false
	}
	if p.Stock == nil {
		return true
	}
	return !strings.EqualFold(p.Stock.StockLevelStatus, "outOfStock")
}

type SearchPage struct {
	Products   []Product `json:"products"`
	Pagination struct {
		TotalResults int `json:"totalResults"`
	} `json:"pagination"`
}

type Entry struct {
	EntryNumber int     `json:"entryNumber"`
	Quantity    int     `json:"quantity"`
	Product     Product `json:"product"`
	TotalPrice  *Price  `json:"totalPrice,omitempty"`
}

type Address struct {
	FirstName  string `json:"firstName,omitempty"`
	LastName   string `json:"lastName,omitempty"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	Town       string `json:"town"`
	PostalCode string `json:"postalCode"`
	Country    struct {
		ISOCode string `json:"isocode"`
	} `json:"country"`
}

type DeliveryMode struct {
	Code         string `json:"code"`
	Name         string `json:"name,omitempty"`
	DeliveryCost *Price `json:"deliveryCost,omitempty"`
}

type Cart struct {
	Code            string        `json:"code,omitempty"`
	GUID            string        `json:"guid,omitempty"`
	Entries         []Entry       `json:"entries,omitempty"`
	TotalPrice      *Price        `json:"totalPrice,omitempty"`
	SubTotal        *Price        `json:"subTotal,omitempty"`
	DeliveryAddress *Address      `json:"deliveryAddress,omitempty"`
	DeliveryMode    *DeliveryMode `json:"deliveryMode,omitempty"`
}

// ID returns the identifier used on cart URLs. Anonymous carts are
// addressed by GUID; authenticated carts by code.
func (c *Cart) ID() string {
	if c == nil {
		return ""
	}
	if c.GUID != "" {
		return c.GUID
	}
	return c.Code
}

// EntryFor returns the cart entry holding the product code.
func (c *Cart) EntryFor(productCode string) (Entry, bool) {
	if c == nil {
		return Entry{}, false
	}
	for _, e := range c.Entries {
		if e.Product.Code == productCode {
			return e, true
		}
	}
	return Entry{}, false
}

// QuantityOf returns the cart quantity for a product code, 0 if absent.
func (c *Cart) QuantityOf(productCode string) int {
	e, ok := c.EntryFor(productCode)
	if !ok {
		return 0
	}
	return e.Quantity
}

// CheckoutReady reports whether the cart carries a delivery address and mode.
func (c *Cart) CheckoutReady() bool {
	return c != nil && c.DeliveryAddress != nil && c.DeliveryMode != nil
}

// CartModification is returned by entry add and update calls.
type CartModification struct {
	StatusCode    string `json:"statusCode,omitempty"`
	QuantityAdded int    `json:"quantityAdded"`
	Quantity      int    `json:"quantity,omitempty"`
	Entry         *Entry `json:"entry,omitempty"`
}

type Order struct {
	Code       string  `json:"code"`
	GUID       string  `json:"guid,omitempty"`
	Status     string  `json:"status,omitempty"`
	Entries    []Entry `json:"entries,omitempty"`
	TotalPrice *Price  `json:"totalPrice,omitempty"`
}

/* ------------------------------ request payloads ------------------------------ */

type addEntryPayload struct {
	Product  productRef `json:"product"`
	Quantity int        `json:"quantity"`
}

type updateEntryPayload struct {
	Quantity int `json:"quantity"`
}

type productRef struct {
	Code string `json:"code"`
}
