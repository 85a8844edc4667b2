package prompt

import (
	_ "embed"
	"strings"
)

var (
	//go:embed template/router.txt
	routerRaw string

	//go:embed template/discovery.txt
	discoveryRaw string

	//go:embed template/cart.txt
	cartRaw string

	//go:embed template/checkout.txt
	checkoutRaw string
)

// PromptSet holds loaded prompt content.
type PromptSet struct {
	Router    string
	Discovery string
	Cart      string
	Checkout  string
}

// LoadPromptSet returns a PromptSet with trimmed prompt strings.
// This is safe to call concurrently; the embed is compile-time, and trimming is cheap.
func LoadPromptSet() PromptSet {
	return PromptSet{
		Router:    strings.TrimSpace(routerRaw),
		Discovery: strings.TrimSpace(discoveryRaw),
		Cart:      strings.TrimSpace(cartRaw),
		Checkout:  strings.TrimSpace(checkoutRaw),
	}
}
