package llm

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/chatcart-ai/chatcart/agent/contract"
	openrouterx "github.com/chatcart-ai/chatcart/pkg/openrouter"
)

type Config struct {
	BaseURL            string        `envconfig:"BASE_URL" split_words:"true" default:"https://openrouter.ai/api/v1"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	Model              string        `envconfig:"MODEL" split_words:"true" required:"true"`
	MaxCompletionToken int           `envconfig:"MAX_COMPLETION_TOKEN" split_words:"true" default:"2000"`
	Temperature        float32       `envconfig:"TEMPERATURE" split_words:"true" default:"0.5"`
	Timeout            time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"30s"`

	RouterModel          string  `envconfig:"ROUTER_MODEL" split_words:"true"`
	DiscoveryModel       string  `envconfig:"DISCOVERY_MODEL" split_words:"true"`
	CartModel            string  `envconfig:"CART_MODEL" split_words:"true"`
	CheckoutModel        string  `envconfig:"CHECKOUT_MODEL" split_words:"true"`
	RouterTemperature    float32 `envconfig:"ROUTER_TEMPERATURE" split_words:"true" default:"-1"`
	DiscoveryTemperature float32 `envconfig:"DISCOVERY_TEMPERATURE" split_words:"true" default:"-1"`
	CartTemperature      float32 `envconfig:"CART_TEMPERATURE" split_words:"true" default:"-1"`
	CheckoutTemperature  float32 `envconfig:"CHECKOUT_TEMPERATURE" split_words:"true" default:"-1"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("%w: openrouter api key is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: default model is required", contractx.ErrValidation)
	}
	return nil
}

// OpenRouterFor resolves the model settings for one flow: the shared
// defaults overlaid with that flow's overrides. Temperatures below zero
// mean "not overridden".
func (c Config) OpenRouterFor(flow string) openrouterx.Config {
	modelName := strings.TrimSpace(c.Model)
	temp := c.Temperature

	switch flow {
	case contractx.FlowRouter:
		if v := strings.TrimSpace(c.RouterModel); v != "" {
			modelName = v
		}
		if c.RouterTemperature >= 0 {
			temp = c.RouterTemperature
		}
	case contractx.FlowDiscovery:
		if v := strings.TrimSpace(c.DiscoveryModel); v != "" {
			modelName = v
		}
		if c.DiscoveryTemperature >= 0 {
			temp = c.DiscoveryTemperature
		}
	case contractx.FlowCart:
		if v := strings.TrimSpace(c.CartModel); v != "" {
			modelName = v
		}
		if c.CartTemperature >= 0 {
			temp = c.CartTemperature
		}
	case contractx.FlowCheckout:
		if v := strings.TrimSpace(c.CheckoutModel); v != "" {
			modelName = v
		}
		if c.CheckoutTemperature >= 0 {
			temp = c.CheckoutTemperature
		}
	}

	maxCompletionToken := c.MaxCompletionToken
	return openrouterx.Config{
		BaseURL:            strings.TrimSpace(c.BaseURL),
		APIKey:             strings.TrimSpace(c.APIKey),
		Model:              modelName,
		MaxCompletionToken: &maxCompletionToken,
		Temperature:        temp,
		Timeout:            c.Timeout,
	}
}
