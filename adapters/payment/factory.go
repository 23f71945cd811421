package payment

import (
	"fmt"

	"github.com/meterline/meterline/ports"
)

// NewProvider creates a payment provider by name.
func NewProvider(name string, stripeCfg StripeConfig, baseURL string) (ports.PaymentProvider, error) {
	switch name {
	case "stripe":
		if stripeCfg.SecretKey == "" {
			return nil, fmt.Errorf("stripe secret key is required")
		}
		return NewStripeProvider(stripeCfg), nil

	case "dummy", "test":
		// Dummy provider for development/testing - simulates successful payments
		if baseURL == "" {
			baseURL = "http://localhost:8080"
		}
		return NewDummyProvider(baseURL), nil

	case "none", "":
		return NewNoopProvider(), nil

	default:
		return nil, fmt.Errorf("unknown payment provider: %s", name)
	}
}
