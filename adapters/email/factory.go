package email

import (
	"fmt"

	"github.com/meterline/meterline/ports"
)

// NewSender creates an email sender by provider name.
func NewSender(provider string, cfg SMTPConfig) (ports.EmailSender, error) {
	switch provider {
	case "smtp":
		if cfg.Host == "" {
			return nil, fmt.Errorf("SMTP host is required")
		}
		return NewSMTPSender(cfg)

	case "mock":
		return NewMockSender(cfg.BaseURL, cfg.AppName), nil

	case "none", "":
		return NewNoopSender(), nil

	default:
		return nil, fmt.Errorf("unknown email provider: %s", provider)
	}
}
