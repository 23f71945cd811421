// Package email provides email sending adapters.
package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"html/template"
	"net"
	"net/smtp"
	"time"

	"github.com/meterline/meterline/domain/billing"
	"github.com/meterline/meterline/ports"
)

// SMTPConfig holds SMTP server configuration.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string // sender email address
	FromName string // sender display name

	// TLS settings
	UseTLS      bool // Use STARTTLS
	SkipVerify  bool // Skip TLS certificate verification (for testing)
	UseImplicit bool // Use implicit TLS (port 465)

	// Timeouts
	Timeout time.Duration

	// Application settings
	BaseURL string // Base URL for links in emails (e.g., "https://myapp.com")
	AppName string // Application name for email templates
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() SMTPConfig {
	return SMTPConfig{
		Host:     "localhost",
		Port:     25,
		From:     "noreply@localhost",
		FromName: "Meterline",
		UseTLS:   true,
		Timeout:  30 * time.Second,
		AppName:  "Meterline",
	}
}

// SMTPSender implements ports.EmailSender using SMTP.
type SMTPSender struct {
	config SMTPConfig

	invoiceTmpl *template.Template
}

// NewSMTPSender creates a new SMTP email sender.
func NewSMTPSender(config SMTPConfig) (*SMTPSender, error) {
	s := &SMTPSender{config: config}

	var err error
	s.invoiceTmpl, err = template.New("invoice").Parse(invoiceEmailTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse invoice template: %w", err)
	}

	return s, nil
}

// Send sends an email via SMTP.
func (s *SMTPSender) Send(ctx context.Context, msg ports.EmailMessage) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	// Build email message
	var buf bytes.Buffer
	buf.WriteString(fmt.Sprintf("From: %s <%s>\r\n", s.config.FromName, s.config.From))
	buf.WriteString(fmt.Sprintf("To: %s\r\n", msg.To))
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", msg.Subject))
	buf.WriteString("MIME-Version: 1.0\r\n")

	// Multipart message if we have both HTML and text
	if msg.HTMLBody != "" && msg.TextBody != "" {
		boundary := "boundary-" + fmt.Sprintf("%d", time.Now().UnixNano())
		buf.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=%s\r\n", boundary))
		buf.WriteString("\r\n")

		// Text part
		buf.WriteString(fmt.Sprintf("--%s\r\n", boundary))
		buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
		buf.WriteString("\r\n")
		buf.WriteString(msg.TextBody)
		buf.WriteString("\r\n")

		// HTML part
		buf.WriteString(fmt.Sprintf("--%s\r\n", boundary))
		buf.WriteString("Content-Type: text/html; charset=utf-8\r\n")
		buf.WriteString("\r\n")
		buf.WriteString(msg.HTMLBody)
		buf.WriteString("\r\n")

		buf.WriteString(fmt.Sprintf("--%s--\r\n", boundary))
	} else if msg.HTMLBody != "" {
		buf.WriteString("Content-Type: text/html; charset=utf-8\r\n")
		buf.WriteString("\r\n")
		buf.WriteString(msg.HTMLBody)
	} else {
		buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
		buf.WriteString("\r\n")
		buf.WriteString(msg.TextBody)
	}

	// Send the email
	if s.config.UseImplicit {
		return s.sendImplicitTLS(ctx, addr, msg.To, buf.Bytes())
	}
	return s.sendSTARTTLS(ctx, addr, msg.To, buf.Bytes())
}

// sendSTARTTLS sends email using STARTTLS (port 587/25).
func (s *SMTPSender) sendSTARTTLS(ctx context.Context, addr, to string, message []byte) error {
	// Create dialer with timeout
	dialer := &net.Dialer{Timeout: s.config.Timeout}

	// Connect
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	// Create SMTP client
	client, err := smtp.NewClient(conn, s.config.Host)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	defer client.Close()

	// STARTTLS if required
	if s.config.UseTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			tlsConfig := &tls.Config{
				ServerName:         s.config.Host,
				InsecureSkipVerify: s.config.SkipVerify,
			}
			if err := client.StartTLS(tlsConfig); err != nil {
				return fmt.Errorf("starttls: %w", err)
			}
		}
	}

	// Authenticate if credentials provided
	if s.config.Username != "" {
		auth := smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	return s.transmit(client, to, message)
}

// sendImplicitTLS sends email using implicit TLS (port 465).
func (s *SMTPSender) sendImplicitTLS(ctx context.Context, addr, to string, message []byte) error {
	tlsConfig := &tls.Config{
		ServerName:         s.config.Host,
		InsecureSkipVerify: s.config.SkipVerify,
	}

	// Connect with TLS
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: s.config.Timeout},
		Config:    tlsConfig,
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial tls: %w", err)
	}
	defer conn.Close()

	// Create SMTP client
	client, err := smtp.NewClient(conn, s.config.Host)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	defer client.Close()

	// Authenticate if credentials provided
	if s.config.Username != "" {
		auth := smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	return s.transmit(client, to, message)
}

func (s *SMTPSender) transmit(client *smtp.Client, to string, message []byte) error {
	// Set sender and recipient
	if err := client.Mail(s.config.From); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}

	// Send message body
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(message); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close data: %w", err)
	}

	return client.Quit()
}

// SendInvoice sends an invoice notification with a payment link.
func (s *SMTPSender) SendInvoice(ctx context.Context, to string, inv billing.Invoice) error {
	data := invoiceTemplateData{
		AppName:     s.config.AppName,
		Month:       inv.Month,
		PlatformFee: billing.FormatAmount(inv.PlatformFeeCents),
		APIUsage:    billing.FormatAmount(inv.APIUsageCents),
		Total:       billing.FormatAmount(inv.TotalCents),
		PaymentLink: inv.PaymentLinkURL,
	}
	if inv.DueDate != nil {
		data.DueDate = inv.DueDate.Format("January 2, 2006")
	}

	var htmlBuf bytes.Buffer
	if err := s.invoiceTmpl.Execute(&htmlBuf, data); err != nil {
		return fmt.Errorf("execute invoice template: %w", err)
	}

	// Generate plain text version
	var textBuf bytes.Buffer
	textBuf.WriteString(fmt.Sprintf("Your %s invoice for %s is ready.\n\n", s.config.AppName, inv.Month))
	textBuf.WriteString(fmt.Sprintf("Platform fee: %s\n", data.PlatformFee))
	textBuf.WriteString(fmt.Sprintf("API usage: %s\n", data.APIUsage))
	textBuf.WriteString(fmt.Sprintf("Total: %s\n\n", data.Total))
	if data.DueDate != "" {
		textBuf.WriteString(fmt.Sprintf("Due by %s.\n\n", data.DueDate))
	}
	if data.PaymentLink != "" {
		textBuf.WriteString("Pay online: " + data.PaymentLink + "\n\n")
	}
	textBuf.WriteString(fmt.Sprintf("Thanks,\nThe %s Team", s.config.AppName))

	return s.Send(ctx, ports.EmailMessage{
		To:       to,
		Subject:  fmt.Sprintf("Your %s invoice for %s", s.config.AppName, inv.Month),
		HTMLBody: htmlBuf.String(),
		TextBody: textBuf.String(),
	})
}

type invoiceTemplateData struct {
	AppName     string
	Month       string
	PlatformFee string
	APIUsage    string
	Total       string
	DueDate     string
	PaymentLink string
}

const invoiceEmailTemplate = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"></head>
<body style="font-family: -apple-system, sans-serif; color: #333; max-width: 560px; margin: 0 auto; padding: 24px;">
  <h2>Your {{.AppName}} invoice for {{.Month}}</h2>
  <table style="width: 100%; border-collapse: collapse;">
    <tr>
      <td style="padding: 8px 0; border-bottom: 1px solid #eee;">Platform fee</td>
      <td style="padding: 8px 0; border-bottom: 1px solid #eee; text-align: right;">{{.PlatformFee}}</td>
    </tr>
    <tr>
      <td style="padding: 8px 0; border-bottom: 1px solid #eee;">API usage</td>
      <td style="padding: 8px 0; border-bottom: 1px solid #eee; text-align: right;">{{.APIUsage}}</td>
    </tr>
    <tr>
      <td style="padding: 8px 0; font-weight: bold;">Total</td>
      <td style="padding: 8px 0; font-weight: bold; text-align: right;">{{.Total}}</td>
    </tr>
  </table>
  {{if .DueDate}}<p>Due by {{.DueDate}}.</p>{{end}}
  {{if .PaymentLink}}
  <p style="margin: 24px 0;">
    <a href="{{.PaymentLink}}" style="background: #4f46e5; color: #fff; padding: 12px 24px; text-decoration: none; border-radius: 6px;">Pay now</a>
  </p>
  {{end}}
  <p style="color: #888; font-size: 13px;">Thanks,<br>The {{.AppName}} Team</p>
</body>
</html>`

var _ ports.EmailSender = (*SMTPSender)(nil)
