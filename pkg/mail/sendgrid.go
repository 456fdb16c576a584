// Package mail sends transactional email through SendGrid dynamic templates.
package mail

import (
	"context"
	"fmt"
	"strings"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/angelmondragon/giroflow-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/giroflow-backend/pkg/errors"
	"github.com/angelmondragon/giroflow-backend/pkg/logger"
)

// Message addresses one recipient with a dynamic template.
type Message struct {
	To         string
	ToName     string
	TemplateID string
	Data       map[string]any
}

// Sender delivers template messages.
type Sender interface {
	SendTemplate(ctx context.Context, msg Message) error
}

type transport interface {
	SendWithContext(ctx context.Context, email *sgmail.SGMailV3) (*rest.Response, error)
}

// Client is the SendGrid-backed Sender.
type Client struct {
	api  transport
	from *sgmail.Email
	logg *logger.Logger
}

// New builds a Client. Without an API key it returns a Sender that only logs.
func New(cfg config.SendgridConfig, logg *logger.Logger) Sender {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return &logOnly{logg: logg}
	}
	return newClient(sendgrid.NewSendClient(cfg.APIKey), cfg, logg)
}

func newClient(api transport, cfg config.SendgridConfig, logg *logger.Logger) *Client {
	return &Client{
		api:  api,
		from: sgmail.NewEmail(cfg.DefaultFromName, cfg.DefaultFrom),
		logg: logg,
	}
}

func (c *Client) SendTemplate(ctx context.Context, msg Message) error {
	if err := validate(msg); err != nil {
		return err
	}

	email := sgmail.NewV3Mail()
	email.SetFrom(c.from)
	email.SetTemplateID(msg.TemplateID)

	p := sgmail.NewPersonalization()
	p.AddTos(sgmail.NewEmail(msg.ToName, msg.To))
	for key, value := range msg.Data {
		p.SetDynamicTemplateData(key, value)
	}
	email.AddPersonalizations(p)

	resp, err := c.api.SendWithContext(ctx, email)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "send email")
	}
	if resp.StatusCode >= 400 {
		return pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("sendgrid status %d", resp.StatusCode)).
			WithDetails(map[string]any{"status": resp.StatusCode})
	}
	if c.logg != nil {
		c.logg.Debug(c.logg.WithField(ctx, "template_id", msg.TemplateID), "email queued")
	}
	return nil
}

func validate(msg Message) error {
	if strings.TrimSpace(msg.To) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "recipient email is required")
	}
	if strings.TrimSpace(msg.TemplateID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "template id is required")
	}
	return nil
}

type logOnly struct {
	logg *logger.Logger
}

func (l *logOnly) SendTemplate(ctx context.Context, msg Message) error {
	if err := validate(msg); err != nil {
		return err
	}
	if l.logg != nil {
		ctx = l.logg.WithRecipient(l.logg.WithField(ctx, "template_id", msg.TemplateID), msg.To)
		l.logg.Warn(ctx, "sendgrid api key missing; email not sent")
	}
	return nil
}
