// Package notifications turns domain events into donor and operator emails.
package notifications

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/giroflow-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/giroflow-backend/pkg/errors"
	"github.com/angelmondragon/giroflow-backend/pkg/logger"
	"github.com/angelmondragon/giroflow-backend/pkg/mail"
)

// Reminder announces an upcoming bank claim to a donor who asked for notice.
type Reminder struct {
	Email       string
	Name        string
	KID         string
	AmountMinor int64
	ClaimDate   time.Time
}

// Proposal offers a donor an inflation-adjusted amount.
type Proposal struct {
	Email         string
	CurrentMinor  int64
	ProposedMinor int64
	Percentage    decimal.Decimal
	AcceptURL     string
	RejectURL     string
	ExpiresAt     time.Time
}

// Alert reports a failure an operator has to resolve by hand.
type Alert struct {
	Subject string
	Detail  string
	Fields  map[string]any
}

type Service interface {
	SendAgreementReminder(ctx context.Context, r Reminder) error
	SendInflationProposal(ctx context.Context, p Proposal) error
	AlertOperator(ctx context.Context, a Alert) error
}

// Templates holds the SendGrid dynamic template ids.
type Templates struct {
	Reminder string
	Proposal string
	Operator string
}

// TemplatesFromConfig collects the template ids spread over the config.
func TemplatesFromConfig(cfg *config.Config) Templates {
	return Templates{
		Reminder: cfg.Sendgrid.ReminderTemplateID,
		Proposal: cfg.Inflation.ProposalTemplateID,
		Operator: cfg.Sendgrid.OperatorTemplateID,
	}
}

type service struct {
	sender    mail.Sender
	templates Templates
	operator  string
	logg      *logger.Logger
}

func NewService(sender mail.Sender, templates Templates, operatorEmail string, logg *logger.Logger) (Service, error) {
	if sender == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "mail sender required")
	}
	return &service{
		sender:    sender,
		templates: templates,
		operator:  strings.TrimSpace(operatorEmail),
		logg:      logg,
	}, nil
}

func (s *service) SendAgreementReminder(ctx context.Context, r Reminder) error {
	return s.sender.SendTemplate(ctx, mail.Message{
		To:         r.Email,
		ToName:     r.Name,
		TemplateID: s.templates.Reminder,
		Data: map[string]any{
			"name":       r.Name,
			"kid":        r.KID,
			"amount":     FormatMinor(r.AmountMinor),
			"claim_date": r.ClaimDate.Format("02.01.2006"),
		},
	})
}

func (s *service) SendInflationProposal(ctx context.Context, p Proposal) error {
	return s.sender.SendTemplate(ctx, mail.Message{
		To:         p.Email,
		TemplateID: s.templates.Proposal,
		Data: map[string]any{
			"current_amount":  FormatMinor(p.CurrentMinor),
			"proposed_amount": FormatMinor(p.ProposedMinor),
			"percentage":      p.Percentage.Shift(2).StringFixed(1),
			"accept_url":      p.AcceptURL,
			"reject_url":      p.RejectURL,
			"expires_at":      p.ExpiresAt.Format("02.01.2006"),
		},
	})
}

// AlertOperator mails the operator. Without an operator address the alert is
// only logged.
func (s *service) AlertOperator(ctx context.Context, a Alert) error {
	if s.logg != nil {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{"alert": a.Subject, "detail": a.Detail}), "operator alert")
	}
	if s.operator == "" {
		return nil
	}
	data := map[string]any{"subject": a.Subject, "detail": a.Detail}
	for k, v := range a.Fields {
		data[k] = v
	}
	return s.sender.SendTemplate(ctx, mail.Message{
		To:         s.operator,
		TemplateID: s.templates.Operator,
		Data:       data,
	})
}

// FormatMinor renders øre as kroner with two decimals.
func FormatMinor(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2)
}
