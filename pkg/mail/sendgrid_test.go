package mail

import (
	"context"
	"errors"
	"testing"

	"github.com/sendgrid/rest"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/angelmondragon/giroflow-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/giroflow-backend/pkg/errors"
)

type fakeTransport struct {
	sent   []*sgmail.SGMailV3
	status int
	err    error
}

func (f *fakeTransport) SendWithContext(_ context.Context, email *sgmail.SGMailV3) (*rest.Response, error) {
	f.sent = append(f.sent, email)
	if f.err != nil {
		return nil, f.err
	}
	return &rest.Response{StatusCode: f.status}, nil
}

var testConfig = config.SendgridConfig{DefaultFrom: "donasjon@giroflow.no", DefaultFromName: "Giroflow"}

func TestSendTemplateBuildsPersonalization(t *testing.T) {
	api := &fakeTransport{status: 202}
	c := newClient(api, testConfig, nil)

	err := c.SendTemplate(context.Background(), Message{
		To:         "kari@example.org",
		TemplateID: "d-reminder",
		Data:       map[string]any{"amount": "300"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(api.sent) != 1 {
		t.Fatalf("expected one send, got %d", len(api.sent))
	}
	email := api.sent[0]
	if email.TemplateID != "d-reminder" {
		t.Fatalf("unexpected template %q", email.TemplateID)
	}
	if email.From.Address != "donasjon@giroflow.no" {
		t.Fatalf("unexpected sender %q", email.From.Address)
	}
	p := email.Personalizations[0]
	if p.To[0].Address != "kari@example.org" || p.DynamicTemplateData["amount"] != "300" {
		t.Fatalf("unexpected personalization %+v", p)
	}
}

func TestSendTemplateErrors(t *testing.T) {
	c := newClient(&fakeTransport{status: 400}, testConfig, nil)
	err := c.SendTemplate(context.Background(), Message{To: "a@b.no", TemplateID: "d-x"})
	if !pkgerrors.Is(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error for 4xx, got %v", err)
	}

	c = newClient(&fakeTransport{err: errors.New("dial")}, testConfig, nil)
	err = c.SendTemplate(context.Background(), Message{To: "a@b.no", TemplateID: "d-x"})
	if !pkgerrors.Is(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error for transport failure, got %v", err)
	}

	err = c.SendTemplate(context.Background(), Message{TemplateID: "d-x"})
	if !pkgerrors.Is(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestNewWithoutKeyOnlyLogs(t *testing.T) {
	sender := New(config.SendgridConfig{}, nil)
	if _, ok := sender.(*logOnly); !ok {
		t.Fatalf("expected log-only sender, got %T", sender)
	}
	if err := sender.SendTemplate(context.Background(), Message{To: "a@b.no", TemplateID: "d-x"}); err != nil {
		t.Fatalf("log-only sender should succeed: %v", err)
	}
}
