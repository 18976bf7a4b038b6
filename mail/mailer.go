// Package mail renders trust mail with pongo2 templates and hands the result
// to a Transport.
package mail

import (
	"context"
	"fmt"
	"sync"

	"github.com/flosch/pongo2/v6"
	"github.com/goliatone/go-errors"
	trust "github.com/goliatone/go-trust"
)

// Message is a rendered mail ready for delivery.
type Message struct {
	To      string
	Kind    trust.MailKind
	Subject string
	Body    string
}

// Transport delivers rendered messages.
type Transport interface {
	Deliver(ctx context.Context, msg Message) error
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, msg Message) error

// Deliver implements Transport.
func (f TransportFunc) Deliver(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

type compiled struct {
	subject *pongo2.Template
	body    *pongo2.Template
}

// TemplateMailer implements trust.Mailer.
type TemplateMailer struct {
	transport Transport
	globals   pongo2.Context

	mu        sync.RWMutex
	templates map[trust.MailKind]compiled
}

var _ trust.Mailer = (*TemplateMailer)(nil)

// Option configures a TemplateMailer.
type Option func(*TemplateMailer) error

// WithTemplate replaces the templates used for kind.
func WithTemplate(kind trust.MailKind, subject, body string) Option {
	return func(m *TemplateMailer) error {
		return m.register(kind, subject, body)
	}
}

// WithGlobals adds values available to every template, such as the product name.
func WithGlobals(globals map[string]any) Option {
	return func(m *TemplateMailer) error {
		for k, v := range globals {
			m.globals[k] = v
		}
		return nil
	}
}

// NewTemplateMailer compiles the default templates plus any overrides.
func NewTemplateMailer(transport Transport, opts ...Option) (*TemplateMailer, error) {
	if transport == nil {
		return nil, errors.New("mail transport is required", errors.CategoryBadInput)
	}

	m := &TemplateMailer{
		transport: transport,
		globals:   pongo2.Context{"product": "Trust"},
		templates: map[trust.MailKind]compiled{},
	}

	for kind, tpl := range defaultTemplates {
		if err := m.register(kind, tpl.subject, tpl.body); err != nil {
			return nil, err
		}
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(m); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *TemplateMailer) register(kind trust.MailKind, subject, body string) error {
	s, err := pongo2.FromString(subject)
	if err != nil {
		return errors.Wrap(err, errors.CategoryBadInput, fmt.Sprintf("invalid subject template for %s", kind))
	}

	b, err := pongo2.FromString(body)
	if err != nil {
		return errors.Wrap(err, errors.CategoryBadInput, fmt.Sprintf("invalid body template for %s", kind))
	}

	m.mu.Lock()
	m.templates[kind] = compiled{subject: s, body: b}
	m.mu.Unlock()

	return nil
}

// Render produces the message for kind without sending it.
func (m *TemplateMailer) Render(to string, kind trust.MailKind, data map[string]any) (Message, error) {
	m.mu.RLock()
	tpl, ok := m.templates[kind]
	m.mu.RUnlock()

	if !ok {
		return Message{}, errors.New("unknown mail template", errors.CategoryBadInput).
			WithMetadata(map[string]any{"kind": string(kind)})
	}

	ctx := pongo2.Context{}
	ctx.Update(m.globals)
	ctx.Update(pongo2.Context(data))
	ctx["to"] = to

	subject, err := tpl.subject.Execute(ctx)
	if err != nil {
		return Message{}, errors.Wrap(err, errors.CategoryInternal, "failed to render mail subject")
	}

	body, err := tpl.body.Execute(ctx)
	if err != nil {
		return Message{}, errors.Wrap(err, errors.CategoryInternal, "failed to render mail body")
	}

	return Message{
		To:      to,
		Kind:    kind,
		Subject: subject,
		Body:    body,
	}, nil
}

// Send implements trust.Mailer. Render and transport failures are both
// returned.
func (m *TemplateMailer) Send(ctx context.Context, to string, kind trust.MailKind, data map[string]any) error {
	msg, err := m.Render(to, kind, data)
	if err != nil {
		return err
	}

	if err := m.transport.Deliver(ctx, msg); err != nil {
		return errors.Wrap(err, errors.CategoryExternal, "mail transport failed")
	}

	return nil
}
