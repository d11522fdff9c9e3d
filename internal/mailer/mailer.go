// Package mailer sends transactional mail over SMTP. When SMTP is not fully
// configured messages are written to the log instead, so local setups can
// still follow password reset links.
package mailer

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	gomail "github.com/wneessen/go-mail"

	"github.com/keithlinneman/diary/internal/log"
	"github.com/keithlinneman/diary/internal/xerrors"
)

const dialTimeout = 10 * time.Second

type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

type Config struct {
	Host string
	Port int
	User string
	Pass string
	// From defaults to no-reply@<host of PublicURL>
	From      string
	PublicURL string
}

func (c Config) configured() bool {
	return c.Host != "" && c.Port > 0 && c.User != "" && c.Pass != ""
}

func (c Config) from() string {
	if c.From != "" {
		return c.From
	}
	host := "localhost"
	if u, err := url.Parse(c.PublicURL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	return "no-reply@" + host
}

// sendFunc delivers a built message, swapped out in tests
type sendFunc func(ctx context.Context, cfg Config, msg *gomail.Msg) error

type Mailer struct {
	cfg     Config
	L       log.Logger
	send    sendFunc
	observe func(transport, outcome string)
}

func New(cfg Config, L log.Logger, observe func(transport, outcome string)) *Mailer {
	if L == nil {
		L = log.Nop()
	}
	return &Mailer{cfg: cfg, L: L, send: sendSMTP, observe: observe}
}

// Send delivers m, or logs it when SMTP is not configured
func (m *Mailer) Send(ctx context.Context, msg Message) error {
	if !m.cfg.configured() {
		m.L.Info(ctx, "mail fallback, smtp not configured", "to", msg.To, "subject", msg.Subject, "text", msg.Text)
		m.record("log", "ok")
		return nil
	}

	built, err := build(m.cfg.from(), msg, time.Now())
	if err != nil {
		m.record("smtp", "error")
		return err
	}
	if err := m.send(ctx, m.cfg, built); err != nil {
		m.record("smtp", "error")
		return xerrors.Wrap(err, "send mail")
	}
	m.record("smtp", "ok")
	m.L.Info(ctx, "sent mail", "to", msg.To, "subject", msg.Subject)
	return nil
}

func (m *Mailer) record(transport, outcome string) {
	if m.observe != nil {
		m.observe(transport, outcome)
	}
}

// build produces a utf-8 quoted-printable message, multipart/alternative when
// both bodies are set
func build(from string, msg Message, now time.Time) (*gomail.Msg, error) {
	out := gomail.NewMsg()
	if err := out.From(from); err != nil {
		return nil, xerrors.Wrapf(err, "parse sender %q", from)
	}
	if err := out.To(msg.To); err != nil {
		return nil, xerrors.Wrapf(err, "parse recipient %q", msg.To)
	}
	out.Subject(msg.Subject)
	out.SetDateWithValue(now)
	out.SetMessageIDWithValue(uuid.NewString() + "@" + domainOf(from))

	switch {
	case msg.HTML == "":
		out.SetBodyString(gomail.TypeTextPlain, msg.Text)
	case msg.Text == "":
		out.SetBodyString(gomail.TypeTextHTML, msg.HTML)
	default:
		out.SetBodyString(gomail.TypeTextPlain, msg.Text)
		out.AddAlternativeString(gomail.TypeTextHTML, msg.HTML)
	}
	return out, nil
}

func domainOf(addr string) string {
	if i := strings.LastIndexByte(addr, '@'); i >= 0 {
		return strings.TrimRight(addr[i+1:], ">")
	}
	return "localhost"
}

// sendSMTP uses implicit TLS on 465 and mandatory STARTTLS everywhere else,
// credentials never go over a plaintext session
func sendSMTP(ctx context.Context, cfg Config, msg *gomail.Msg) error {
	opts := []gomail.Option{
		gomail.WithPort(cfg.Port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(cfg.User),
		gomail.WithPassword(cfg.Pass),
		gomail.WithTimeout(dialTimeout),
	}
	if cfg.Port == 465 {
		opts = append(opts, gomail.WithSSL())
	} else {
		opts = append(opts, gomail.WithTLSPolicy(gomail.TLSMandatory))
	}
	client, err := gomail.NewClient(cfg.Host, opts...)
	if err != nil {
		return xerrors.Wrapf(err, "smtp client for %s", cfg.Host)
	}
	return client.DialAndSendWithContext(ctx, msg)
}
