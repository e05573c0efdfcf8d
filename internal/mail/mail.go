// Package mail sends transactional email over SMTP.
package mail

import (
	"bytes"
	"context"
	"html/template"
	"time"

	"github.com/go-faster/errors"
	gomail "github.com/wneessen/go-mail"

	"github.com/xenking/conscious-checkout/internal/domain/otp"
)

// Subject of the verification email.
const Subject = "Verification OTP for Your Conscious Namaz Order"

// Defaults of Config, kept in sync with its struct tags.
const (
	DefaultHost = "smtp.gmail.com"
	DefaultPort = 587
)

// Config configures the SMTP relay.
type Config struct {
	Host     string `yaml:"host" default:"smtp.gmail.com"`
	Port     int    `yaml:"port" default:"587"`
	Secure   bool   `yaml:"secure"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

var codeTemplate = template.Must(template.New("otp").Parse(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
  <h2 style="color: #53593F; text-align: center;">Conscious Namaz</h2>
  <p>Hello {{.Name}},</p>
  <p>Your OTP for email verification is:</p>
  <div style="background-color: #f5f5f5; padding: 15px; text-align: center; font-size: 24px; font-weight: bold; letter-spacing: 5px; margin: 20px 0;">{{.Code}}</div>
  <p>This OTP is valid for {{.Minutes}} minutes and can be used only once.</p>
  <p>If you did not request this OTP, please ignore this email.</p>
  <p>Thank you,<br>Conscious Namaz Team</p>
</div>
`))

type codeData struct {
	Name    string
	Code    string
	Minutes int
}

type deliverer interface {
	DialAndSendWithContext(ctx context.Context, messages ...*gomail.Msg) error
}

// Sender mails verification codes.
type Sender struct {
	from   string
	ttl    time.Duration
	client deliverer
}

var _ otp.Sender = (*Sender)(nil)

// NewSender builds an SMTP sender. ttl is the validity window quoted in
// the email body.
func NewSender(cfg Config, ttl time.Duration) (*Sender, error) {
	opts := []gomail.Option{
		gomail.WithPort(cfg.Port),
		gomail.WithTimeout(10 * time.Second),
	}
	if cfg.Secure {
		opts = append(opts, gomail.WithSSL())
	} else {
		opts = append(opts, gomail.WithTLSPortPolicy(gomail.TLSOpportunistic))
	}
	if cfg.User != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.User),
			gomail.WithPassword(cfg.Password),
		)
	}

	c, err := gomail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "create smtp client")
	}

	from := cfg.From
	if from == "" {
		from = cfg.User
	}
	return newSender(from, ttl, c), nil
}

func newSender(from string, ttl time.Duration, c deliverer) *Sender {
	if ttl <= 0 {
		ttl = otp.DefaultTTL
	}
	return &Sender{from: from, ttl: ttl, client: c}
}

// SendCode mails code to email. An empty name is addressed as
// "Valued Customer".
func (s *Sender) SendCode(ctx context.Context, email, name, code string) error {
	msg, err := s.codeMessage(email, name, code)
	if err != nil {
		return err
	}
	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		return errors.Wrap(err, "send mail")
	}
	return nil
}

func (s *Sender) codeMessage(email, name, code string) (*gomail.Msg, error) {
	if name == "" {
		name = "Valued Customer"
	}

	var body bytes.Buffer
	if err := codeTemplate.Execute(&body, codeData{
		Name:    name,
		Code:    code,
		Minutes: int(s.ttl / time.Minute),
	}); err != nil {
		return nil, errors.Wrap(err, "render mail")
	}

	msg := gomail.NewMsg()
	if err := msg.From(s.from); err != nil {
		return nil, errors.Wrapf(err, "set sender %q", s.from)
	}
	if err := msg.To(email); err != nil {
		return nil, errors.Wrapf(err, "set recipient %q", email)
	}
	msg.Subject(Subject)
	msg.SetBodyString(gomail.TypeTextHTML, body.String())
	return msg, nil
}
