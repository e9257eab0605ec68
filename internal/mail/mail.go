// Package mail delivers verification codes and account notices over SMTP.
package mail

import (
	"context"
	"crypto/rand"
	"fmt"
	"html/template"
	"math/big"
	"time"

	gomail "github.com/wneessen/go-mail"

	"github.com/lakshay-lagyan/smart-attendance-cv/internal/config"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/logging"
)

// CodeTTL is how long a verification code stays valid.
const CodeTTL = 24 * time.Hour

const sendTimeout = 30 * time.Second

var verificationTmpl = template.Must(template.New("verification").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
  <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
    <h1 style="background: #667eea; color: white; padding: 30px; text-align: center;">Email Verification</h1>
    <p>Hello {{.Name}},</p>
    <p>Your signup request for {{.App}} has been approved by the administrator.</p>
    <p>Please verify your email address using the code below:</p>
    <p style="font-size: 32px; font-weight: bold; letter-spacing: 8px; color: #667eea; text-align: center;">{{.Code}}</p>
    <p>This code will expire in 24 hours.</p>
    <p>If you didn't request this verification, please ignore this email.</p>
  </div>
</body>
</html>`))

var approvalTmpl = template.Must(template.New("approval").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
  <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
    <h1 style="background: #10b981; color: white; padding: 30px; text-align: center;">Account Approved</h1>
    <p>Hello {{.Name}},</p>
    <p>Your account has been approved by the administrator.</p>
    <p>You can now log in to {{.App}} and start using all features.</p>
    <p style="text-align: center;"><a href="{{.LoginURL}}" style="background: #10b981; color: white; padding: 12px 30px; text-decoration: none;">Login Now</a></p>
  </div>
</body>
</html>`))

// Mailer sends templated HTML mail. With email disabled it only logs.
type Mailer struct {
	cfg  config.EmailConfig
	send func(ctx context.Context, msg *gomail.Msg) error
}

// New creates a mailer from the email settings.
func New(cfg config.EmailConfig) *Mailer {
	m := &Mailer{cfg: cfg}
	m.send = m.dialAndSend
	return m
}

// Enabled reports whether mail is actually delivered.
func (m *Mailer) Enabled() bool {
	return m.cfg.Enabled
}

func (m *Mailer) dialAndSend(ctx context.Context, msg *gomail.Msg) error {
	opts := []gomail.Option{
		gomail.WithPort(m.cfg.SMTPPort),
		gomail.WithTLSPolicy(gomail.TLSMandatory),
		gomail.WithTimeout(sendTimeout),
	}
	if m.cfg.Username != "" && m.cfg.Password != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(m.cfg.Username),
			gomail.WithPassword(m.cfg.Password),
		)
	}
	client, err := gomail.NewClient(m.cfg.SMTPHost, opts...)
	if err != nil {
		return fmt.Errorf("creating smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("sending mail: %w", err)
	}
	return nil
}

func (m *Mailer) message(to, subject string, tmpl *template.Template, data any) (*gomail.Msg, error) {
	msg := gomail.NewMsg(gomail.WithEncoding(gomail.NoEncoding))
	if err := msg.FromFormat(m.cfg.FromName, m.cfg.From); err != nil {
		return nil, fmt.Errorf("invalid sender address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("invalid recipient address: %w", err)
	}
	msg.Subject(subject)
	if err := msg.SetBodyHTMLTemplate(tmpl, data); err != nil {
		return nil, fmt.Errorf("rendering mail body: %w", err)
	}
	return msg, nil
}

// SendVerificationCode mails code to a newly approved user.
func (m *Mailer) SendVerificationCode(ctx context.Context, to, code, name string) error {
	if !m.cfg.Enabled {
		logging.Info("email service disabled, verification code", "email", to, "code", code)
		return nil
	}
	msg, err := m.message(to, "Verify Your Email - "+m.cfg.FromName, verificationTmpl, map[string]string{
		"Name": name,
		"Code": code,
		"App":  m.cfg.FromName,
	})
	if err != nil {
		return err
	}
	if err := m.send(ctx, msg); err != nil {
		logging.Error("failed to send verification email", "email", to, "error", err)
		return err
	}
	logging.Info("verification email sent", "email", to)
	return nil
}

// SendApprovalNotification tells a user their account can log in.
func (m *Mailer) SendApprovalNotification(ctx context.Context, to, name string) error {
	if !m.cfg.Enabled {
		logging.Info("email service disabled, approval notification", "email", to)
		return nil
	}
	msg, err := m.message(to, "Account Approved - "+m.cfg.FromName, approvalTmpl, map[string]string{
		"Name":     name,
		"App":      m.cfg.FromName,
		"LoginURL": m.cfg.AppURL + "/login",
	})
	if err != nil {
		return err
	}
	if err := m.send(ctx, msg); err != nil {
		logging.Error("failed to send approval notification", "email", to, "error", err)
		return err
	}
	logging.Info("approval notification sent", "email", to)
	return nil
}

// GenerateVerificationCode returns length random decimal digits.
func GenerateVerificationCode(length int) (string, error) {
	if length <= 0 {
		length = 6
	}
	ten := big.NewInt(10)
	code := make([]byte, length)
	for i := range code {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("generating verification code: %w", err)
		}
		code[i] = byte('0' + n.Int64())
	}
	return string(code), nil
}
