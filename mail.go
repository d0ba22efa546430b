package goAccounts

import (
	"context"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// MailTemplate names the kind of message a [Mail] carries. Rendering is the
// Mailer's job.
type MailTemplate string

const (
	TemplateVerifyEmail     MailTemplate = "verify-email"
	TemplateResetPassword   MailTemplate = "reset-password"
	TemplateEnrollAccount   MailTemplate = "enroll-account"
	TemplatePasswordChanged MailTemplate = "password-changed"
)

// Mail is a prepared outgoing message. User is always sanitized.
type Mail struct {
	From     string
	To       string
	Template MailTemplate
	Token    string
	URL      string
	User     *User
}

// Mailer delivers prepared mail. Errors are returned to the caller of the
// operation that triggered the send; nothing is retried.
type Mailer interface {
	SendMail(ctx context.Context, mail Mail) error
}

// MailerFunc adapts a function to [Mailer].
type MailerFunc func(ctx context.Context, mail Mail) error

func (f MailerFunc) SendMail(ctx context.Context, mail Mail) error {
	return f(ctx, mail)
}

// LogMailer logs mail instead of sending it. It is the default Mailer.
type LogMailer struct {
	Logger *zap.Logger
}

func (m LogMailer) SendMail(_ context.Context, mail Mail) error {
	logger := m.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	fields := []zap.Field{
		zap.String("to", mail.To),
		zap.String("template", string(mail.Template)),
	}
	if mail.URL != "" {
		fields = append(fields, zap.String("url", mail.URL))
	}
	if mail.User != nil {
		fields = append(fields, zap.String("user_id", mail.User.ID))
	}
	logger.Warn("mailer not configured, mail not delivered", fields...)
	return nil
}

// PrepareMail builds the message for template addressed to "to". When token is
// non-empty the link is SiteURL/<template>/<token>.
func (e *Engine) PrepareMail(to string, template MailTemplate, token string, user *User) Mail {
	mail := Mail{
		From:     e.config.Mail.From,
		To:       to,
		Template: template,
		Token:    token,
		User:     SanitizeUser(user),
	}
	if token != "" {
		mail.URL = strings.TrimRight(e.config.Mail.SiteURL, "/") + "/" + string(template) + "/" + url.PathEscape(token)
	}
	return mail
}

// SendMail hands mail to the configured Mailer.
func (e *Engine) SendMail(ctx context.Context, mail Mail) error {
	if e == nil || e.mailer == nil {
		return ErrEngineNotReady
	}
	if err := e.mailer.SendMail(ctx, mail); err != nil {
		e.metricInc(MetricMailSendFailure)
		e.logger.Warn("mail delivery failed",
			zap.String("template", string(mail.Template)),
			zap.Error(err),
		)
		return err
	}
	return nil
}
