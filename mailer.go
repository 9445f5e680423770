package identity

import "context"

// MessageKind selects the outbound template for a proof-token delivery.
type MessageKind string

const (
	MessageEmailVerification MessageKind = "EMAIL_VERIFICATION"
	MessagePasswordReset     MessageKind = "PASSWORD_RESET"
)

// Mailer is the outbound-messaging boundary. The engine only requests
// "send message of kind K to address A with payload P"; delivery transport
// lives outside. Send failures are reported to the caller of the
// triggering flow but never roll back token creation.
type Mailer interface {
	SendMessage(ctx context.Context, kind MessageKind, address, token string) error
}

// MailConfig describes the process-wide outbound transport, injected at
// startup rather than reached for as ambient global state.
type MailConfig struct {
	Host     string `yaml:"host" env:"IDENTITY_MAIL_HOST"`
	Port     int    `yaml:"port" env:"IDENTITY_MAIL_PORT" env-default:"587"`
	Username string `yaml:"username" env:"IDENTITY_MAIL_USERNAME"`
	Password string `yaml:"password" env:"IDENTITY_MAIL_PASSWORD"`
	From     string `yaml:"from" env:"IDENTITY_MAIL_FROM"`
}

type noopMailer struct{}

func (noopMailer) SendMessage(context.Context, MessageKind, string, string) error {
	return nil
}

func normalizeMailer(m Mailer) Mailer {
	if m == nil {
		return noopMailer{}
	}
	return m
}

// LogMailer writes send requests to the logger instead of a transport.
// Development stand-in; the token value is the out-of-band payload, so it
// is printed here and nowhere else.
type LogMailer struct {
	Logger Logger
}

// SendMessage implements Mailer.
func (m LogMailer) SendMessage(_ context.Context, kind MessageKind, address, token string) error {
	normalizeLogger(m.Logger).Info("mail request", "kind", string(kind), "to", address, "token", token)
	return nil
}
