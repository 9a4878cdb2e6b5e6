package mailer

// Config is embedded in the application config.
type Config struct {
	Driver          string `env:"MAILER_DRIVER" envDefault:"log"`
	Layout          string `env:"MAILER_LAYOUT" envDefault:"base.html"`
	FallbackSubject string `env:"MAILER_FALLBACK_SUBJECT" envDefault:"Notification"`
}

const (
	DriverLog    = "log"
	DriverResend = "resend"
)
