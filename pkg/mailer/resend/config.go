package resend

// Config holds Resend credentials and the default sender.
type Config struct {
	APIKey      string `env:"RESEND_API_KEY"`
	SenderEmail string `env:"RESEND_FROM_EMAIL" envDefault:"noreply@filevault.local"`
	SenderName  string `env:"RESEND_FROM_NAME" envDefault:"FileVault"`
}
