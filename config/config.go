package config

import (
	"github.com/mailbridge/mailbridge/internal/logger"
	"github.com/mailbridge/mailbridge/internal/tracing"
)

type AppConfig struct {
	APIPort     string `env:"PORT" envDefault:"11333"`
	APIKey      string `env:"API_KEY,required"`
	RabbitMQURL string `env:"RABBITMQ_URL"`

	// Provider selects the mailbox backend: "gmail" or "imap".
	Provider string `env:"MAIL_PROVIDER" envDefault:"imap"`

	// FolderPriority orders folder resolution when a message carries
	// several labels; empty means the built-in default order.
	FolderPriority []string `env:"FOLDER_PRIORITY" envSeparator:","`

	Logger  *logger.Config
	Tracing *tracing.JaegerConfig
}

type GmailConfig struct {
	// AccessToken is used as-is when set; production deployments
	// exchange a refresh token instead.
	AccessToken  string `env:"GMAIL_ACCESS_TOKEN"`
	ClientID     string `env:"GMAIL_CLIENT_ID"`
	ClientSecret string `env:"GMAIL_CLIENT_SECRET"`
	RefreshToken string `env:"GMAIL_REFRESH_TOKEN"`
}

type R2StorageConfig struct {
	Enabled          bool   `env:"CLOUDFLARE_R2_ENABLED" envDefault:"false"`
	AccountID        string `env:"CLOUDFLARE_R2_ACCOUNT_ID"`
	AccessKeyID      string `env:"CLOUDFLARE_R2_ACCESS_KEY_ID"`
	AccessKeySecret  string `env:"CLOUDFLARE_R2_ACCESS_KEY_SECRET"`
	AttachmentBucket string `env:"BUCKET_NAME_ATTACHMENT" envDefault:"attachments"`
	CDNDomain        string `env:"CLOUDFLARE_R2_CDN_DOMAIN"`
}
