package services

import (
	"context"

	"github.com/pkg/errors"

	"github.com/mailbridge/mailbridge/config"
	"github.com/mailbridge/mailbridge/interfaces"
	"github.com/mailbridge/mailbridge/internal/logger"
	"github.com/mailbridge/mailbridge/internal/ratelimit"
	"github.com/mailbridge/mailbridge/internal/repository"
	"github.com/mailbridge/mailbridge/services/client"
	"github.com/mailbridge/mailbridge/services/events"
	"github.com/mailbridge/mailbridge/services/gmailbox"
	"github.com/mailbridge/mailbridge/services/imapbox"
	"github.com/mailbridge/mailbridge/services/smtp"
	"github.com/mailbridge/mailbridge/services/storage"
	"github.com/mailbridge/mailbridge/services/sync"
)

type Services struct {
	MailboxAdapter interfaces.MailboxAdapter
	SyncEngine     interfaces.SyncEngine
	MailClient     interfaces.MailClient
	SMTPService    *smtp.Service
	EventPublisher interfaces.EventPublisher
	StorageService interfaces.StorageService
}

func InitServices(cfg *config.Config, log logger.Logger, repos *repository.Repositories) (*Services, error) {
	limiter := ratelimit.NewLimiter(*cfg.RateLimitConfig)

	adapter, err := initAdapter(cfg, limiter, log)
	if err != nil {
		return nil, err
	}

	var publisher interfaces.EventPublisher
	if cfg.AppConfig.RabbitMQURL != "" {
		publisher, err = events.NewRabbitMQPublisher(cfg.AppConfig.RabbitMQURL, log, nil)
		if err != nil {
			return nil, errors.Wrap(err, "failed to initialize event publisher")
		}
	}

	var storageService interfaces.StorageService
	if cfg.R2StorageConfig.Enabled {
		storageService = storage.NewR2StorageService(
			cfg.R2StorageConfig.AccountID,
			cfg.R2StorageConfig.AccessKeyID,
			cfg.R2StorageConfig.AccessKeySecret,
			cfg.R2StorageConfig.AttachmentBucket,
			false,
		)
	}

	engine := sync.NewEngine(adapter, repos.MessageRepository, repos.FolderSyncRepository, publisher, log, *cfg.SyncConfig)
	mailClient := client.NewUnifiedClient(adapter, repos.MessageRepository, engine, storageService, log)

	services := Services{
		MailboxAdapter: adapter,
		SyncEngine:     engine,
		MailClient:     mailClient,
		SMTPService:    smtp.NewService(cfg.SMTPConfig, log),
		EventPublisher: publisher,
		StorageService: storageService,
	}

	return &services, nil
}

func initAdapter(cfg *config.Config, limiter *ratelimit.Limiter, log logger.Logger) (interfaces.MailboxAdapter, error) {
	switch cfg.AppConfig.Provider {
	case "gmail":
		provider := gmailTokenProvider(cfg.GmailConfig)
		if provider == nil {
			return nil, errors.New("gmail provider requires an access token or oauth credentials")
		}
		return gmailbox.NewGmailAdapter(context.Background(), provider, limiter, log, cfg.AppConfig.FolderPriority)
	case "imap":
		return imapbox.NewIMAPAdapter(cfg.IMAPConfig, limiter, log, cfg.AppConfig.FolderPriority), nil
	}
	return nil, errors.Errorf("unknown mail provider: %s", cfg.AppConfig.Provider)
}

func gmailTokenProvider(cfg *config.GmailConfig) interfaces.TokenProvider {
	if cfg.RefreshToken != "" {
		return gmailbox.NewRefreshTokenProvider(context.Background(), cfg.ClientID, cfg.ClientSecret, cfg.RefreshToken)
	}
	if cfg.AccessToken != "" {
		return gmailbox.StaticTokenProvider{Token: cfg.AccessToken}
	}
	return nil
}
