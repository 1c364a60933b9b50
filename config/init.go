package config

import (
	"log"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"

	"github.com/mailbridge/mailbridge/internal/database"
	"github.com/mailbridge/mailbridge/internal/logger"
	"github.com/mailbridge/mailbridge/internal/ratelimit"
	"github.com/mailbridge/mailbridge/internal/tracing"
	"github.com/mailbridge/mailbridge/services/imapbox"
	"github.com/mailbridge/mailbridge/services/smtp"
	"github.com/mailbridge/mailbridge/services/sync"
)

type Config struct {
	AppConfig       *AppConfig
	Logger          *logger.Config
	Tracing         *tracing.JaegerConfig
	DatabaseConfig  *database.DatabaseConfig
	RateLimitConfig *ratelimit.Config
	SyncConfig      *sync.Config
	GmailConfig     *GmailConfig
	IMAPConfig      *imapbox.Config
	SMTPConfig      *smtp.Config
	R2StorageConfig *R2StorageConfig
}

func InitConfig() (*Config, error) {
	config := &Config{
		AppConfig:       &AppConfig{},
		Logger:          &logger.Config{},
		Tracing:         &tracing.JaegerConfig{},
		DatabaseConfig:  &database.DatabaseConfig{},
		RateLimitConfig: &ratelimit.Config{},
		SyncConfig:      &sync.Config{},
		GmailConfig:     &GmailConfig{},
		IMAPConfig:      &imapbox.Config{},
		SMTPConfig:      &smtp.Config{},
		R2StorageConfig: &R2StorageConfig{},
	}

	err := godotenv.Load()
	if err != nil {
		log.Print("Unable to load .env file")
	}

	err = env.Parse(config)
	if err != nil {
		log.Fatalf("Error loading mailbridge config: %v", err)
	}

	config.AppConfig.Logger = config.Logger
	config.AppConfig.Tracing = config.Tracing

	return config, nil
}
