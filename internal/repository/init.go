package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/mailbridge/mailbridge/interfaces"
	"github.com/mailbridge/mailbridge/internal/database"
	"github.com/mailbridge/mailbridge/internal/models"
)

type Repositories struct {
	MessageRepository    interfaces.MessageRepository
	FolderSyncRepository interfaces.FolderSyncRepository
}

func InitRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		MessageRepository:    NewMessageRepository(db),
		FolderSyncRepository: NewFolderSyncRepository(db),
	}
}

func MigrateDB(dbConfig *database.DatabaseConfig, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	sqlDB.SetMaxOpenConns(5)

	err = db.AutoMigrate(
		&models.Message{},
		&models.Attachment{},
		&models.FolderSyncState{},
	)
	if err != nil {
		return err
	}

	sqlDB.SetMaxIdleConns(dbConfig.MaxIdleConn)
	sqlDB.SetMaxOpenConns(dbConfig.MaxConn)
	sqlDB.SetConnMaxLifetime(time.Duration(dbConfig.ConnMaxLifetime) * time.Minute)

	return nil
}
