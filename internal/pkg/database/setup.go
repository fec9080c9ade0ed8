package database

import (
	"fmt"
	"log"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/gh900098/Mini-Game-Cursor-sub000/app/models"
	"github.com/gh900098/Mini-Game-Cursor-sub000/internal/pkg/env"
)

const maxRetries = 5
const retryDelay = 5 * time.Second

// SetupDatabase connects to MySQL, retrying while the server comes up, and migrates the sync tables.
func SetupDatabase() (*gorm.DB, error) {
	// "user:pass@tcp(127.0.0.1:3306)/dbname?charset=utf8mb4&parseTime=True&loc=Local"
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		env.GetEnv("DB_USER", ""),
		env.GetEnv("DB_PASSWORD", ""),
		env.GetEnv("DB_HOST", "127.0.0.1"),
		env.GetEnv("DB_PORT", "3306"),
		env.GetEnv("DB_NAME", ""),
	)

	var (
		db  *gorm.DB
		err error
	)
	for i := 0; i < maxRetries; i++ {
		db, err = gorm.Open(mysql.New(mysql.Config{
			DSN:                       dsn,
			DefaultStringSize:         256,
			DisableDatetimePrecision:  true,
			DontSupportRenameIndex:    true,
			DontSupportRenameColumn:   true,
			SkipInitializeWithVersion: false,
		}), &gorm.Config{TranslateError: true})
		if err == nil {
			if err = Migrate(db); err != nil {
				return nil, err
			}
			return db, nil
		}

		log.Printf("Failed to connect to database (try %d/%d): %v", i+1, maxRetries, err)
		if i < maxRetries-1 {
			log.Printf("Retrying in %v...", retryDelay)
			time.Sleep(retryDelay)
		}
	}
	return nil, err
}

// Migrate creates or updates the tables the sync engine owns or reads.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Company{},
		&models.Member{},
		&models.CreditTransaction{},
		&models.Setting{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
