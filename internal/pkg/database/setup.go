package database

import (
	"fmt"
	"time"

	"github.com/ManuelReschke/memberhub/app/models"
	"github.com/ManuelReschke/memberhub/internal/pkg/config"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const maxRetries = 5
const retryDelay = 5 * time.Second

var DB *gorm.DB

// Dialector returns the GORM dialector for the configured driver.
func Dialector(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "", "mysql":
		return mysql.New(mysql.Config{
			DSN:                       cfg.DSN(),
			DefaultStringSize:         256,  // default size for string fields
			DisableDatetimePrecision:  true, // disable datetime precision, which not supported before MySQL 5.6
			DontSupportRenameIndex:    true, // drop & create when rename index, rename index not supported before MySQL 5.7, MariaDB
			DontSupportRenameColumn:   true, // `change` when rename column, rename column not supported before MySQL 8, MariaDB
		}), nil
	case "postgres":
		return postgres.Open(cfg.DSN()), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// GormConfig is shared by the service and its repository tests.
// TranslateError maps unique violations to gorm.ErrDuplicatedKey.
func GormConfig(debug bool) *gorm.Config {
	level := gormlogger.Warn
	if debug {
		level = gormlogger.Info
	}
	return &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(level),
		NowFunc:        func() time.Time { return time.Now().UTC() },
	}
}

// SetupDatabase connects with retries and migrates the billing tables.
func SetupDatabase(cfg config.DatabaseConfig, debug bool) (*gorm.DB, error) {
	dialector, err := Dialector(cfg)
	if err != nil {
		return nil, err
	}

	for i := 0; i < maxRetries; i++ {
		DB, err = gorm.Open(dialector, GormConfig(debug))
		if err == nil {
			if err = DB.AutoMigrate(&models.Account{}, &models.BillingWebhookEvent{}); err != nil {
				return nil, fmt.Errorf("auto migrate: %w", err)
			}
			return DB, nil
		}

		log.Warnf("Failed to connect to database (try %d/%d): %v", i+1, maxRetries, err)
		if i < maxRetries-1 {
			log.Infof("Retrying in %v...", retryDelay)
			time.Sleep(retryDelay)
		}
	}

	return nil, err
}

func GetDB() *gorm.DB {
	return DB
}
