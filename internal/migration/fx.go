package migration

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	billingdomain "github.com/paperstreamhq/paperstream/internal/billing/domain"
	"github.com/paperstreamhq/paperstream/internal/config"
	paymentdomain "github.com/paperstreamhq/paperstream/internal/payment/domain"
)

var Module = fx.Module("migration",
	fx.Invoke(Run),
)

// Run applies the schema on startup. Postgres takes the versioned SQL
// migrations; other dialects (local and test databases) fall back to
// gorm's schema sync since the migration files are postgres-specific.
func Run(gormDB *gorm.DB, cfg config.Config, log *zap.Logger) error {
	if cfg.DBType != "postgres" {
		return gormDB.AutoMigrate(
			&billingdomain.Account{},
			&paymentdomain.WebhookEvent{},
		)
	}

	sqlDB, err := gormDB.DB()
	if err != nil {
		return err
	}
	if err := RunMigrations(sqlDB); err != nil {
		return err
	}
	log.Info("database migrations applied")
	return nil
}
