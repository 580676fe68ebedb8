package migration

import (
	"github.com/smallbiznis/capstan/internal/config"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		// Versioned migrations target postgres; other drivers are for
		// local experiments and tests and migrate via gorm directly.
		if cfg.DBType != "postgres" {
			return conn.AutoMigrate(models()...)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
