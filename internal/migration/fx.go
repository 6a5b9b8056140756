package migration

import (
	"github.com/docflowhq/docflow/internal/broker"
	"github.com/docflowhq/docflow/internal/config"
	documents "github.com/docflowhq/docflow/internal/documents/domain"
	"github.com/docflowhq/docflow/internal/extraction"
	matcherdomain "github.com/docflowhq/docflow/internal/matcher/domain"
	notifdomain "github.com/docflowhq/docflow/internal/notification/domain"
	"github.com/docflowhq/docflow/internal/retention"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return RunMigrations(sqlDB)
		}

		// Non-postgres dialects (mysql, sqlite for local runs) fall back to
		// schema sync from the models.
		return conn.AutoMigrate(
			&matcherdomain.Supplier{},
			&documents.FileRecord{},
			&documents.DocumentRecord{},
			&broker.Job{},
			&notifdomain.EmailDeliveryLog{},
			&retention.PolicyRecord{},
			&extraction.TemplateRecord{},
		)
	}),
)
