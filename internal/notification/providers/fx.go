package providers

import (
	"github.com/docflowhq/docflow/internal/config"
	"github.com/docflowhq/docflow/internal/notification/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("notification.providers",
	fx.Provide(NewFromConfig),
)

// NewFromConfig builds the active provider. An unknown provider name falls
// back to no-op with a warning rather than refusing to start.
func NewFromConfig(cfg config.Config, log *zap.Logger) domain.Provider {
	switch cfg.Email.Provider {
	case "smtp":
		return NewSMTP(SMTPConfig{
			Host:     cfg.Email.SMTPHost,
			Port:     cfg.Email.SMTPPort,
			Username: cfg.Email.SMTPUsername,
			Password: cfg.Email.SMTPPassword,
			From:     cfg.Email.From,
		})
	case "relay":
		return NewRelay(cfg.Email.RelayBaseURL, cfg.Email.RelayAPIKey, cfg.Email.From)
	case "enterprise":
		return NewEnterprise(cfg.Email.EnterpriseAPIKey, cfg.Email.From)
	case "api":
		return NewAPI(cfg.Email.APIBaseURL, cfg.Email.APIKey, cfg.Email.From)
	default:
		log.Warn("unknown email provider, email delivery disabled",
			zap.String("provider", cfg.Email.Provider))
		return domain.NoOpProvider{}
	}
}
