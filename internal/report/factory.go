package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/ricesearch/rice-eval/internal/config"
	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
)

// NewStore creates the report history store selected by cfg.
func NewStore(cfg config.StoreConfig) (Store, error) {
	retention := time.Duration(cfg.RetentionDays) * 24 * time.Hour

	switch strings.ToLower(cfg.Type) {
	case "memory", "":
		return NewMemoryStore(retention), nil
	case "redis":
		rs, err := NewRedisStore(cfg.RedisURL, retention)
		if err != nil {
			return nil, apperrors.StorageError("opening redis report store", err)
		}
		return rs, nil
	default:
		return nil, apperrors.ConfigError(fmt.Sprintf("unknown store type: %s", cfg.Type))
	}
}
