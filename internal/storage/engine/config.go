package engine

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/KilimcininKorOglu/obadb/internal/config"
)

// ConnectConfig validates cfg and connects to the container it names,
// logging through the logger cfg describes. Options in sopts are applied
// after the logger.
func ConnectConfig(cfg *config.Config, sopts ...StoreOption) (*Switchable, error) {
	if errs := config.ValidateConfig(cfg); len(errs) > 0 {
		msgs := make([]string, 0, len(errs))
		for _, err := range errs {
			msgs = append(msgs, err.Error())
		}
		return nil, errors.Wrap(config.ErrInvalidConfig, strings.Join(msgs, "; "))
	}

	opts := append([]StoreOption{WithLogger(cfg.Logger())}, sopts...)
	return Connect(cfg.Storage.Container, cfg.Storage.EngineOptions(), opts...)
}
