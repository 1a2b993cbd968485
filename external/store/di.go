package store

import (
	"context"
	"time"

	"github.com/minutemanhq/minuteman/internal/config"
	"github.com/minutemanhq/minuteman/internal/store"
	"github.com/samber/do/v2"
)

const databaseInitTimeout = 15 * time.Second

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (store.Store, error) {
		cfg := do.MustInvoke[*config.Config](i)
		if cfg.DatabaseURL != "" {
			ctx, cancel := context.WithTimeout(context.Background(), databaseInitTimeout)
			defer cancel()
			return NewPostgresStore(ctx, cfg.DatabaseURL)
		}
		return NewSQLiteStore(cfg.StorePath)
	})
}
