package app

import (
	"context"

	"automation-engine/internal/common/logging"
	"automation-engine/internal/storage/sqlstore"
)

// initializeStorage opens the configured database and applies migrations.
func (app *App) initializeStorage(ctx context.Context) error {
	store, err := sqlstore.OpenConfig(ctx, app.Config, logging.GetGlobalLogger(), true)
	if err != nil {
		return err
	}
	app.Store = store
	app.Logger.Info("Storage: Ready",
		logging.String("type", app.Config.DatabaseType),
		logging.String("dialect", string(store.Dialect())))
	return nil
}
