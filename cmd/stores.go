package cmd

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/walink/internal/config"
	"github.com/nextlevelbuilder/walink/internal/crypto"
	"github.com/nextlevelbuilder/walink/internal/store"
	"github.com/nextlevelbuilder/walink/internal/store/file"
	"github.com/nextlevelbuilder/walink/internal/store/pg"
	"github.com/nextlevelbuilder/walink/internal/store/sqlite"
)

// openSessionStore builds the configured session store, sealing auth
// tokens when an encryption key is available.
func openSessionStore(ctx context.Context, cfg *config.Config) (store.SessionStore, error) {
	key, err := cfg.ResolveEncryptionKey()
	if err != nil {
		return nil, err
	}
	sealer, err := crypto.NewSealer(key)
	if err != nil {
		return nil, fmt.Errorf("encryption key: %w", err)
	}

	switch cfg.Storage.Backend {
	case config.StorageSQLite:
		return sqlite.NewSQLiteSessionStore(cfg.Storage.SQLitePath, sealer)
	case config.StoragePostgres:
		db, err := pg.OpenDB(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, err
		}
		s, err := pg.NewPGSessionStore(ctx, db, sealer)
		if err != nil {
			db.Close()
			return nil, err
		}
		return s, nil
	default:
		return file.NewFileSessionStore(cfg.Storage.SessionsDir, sealer), nil
	}
}
