package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	_ "modernc.org/sqlite"

	"github.com/vaultline/logins/internal/config"
	"github.com/vaultline/logins/internal/db/migrations"
	"github.com/vaultline/logins/internal/logins"
	"github.com/vaultline/logins/internal/telemetry"
	"github.com/vaultline/logins/pkg/encryption"
)

// openedStore bundles everything a command needs to talk to the store and
// tear it down cleanly, so each subcommand doesn't repeat the wiring.
type openedStore struct {
	cfg     *config.Config
	db      *sql.DB
	store   *logins.Store
	metrics *telemetry.Metrics
	cache   *logins.DedupeCache
}

func (o *openedStore) Close() {
	if o.cache != nil {
		o.cache.Close()
	}
	o.db.Close()
}

// openStoreFromFlags loads configuration from cmd's flags/env/config file,
// opens the SQLite database, runs pending migrations, and assembles a
// Store wired with the dedupe cache and telemetry the configuration calls
// for. The encryption master key is read from dataDir/master.key,
// minted on first use - an operator-local CLI has nowhere else to keep it.
func openStoreFromFlags(cmd *cobra.Command) (*openedStore, error) {
	cfg, err := config.Load(cmd)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	logger := logrus.StandardLogger()
	mgr := migrations.NewMigrationManager(db, logger)
	if err := mgr.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	key, err := loadOrCreateMasterKey(cfg.DataDir)
	if err != nil {
		db.Close()
		return nil, err
	}
	codec, err := encryption.NewFieldCodec(key, encryption.CipherXChaCha20Poly1305)
	if err != nil {
		db.Close()
		return nil, err
	}

	var cache *logins.DedupeCache
	if cfg.EnableDedupeCache {
		cache, err = logins.OpenDedupeCache(cfg.DataDir)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("open dedupe cache: %w", err)
		}
	}

	metrics := telemetry.New()

	store := logins.NewStore(db, codec, logins.SystemClock{}).
		WithLogger(logger).
		WithMetrics(metrics).
		WithChunkSize(cfg.ChunkSize)
	if cache != nil {
		store = store.WithDedupeCache(cache)
	}

	return &openedStore{cfg: cfg, db: db, store: store, metrics: metrics, cache: cache}, nil
}

// loadOrCreateMasterKey reads the 32-byte AEAD master key from
// dataDir/master.key, generating and persisting a fresh one on first run.
// The key never leaves the data directory and is written with owner-only
// permissions; operators who need a different key custody story (an OS
// keychain, a KMS-wrapped key) are expected to pre-populate this file.
func loadOrCreateMasterKey(dataDir string) ([]byte, error) {
	path := filepath.Join(dataDir, "master.key")
	key, err := os.ReadFile(path)
	if err == nil {
		if len(key) != 32 {
			return nil, fmt.Errorf("master key at %s is %d bytes, want 32", path, len(key))
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read master key: %w", err)
	}

	key, err = encryption.GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, key, 0600); err != nil {
		return nil, fmt.Errorf("persist master key: %w", err)
	}
	logrus.WithField("path", path).Info("generated new master key")
	return key, nil
}
