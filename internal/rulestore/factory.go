package rulestore

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"ticketflow/internal/config"
)

var errNoDatabase = errors.New("no database configured")

const (
	BackendDatabase = "database"
	BackendMemory   = "memory"
)

// New picks the rule store backend once at startup. "database" needs a
// reachable db with migrated tables, otherwise it falls back to memory with a
// warning. Seed rules from cfg.SeedFile are loaded into whichever backend wins.
func New(ctx context.Context, cfg config.AutomationConfig, db *gorm.DB, logger *logrus.Logger) (Store, string) {
	if logger == nil {
		logger = logrus.New()
	}

	var store Store
	backend := BackendMemory
	if cfg.Store != BackendMemory {
		if gs, err := openGorm(ctx, db, logger); err != nil {
			logger.Warnf("automation: database rule store unavailable, falling back to memory: %v", err)
		} else {
			store = gs
			backend = BackendDatabase
		}
	}
	if store == nil {
		store = NewMemoryStore(cfg.RunHistory)
	}

	if cfg.SeedFile != "" {
		rules, err := LoadSeedFile(cfg.SeedFile)
		if err != nil {
			logger.Warnf("automation: seed file %s: %v", cfg.SeedFile, err)
		} else if n, err := Seed(ctx, store, rules); err != nil {
			logger.Warnf("automation: seeding stopped after %d rule(s): %v", n, err)
		} else {
			logger.Infof("automation: seeded %d rule(s) from %s", n, cfg.SeedFile)
		}
	}

	logger.Infof("automation: using %s rule store", backend)
	return store, backend
}

func openGorm(ctx context.Context, db *gorm.DB, logger *logrus.Logger) (*GormStore, error) {
	if db == nil {
		return nil, errNoDatabase
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		return nil, err
	}
	gs := NewGormStore(db, logger)
	if err := gs.Migrate(ctx); err != nil {
		return nil, err
	}
	return gs, nil
}
