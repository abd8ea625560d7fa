package main

import (
	"context"
	stdlog "log"
	"time"

	"go.uber.org/zap"

	"freelancehub/config"
	internaldb "freelancehub/internal/db"
	"freelancehub/pkg/db"
	"freelancehub/pkg/logger"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.Log)
	if err != nil {
		stdlog.Fatalf("failed to init logger: %v", err)
	}
	defer log.Sync()

	pool, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("DB initialization failed", zap.Error(err))
	}
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	applied, err := db.ApplyMigrations(ctx, pool, internaldb.Migrations, internaldb.MigrationsRoot, log)
	if err != nil {
		log.Fatal("Migration failed", zap.Int("applied", applied), zap.Error(err))
	}
	log.Info("Migrations complete", zap.Int("applied", applied))
}
