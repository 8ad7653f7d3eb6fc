package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	rgs "github.com/Ashenafi-pixel/gamecrafter-crash-engine"
	"github.com/Ashenafi-pixel/gamecrafter-crash-engine/config"
	"github.com/Ashenafi-pixel/gamecrafter-crash-engine/engine"
	"github.com/Ashenafi-pixel/gamecrafter-crash-engine/logger"
	"github.com/Ashenafi-pixel/gamecrafter-crash-engine/round"
	"github.com/Ashenafi-pixel/gamecrafter-crash-engine/server"
)

func main() {
	// Load .env so DATABASE_URL is set: cwd .env, or project root .env/.env.local
	_ = godotenv.Load(".env")
	_ = godotenv.Load("../.env")
	_ = godotenv.Load("../.env.local")
	cfg := config.Load()

	zl, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = zl.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, zl); err != nil {
		zl.Errorw("crash server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, zl *zap.SugaredLogger) error {
	store, closeStore, err := openStore(ctx, cfg, zl)
	if err != nil {
		return err
	}
	defer closeStore()

	hub := server.NewHub(zl)
	eng := engine.New(store, hub, engine.Options{
		WaitingDuration: cfg.WaitingDuration,
		TickInterval:    cfg.TickInterval,
		Cooldown:        cfg.Cooldown,
		GrowthK:         cfg.GrowthK,
		ClientSeed:      cfg.ClientSeed,
		DefaultChain:    cfg.DefaultChain,
		Logger:          zl.Named("engine"),
	})
	srv := server.New(cfg, eng, hub, zl.Named("server"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(gctx) })
	g.Go(func() error { return srv.Run(gctx) })
	return g.Wait()
}

// openStore picks Postgres when DATABASE_URL is set, otherwise the JSON file
// store under DataDir.
func openStore(ctx context.Context, cfg *config.Config, zl *zap.SugaredLogger) (round.Store, func(), error) {
	db, err := rgs.OpenDB(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if db == nil {
		s, err := round.NewFileStore(cfg.DataDir)
		if err != nil {
			return nil, nil, err
		}
		zl.Infow("using file store", "dataDir", cfg.DataDir)
		return s, func() {}, nil
	}
	s := round.NewPGStore(db)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	zl.Infow("using postgres store")
	return s, func() { _ = db.Close() }, nil
}
