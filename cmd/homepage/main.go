package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/nelsonblaha/homepage/internal/app"
	"github.com/nelsonblaha/homepage/internal/bootstrap"
	"github.com/nelsonblaha/homepage/internal/config"
	httpx "github.com/nelsonblaha/homepage/internal/http"
	"github.com/nelsonblaha/homepage/internal/http/handlers"
	"github.com/nelsonblaha/homepage/internal/observability/logger"
	migrations "github.com/nelsonblaha/homepage/migrations/postgres"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		flagConfig  = flag.String("config", "", "ruta a config.yaml (fallback: $CONFIG_PATH o configs/config.yaml)")
		flagEnvFile = flag.String("env-file", ".env", "ruta a .env (si existe, se carga)")
		flagMigrate = flag.Bool("migrate", true, "aplica las migraciones embebidas al arrancar")
	)
	flag.Parse()

	if *flagEnvFile != "" && fileExists(*flagEnvFile) {
		_ = godotenv.Load(*flagEnvFile)
	}

	cfgPath := *flagConfig
	if cfgPath == "" {
		cfgPath = os.Getenv("CONFIG_PATH")
	}
	if cfgPath == "" {
		if fileExists("configs/config.yaml") {
			cfgPath = "configs/config.yaml"
		} else {
			cfgPath = "configs/config.example.yaml"
		}
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	logger.Init(logger.Config{
		Env:         cfg.App.Env,
		Level:       os.Getenv("HOMEPAGE_LOG_LEVEL"),
		ServiceName: cfg.App.Name,
		Version:     cfg.App.Version,
	})
	defer func() { _ = logger.Sync() }()
	log := logger.Named("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	if *flagMigrate {
		if err := c.PG().RunMigrationsFS(ctx, migrations.FS); err != nil {
			return fmt.Errorf("migraciones: %w", err)
		}
		log.Info("migraciones aplicadas")
	}

	if err := bootstrap.EnsureAdmin(ctx, c.Store, cfg); err != nil {
		return fmt.Errorf("bootstrap de admin: %w", err)
	}
	if err := bootstrap.SeedServices(ctx, c.Store, cfg); err != nil {
		return fmt.Errorf("seed de servicios: %w", err)
	}

	handler, err := handlers.NewRouter(c)
	if err != nil {
		return err
	}

	go c.Sessions.Janitor(ctx, config.Dur(cfg.Session.JanitorEach))
	if c.Poller != nil {
		go c.Poller.Run(ctx)
	}

	srv := httpx.NewServer(cfg, handler)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	log.Info("homepage arriba",
		logger.String("addr", cfg.Server.Addr),
		logger.String("base", cfg.BaseURL()),
		logger.String("env", cfg.App.Env))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	stop()

	log.Info("apagando", logger.String("timeout", cfg.Server.ShutdownTimeout))
	shCtx, cancel := context.WithTimeout(context.Background(), config.Dur(cfg.Server.ShutdownTimeout))
	defer cancel()
	if err := srv.Shutdown(shCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

func fileExists(p string) bool {
	st, err := os.Stat(p)
	return err == nil && !st.IsDir()
}
