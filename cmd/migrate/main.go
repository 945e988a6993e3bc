// migrate aplica las migraciones SQL contra la base configurada.
// Uso: migrate [-config ruta] [-dir migrations/postgres] up|down
package main

import (
	"context"
	"flag"
	"log"
	"strings"
	"time"

	"github.com/nelsonblaha/homepage/internal/config"
	"github.com/nelsonblaha/homepage/internal/store/pg"
)

func main() {
	var (
		configPath = flag.String("config", "configs/config.example.yaml", "ruta al config YAML")
		dir        = flag.String("dir", "migrations/postgres", "directorio con *_up.sql y *_down.sql")
	)
	flag.Parse()

	action := "up"
	if args := flag.Args(); len(args) >= 1 && args[0] != "" {
		action = strings.ToLower(args[0])
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()
	store, err := pg.New(ctx, cfg.Storage.Postgres.DSN, pg.Config{
		MaxConns: 2,
		MinConns: 1,
	})
	if err != nil {
		log.Fatalf("pg: %v", err)
	}
	defer store.Close()

	start := time.Now()
	switch action {
	case "up":
		if err := store.RunMigrations(ctx, *dir); err != nil {
			log.Fatalf("up: %v", err)
		}
		log.Printf("migraciones up aplicadas (%s)", time.Since(start).Truncate(time.Millisecond))
	case "down":
		if err := store.RunMigrationsDown(ctx, *dir); err != nil {
			log.Fatalf("down: %v", err)
		}
		log.Printf("migraciones down aplicadas (%s)", time.Since(start).Truncate(time.Millisecond))
	default:
		log.Fatalf("acción desconocida %q: usa up | down", action)
	}
}
