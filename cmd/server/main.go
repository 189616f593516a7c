package main

import (
	"context"
	"courier-routing-service/internal/adapters/cache"
	"courier-routing-service/internal/adapters/postgres"
	"courier-routing-service/internal/api"
	"courier-routing-service/internal/config"
	"courier-routing-service/internal/platform/db"
	"courier-routing-service/internal/ports"
	"courier-routing-service/internal/services"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"
)

// main is the application composition root.
// It wires concrete adapters (Postgres store, Redis or SQLite snapshot cache,
// LISTEN/NOTIFY change feed) behind ports and starts the HTTP server.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found (using environment variables)")
	}

	databaseURL := os.Getenv("DATABASE_URL")
	if strings.TrimSpace(databaseURL) == "" {
		log.Fatal("DATABASE_URL is required")
	}

	port := config.Get("PORT", "8080")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pg, err := db.Open(ctx, databaseURL)
	if err != nil {
		log.Fatal(err)
	}
	defer pg.Close()

	snapshotCache, closeCache, err := openSnapshotCache()
	if err != nil {
		log.Fatal(err)
	}
	defer closeCache()

	maxAttempts, err := strconv.Atoi(config.Get("MAX_DELIVERY_ATTEMPTS", "3"))
	if err != nil || maxAttempts <= 0 {
		log.Fatal("MAX_DELIVERY_ATTEMPTS must be a positive integer")
	}

	store := postgres.NewRouteStore(pg)
	tracker := services.NewAttemptTracker(maxAttempts)
	repo := services.NewRouteRepository(store, snapshotCache, tracker, services.RepositoryConfig{})

	// Warm from the snapshot cache first so a restart serves the last known
	// data even when the database is briefly unreachable.
	if err := repo.WarmFromCache(ctx); err != nil {
		log.Printf("cache warm skipped: %v", err)
	}
	if _, err := repo.FetchRoutes(ctx, nil); err != nil {
		log.Printf("initial fetch failed (serving cached data if any): %v", err)
	}

	listener := services.NewLiveChangeListener(postgres.NewChangeListener(databaseURL), repo)
	go listener.Run(ctx)

	router := api.NewRouter(repo)

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("Server listening addr=:%s", port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}

// openSnapshotCache selects the durable cache backend: a Redis instance when
// CACHE_BACKEND=redis, otherwise a local SQLite file.
func openSnapshotCache() (ports.SnapshotCache, func(), error) {
	backend := config.Get("CACHE_BACKEND", "sqlite")

	switch backend {
	case "redis":
		opts, err := redis.ParseURL(config.Get("REDIS_URL", "redis://localhost:6379/0"))
		if err != nil {
			return nil, nil, fmt.Errorf("open snapshot cache: parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		return cache.NewRedisSnapshotCache(client), func() { _ = client.Close() }, nil

	case "sqlite":
		path := config.Get("CACHE_PATH", "data/snapshot.db")
		sqlite, err := sql.Open("sqlite", path)
		if err != nil {
			return nil, nil, fmt.Errorf("open snapshot cache: open sqlite %q: %w", path, err)
		}
		if err := cache.InitSnapshotSchema(sqlite); err != nil {
			_ = sqlite.Close()
			return nil, nil, fmt.Errorf("open snapshot cache: %w", err)
		}
		return cache.NewSqliteSnapshotCache(sqlite), func() { _ = sqlite.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("open snapshot cache: unknown backend %q", backend)
	}
}
