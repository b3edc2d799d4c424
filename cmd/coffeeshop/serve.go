package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ggoodman/coffeeshop-go/auth"
	"github.com/ggoodman/coffeeshop-go/drinks"
	"github.com/ggoodman/coffeeshop-go/drinks/kvstore"
	"github.com/ggoodman/coffeeshop-go/drinks/postgres"
	"github.com/ggoodman/coffeeshop-go/httpapi"
	"github.com/ggoodman/coffeeshop-go/internal/config"
	"github.com/ggoodman/coffeeshop-go/storage"
	"github.com/ggoodman/coffeeshop-go/storage/memory"
	"github.com/ggoodman/coffeeshop-go/storage/redis"
)

const (
	readHeaderTimeout = 5 * time.Second
	idleTimeout       = 60 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	Long:  "Run the HTTP server. Configuration is read from the environment (AUTH0_DOMAIN, API_AUDIENCE, DRINKS_STORE, ...).",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func serve(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := cfg.Logger(os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(log)

	b, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.close()

	verifier, err := auth.NewFromConfig(ctx, cfg.Security(),
		auth.WithKeySetCache(b.keyCache),
		auth.WithKeySetLogger(log),
	)
	if err != nil {
		return err
	}

	h, err := httpapi.New(b.drinks, verifier,
		httpapi.WithLogger(log),
		httpapi.WithPublicURL(cfg.PublicURL),
		httpapi.WithRealm(cfg.Realm),
	)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           h,
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
		ErrorLog:          slog.NewLogLogger(log.Handler(), slog.LevelError),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.InfoContext(gctx, "http.server.start", slog.String("addr", srv.Addr), slog.String("store", cfg.Store))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("http.server.shutdown")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

type backends struct {
	drinks   drinks.Store
	keyCache storage.Storage
	closers  []func()
}

func (b *backends) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// openBackends builds the drink store selected by cfg.Store along with the
// storage used for the optional key set cache.
func openBackends(ctx context.Context, cfg config.Config) (*backends, error) {
	b := &backends{}
	switch cfg.Store {
	case config.StoreRedis:
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
		}
		rs, err := redis.New(redis.Config{Client: client, KeyPrefix: cfg.RedisKeyPrefix})
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		b.closers = append(b.closers, func() { _ = rs.Close() })
		b.drinks = kvstore.New(rs)
		b.keyCache = rs
		return b, nil

	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres ping: %w", err)
		}
		b.closers = append(b.closers, pool.Close)
		b.drinks = postgres.New(pool)
	}

	mem, err := memory.New(cfg.MemoryMaxItems)
	if err != nil {
		b.close()
		return nil, err
	}
	b.closers = append(b.closers, func() { _ = mem.Close() })
	if b.drinks == nil {
		b.drinks = kvstore.New(mem)
	}
	b.keyCache = mem
	return b, nil
}
