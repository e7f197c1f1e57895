package main

import (
	"context"
	"time"
	_ "time/tzdata"

	bidding "table-bidding/internal/biddingService"
	"table-bidding/internal/audit"
	"table-bidding/internal/config"
	"table-bidding/internal/eventwindow"
	"table-bidding/internal/ratelimit"
	"table-bidding/internal/realtime"
	"table-bidding/internal/repository"
	"table-bidding/internal/server"
	"table-bidding/internal/session"
	"table-bidding/utils"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

// store groups the views of whichever backend is configured
type store struct {
	auction  repository.AuctionDB
	users    repository.UserStore
	postgres *repository.PostgresRepo
	close    func()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		utils.Fatal("failed to load config", map[string]any{"error": err.Error()})
	}
	utils.SetLevel(cfg.Log.Level)
	gin.SetMode(cfg.Server.Mode)

	loc, err := eventwindow.LoadLocation(cfg.Event.Timezone)
	if err != nil {
		utils.Fatal("failed to load event timezone", map[string]any{"error": err.Error()})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStore(ctx, cfg)
	if err != nil {
		utils.Fatal("failed to open store", map[string]any{"driver": cfg.Store.Driver, "error": err.Error()})
	}
	defer st.close()

	hubCfg := realtime.DefaultHubConfig()
	hubCfg.CheckOrigin = realtime.AllowOrigins(cfg.CORS.AllowedOrigins)
	hub := realtime.NewHub(hubCfg)
	go hub.Start(ctx)

	opts := []bidding.Option{
		bidding.WithLocation(loc),
		bidding.WithMinIncrement(cfg.Bidding.MinIncrement),
		bidding.WithConflictRetries(cfg.Bidding.MaxConflictRetries),
		bidding.WithRecentLimit(cfg.Bidding.RecentLimit),
	}

	// with the database listener running, the notify trigger announces every
	// change, including the ones accepted here
	listening := st.postgres != nil && cfg.Database.Listen && startListener(ctx, cfg, st.postgres, hub)
	if !listening {
		if publisher := changePublisher(ctx, cfg, hub); publisher != nil {
			opts = append(opts, bidding.WithPublisher(publisher))
		}
	}

	if cfg.RabbitMQ.URL != "" {
		recorder := audit.NewPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue)
		defer recorder.Close()
		opts = append(opts, bidding.WithRecorder(recorder))
		utils.Info("accepted bids are audited", map[string]any{"queue": cfg.RabbitMQ.Queue})
	}

	biddingSvc := bidding.NewBiddingService(st.auction, opts...)

	tracker := eventwindow.NewTracker(biddingSvc.CurrentWindow, loc,
		eventwindow.WithInterval(cfg.Event.CheckInterval),
		eventwindow.WithTransitionHook(func(prev, next eventwindow.Snapshot) {
			utils.Info("event window status changed", map[string]any{
				"from":      prev.Status,
				"to":        next.Status,
				"remaining": next.Display,
			})
		}),
	)
	go tracker.Run(ctx, nil)

	sessions, err := session.NewManager(cfg.Session.Secret, cfg.Session.TTL, session.WithSecureCookies(cfg.Session.SecureCookie))
	if err != nil {
		utils.Fatal("failed to create session manager", map[string]any{"error": err.Error()})
	}

	rdb := ratelimit.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if rdb != nil {
		defer rdb.Close()
	}

	router := server.SetupRouter(server.Dependencies{
		Bidding:  biddingSvc,
		Auth:     session.NewAuthenticator(st.users),
		Sessions: sessions,
		Hub:      hub,
		Redis:    rdb,
		RateLimit: ratelimit.Config{
			Enabled:        cfg.RateLimit.Enabled,
			Capacity:       cfg.RateLimit.Capacity,
			RefillTokens:   cfg.RateLimit.RefillTokens,
			RefillInterval: cfg.RateLimit.RefillInterval,
			TTL:            cfg.RateLimit.TTL,
			KeyStrategy:    cfg.RateLimit.KeyStrategy,
			Prefix:         cfg.RateLimit.Prefix,
		},
		RequestTimeout: cfg.Server.RequestTimeout,
	})

	srv := server.NewServer(server.Options{
		Addr:           cfg.Addr(),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		ShutdownGrace:  cfg.Server.ShutdownGrace,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	}, router)

	utils.Info("starting table bidding server", map[string]any{
		"addr":     cfg.Addr(),
		"store":    cfg.Store.Driver,
		"timezone": loc.String(),
	})
	if err := srv.Run(ctx); err != nil {
		utils.Error("server stopped with error", map[string]any{"error": err.Error()})
		return
	}
	utils.Info("server stopped", nil)
}

// openStore connects the configured backend. The memory store is seeded from
// the seating file and the demo accounts; Postgres is migrated and left as is.
func openStore(ctx context.Context, cfg *config.Config) (*store, error) {
	if cfg.Store.Driver == "postgres" {
		pool, err := repository.NewPostgresPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
		if err != nil {
			return nil, err
		}
		if err := repository.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		repo := repository.NewPostgresRepo(pool)
		return &store{auction: repo, users: repo, postgres: repo, close: repo.Close}, nil
	}

	repo := repository.NewMemoryRepo()
	if err := prepopulateTables(ctx, repo, cfg.Store.SeedFile); err != nil {
		return nil, err
	}
	n, err := session.SeedDemoUsers(ctx, repo, cfg.Store.DemoUsers, bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	utils.Info("demo users seeded", map[string]any{"count": n})
	return &store{auction: repo, users: repo, close: func() {}}, nil
}

// prepopulateTables loads the seating map into the in-memory repo. Without a
// seed file the fallback map is used with a window starting now.
func prepopulateTables(ctx context.Context, repo *repository.MemoryRepo, path string) error {
	if path != "" {
		seed, err := repository.LoadSeedFile(path)
		if err == nil {
			_, err = seed.Apply(ctx, repo)
			return err
		}
		utils.Warn("seed file unavailable, using the default seating map", map[string]any{"path": path, "error": err.Error()})
	}

	for _, t := range repository.FallbackTables() {
		t.IsActive = true
		if err := repo.UpsertTable(ctx, t); err != nil {
			return err
		}
	}
	now := time.Now()
	_, err := repo.SetWindow(ctx, now, now.Add(5*time.Hour))
	return err
}

// changePublisher picks where accepted bids are announced: NATS when configured,
// relayed back into the local hub, otherwise the hub directly.
func changePublisher(ctx context.Context, cfg *config.Config, hub *realtime.Hub) bidding.EventPublisher {
	if cfg.NATS.URL == "" {
		return hub
	}

	natsCfg := realtime.DefaultNATSConfig()
	natsCfg.URL = cfg.NATS.URL
	natsCfg.SubjectPrefix = cfg.NATS.SubjectPrefix
	np, err := realtime.NewNATSPublisher(natsCfg)
	if err != nil {
		utils.Warn("NATS unavailable, announcing to local viewers only", map[string]any{"error": err.Error()})
		return hub
	}

	go func() {
		defer np.Close()
		if err := np.Relay(ctx, hub); err != nil {
			utils.Error("NATS relay stopped", map[string]any{"error": err.Error()})
		}
	}()
	return np
}

// startListener feeds database notifications into the hub. It reports false
// when the listener could not be started.
func startListener(ctx context.Context, cfg *config.Config, repo *repository.PostgresRepo, hub *realtime.Hub) bool {
	listenerCfg := realtime.DefaultListenerConfig()
	listenerCfg.DatabaseURL = cfg.Database.URL

	l, err := realtime.NewPGListener(listenerCfg, repo, hub)
	if err != nil {
		utils.Warn("database listener unavailable", map[string]any{"error": err.Error()})
		return false
	}
	go func() {
		if err := l.Start(ctx); err != nil && ctx.Err() == nil {
			utils.Error("database listener stopped", map[string]any{"error": err.Error()})
		}
	}()
	return true
}
