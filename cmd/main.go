package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-dispatch/internal/auth"
	"github.com/ukydev/fleet-dispatch/internal/cache"
	"github.com/ukydev/fleet-dispatch/internal/config"
	"github.com/ukydev/fleet-dispatch/internal/db"
	"github.com/ukydev/fleet-dispatch/internal/events"
	"github.com/ukydev/fleet-dispatch/internal/handlers"
	"github.com/ukydev/fleet-dispatch/internal/location"
	"github.com/ukydev/fleet-dispatch/internal/middleware"
	"github.com/ukydev/fleet-dispatch/internal/models"
	"github.com/ukydev/fleet-dispatch/internal/trip"
	"go.mongodb.org/mongo-driver/mongo"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	cfg.SetupLogging()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.WithError(err).Fatal("Server stopped")
	}
	log.Info("Server exited")
}

// run wires the service and serves until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config) error {
	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	client, err := db.ConnectMongo(startCtx, cfg.Mongo.URI)
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Disconnect(context.Background()); err != nil {
			log.WithError(err).Warn("Failed to disconnect from MongoDB")
		}
	}()
	log.WithField("database", cfg.Mongo.Database).Info("Connected to MongoDB")

	store, err := db.NewStore(client.Database(cfg.Mongo.Database))
	if err != nil {
		return err
	}
	if err := store.EnsureIndexes(startCtx); err != nil {
		return err
	}
	if err := bootstrapAdmin(startCtx, cfg.Auth, store.Users); err != nil {
		return err
	}

	var opts []trip.Option
	opts = append(opts, trip.WithSampleInterval(cfg.Trips.SampleInterval))

	var depotCache *cache.DepotCache
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		if err := rdb.Ping(startCtx).Err(); err != nil {
			log.WithError(err).Warn("Redis unavailable, depot checks read MongoDB directly")
		} else {
			depotCache = cache.NewDepotCache(rdb, store.Depots, cfg.Redis.DepotCacheTTL)
			opts = append(opts, trip.WithCachedDepots(depotCache))
			log.WithField("addr", cfg.Redis.Addr).Info("Depot cache enabled")
		}
	}

	if cfg.AMQP.URL != "" {
		publisher, err := events.Connect(startCtx, cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			return err
		}
		defer publisher.Close()
		opts = append(opts, trip.WithEvents(publisher))
	}

	feed := location.NewFeed(cfg.MQTT.FixMaxAge)
	coord := trip.NewCoordinator(store.Trips, store.Depots, store.Images, feed, opts...)
	defer coord.Shutdown()

	if cfg.MQTT.Broker != "" {
		if cfg.MQTT.ForwardFixes {
			feed.ForwardTo(coord.AddDriverSample)
		}
		sub, err := location.Subscribe(cfg.MQTT.Broker, cfg.MQTT.ClientID, cfg.MQTT.Topic, feed)
		if err != nil {
			return err
		}
		defer sub.Close()
	}

	resumed, err := coord.ResumeSampling(startCtx)
	if err != nil {
		return err
	}
	log.WithField("trips", resumed).Info("Resumed location sampling")

	server, err := wireServer(cfg, client, store, coord, feed, depotCache)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("port", cfg.Server.Port).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}

// wireServer builds the handlers and the HTTP server.
func wireServer(cfg *config.Config, client *mongo.Client, store *db.Store, coord *trip.Coordinator, feed *location.Feed, depotCache *cache.DepotCache) (*http.Server, error) {
	authService, err := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry)
	if err != nil {
		return nil, err
	}
	otp := auth.NewOTPService(store.OTPs, auth.LogSender{}, cfg.Auth.OTPTTL)

	var invalidator handlers.CacheInvalidator
	if depotCache != nil {
		invalidator = depotCache
	}

	router := newRouter(routerDeps{
		Auth:   handlers.NewAuthHandler(authService, otp, store.Users),
		Depots: handlers.NewDepotHandler(store.Depots, coord, invalidator),
		Trips:  handlers.NewTripHandler(coord, feed, store.Images),
		Guard:  middleware.NewAuthMiddleware(authService),
		Health: func(ctx context.Context) error { return client.Ping(ctx, nil) },
	})

	return &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, nil
}

// bootstrapAdmin creates the configured first administrator so a fresh deployment can log in.
func bootstrapAdmin(ctx context.Context, cfg config.AuthConfig, users db.UserCollection) error {
	if cfg.BootstrapPhone == "" {
		return nil
	}
	if cfg.BootstrapOrgID == "" {
		return errors.New("BOOTSTRAP_ORG_ID is required with BOOTSTRAP_ADMIN_PHONE")
	}
	phone, err := auth.NormalizePhone(cfg.BootstrapPhone)
	if err != nil {
		return err
	}
	_, created, err := handlers.EnsureMember(ctx, users, phone, "Administrator", models.RoleAdmin, cfg.BootstrapOrgID)
	if err != nil {
		return err
	}
	if created {
		log.WithField("org_id", cfg.BootstrapOrgID).Info("Bootstrap administrator created")
	}
	return nil
}
