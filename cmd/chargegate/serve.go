package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/chargegate/internal/api"
	"github.com/nerrad567/chargegate/internal/audit"
	"github.com/nerrad567/chargegate/internal/auth"
	"github.com/nerrad567/chargegate/internal/charging"
	"github.com/nerrad567/chargegate/internal/dispatch"
	"github.com/nerrad567/chargegate/internal/gateway"
	"github.com/nerrad567/chargegate/internal/infrastructure/config"
	"github.com/nerrad567/chargegate/internal/infrastructure/database"
	"github.com/nerrad567/chargegate/internal/infrastructure/influxdb"
	"github.com/nerrad567/chargegate/internal/infrastructure/logging"
	"github.com/nerrad567/chargegate/internal/infrastructure/mqtt"
	"github.com/nerrad567/chargegate/internal/session"
	"github.com/nerrad567/chargegate/migrations"
)

// sessionSweepInterval is how often the in-memory store drops expired sessions.
const sessionSweepInterval = time.Minute

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway until interrupted (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

// runServe wires every component and blocks until ctx is cancelled.
// Deferred cleanups run in reverse start order.
func runServe(ctx context.Context, opts *options) error {
	log := logging.Default()
	log.Info("starting chargegate",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, path, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if path == "" {
		log.Info("no configuration file, using built-in defaults")
	} else {
		log.Info("configuration loaded", "path", path)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	operators := auth.NewOperatorRepository(db.DB)
	clients := auth.NewAPIClientRepository(db.DB)
	if _, seedErr := auth.SeedAdmin(ctx, operators, log.Logger); seedErr != nil {
		return fmt.Errorf("seeding admin operator: %w", seedErr)
	}

	sessions, closeSessions, err := openSessionStore(ctx, cfg.Sessions, log)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := closeSessions(); closeErr != nil {
			log.Error("error closing session store", "error", closeErr)
		}
	}()

	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	mqttClient.SetLogger(log.With("component", "mqtt"))
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	tasks := dispatch.NewTaskStore(cfg.Dispatch.TaskHistory)
	facility := dispatch.NewMQTTFacility(mqttClient, tasks, cfg.Dispatch, log)
	if startErr := facility.Start(); startErr != nil {
		return fmt.Errorf("starting dispatch facility: %w", startErr)
	}

	checks := map[string]api.HealthChecker{
		"database": db,
		"mqtt":     mqttClient,
	}

	influxClient, err := influxdb.Connect(cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		facility.SetRecorder(influxClient)
		checks["influxdb"] = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	}

	guard, err := newGateway(cfg, operators, clients, sessions, log)
	if err != nil {
		return err
	}

	server, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Gateway:  cfg.Gateway,
		CSRF:     cfg.Security.CSRF,
		Legacy:   cfg.Legacy,
		Logger:   log,
		Guard:    guard,
		SignIn:   auth.NewOperatorAuthenticator(operators, log.Logger),
		Charging: charging.NewService(facility, dispatch.Protocol(cfg.Dispatch.Protocol), log),
		Tasks:    tasks,
		Audit:    audit.NewSQLiteRepository(db.DB),
		Checks:   checks,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	facility.SetBroadcaster(server.Hub())

	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	return nil
}

// openSessionStore returns the configured session backend and its closer.
// The memory store is swept in the background until ctx ends.
func openSessionStore(ctx context.Context, cfg config.SessionConfig, log *logging.Logger) (session.Store, func() error, error) {
	if cfg.Store == "redis" {
		client, err := session.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to Redis: %w", err)
		}
		log.Info("session store ready", "store", "redis")
		return session.NewRedisStore(client, cfg.TTL()), client.Close, nil
	}

	store := session.NewMemoryStore(cfg.TTL())
	go store.Run(ctx, sessionSweepInterval)
	log.Info("session store ready", "store", "memory")
	return store, func() error { return nil }, nil
}

// newGateway builds the request classifier. Bearer tokens are accepted
// only when a signing secret is configured.
func newGateway(cfg *config.Config, operators gateway.OperatorLookup, clients auth.APIClientRepository,
	sessions session.Store, log *logging.Logger) (*gateway.Gateway, error) {
	policy, err := gateway.DefaultPolicy(cfg.Gateway)
	if err != nil {
		return nil, fmt.Errorf("building gateway policy: %w", err)
	}

	validators := auth.MultiValidator{
		auth.SchemeBasic: auth.NewBasicAuthenticator(clients, log.Logger),
	}
	if cfg.Security.JWT.Secret != "" {
		validators[auth.SchemeBearer] = auth.NewTokenAuthenticator(cfg.Security.JWT.Secret, clients)
	}

	guard, err := gateway.New(gateway.Options{
		SignInPath:    cfg.Gateway.SignInPath(),
		SessionCookie: cfg.Sessions.CookieName,
		CookieSecure:  cfg.Sessions.CookieSecure,
		Realm:         cfg.Security.Realm,
	}, gateway.Deps{
		Policy:    policy,
		Validator: validators,
		Sessions:  sessions,
		Operators: operators,
		CSRF:      gateway.NewCSRF(cfg.Security.CSRF, cfg.Sessions.CookieSecure),
		Logger:    log,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gateway: %w", err)
	}
	return guard, nil
}
