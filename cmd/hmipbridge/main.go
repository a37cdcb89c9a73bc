// HomematicIP bridge
//
// Mirrors HomematicIP wired actuators (HmIPW-DRD3 dimmers, HmIPW-DRS8
// switches) as endpoints with On/Brightness characteristics, reachable over
// MQTT and an optional HTTP API. Device state arrives from the HomematicIP
// cloud (current state plus the push event stream); writes are translated
// into setDimLevel / setSwitchState control calls.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ilot95/hmip-bridge/internal/accessory"
	"github.com/ilot95/hmip-bridge/internal/bridges/hmip"
	"github.com/ilot95/hmip-bridge/internal/infrastructure/config"
	"github.com/ilot95/hmip-bridge/internal/infrastructure/database"
	"github.com/ilot95/hmip-bridge/internal/infrastructure/influxdb"
	"github.com/ilot95/hmip-bridge/internal/infrastructure/logging"
	"github.com/ilot95/hmip-bridge/internal/infrastructure/mqtt"
	"github.com/ilot95/hmip-bridge/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	issueFor := flag.String("issue-token", "", "print an API bearer token for `subject` and exit")
	flag.Parse()

	if *issueFor != "" {
		if err := issueToken(os.Stdout, *issueFor); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// issueToken signs a token with the configured JWT secret.
func issueToken(w io.Writer, subject string) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Security.JWT.Secret == "" {
		return errors.New("security.jwt.secret is not set")
	}
	ttl := time.Duration(cfg.Security.JWT.AccessTokenTTL) * time.Minute
	token, err := accessory.IssueToken(subject, cfg.Security.JWT.Secret, ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, token)
	return err
}

// run wires every component and blocks until ctx is cancelled.
// Deferred closes run in reverse start order.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting HomematicIP bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Database
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", db.Path())

	// MQTT
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.Component("mqtt"))
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT connected")
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
		"prefix", mqttClient.Topics().Prefix(),
	)

	// InfluxDB (optional)
	influxClient, err := connectInflux(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if influxClient == nil {
			return
		}
		log.Info("closing InfluxDB connection")
		if closeErr := influxClient.Close(); closeErr != nil {
			log.Error("error closing InfluxDB", "error", closeErr)
		}
	}()

	// HomematicIP cloud
	hmipLog := log.Component("hmip")
	client, err := hmip.NewClient(cfg.HomematicIP.AccessPointID, cfg.HomematicIP.AuthToken,
		hmip.WithLookupURL(cfg.HomematicIP.LookupURL),
		hmip.WithRESTURL(cfg.HomematicIP.RestURL),
		hmip.WithWebSocketURL(cfg.HomematicIP.WebSocketURL),
		hmip.WithTimeout(cfg.GetRequestTimeout()),
		hmip.WithRetry(hmip.RetryConfigFrom(cfg.HomematicIP.Retry)),
		hmip.WithClientVersion(version),
		hmip.WithLogger(hmipLog),
	)
	if err != nil {
		return fmt.Errorf("creating HomematicIP client: %w", err)
	}
	restURL, wsURL, err := client.LookupHosts(ctx)
	if err != nil {
		return fmt.Errorf("resolving HomematicIP hosts: %w", err)
	}
	log.Info("HomematicIP hosts resolved", "rest", restURL, "websocket", wsURL)

	// Accessory host
	hostDeps := accessory.HostDeps{
		Repo:   accessory.NewSQLiteRepository(db.DB),
		Broker: mqttClient,
		Topics: mqttClient.Topics(),
		QoS:    byte(cfg.MQTT.QoS),
		Logger: log.Component("accessory"),
	}
	if influxClient != nil {
		hostDeps.Recorder = influxClient
	}
	host, err := accessory.NewHost(ctx, hostDeps)
	if err != nil {
		return fmt.Errorf("creating accessory host: %w", err)
	}
	if startErr := host.Start(ctx); startErr != nil {
		return fmt.Errorf("starting accessory host: %w", startErr)
	}

	// Platform
	platform := hmip.NewPlatform(client, hmip.Deps{
		Host:       host,
		Controller: client,
		Logger:     hmipLog,
	}, cfg.Devices)
	if influxClient != nil {
		platform.SetReachabilityRecorder(influxClient)
	}
	if startErr := platform.Start(ctx); startErr != nil {
		return fmt.Errorf("starting platform: %w", startErr)
	}
	log.Info("platform started", "bindings", platform.EndpointCount(), "endpoints", host.Count())

	// HTTP API (optional)
	if cfg.API.Enabled {
		server, serverErr := accessory.NewServer(accessory.ServerDeps{
			Config:   cfg.API,
			Security: cfg.Security,
			Host:     host,
			Logger:   log.Component("api"),
			Checks:   healthChecks(db, mqttClient, influxClient),
			Version:  version,
		})
		if serverErr != nil {
			return fmt.Errorf("creating API server: %w", serverErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	// Push events
	stream := hmip.NewEventStream(wsURL, client.AuthHeaders(), platform)
	stream.SetReconnectDelay(cfg.GetReconnectDelay())
	stream.SetLogger(hmipLog)
	streamDone := make(chan struct{})
	go func() {
		defer close(streamDone)
		stream.Run(ctx)
	}()

	log.Info("HomematicIP bridge running")
	<-ctx.Done()
	log.Info("shutdown signal received")
	<-streamDone

	return nil
}

func connectInflux(ctx context.Context, cfg *config.Config, log *logging.Logger) (*influxdb.Client, error) {
	if !cfg.InfluxDB.Enabled {
		log.Info("InfluxDB disabled")
		return nil, nil
	}
	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", cfg.InfluxDB.URL,
		"org", cfg.InfluxDB.Org,
		"bucket", cfg.InfluxDB.Bucket,
	)
	return client, nil
}

// healthChecks collects the checks reported by /api/v1/health.
func healthChecks(db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) map[string]accessory.HealthCheck {
	checks := map[string]accessory.HealthCheck{
		"database": db.HealthCheck,
		"mqtt":     mqttClient.HealthCheck,
	}
	if influxClient != nil {
		checks["influxdb"] = influxClient.HealthCheck
	}
	return checks
}

// getConfigPath returns the configuration file path.
// Checks HMIPBRIDGE_CONFIG environment variable first, then uses default.
func getConfigPath() string {
	if path := os.Getenv("HMIPBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
