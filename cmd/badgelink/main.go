// badgelink drives a Bluetooth LE badge cloner.
//
// It connects to the cloner, keeps every badge code the cloner reports in a
// persistent deduplicated registry and exposes the device over an HTTP/
// WebSocket API and an optional MQTT command bridge.
//
// Usage:
//
//	badgelink            run the service
//	badgelink discover   list badgelink instances on the local network
package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/nerrad567/badgelink/migrations"

	"github.com/nerrad567/badgelink/internal/api"
	"github.com/nerrad567/badgelink/internal/audit"
	"github.com/nerrad567/badgelink/internal/badge"
	"github.com/nerrad567/badgelink/internal/bridges/cloner"
	"github.com/nerrad567/badgelink/internal/infrastructure/config"
	"github.com/nerrad567/badgelink/internal/infrastructure/database"
	"github.com/nerrad567/badgelink/internal/infrastructure/influxdb"
	"github.com/nerrad567/badgelink/internal/infrastructure/logging"
	"github.com/nerrad567/badgelink/internal/infrastructure/mdns"
	"github.com/nerrad567/badgelink/internal/infrastructure/mqtt"
	"github.com/nerrad567/badgelink/internal/peripheral"
	"github.com/nerrad567/badgelink/internal/storage"
)

// Version information, set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"
	healthInterval    = 30 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	if len(os.Args) > 1 && os.Args[1] == "discover" {
		err = discover(ctx, os.Stdout)
	} else {
		err = run(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run starts every component, blocks until ctx is cancelled and shuts
// down in reverse order.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting badgelink",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "level", cfg.Logging.Level)

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Storage.Path,
		WALMode:     cfg.Storage.WALMode,
		BusyTimeout: cfg.Storage.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Storage.Path)

	registry := badge.NewRegistry(storage.NewSQLiteStore(db.DB), cfg.Storage.Key)
	registry.SetLogger(log.With("component", "registry"))
	log.Info("code registry loaded", "codes", registry.Count(ctx))

	history := audit.NewSQLiteRepository(db.DB)

	platform := peripheral.NewBluetoothPlatform(cfg.Device.ScanTimeout)
	platform.SetLogger(log.With("component", "peripheral"))

	opts := cloner.Options{
		Platform: platform,
		Filter: peripheral.Filter{
			Address:    cfg.Device.Address,
			NamePrefix: cfg.Device.NamePrefix,
			ServiceID:  cfg.Device.ServiceUUID,
		},
		Registry:       registry,
		CommandLog:     history,
		Logger:         log.With("component", "cloner"),
		Version:        version,
		HealthInterval: healthInterval,
	}

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = connectMQTT(cfg.MQTT, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		opts.MQTT = mqttClient
	} else {
		log.Info("MQTT disabled")
	}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		opts.Metrics = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	bridge, err := cloner.NewBridge(opts)
	if err != nil {
		return fmt.Errorf("creating cloner bridge: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		return fmt.Errorf("starting cloner bridge: %w", err)
	}
	defer func() {
		log.Info("stopping cloner bridge")
		bridge.Stop()
	}()

	if cfg.Device.AutoConnect {
		go autoConnect(ctx, bridge, log)
	}

	server, err := api.New(api.Deps{
		Config:  cfg.API,
		WS:      cfg.WebSocket,
		Logger:  log.With("component", "api"),
		Cloner:  bridge,
		Version: version,
		History: history,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if cfg.MDNS.Enabled {
		advertiser, advErr := startMDNS(cfg, log)
		if advErr != nil {
			log.Warn("mDNS advertisement unavailable", "error", advErr)
		} else {
			defer advertiser.Close()
		}
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	return nil
}

// getConfigPath returns BADGELINK_CONFIG or the default path.
func getConfigPath() string {
	if path := os.Getenv("BADGELINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

func connectMQTT(cfg config.MQTTConfig, log *logging.Logger) (*mqtt.Client, error) {
	client, err := mqtt.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log.With("component", "mqtt"))
	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port),
		"client_id", cfg.Broker.ClientID,
	)
	return client, nil
}

// autoConnect makes one connect attempt. Failure leaves the service up;
// a connect can be requested later over HTTP or MQTT.
func autoConnect(ctx context.Context, bridge *cloner.Bridge, log *logging.Logger) {
	if err := bridge.Connect(ctx); err != nil {
		log.Warn("auto-connect to cloner failed", "error", err)
		return
	}
	log.Info("cloner connected", "device", bridge.Status(ctx).Device)
}

func startMDNS(cfg *config.Config, log *logging.Logger) (*mdns.Advertiser, error) {
	advertiser, err := mdns.NewAdvertiser(cfg.MDNS.Instance, cfg.API.Port, version)
	if err != nil {
		return nil, err
	}
	advertiser.SetLogger(log.With("component", "mdns"))
	if err := advertiser.Start(); err != nil {
		return nil, err
	}
	return advertiser, nil
}

// healthCheck verifies the infrastructure connections. Nil clients are
// disabled components and are skipped.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

// discover prints the badgelink instances found on the local network.
func discover(ctx context.Context, w io.Writer) error {
	instances, err := mdns.Browse(ctx, 0)
	if err != nil {
		return fmt.Errorf("browsing for instances: %w", err)
	}
	return printInstances(w, instances)
}

func printInstances(w io.Writer, instances []mdns.Instance) error {
	if len(instances) == 0 {
		_, err := fmt.Fprintln(w, "no badgelink instances found")
		return err
	}
	for _, inst := range instances {
		addr := inst.Host
		if len(inst.Addrs) > 0 {
			addr = inst.Addrs[0]
		}
		url := "http://" + net.JoinHostPort(addr, strconv.Itoa(inst.Port)) + inst.Path
		if _, err := fmt.Fprintf(w, "%s\t%s\t%s\n", inst.Name, url, inst.Version); err != nil {
			return err
		}
	}
	return nil
}
