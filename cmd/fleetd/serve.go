package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/terminail/autodroid-sub001/internal/api"
	"github.com/terminail/autodroid-sub001/internal/bus"
	"github.com/terminail/autodroid-sub001/internal/device"
	"github.com/terminail/autodroid-sub001/internal/driver"
	"github.com/terminail/autodroid-sub001/internal/infrastructure/config"
	"github.com/terminail/autodroid-sub001/internal/infrastructure/database"
	"github.com/terminail/autodroid-sub001/internal/infrastructure/influxdb"
	"github.com/terminail/autodroid-sub001/internal/infrastructure/logging"
	"github.com/terminail/autodroid-sub001/internal/infrastructure/mqtt"
	"github.com/terminail/autodroid-sub001/internal/orchestrator"
	"github.com/terminail/autodroid-sub001/internal/process"
	"github.com/terminail/autodroid-sub001/internal/results"
	"github.com/terminail/autodroid-sub001/internal/scheduler"
	"github.com/terminail/autodroid-sub001/internal/script"
	"github.com/terminail/autodroid-sub001/internal/workflow"
	"github.com/terminail/autodroid-sub001/migrations"
)

// healthCheckTimeout bounds the startup health check.
const healthCheckTimeout = 5 * time.Second

// simulatedDevices back --dry-run.
var simulatedDevices = []driver.SimulatedDevice{
	{ID: "sim-pixel-8", Model: "Pixel 8", OSVersion: "14", BatteryLevel: 90, Tags: []string{"smoke", "emulator"}},
	{ID: "sim-galaxy-s23", Model: "Galaxy S23", OSVersion: "14", BatteryLevel: 75, Tags: []string{"smoke"}},
	{ID: "sim-low-battery", Model: "Pixel 6a", OSVersion: "13", BatteryLevel: 10},
}

// runOptions carries the serve flags.
type runOptions struct {
	ConfigPath string
	DryRun     bool
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - opts: Config path and dry-run flag
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, opts runOptions) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting fleetd",
		"version", version,
		"commit", commit,
		"build_date", date,
		"dry_run", opts.DryRun,
	)

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", opts.ConfigPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// ─── Storage ───────────────────────────────────────────────────

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
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx, migrations.FS, migrations.Dir); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// ─── Command Bus ───────────────────────────────────────────────

	var (
		commandBus bus.Bus
		mqttClient *mqtt.Client
		sim        *driver.Simulator
	)
	if opts.DryRun {
		mem := bus.NewMemoryBus()
		mem.SetLogger(log.Component("bus"))
		defer mem.Close()
		commandBus = mem
		sim = driver.NewSimulator(mem, simulatedDevices)
		if simErr := sim.Start(); simErr != nil {
			return fmt.Errorf("starting device simulator: %w", simErr)
		}
		log.Info("dry run: using in-process bus", "simulated_devices", len(simulatedDevices))
	} else {
		mqttClient, err = connectMQTT(cfg, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing MQTT connection")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		commandBus = bus.NewMQTTBus(mqttClient)
	}

	// ─── Telemetry ─────────────────────────────────────────────────

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			// Telemetry is optional; run without it.
			log.Warn("InfluxDB unavailable, continuing without telemetry", "error", err)
			influxClient = nil
		} else {
			defer func() {
				log.Info("closing InfluxDB connection")
				if closeErr := influxClient.Close(); closeErr != nil {
					log.Error("error closing InfluxDB", "error", closeErr)
				}
			}()
			influxClient.SetOnError(func(writeErr error) {
				log.Error("InfluxDB write error", "error", writeErr)
			})
			log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
		}
	}

	// ─── Device Registry ───────────────────────────────────────────

	registry := device.NewRegistry(device.Options{
		PollInterval: cfg.GetPollInterval(),
		MinBattery:   cfg.Registry.MinBattery,
	})
	registry.SetLogger(log.Component("registry"))
	defer registry.Close()

	if subErr := commandBus.Subscribe(mqtt.Topics{}.AllDeviceInfo(), device.InfoHandler(registry, mqtt.DeviceIDFromTopic)); subErr != nil {
		return fmt.Errorf("subscribing to device info: %w", subErr)
	}

	var enumerator device.Enumerator
	if cfg.Registry.ADB.Enabled && !opts.DryRun {
		if cfg.Registry.ADB.Managed {
			adbServer := process.NewManager(process.ADBServer(cfg.Registry.ADB, device.ExecRunner{}))
			adbServer.SetLogger(log.Component("adb-server"))
			if startErr := adbServer.Start(ctx); startErr != nil {
				return fmt.Errorf("starting adb server: %w", startErr)
			}
			defer func() {
				log.Info("stopping adb server")
				if stopErr := adbServer.Stop(); stopErr != nil {
					log.Error("error stopping adb server", "error", stopErr)
				}
			}()
		}
		adb := device.NewADBEnumerator(cfg.Registry.ADB.Binary, device.ExecRunner{}, cfg.GetADBTimeout())
		adb.SetLogger(log.Component("adb"))
		enumerator = adb
	}

	poller := device.NewPoller(registry, enumerator, cfg.GetPollInterval())
	poller.SetLogger(log.Component("poller"))
	if influxClient != nil {
		poller.OnObservations(func(obs []device.Observation) {
			for _, o := range obs {
				if o.BatteryLevel != device.BatteryUnknown {
					influxClient.WriteDeviceBattery(o.ID, o.Model, o.BatteryLevel, o.At)
				}
			}
		})
	}

	// ─── Scripts ───────────────────────────────────────────────────

	engine := newEngine(cfg)
	engine.SetLogger(log.Component("script"))

	drv := driver.NewBusDriver(commandBus, cfg.GetCommandTimeout())
	if startErr := drv.Start(); startErr != nil {
		return fmt.Errorf("starting bus driver: %w", startErr)
	}

	// ─── Scheduler ─────────────────────────────────────────────────

	sched := scheduler.New(scheduler.Options{
		Tick:     cfg.GetTickInterval(),
		Location: cfg.Location(),
	})
	sched.SetLogger(log.Component("scheduler"))
	defer sched.Stop()

	plans, err := loadPlans(cfg.Scheduler.PlansFile)
	if err != nil {
		return err
	}
	if replaceErr := sched.ReplacePlans(plans); replaceErr != nil {
		return fmt.Errorf("installing test plans: %w", replaceErr)
	}
	log.Info("test plans loaded", "path", cfg.Scheduler.PlansFile, "count", len(plans))

	// ─── Results ───────────────────────────────────────────────────

	hub := api.NewHub(cfg.WebSocket, log)
	resultStore := results.NewSQLiteStore(db.DB)

	pipeline, closePipeline, err := newPipeline(ctx, cfg, log, resultStore, commandBus, influxClient, hub)
	if err != nil {
		return err
	}
	defer closePipeline()

	// ─── Orchestrator ──────────────────────────────────────────────

	orchOpts := orchestrator.Options{Workers: cfg.Scheduler.MaxConcurrentTasks}
	if influxClient != nil {
		orchOpts.Queue = influxClient
	}
	orch := orchestrator.New(sched, registry, drv, engine, pipeline, orchOpts)
	orch.SetLogger(log.Component("orchestrator"))

	registry.OnChange(orch.HandleDeviceEvent)
	registry.OnChange(hub.DeviceEvent)

	if subErr := commandBus.Subscribe(mqtt.Topics{}.AllEvents(), orch.EventHandler()); subErr != nil {
		return fmt.Errorf("subscribing to events: %w", subErr)
	}

	// ─── API Server ────────────────────────────────────────────────

	if cfg.API.Enabled {
		apiServer, apiErr := api.New(api.Deps{
			Config:       cfg.API,
			WS:           cfg.WebSocket,
			Logger:       log,
			Registry:     registry,
			Scheduler:    sched,
			Engine:       engine,
			Results:      resultStore,
			Orchestrator: orch,
			Bus:          commandBus,
			ExternalHub:  hub,
			Version:      version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		// The result hub sink still needs a running hub.
		go hub.Run(ctx)
	}

	healthCtx, cancelHealth := context.WithTimeout(ctx, healthCheckTimeout)
	if healthErr := healthCheck(healthCtx, db, mqttClient, influxClient); healthErr != nil {
		log.Warn("startup health check failed", "error", healthErr)
	}
	cancelHealth()

	// ─── Run ───────────────────────────────────────────────────────

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return orch.Run(gctx) })
	g.Go(func() error { return poller.Run(gctx) })
	if sim != nil {
		g.Go(func() error { return sim.Run(gctx, cfg.GetPollInterval()/2) })
	}

	log.Info("fleetd started",
		"fleet_id", cfg.Fleet.ID,
		"workers", cfg.Scheduler.MaxConcurrentTasks,
		"scripts", len(engine.ListScripts()),
	)

	err = g.Wait()
	log.Info("shutdown signal received, stopping...")
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("running orchestrator: %w", err)
	}
	return nil
}

// connectMQTT connects to the broker and wires connection-state logging.
func connectMQTT(cfg *config.Config, log *logging.Logger) (*mqtt.Client, error) {
	client, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log.Component("mqtt"))
	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(disconnectErr error) {
		log.Warn("MQTT disconnected", "error", disconnectErr)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
	)
	return client, nil
}

// newEngine builds the script search path: built-in scripts first, then
// workflow files from the configured directory.
func newEngine(cfg *config.Config) *script.Engine {
	interp := workflow.NewInterpreter(workflow.Options{Pause: cfg.GetStepPause()})
	return script.NewEngine(
		script.Builtins(),
		workflow.NewDirSource(os.DirFS(cfg.Scripts.WorkflowDir), interp),
	)
}

// loadPlans reads the plan file. A missing file yields no plans, so plans
// can be added later through the API.
func loadPlans(path string) ([]scheduler.TestPlan, error) {
	if path == "" {
		return nil, nil
	}
	plans, err := scheduler.LoadPlans(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading test plans: %w", err)
	}
	return plans, nil
}

// newPipeline assembles the artifact store and the result sinks. The
// returned func releases sink connections.
func newPipeline(
	ctx context.Context,
	cfg *config.Config,
	log *logging.Logger,
	store *results.SQLiteStore,
	commandBus bus.Bus,
	influxClient *influxdb.Client,
	hub *api.Hub,
) (*results.Pipeline, func(), error) {
	var artifacts results.ArtifactStore
	switch {
	case cfg.Artifacts.Enabled:
		minio, err := results.NewMinIOStore(ctx, cfg.Artifacts)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to artifact store: %w", err)
		}
		artifacts = minio
		log.Info("artifact store connected", "endpoint", cfg.Artifacts.Endpoint, "bucket", cfg.Artifacts.Bucket)
	case cfg.Artifacts.LocalDir != "":
		local, err := results.NewLocalStore(cfg.Artifacts.LocalDir)
		if err != nil {
			return nil, nil, fmt.Errorf("creating local artifact store: %w", err)
		}
		artifacts = local
	}

	pipeline := results.NewPipeline(artifacts)
	pipeline.SetLogger(log.Component("results"))
	pipeline.Add("sqlite", store)
	if influxClient != nil {
		pipeline.Add("metrics", results.NewMetricsSink(influxClient))
	}
	pipeline.Add("bus", results.NewBusSink(commandBus))
	pipeline.Add("websocket", results.NewHubSink(hub))

	closeFn := func() {}
	if cfg.Reporting.AMQP.Enabled {
		amqpSink, err := results.DialAMQP(cfg.Reporting.AMQP)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to AMQP: %w", err)
		}
		pipeline.Add("amqp", amqpSink)
		closeFn = func() {
			if closeErr := amqpSink.Close(); closeErr != nil {
				log.Error("error closing AMQP", "error", closeErr)
			}
		}
		log.Info("AMQP reporting enabled", "exchange", cfg.Reporting.AMQP.Exchange)
	}

	log.Info("result pipeline ready", "sinks", pipeline.Sinks())
	return pipeline, closeFn, nil
}

// healthCheck verifies connected infrastructure is responsive.
//
// Parameters:
//   - ctx: Context with timeout for health checks
//   - db: Database connection to check
//   - mqttClient: MQTT client to check (nil in dry-run mode)
//   - influxClient: InfluxDB client to check (nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
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
