package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/text/width"

	"github.com/l1jgo/spawnpool/internal/config"
	"github.com/l1jgo/spawnpool/internal/core/event"
	coresys "github.com/l1jgo/spawnpool/internal/core/system"
	"github.com/l1jgo/spawnpool/internal/host"
	"github.com/l1jgo/spawnpool/internal/metrics"
	"github.com/l1jgo/spawnpool/internal/netspawn"
	"github.com/l1jgo/spawnpool/internal/persist"
	"github.com/l1jgo/spawnpool/internal/pool"
	"github.com/l1jgo/spawnpool/internal/prefab"
	"github.com/l1jgo/spawnpool/internal/scripting"
	"github.com/l1jgo/spawnpool/internal/spawn"
	"github.com/l1jgo/spawnpool/internal/system"
)

// metricsInterval is the pool gauge refresh period in ticks.
const metricsInterval = 20

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner(session string, role netspawn.Role) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m             spawnpool  v0.1.0             \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  │\033[0m      pooled network spawn session         \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1msession:\033[0m %s \033[90m(role: %s)\033[0m\n\n", session, role)
}

// displayWidth counts terminal columns; wide and fullwidth runes take two.
func displayWidth(s string) int {
	n := 0
	for _, r := range s {
		switch width.LookupRune(r).Kind() {
		case width.EastAsianWide, width.EastAsianFullwidth:
			n += 2
		default:
			n++
		}
	}
	return n
}

func printSection(title string) {
	lineLen := 46 - displayWidth(title) - 1
	if lineLen < 3 {
		lineLen = 3
	}
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, value string) {
	dotsLen := 42 - displayWidth(label) - len(value)
	if dotsLen < 3 {
		dotsLen = 3
	}
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), value)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Session ────────────────────────────────────────────────────────

// participant is one side of the session: its own world, spawn manager
// and pool registry.
type participant struct {
	world    *host.World
	catalog  *prefab.Catalog
	manager  *netspawn.Manager
	registry *spawn.Registry
}

func newParticipant(role netspawn.Role, table *prefab.Table, cfg *config.Config, bus *event.Bus, obs spawn.Observer, log *zap.Logger) (*participant, error) {
	w := host.NewWorld(cfg.Session.MaxObjects)
	catalog := table.Bind(w)
	m := netspawn.NewManager(role, catalog, bus, log)
	m.Start()

	reg := spawn.NewRegistry(m, log, obs)
	err := reg.Initialize(catalog.Entries(), spawn.BuildOptions{
		AllowAllPoolable: cfg.Pool.AllowAllPoolable,
		DefaultPrewarm:   cfg.Pool.DefaultPrewarmCount,
	})
	if err != nil {
		// Invalid entries are skipped; the rest of the registry is usable.
		var cfgErr *spawn.ConfigError
		if !errors.As(err, &cfgErr) {
			return nil, err
		}
		log.Warn("prefab registry built with errors", zap.Error(err))
	}
	return &participant{world: w, catalog: catalog, manager: m, registry: reg}, nil
}

func run() error {
	// 1. Load config
	cfgPath := "config/spawnpool.toml"
	if p := os.Getenv("SPAWNPOOL_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	role, err := netspawn.ParseRole(cfg.Session.Role)
	if err != nil {
		return fmt.Errorf("session role: %w", err)
	}
	printBanner(cfg.Session.Name, role)

	// 3. Optional database for pool snapshots
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var snapshots *persist.SnapshotRepo
	if cfg.Database.DSN != "" {
		printSection("database")
		db, err := persist.NewDB(ctx, cfg.Database, log)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer db.Close()
		printOK("PostgreSQL connected")

		if err := persist.RunMigrations(ctx, db.Pool); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		printOK("migrations applied")
		snapshots = persist.NewSnapshotRepo(db)

		prev, err := snapshots.Latest(ctx, cfg.Session.Name)
		if err != nil {
			return fmt.Errorf("load pool snapshot: %w", err)
		}
		for _, row := range prev {
			label := row.PrefabName
			if label == "" {
				label = fmt.Sprintf("prefab %d", row.PrefabID)
			}
			printStat("last run: "+label, fmt.Sprintf("%d created, %.0f%% hit", row.Stats.Created, row.Stats.HitRate()*100))
		}
		fmt.Println()
	}

	// 4. Metrics
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector())
	poolMetrics := metrics.NewPoolMetrics(promReg)

	// 5. Prefabs and session participants
	printSection("prefabs")
	table, err := prefab.LoadTable(cfg.Pool.PrefabList)
	if err != nil {
		return fmt.Errorf("load prefab table: %w", err)
	}
	printStat("prefab entries", fmt.Sprint(table.Count()))

	bus := event.NewBus()
	event.Subscribe(bus, func(ev event.ObjectSpawned) {
		log.Debug("object spawned",
			zap.Uint64("network_id", ev.NetworkID),
			zap.Uint64("prefab_id", uint64(ev.PrefabID)),
			zap.Bool("remote", ev.Remote))
	})
	event.Subscribe(bus, func(ev event.ObjectUnspawned) {
		log.Debug("object unspawned",
			zap.Uint64("network_id", ev.NetworkID),
			zap.Uint64("prefab_id", uint64(ev.PrefabID)),
			zap.Bool("remote", ev.Remote))
	})

	primary, err := newParticipant(role, table, cfg, bus, poolMetrics, log)
	if err != nil {
		return fmt.Errorf("build registry: %w", err)
	}
	primary.registry.EachPool(func(id pool.PrefabID, p *pool.InstancePool) {
		printStat(prefabName(table, id), fmt.Sprintf("%d free", p.Free()))
	})

	var replicas []*participant
	var replicaManagers []*netspawn.Manager
	if role.Authoritative() {
		for i := 0; i < cfg.Session.Replicas; i++ {
			r, err := newParticipant(netspawn.RoleClient, table, cfg, bus, nil, log.With(zap.Int("replica", i)))
			if err != nil {
				return fmt.Errorf("build replica %d: %w", i, err)
			}
			replicas = append(replicas, r)
			replicaManagers = append(replicaManagers, r.manager)
		}
	}
	printStat("client replicas", fmt.Sprint(len(replicas)))

	luaEngine, err := scripting.NewEngine(cfg.Scripting.Dir, primary.registry, primary.manager, log)
	if err != nil {
		return fmt.Errorf("lua engine: %w", err)
	}
	defer luaEngine.Close()
	printOK("Lua scripts loaded")
	fmt.Println()

	// 6. Systems
	worlds := []*host.World{primary.world}
	for _, r := range replicas {
		worlds = append(worlds, r.world)
	}
	runner := coresys.NewRunner()
	runner.Register(system.NewEventDispatchSystem(bus))
	runner.Register(system.NewScriptSystem(luaEngine))
	runner.Register(system.NewPoolMetricsSystem(primary.registry, poolMetrics, metricsInterval))
	runner.Register(system.NewReplicationSystem(primary.manager, replicaManagers, log))
	runner.Register(system.NewCleanupSystem(worlds...))

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: cfg.Metrics.BindAddress, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server", zap.Error(err))
			}
		}()
	}

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.Session.TickRate)
	defer ticker.Stop()

	printSection("session ready")
	if metricsSrv != nil {
		printReady(fmt.Sprintf("metrics on http://%s/metrics", cfg.Metrics.BindAddress))
	}
	printReady(fmt.Sprintf("game loop started (tick: %s)", cfg.Session.TickRate))
	fmt.Println()

	for {
		select {
		case <-ticker.C:
			runner.Tick(cfg.Session.TickRate)
		case sig := <-shutdownCh:
			log.Info("shutdown signal received", zap.String("signal", sig.String()))
			shutdown(primary, replicas, table, cfg.Session.Name, snapshots, log)
			if metricsSrv != nil {
				stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
				_ = metricsSrv.Shutdown(stopCtx)
				stop()
			}
			log.Info("session stopped", zap.Uint64("ticks", runner.Ticks()))
			return nil
		}
	}
}

// shutdown persists a pool snapshot, then tears down every registry.
func shutdown(primary *participant, replicas []*participant, table *prefab.Table, session string, snapshots *persist.SnapshotRepo, log *zap.Logger) {
	if snapshots != nil {
		names := make(map[pool.PrefabID]string, table.Count())
		for _, e := range table.Entries() {
			names[pool.PrefabID(e.PrefabID)] = e.Name
		}
		rows := persist.Collect(primary.registry.EachPool, names)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := snapshots.Save(ctx, session, rows); err != nil {
			log.Error("save pool snapshot", zap.Error(err))
		} else {
			log.Info("pool snapshot saved", zap.Int("prefabs", len(rows)))
		}
		cancel()
	}

	primary.registry.EachPool(func(id pool.PrefabID, p *pool.InstancePool) {
		s := p.Stats()
		log.Info("pool stats",
			zap.Uint64("prefab_id", uint64(id)),
			zap.Int("created", s.Created),
			zap.Int("active", s.Active),
			zap.Uint64("acquires", s.Acquires),
			zap.Float64("hit_rate", s.HitRate()),
		)
	})

	for _, r := range replicas {
		r.registry.Shutdown()
		r.world.FlushDestroyQueue()
	}
	primary.registry.Shutdown()
	primary.world.FlushDestroyQueue()
}

func prefabName(t *prefab.Table, id pool.PrefabID) string {
	for _, e := range t.Entries() {
		if pool.PrefabID(e.PrefabID) == id && e.Name != "" {
			return e.Name
		}
	}
	return fmt.Sprintf("prefab %d", id)
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
