package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/truefoundry/capacity-scheduler/internal/config"
	"github.com/truefoundry/capacity-scheduler/internal/engine"
	"github.com/truefoundry/capacity-scheduler/pkg/clusters"
	"github.com/truefoundry/capacity-scheduler/pkg/k8shelper"
	"github.com/truefoundry/capacity-scheduler/pkg/reaper"
	"github.com/truefoundry/capacity-scheduler/pkg/scaling"
	"github.com/truefoundry/capacity-scheduler/pkg/schedule"
	"github.com/truefoundry/capacity-scheduler/pkg/store"
	"github.com/truefoundry/capacity-scheduler/pkg/store/postgres"
	"github.com/truefoundry/capacity-scheduler/pkg/store/sqlite"
	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

var (
	_ store.Store           = (*postgres.Store)(nil)
	_ store.Store           = (*sqlite.Store)(nil)
	_ engine.ScalerControl  = (*scaling.NodePoolScaler)(nil)
	_ engine.ScalerControl  = (*scaling.EndpointScaler)(nil)
	_ engine.InstanceReaper = (*reaper.NodeClaimReaper)(nil)
	_ engine.InstanceReaper = (*reaper.EndpointReaper)(nil)
)

// deps are the components shared by the pass and serve commands
type deps struct {
	store    store.Store
	registry *clusters.Registry
	scaler   engine.ScalerControl
	reaper   engine.InstanceReaper
	window   schedule.Window
	closers  []func()
}

func (d *deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

func (d *deps) runner(logger *zap.Logger, cfg *config.Config, ledger *engine.Ledger) *engine.Runner {
	clk := clock.RealClock{}
	dispatcher := engine.NewDispatcher(&engine.DispatcherParams{
		Scaler:       d.scaler,
		Reaper:       d.reaper,
		Resetter:     engine.NewResetCoordinator(logger, d.store, clk),
		HighCapacity: cfg.ScaleUpCPULimit,
		Logger:       logger,
	})
	return engine.NewRunner(&engine.RunnerParams{
		Store:      d.store,
		Dispatcher: dispatcher,
		Window:     d.window,
		Clock:      clk,
		Ledger:     ledger,
		Logger:     logger,
	})
}

func newDeps(ctx context.Context, logger *zap.Logger, cfg *config.Config) (*deps, error) {
	d := &deps{}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	d.window = schedule.NewWindow(loc, cfg.FiringTolerance)

	d.registry, err = clusters.Load(cfg.ClustersFile)
	if err != nil {
		return nil, fmt.Errorf("newDeps - clusters: %w", err)
	}

	if err := d.openStore(ctx, logger, cfg); err != nil {
		d.Close()
		return nil, err
	}
	if err := d.buildScaler(logger, cfg); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (d *deps) openStore(ctx context.Context, logger *zap.Logger, cfg *config.Config) error {
	switch cfg.StoreBackend {
	case config.StorePostgres:
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
		if err != nil {
			return fmt.Errorf("openStore - postgres: %w", err)
		}
		d.closers = append(d.closers, pool.Close)
		if err := postgres.Migrate(ctx, pool); err != nil {
			return fmt.Errorf("openStore - migrate: %w", err)
		}
		d.store = postgres.NewStore(logger, pool)
	case config.StoreSQLite:
		st, err := sqlite.Open(ctx, logger, cfg.SQLitePath)
		if err != nil {
			return fmt.Errorf("openStore - sqlite: %w", err)
		}
		d.closers = append(d.closers, func() {
			if err := st.Close(); err != nil {
				logger.Error("Failed to close sqlite store", zap.Error(err))
			}
		})
		d.store = st
	default:
		records, err := loadSeed(cfg.SeedFile)
		if err != nil {
			return fmt.Errorf("openStore - seed: %w", err)
		}
		d.store = store.NewMemory(records...)
	}
	logger.Info("schedule store ready", zap.String("backend", cfg.StoreBackend))
	return nil
}

func (d *deps) buildScaler(logger *zap.Logger, cfg *config.Config) error {
	if cfg.ScalerBackend == config.ScalerHTTP {
		d.scaler = scaling.NewEndpointScaler(logger, cfg.SetCPUURL, cfg.DownstreamTimeout)
		d.reaper = reaper.NewEndpointReaper(logger, cfg.TerminateURL, cfg.DownstreamTimeout)
		return nil
	}

	var provider k8shelper.Provider
	if cfg.ClusterAccess == config.AccessInCluster {
		p, err := k8shelper.NewInClusterProvider(d.registry)
		if err != nil {
			return fmt.Errorf("buildScaler - in-cluster: %w", err)
		}
		provider = p
	} else {
		provider = k8shelper.NewContextProvider(logger, d.registry)
	}
	d.scaler = scaling.NewNodePoolScaler(logger, provider)
	d.reaper = reaper.NewNodeClaimReaper(logger, provider)
	return nil
}

// loadSeed reads a JSON array of records for the memory store
func loadSeed(path string) ([]schedule.Record, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loadSeed - read %s: %w", path, err)
	}
	var records []schedule.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("loadSeed - parse %s: %w", path, err)
	}
	for _, r := range records {
		if err := store.Prepare(r).Validate(); err != nil {
			return nil, fmt.Errorf("loadSeed - %s: %w", r.ID, err)
		}
	}
	return records, nil
}
