package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"flowmint/config"
	"flowmint/core/state"
	"flowmint/native/swap"
	"flowmint/observability/logging"
	"flowmint/storage"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	env := strings.TrimSpace(os.Getenv("FLOWMINT_ENV"))
	if env == "" {
		env = cfg.Environment
	}
	logger := logging.Setup("flowmintd", env)

	db, err := openDatabase(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	manager := state.NewManager(db)

	engine := swap.NewEngine()
	engine.SetState(manager)
	if err := engine.SetStableAsset(cfg.StableAsset); err != nil {
		logger.Error("Invalid stable asset", slog.Any("error", err))
		os.Exit(1)
	}

	if err := ensureInitialized(engine, cfg); err != nil {
		logger.Error("Failed to initialise protocol", slog.Any("error", err))
		os.Exit(1)
	}

	protoCfg, err := engine.Config()
	if err != nil {
		logger.Error("Failed to read protocol configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("Swap engine ready",
		slog.String("stableAsset", engine.StableAsset()),
		slog.Int("defaultSlippageBps", int(protoCfg.DefaultSlippageBps)),
		slog.Int("protectedSlippageBps", int(protoCfg.ProtectedSlippageBps)),
		slog.Bool("protectedMode", protoCfg.ProtectedModeEnabled),
	)

	addr := strings.TrimSpace(cfg.MetricsAddress)
	if addr == "" {
		addr = ":9464"
	}
	http.Handle("/metrics", promhttp.Handler())
	logger.Info("Serving metrics", slog.String("address", addr))
	if err := http.ListenAndServe(addr, nil); err != nil {
		logger.Error("Metrics server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func openDatabase(dataDir string) (storage.Database, error) {
	if strings.TrimSpace(dataDir) == "" || dataDir == ":memory:" {
		return storage.NewMemDB(), nil
	}
	return storage.NewLevelDB(dataDir)
}

// ensureInitialized creates the protocol configuration on first start. An
// already-initialised store is left untouched.
func ensureInitialized(engine *swap.Engine, cfg *config.Config) error {
	initialized, err := engine.Initialized()
	if err != nil {
		return err
	}
	if initialized {
		return nil
	}
	authority, err := cfg.AuthorityAddress()
	if err != nil {
		return err
	}
	treasury, err := cfg.TreasuryAddress()
	if err != nil {
		return err
	}
	_, err = engine.Initialize(authority, treasury, cfg.DefaultSlippageBps, cfg.ProtectedSlippageBps, cfg.MaxPriceImpactBps)
	return err
}
