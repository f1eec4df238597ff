// Kestrel finds fraud patterns in a company's books.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/repository"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var (
	configPath string
	companyID  string
)

func main() {
	root := &cobra.Command{
		Use:   "kestrel",
		Short: "Kestrel - fraud pattern detection for company books",
		Long: `Kestrel runs Benford analysis and heuristic fraud detectors over a company's
employees, transactions, invoices and vendors, and tracks findings until they are resolved.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildDate),
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&companyID, "company", "", "company to operate on")

	root.AddCommand(
		serveCmd(),
		scanCmd(),
		detectCmd(),
		benfordCmd(),
		resolveCmd(),
		dashboardCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// app holds the components shared by every command.
type app struct {
	cfg   *domain.Config
	repo  *repository.SQLRepository
	cache domain.Cache
	bus   domain.EventBus
	svc   *engine.Service
}

// newApp loads configuration, installs the default logger and opens every
// backing store.
func newApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(config.NewLogger(cfg.Logging, os.Stderr))

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	a := &app{cfg: cfg}

	a.repo, err = repository.New(cfg.Repository)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize repository: %w", err)
	}

	a.cache, err = cache.New(cfg.Cache)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}

	a.bus, err = bus.New(cfg.EventBus)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize event bus: %w", err)
	}

	a.svc = engine.New(a.repo, engine.Options{
		Detection:    cfg.Detection,
		Cache:        a.cache,
		Bus:          a.bus,
		DashboardTTL: cfg.Cache.DashboardTTL,
	})
	return a, nil
}

// Close releases every opened component.
func (a *app) Close() {
	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			slog.Warn("failed to close event bus", "error", err)
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			slog.Warn("failed to close cache", "error", err)
		}
	}
	if a.repo != nil {
		if err := a.repo.Close(); err != nil {
			slog.Warn("failed to close repository", "error", err)
		}
	}
}

func requireCompany() error {
	if companyID == "" {
		return fmt.Errorf("--company is required")
	}
	return nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
