// Package cli is the command line of the compensation engine: the
// long-running service and the operator commands around it.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"compensation-engine/internal/config"
	"compensation-engine/internal/database"
	"compensation-engine/internal/engine"
	"compensation-engine/internal/ledger"
	"compensation-engine/internal/logger"
	"compensation-engine/internal/notify"
	"compensation-engine/internal/plan"
	"compensation-engine/internal/query"
	"compensation-engine/internal/repository"
	"compensation-engine/internal/rewards"
	"compensation-engine/internal/wallet"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const (
	planFlagName     = "plan"
	logLevelFlagName = "log-level"
)

var rootCmd = &cobra.Command{
	Use:           "compensation-engine",
	Short:         "Network compensation and ledger engine",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String(planFlagName, "", "Plan file (YAML, JSON or TOML); overrides PLAN_PATH")
	rootCmd.PersistentFlags().String(logLevelFlagName, "", "Log level; overrides LOG_LEVEL")
}

// Execute runs the command named by the process arguments.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// app is the wiring shared by every command that touches the database.
type app struct {
	cfg      *config.Config
	log      *logrus.Logger
	db       *database.Database
	store    *repository.Store
	plans    *plan.Holder
	notifier notify.Notifier
	engine   *engine.Engine
	rewards  *rewards.Service
	query    *query.Service

	closers []func()
}

func loadConfig(cmd *cobra.Command) (*config.Config, *logrus.Logger) {
	cfg := config.Load()
	if path, _ := cmd.Flags().GetString(planFlagName); path != "" {
		cfg.Plan.Path = path
	}
	if level, _ := cmd.Flags().GetString(logLevelFlagName); level != "" {
		cfg.Log.Level = level
	}
	return cfg, logger.New(cfg.Log.Level)
}

// newApp opens the database and builds the services. With publish set the
// facts go to the broker, falling back to the log when it is unreachable.
func newApp(cmd *cobra.Command, publish bool) (*app, error) {
	cfg, log := loadConfig(cmd)

	p, err := plan.Load(cfg.Plan.Path)
	if err != nil {
		return nil, err
	}

	db, err := database.New(cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	a := &app{
		cfg:      cfg,
		log:      log,
		db:       db,
		store:    repository.NewStore(db.DB, log),
		plans:    plan.NewHolder(p),
		notifier: notify.NewLogNotifier(log),
	}
	a.closers = append(a.closers, func() { _ = db.Close() })

	if publish {
		pub, err := notify.NewPublisher(cfg.Rabbit, log)
		if err != nil {
			log.WithError(err).Warn("notification publisher unavailable, logging facts instead")
		} else {
			a.notifier = pub
			a.closers = append(a.closers, pub.Close)
		}
	}

	a.engine = engine.New(
		a.store,
		ledger.NewStore(wallet.NewProjector(log), log),
		a.plans,
		a.notifier,
		cfg.Worker,
		log,
	)
	a.rewards = rewards.NewService(a.store, a.engine, a.plans, cfg.Scheduler.BatchSize, log)
	a.query = query.New(a.store, a.plans, log)

	log.WithFields(logrus.Fields{
		"plan_version": p.Version,
		"driver":       cfg.Database.Driver,
	}).Debug("application initialized")
	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// ready reports whether the database answers.
func (a *app) ready(ctx context.Context) error {
	sqlDB, err := a.db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseID(arg, what string) (uint, error) {
	id, err := strconv.ParseUint(arg, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid %s %q", what, arg)
	}
	return uint(id), nil
}
