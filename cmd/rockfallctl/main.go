package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mr1hm/go-rockfall-alerts/internal/alerting"
	"github.com/mr1hm/go-rockfall-alerts/internal/config"
	"github.com/mr1hm/go-rockfall-alerts/internal/logging"
	"github.com/mr1hm/go-rockfall-alerts/internal/notify"
	"github.com/mr1hm/go-rockfall-alerts/internal/repository"
)

type app struct {
	cfg   *config.Config
	store repository.Store
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "rockfallctl",
		Short:         "Operate the rockfall alert service from the command line",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("error loading config: %w", err)
			}
			logging.SetupTo(cmd.ErrOrStderr(), cfg.Logging.Level)
			a.cfg = cfg
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.store != nil {
				return a.store.Close()
			}
			return nil
		},
	}

	root.AddCommand(
		newFuseCmd(a),
		newSweepCmd(a),
		newPurgeCmd(a),
		newReportCmd(a),
		newStatsCmd(a),
		newHistoryCmd(a),
		newWatchCmd(a),
		newAckCmd(a),
	)
	return root
}

func (a *app) openStore() (repository.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	store, err := repository.Open(a.cfg.DB.Driver, a.cfg.DB.Source())
	if err != nil {
		return nil, fmt.Errorf("error opening store: %w", err)
	}
	a.store = store
	return store, nil
}

// manager restores the persisted alerts into a fresh lifecycle manager.
func (a *app) manager(ctx context.Context, withNotifications bool) (*alerting.Manager, error) {
	store, err := a.openStore()
	if err != nil {
		return nil, err
	}

	opts := []alerting.Option{alerting.WithRepository(store)}
	if withNotifications {
		dispatcher, err := notify.FromConfig(a.cfg)
		if err != nil {
			return nil, err
		}
		opts = append(opts, alerting.WithNotifier(dispatcher))
	}

	m := alerting.NewManager(opts...)
	if err := m.Restore(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
