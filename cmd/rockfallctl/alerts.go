package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/mr1hm/go-rockfall-alerts/internal/alerting"
	internalgrpc "github.com/mr1hm/go-rockfall-alerts/internal/grpc"
	"github.com/mr1hm/go-rockfall-alerts/internal/models"
)

func newSweepCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Escalate every active alert whose deadline has passed",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.manager(cmd.Context(), true)
			if err != nil {
				return err
			}
			ids, err := m.SweepEscalations(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"escalated": ids})
		},
	}
}

func newPurgeCmd(a *app) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete resolved alerts and assessments older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("days") {
				days = a.cfg.Retention.Days
			}
			if days < 1 {
				return fmt.Errorf("retention must be at least 1 day (set --days or RETENTION_DAYS)")
			}
			m, err := a.manager(cmd.Context(), false)
			if err != nil {
				return err
			}
			res, err := m.PurgeBefore(cmd.Context(), time.Now().AddDate(0, 0, -days))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "retention window in days (default RETENTION_DAYS)")
	return cmd
}

func newReportCmd(a *app) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the alert report for the last N days",
		RunE: func(cmd *cobra.Command, args []string) error {
			if days < 1 {
				return fmt.Errorf("--days must be at least 1")
			}
			m, err := a.manager(cmd.Context(), false)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), m.Report(days))
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "reporting window in days")
	return cmd
}

func newStatsCmd(a *app) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print alert statistics for the last N days",
		RunE: func(cmd *cobra.Command, args []string) error {
			if days < 1 {
				return fmt.Errorf("--days must be at least 1")
			}
			m, err := a.manager(cmd.Context(), false)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), m.Statistics(days))
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "statistics window in days")
	return cmd
}

func newHistoryCmd(a *app) *cobra.Command {
	var (
		severities []string
		status     string
		from, to   string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List resolved alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			var f alerting.HistoryFilter
			for _, s := range severities {
				sev, err := models.ParseSeverity(s)
				if err != nil {
					return err
				}
				f.Severities = append(f.Severities, sev)
			}
			if status != "" {
				st, err := models.ParseStatus(status)
				if err != nil {
					return err
				}
				f.Status = st
			}
			var err error
			if f.From, err = parseTime("from", from); err != nil {
				return err
			}
			if f.To, err = parseTime("to", to); err != nil {
				return err
			}

			m, err := a.manager(cmd.Context(), false)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), m.History(f))
		},
	}
	f := cmd.Flags()
	f.StringSliceVar(&severities, "severity", nil, "only include these severities (repeatable)")
	f.StringVar(&status, "status", "", "only include alerts with this status")
	f.StringVar(&from, "from", "", "earliest alert timestamp (RFC3339 or YYYY-MM-DD)")
	f.StringVar(&to, "to", "", "latest alert timestamp (RFC3339 or YYYY-MM-DD)")
	return cmd
}

// parseTime accepts RFC3339 or a bare date. A bare --to date covers the whole day.
func parseTime(flag, v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return nil, fmt.Errorf("--%s: expected RFC3339 or YYYY-MM-DD, got %q", flag, v)
	}
	if flag == "to" {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

func newWatchCmd(a *app) *cobra.Command {
	var (
		addr        string
		minSeverity string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream alert events from a running service",
		RunE: func(cmd *cobra.Command, args []string) error {
			var floor models.Severity
			if minSeverity != "" {
				sev, err := models.ParseSeverity(minSeverity)
				if err != nil {
					return err
				}
				floor = sev
			}

			client, closeConn, err := dial(a, addr)
			if err != nil {
				return err
			}
			defer closeConn()

			stream, err := client.StreamAlerts(cmd.Context(), floor)
			if err != nil {
				return err
			}
			for {
				e, err := stream.Recv()
				if errors.Is(err, io.EOF) || cmd.Context().Err() != nil {
					return nil
				}
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), e); err != nil {
					return err
				}
			}
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "gRPC address of the service (default from GRPC_PORT)")
	cmd.Flags().StringVar(&minSeverity, "min-severity", "", "only stream alerts at or above this severity")
	return cmd
}

func newAckCmd(a *app) *cobra.Command {
	var (
		addr  string
		actor string
	)
	cmd := &cobra.Command{
		Use:   "ack <alert-id>",
		Short: "Acknowledge an active alert on a running service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, closeConn, err := dial(a, addr)
			if err != nil {
				return err
			}
			defer closeConn()

			alert, err := client.AcknowledgeAlert(cmd.Context(), args[0], actor)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), alert)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "gRPC address of the service (default from GRPC_PORT)")
	cmd.Flags().StringVar(&actor, "actor", "", "who is acknowledging the alert")
	return cmd
}

func dial(a *app, addr string) (*internalgrpc.Client, func(), error) {
	if addr == "" {
		addr = fmt.Sprintf("localhost:%d", a.cfg.GRPC.Port)
	}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, fmt.Errorf("error connecting to %s: %w", addr, err)
	}
	closeConn := func() {
		if err := conn.Close(); err != nil {
			slog.Warn("error closing grpc connection", "error", err)
		}
	}
	return internalgrpc.NewClient(conn), closeConn, nil
}
