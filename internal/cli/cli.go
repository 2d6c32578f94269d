// Package cli is the operator command line of the job core.
//
//	jobctl migrate
//	jobctl engine get <campaign-id>
//	jobctl engine set <campaign-id> <RUNNING|PAUSED|STOPPED> [--actor name]
//	jobctl jobs get <job-id>
//	jobctl jobs stale [--status PROCESSING] [--older-than 1h]
//	jobctl schedule <campaign-id>
//
// Configuration comes from the environment (and .env), as for the server.
package cli

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/unclebandit/leadflow-backend/internal/app"
	"github.com/unclebandit/leadflow-backend/internal/config"
	"github.com/unclebandit/leadflow-backend/internal/db"
	"github.com/unclebandit/leadflow-backend/internal/eventlog"
	"github.com/unclebandit/leadflow-backend/internal/logx"
	"github.com/unclebandit/leadflow-backend/internal/model"
	"github.com/unclebandit/leadflow-backend/internal/service"
)

// env is what every subcommand needs once configuration is loaded.
type env struct {
	cfg   *config.Config
	repos app.Repos
	conn  *sql.DB
	log   *zap.SugaredLogger
}

func (e *env) close() {
	if e.conn != nil {
		_ = e.conn.Close()
	}
}

func (e *env) scheduler() *service.CampaignScheduler {
	return &service.CampaignScheduler{
		EngineRepo:  e.repos.Engine,
		Eligibility: e.repos.Eligibility,
		Events:      eventlog.NewRecorder(e.repos.Events, e.log),
		Logger:      e.log,
	}
}

func openEnv(ctx context.Context) (*env, error) {
	config.LoadDotEnv()
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logx.Init(cfg.LogLevel)
	repos, conn, err := app.OpenRepos(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, repos: repos, conn: conn, log: logx.L()}, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "jobctl",
		Short:         "Operator tooling for the lead ingestion and campaign job core",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(buildMigrateCommand())
	rootCmd.AddCommand(buildEngineCommand())
	rootCmd.AddCommand(buildJobsCommand())
	rootCmd.AddCommand(buildScheduleCommand())
	return rootCmd
}

func buildMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()
			if e.conn == nil {
				return fmt.Errorf("migrate needs STORE_DRIVER=%s", config.StoreDriverPostgres)
			}
			if err := db.Migrate(cmd.Context(), e.conn); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
			return nil
		},
	}
}

func buildEngineCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "engine",
		Short: "Inspect or change a campaign engine state",
	}

	get := &cobra.Command{
		Use:   "get <campaign-id>",
		Short: "Show the engine state of a campaign",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()
			st, err := e.scheduler().GetEngineState(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}

	var actor string
	set := &cobra.Command{
		Use:   "set <campaign-id> <RUNNING|PAUSED|STOPPED>",
		Short: "Set the engine state of a campaign",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()
			st, err := e.scheduler().SetEngineState(cmd.Context(), args[0], model.EngineStatus(args[1]), actor)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}
	set.Flags().StringVar(&actor, "actor", "jobctl", "operator recorded on the state change event")

	cmd.AddCommand(get, set)
	return cmd
}

func buildJobsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect tracked jobs",
	}

	get := &cobra.Command{
		Use:   "get <job-id>",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()
			job, err := e.repos.Jobs.GetByID(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), job)
		},
	}

	var status string
	var olderThan time.Duration
	stale := &cobra.Command{
		Use:   "stale",
		Short: "List jobs stuck in a status for longer than --older-than",
		RunE: func(cmd *cobra.Command, args []string) error {
			st := model.JobStatus(strings.ToUpper(status))
			if st.IsTerminal() {
				return fmt.Errorf("%s is terminal, jobs cannot be stale in it", st)
			}
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()
			if olderThan <= 0 {
				olderThan = e.cfg.StaleAfter
			}
			jobs, err := e.repos.Jobs.ListStale(cmd.Context(), st, time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), jobs)
		},
	}
	stale.Flags().StringVar(&status, "status", string(model.StatusProcessing), "job status to inspect")
	stale.Flags().DurationVar(&olderThan, "older-than", 0, "minimum time since the last update (default STALE_AFTER)")

	cmd.AddCommand(get, stale)
	return cmd
}

func buildScheduleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schedule <campaign-id>",
		Short: "Create the send jobs of a campaign now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()
			res, err := e.scheduler().ScheduleCampaignJobs(cmd.Context(), args[0])
			if res != nil {
				_ = printJSON(cmd.OutOrStdout(), res)
			}
			return err
		},
	}
}
