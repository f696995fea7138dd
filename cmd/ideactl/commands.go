package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ZanzyTHEbar/idea-forge/internal/app"
	"github.com/ZanzyTHEbar/idea-forge/internal/config"
	"github.com/ZanzyTHEbar/idea-forge/internal/ideas"
	"github.com/ZanzyTHEbar/idea-forge/internal/types"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "ideactl",
		Short:         "Maintenance jobs for idea-forge",
		Long:          `ideactl repairs idea scores, rebuilds influence totals, backfills module embeddings and sets daily challenges.`,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv("IDEAFORGE_CONFIG"), "path to a config file")

	open := func() (*app.App, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		return app.New(cfg, nil)
	}

	root.AddCommand(
		newRepairCmd(open),
		newRecomputeCmd(open),
		newBackfillCmd(open),
		newChallengeCmd(open),
	)
	return root
}

type opener func() (*app.App, error)

// run opens the app, runs job with a context cancelled on SIGINT/SIGTERM and
// prints its result as JSON
func run(cmd *cobra.Command, open opener, job func(context.Context, *app.App) (interface{}, error)) error {
	a, err := open()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := job(ctx, a)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func newRepairCmd(open opener) *cobra.Command {
	var opts ideas.RepairOptions

	cmd := &cobra.Command{
		Use:   "repair-scores",
		Short: "Give ideas with a missing or zero score a guaranteed score",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, open, func(ctx context.Context, a *app.App) (interface{}, error) {
				return a.Repairer.FixZeroScores(ctx, opts)
			})
		},
	}
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "report without writing")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum ideas to scan (0 for all)")
	return cmd
}

func newRecomputeCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "recompute-influence",
		Short: "Rebuild every user's influence totals from the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, open, func(ctx context.Context, a *app.App) (interface{}, error) {
				n, err := a.Influence.RecomputeAll(ctx)
				if err != nil {
					return nil, err
				}
				return map[string]int{"users": n}, nil
			})
		},
	}
}

func newBackfillCmd(open opener) *cobra.Command {
	var req types.BackfillRequest

	cmd := &cobra.Command{
		Use:   "backfill-embeddings",
		Short: "Embed modules that have no vector yet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, open, func(ctx context.Context, a *app.App) (interface{}, error) {
				return a.BackfillEmbeddings(ctx, req)
			})
		},
	}
	cmd.Flags().IntVar(&req.BatchSize, "batch-size", 0, "modules per embedding request (0 for the configured size)")
	cmd.Flags().IntVar(&req.Limit, "limit", 0, "maximum modules to embed (0 for all)")
	return cmd
}

func newChallengeCmd(open opener) *cobra.Command {
	var challenge types.DailyChallenge

	cmd := &cobra.Command{
		Use:   "set-challenge",
		Short: "Create or replace a day's challenge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if challenge.Keyword == "" {
				return fmt.Errorf("--keyword is required")
			}
			return run(cmd, open, func(ctx context.Context, a *app.App) (interface{}, error) {
				if err := a.Streaks.SetChallenge(ctx, &challenge); err != nil {
					return nil, err
				}
				return challenge, nil
			})
		},
	}
	cmd.Flags().StringVar(&challenge.Date, "date", "", "day in YYYY-MM-DD")
	cmd.Flags().StringVar(&challenge.Keyword, "keyword", "", "keyword that counts as participation")
	cmd.Flags().StringVar(&challenge.Theme, "theme", "", "tag that counts as participation")
	cmd.Flags().StringVar(&challenge.Title, "title", "", "")
	cmd.Flags().StringVar(&challenge.Description, "description", "", "")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}
