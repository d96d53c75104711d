package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/arklim/social-platform-growth/internal/core/domain"
	"github.com/arklim/social-platform-growth/internal/infra/config"
	"github.com/arklim/social-platform-growth/internal/infra/database"
	"github.com/arklim/social-platform-growth/internal/infra/security"
)

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one decay sweep over ENTRY, MID and TOP tier users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			report, err := rt.services.Decay.RunSweep(cmd.Context())
			if err != nil {
				return fmt.Errorf("sweep: %w", err)
			}
			return renderSweep(cmd.OutOrStdout(), report)
		},
	}
}

func reviewsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reviews",
		Short: "Inspect and adjudicate the referral review queue",
	}
	cmd.AddCommand(reviewsListCmd())
	cmd.AddCommand(reviewDecisionCmd("approve", "Verify a queued referral and credit the referrer"))
	cmd.AddCommand(reviewDecisionCmd("reject", "Reject a queued referral"))
	return cmd
}

func reviewsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List PENDING referrals awaiting review, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			rt, err := openRuntime(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			entries, err := rt.services.Reviews.ListPending(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("list reviews: %w", err)
			}
			return renderQueue(cmd.OutOrStdout(), entries)
		},
	}
	cmd.Flags().IntP("limit", "n", 50, "Maximum entries")
	return cmd
}

func reviewDecisionCmd(action, short string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   action + " <referral-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reviewer, _ := cmd.Flags().GetString("reviewer")
			reason, _ := cmd.Flags().GetString("reason")

			rt, err := openRuntime(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			decision := domain.ReviewDecision{ReferralID: args[0], ReviewerID: reviewer, Reason: reason}
			var outcome domain.ReviewOutcome
			if action == "approve" {
				outcome, err = rt.services.Reviews.Approve(cmd.Context(), decision)
			} else {
				outcome, err = rt.services.Reviews.Reject(cmd.Context(), decision)
			}
			if err != nil {
				return fmt.Errorf("%s %s: %w", action, args[0], err)
			}
			return renderOutcome(cmd.OutOrStdout(), outcome)
		},
	}
	cmd.Flags().StringP("reviewer", "r", "", "Reviewer id recorded on the referral")
	cmd.Flags().String("reason", "", "Optional justification")
	_ = cmd.MarkFlagRequired("reviewer")
	return cmd
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user <user-id>",
		Short: "Show a user's lifecycle state and recent transitions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			history, _ := cmd.Flags().GetInt("history")

			rt, err := openRuntime(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			user, err := rt.services.Lifecycle.Snapshot(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("load user: %w", err)
			}
			transitions, err := rt.services.Lifecycle.History(cmd.Context(), args[0], history)
			if err != nil {
				return fmt.Errorf("load history: %w", err)
			}
			return renderUser(cmd.OutOrStdout(), *user, transitions)
		},
	}
	cmd.Flags().Int("history", 20, "Number of transitions to show")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the growth schema to the configured database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			log, err := commandLogger(cmd, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			pool, err := database.NewPostgresPool(cmd.Context(), cfg.Postgres, log)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer pool.Close()

			if err := database.Migrate(cmd.Context(), pool, log); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Issue an admin bearer token for the review surface",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ttl, _ := cmd.Flags().GetDuration("ttl")

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			manager, err := security.NewAdminTokenManager(cfg.JWT)
			if err != nil {
				return err
			}
			token, err := manager.Issue(args[0], ttl)
			if err != nil {
				return err
			}
			log, err := commandLogger(cmd, cfg)
			if err != nil {
				return err
			}
			log.Info("issued admin token", zap.String("subject", args[0]), zap.Duration("ttl", ttl))
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().Duration("ttl", time.Hour, "Token lifetime")
	return cmd
}
