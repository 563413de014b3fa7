package cli

import (
	"time"

	"compensation-engine/internal/engine"
	"compensation-engine/internal/model"
	"compensation-engine/internal/plan"
	"compensation-engine/internal/rewards"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const (
	monthFlagName    = "month"
	yearFlagName     = "year"
	reasonFlagName   = "reason"
	actorFlagName    = "actor"
	payBonusFlagName = "pay-bonus"
	batchFlagName    = "batch-size"
)

func init() {
	rootCmd.AddCommand(migrateCmd, planCmd, rewardsCmd, ranksCmd, incomeCmd, depositCmd)

	planCmd.AddCommand(planValidateCmd)

	for _, c := range []*cobra.Command{rewardsGenerateCmd, rewardsClubCmd, rewardsProcessCmd, rewardsRequeueCmd} {
		c.Flags().Int(monthFlagName, 0, "Month of the period (default: previous month)")
		c.Flags().Int(yearFlagName, 0, "Year of the period (default: year of the previous month)")
	}
	rewardsCmd.AddCommand(rewardsGenerateCmd, rewardsClubCmd, rewardsProcessCmd, rewardsRequeueCmd, rewardsPaidCmd)

	ranksSweepCmd.Flags().Int(batchFlagName, 0, "Users per page (default: SCHEDULER_BATCH_SIZE)")
	ranksAssignCmd.Flags().String(actorFlagName, "", "Operator performing the change")
	ranksAssignCmd.Flags().String(reasonFlagName, "", "Reason recorded in the rank history")
	ranksAssignCmd.Flags().Bool(payBonusFlagName, false, "Pay the one-time bonus of the rank if not paid before")
	_ = ranksAssignCmd.MarkFlagRequired(actorFlagName)
	ranksCmd.AddCommand(ranksSweepCmd, ranksAssignCmd)

	incomeRejectCmd.Flags().String(reasonFlagName, "", "Rejection reason")
	_ = incomeRejectCmd.MarkFlagRequired(reasonFlagName)
	incomeCmd.AddCommand(incomeApproveCmd, incomeRejectCmd, incomePaidCmd)

	depositRejectCmd.Flags().String(reasonFlagName, "", "Rejection reason")
	_ = depositRejectCmd.MarkFlagRequired(reasonFlagName)
	depositCmd.AddCommand(depositRejectCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, false)
		if err != nil {
			return err
		}
		defer a.Close()
		a.log.Info("schema is up to date")
		return nil
	},
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Inspect compensation plans",
}

var planValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate a plan file and print it",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _ := loadConfig(cmd)
		path := cfg.Plan.Path
		if len(args) == 1 {
			path = args[0]
		}
		p, err := plan.Load(path)
		if err != nil {
			return err
		}
		return printJSON(cmd, p)
	},
}

var rewardsCmd = &cobra.Command{
	Use:   "rewards",
	Short: "Run the monthly leadership reward batches",
}

// period reads --month and --year, defaulting to the previous month.
func period(cmd *cobra.Command, now time.Time) (rewards.Period, error) {
	p := rewards.PreviousMonth(now)
	if m, _ := cmd.Flags().GetInt(monthFlagName); m != 0 {
		p.Month = m
	}
	if y, _ := cmd.Flags().GetInt(yearFlagName); y != 0 {
		p.Year = y
	}
	return p, p.Validate()
}

func rewardsBatch(use, short string, run func(*rewards.Service, *cobra.Command, rewards.Period) (int, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := period(cmd, time.Now())
			if err != nil {
				return err
			}
			a, err := newApp(cmd, true)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := run(a.rewards, cmd, p)
			a.log.WithFields(logrus.Fields{
				"command": use,
				"period":  p.String(),
				"rewards": n,
			}).Info("reward batch finished")
			return err
		},
	}
}

var rewardsGenerateCmd = rewardsBatch("generate", "Create pending rewards for the period",
	func(s *rewards.Service, cmd *cobra.Command, p rewards.Period) (int, error) {
		return s.Generate(cmd.Context(), p)
	})

var rewardsClubCmd = rewardsBatch("club", "Evaluate club tiers and create pending club bonuses for the period",
	func(s *rewards.Service, cmd *cobra.Command, p rewards.Period) (int, error) {
		return s.GenerateClub(cmd.Context(), p)
	})

var rewardsProcessCmd = rewardsBatch("process", "Pay the pending rewards of the period",
	func(s *rewards.Service, cmd *cobra.Command, p rewards.Period) (int, error) {
		return s.Process(cmd.Context(), p)
	})

var rewardsRequeueCmd = rewardsBatch("requeue", "Move failed rewards of the period back to pending",
	func(s *rewards.Service, cmd *cobra.Command, p rewards.Period) (int, error) {
		return s.Requeue(cmd.Context(), p)
	})

var rewardsPaidCmd = &cobra.Command{
	Use:   "paid REWARD_ID",
	Short: "Mark a processed reward as paid out",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0], "reward id")
		if err != nil {
			return err
		}
		a, err := newApp(cmd, false)
		if err != nil {
			return err
		}
		defer a.Close()

		r, err := a.rewards.MarkPaid(cmd.Context(), id)
		if err != nil {
			return err
		}
		return printJSON(cmd, r)
	},
}

var ranksCmd = &cobra.Command{
	Use:   "ranks",
	Short: "Evaluate and override ranks",
}

var ranksSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Re-evaluate the rank of every active user",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, true)
		if err != nil {
			return err
		}
		defer a.Close()

		batch, _ := cmd.Flags().GetInt(batchFlagName)
		if batch <= 0 {
			batch = a.cfg.Scheduler.BatchSize
		}
		changed, err := a.engine.SweepRanks(cmd.Context(), batch)
		a.log.WithField("changed", changed).Info("rank sweep finished")
		return err
	},
}

var ranksAssignCmd = &cobra.Command{
	Use:   "assign USER_ID RANK_CODE",
	Short: "Set a user's rank manually",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := parseID(args[0], "user id")
		if err != nil {
			return err
		}
		actor, _ := cmd.Flags().GetString(actorFlagName)
		reason, _ := cmd.Flags().GetString(reasonFlagName)
		payBonus, _ := cmd.Flags().GetBool(payBonusFlagName)

		a, err := newApp(cmd, true)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.engine.AssignRank(cmd.Context(), engine.RankAssignment{
			UserID:   userID,
			RankCode: args[1],
			Actor:    actor,
			Reason:   reason,
			PayBonus: payBonus,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd, res)
	},
}

var incomeCmd = &cobra.Command{
	Use:   "income",
	Short: "Move incomes through their review states",
}

var incomeApproveCmd = incomeTransition("approve", "Approve a pending income and credit it",
	func(a *app, cmd *cobra.Command, id uint) (*model.Income, error) {
		return a.engine.ApproveIncome(cmd.Context(), id)
	})

var incomeRejectCmd = incomeTransition("reject", "Reject an income, reversing its credit if posted",
	func(a *app, cmd *cobra.Command, id uint) (*model.Income, error) {
		reason, _ := cmd.Flags().GetString(reasonFlagName)
		return a.engine.RejectIncome(cmd.Context(), id, reason)
	})

var incomePaidCmd = incomeTransition("paid", "Mark an approved income as paid out",
	func(a *app, cmd *cobra.Command, id uint) (*model.Income, error) {
		return a.engine.MarkIncomePaid(cmd.Context(), id)
	})

func incomeTransition(use, short string, run func(a *app, cmd *cobra.Command, id uint) (*model.Income, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " INCOME_ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "income id")
			if err != nil {
				return err
			}
			a, err := newApp(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()

			income, err := run(a, cmd, id)
			if err != nil {
				return err
			}
			return printJSON(cmd, income)
		},
	}
}

var depositCmd = &cobra.Command{
	Use:   "deposit",
	Short: "Correct applied deposits",
}

var depositRejectCmd = &cobra.Command{
	Use:   "reject EVENT_ID",
	Short: "Reverse the credit of a deposit event",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString(reasonFlagName)
		a, err := newApp(cmd, false)
		if err != nil {
			return err
		}
		defer a.Close()

		tx, err := a.engine.RejectDeposit(cmd.Context(), args[0], reason)
		if err != nil {
			return err
		}
		return printJSON(cmd, tx)
	},
}
