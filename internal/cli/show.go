package cli

import (
	"compensation-engine/internal/model"
	"compensation-engine/internal/query"
	"compensation-engine/internal/repository"
	"github.com/spf13/cobra"
)

const (
	pageFlagName       = "page"
	pageSizeFlagName   = "page-size"
	categoryFlagName   = "category"
	purposeFlagName    = "purpose"
	incomeTypeFlagName = "income-type"
	statusFlagName     = "status"
	allFlagName        = "all"
)

func init() {
	for _, c := range []*cobra.Command{showTransactionsCmd, showIncomesCmd, showParkedCmd} {
		c.Flags().Int(pageFlagName, 1, "Page number, starting at 1")
		c.Flags().Int(pageSizeFlagName, query.DefaultPageSize, "Rows per page")
	}
	showTransactionsCmd.Flags().String(categoryFlagName, "", "Only rows of this balance category")
	showTransactionsCmd.Flags().String(purposeFlagName, "", "Only rows with this purpose")
	showTransactionsCmd.Flags().String(incomeTypeFlagName, "", "Only rows of this income type")
	showIncomesCmd.Flags().String(incomeTypeFlagName, "", "Only incomes of this type")
	showIncomesCmd.Flags().String(statusFlagName, "", "Only incomes in this status")
	showParkedCmd.Flags().Bool(allFlagName, false, "Include resolved events")

	showCmd.AddCommand(
		showWalletCmd,
		showTransactionsCmd,
		showIncomesCmd,
		showTeamCmd,
		showRankCmd,
		showRewardsCmd,
		showParkedCmd,
	)
	rootCmd.AddCommand(showCmd)
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Read balances, earnings, volume and ranks",
}

func pagination(cmd *cobra.Command) query.Pagination {
	page, _ := cmd.Flags().GetInt(pageFlagName)
	size, _ := cmd.Flags().GetInt(pageSizeFlagName)
	return query.Pagination{Page: page, PageSize: size}
}

// userQuery builds a read command taking a user id.
func userQuery(use, short string, run func(a *app, cmd *cobra.Command, userID uint) (interface{}, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " USER_ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseID(args[0], "user id")
			if err != nil {
				return err
			}
			a, err := newApp(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()

			out, err := run(a, cmd, userID)
			if err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
}

var showWalletCmd = userQuery("wallet", "Wallet balances",
	func(a *app, cmd *cobra.Command, userID uint) (interface{}, error) {
		return a.query.WalletBalances(cmd.Context(), userID)
	})

var showTransactionsCmd = userQuery("transactions", "Ledger rows, newest first",
	func(a *app, cmd *cobra.Command, userID uint) (interface{}, error) {
		category, _ := cmd.Flags().GetString(categoryFlagName)
		purpose, _ := cmd.Flags().GetString(purposeFlagName)
		incomeType, _ := cmd.Flags().GetString(incomeTypeFlagName)
		return a.query.Transactions(cmd.Context(), repository.TransactionFilter{
			UserID:     userID,
			Category:   model.Category(category),
			Purpose:    model.Purpose(purpose),
			IncomeType: model.IncomeType(incomeType),
		}, pagination(cmd))
	})

var showIncomesCmd = userQuery("incomes", "Income history, newest first",
	func(a *app, cmd *cobra.Command, userID uint) (interface{}, error) {
		incomeType, _ := cmd.Flags().GetString(incomeTypeFlagName)
		status, _ := cmd.Flags().GetString(statusFlagName)
		return a.query.Incomes(cmd.Context(), repository.IncomeFilter{
			UserID:     userID,
			IncomeType: model.IncomeType(incomeType),
			Status:     model.IncomeStatus(status),
		}, pagination(cmd))
	})

var showTeamCmd = userQuery("team", "Personal, team and leg volume",
	func(a *app, cmd *cobra.Command, userID uint) (interface{}, error) {
		return a.query.TeamBV(cmd.Context(), userID)
	})

var showRankCmd = userQuery("rank", "Current rank and progress to the next",
	func(a *app, cmd *cobra.Command, userID uint) (interface{}, error) {
		return a.query.RankProgress(cmd.Context(), userID)
	})

var showRewardsCmd = userQuery("rewards", "One-time and monthly rank rewards",
	func(a *app, cmd *cobra.Command, userID uint) (interface{}, error) {
		return a.query.Rewards(cmd.Context(), userID)
	})

var showParkedCmd = &cobra.Command{
	Use:   "parked",
	Short: "Events waiting for manual review",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool(allFlagName)
		a, err := newApp(cmd, false)
		if err != nil {
			return err
		}
		defer a.Close()

		events, err := a.query.ParkedEvents(cmd.Context(), !all, pagination(cmd))
		if err != nil {
			return err
		}
		return printJSON(cmd, events)
	},
}
