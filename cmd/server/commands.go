package main

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/payroll-engine/core"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/transition"
)

// =============================================================================
// TRANSITION
// =============================================================================

func newTransitionCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "transition",
		Short: "Run the probation-completion batch for one day",
		RunE: func(cmd *cobra.Command, _ []string) error {
			asOf := core.Today()
			if date != "" {
				d, err := core.ParseDate(date)
				if err != nil {
					return err
				}
				asOf = d
			}

			a, err := openApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.close()

			rep, err := transition.NewProcessor(a.store, a.cfg.TransitionConcurrency, a.logger).Run(cmd.Context(), asOf)
			if rep != nil {
				r := rep.Run
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %d candidates, %d passed, %d skipped, %d failed\n",
					r.AsOf, r.Status, r.Candidates, r.Passed, r.Skipped, r.Failed)
				for _, e := range r.Errors {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", e)
				}
			}
			if err != nil {
				return err
			}
			if rep.Run.Failed > 0 {
				return fmt.Errorf("%d employments failed to transition", rep.Run.Failed)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "day to process, YYYY-MM-DD (default today)")
	return cmd
}

// =============================================================================
// PAYROLL
// =============================================================================

func newPayrollCmd() *cobra.Command {
	var (
		employment  string
		period      string
		bonus       string
		recalculate bool
	)
	cmd := &cobra.Command{
		Use:   "payroll",
		Short: "Generate payroll records for one employment and month",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pp, err := core.ParsePayPeriod(period)
			if err != nil {
				return err
			}
			in := payroll.Input{Period: pp, Bonus: decimal.Zero, Recalculate: recalculate}
			if bonus != "" {
				if in.Bonus, err = decimal.NewFromString(bonus); err != nil {
					return fmt.Errorf("invalid bonus %q: %w", bonus, err)
				}
			}

			a, err := openApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.close()

			res, err := payroll.NewGenerator(a.store, a.logger).Generate(cmd.Context(), core.EmploymentID(employment), in)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s revision %d: salary %s, annual gross %s, monthly tax %s\n",
				res.EmploymentID, res.Period, res.Revision,
				res.Salary.Total.StringFixed(core.MoneyPlaces),
				res.AnnualGross.StringFixed(core.MoneyPlaces),
				res.Tax.Monthly.StringFixed(core.MoneyPlaces))
			for _, r := range res.Records {
				fmt.Fprintf(out, "  %-20s fte %-5s gross %12s net %12s employer cost %12s\n",
					r.FundingSourceID, r.FTE,
					r.GrossSalary.StringFixed(core.MoneyPlaces),
					r.NetSalary().StringFixed(core.MoneyPlaces),
					r.EmployerCost().StringFixed(core.MoneyPlaces))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&employment, "employment", "", "employment id")
	cmd.Flags().StringVar(&period, "period", "", "pay period, YYYY-MM")
	cmd.Flags().StringVar(&bonus, "bonus", "", "bonus paid this month")
	cmd.Flags().BoolVar(&recalculate, "recalculate", false, "write a new revision when the month already exists")
	_ = cmd.MarkFlagRequired("employment")
	_ = cmd.MarkFlagRequired("period")
	return cmd
}

// =============================================================================
// TAX
// =============================================================================

func newTaxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tax",
		Short: "Manage tax reference data",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "import <file>",
		Short: "Replace every year found in a YAML or JSON rules document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.importTaxRules(cmd.Context(), args[0]); err != nil {
				return err
			}
			a.logger.Debug("import finished", zap.String("path", args[0]))
			return nil
		},
	})
	return cmd
}
