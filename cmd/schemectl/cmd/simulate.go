// Package cmd - simulate command
package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/warp/incentive-engine/engine"
)

var (
	simTxFile   string
	simFormat   string
	simTargets  string
	simDetailed bool
)

// simulateCmd represents the simulate command
var simulateCmd = &cobra.Command{
	Use:   "simulate <draft.json>...",
	Short: "Compare candidate drafts over the same hypothetical sales",
	Long: `Run each draft alone over the transactions and print what it would cost:
total and net incentive, incentive per unit and as a share of revenue.
The best candidate is the one paying the most.

Examples:
  schemectl simulate --tx march.json flat.json slab.json
  schemectl simulate --tx march.json --format json --details slab.json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSimulate,
}

func init() {
	simulateCmd.Flags().StringVarP(&simTxFile, "tx", "t", "", "transaction JSON file (object or array)")
	simulateCmd.Flags().StringVarP(&simFormat, "format", "f", "table", "output format (table, json)")
	simulateCmd.Flags().StringVar(&simTargets, "targets", "", "dealer targets JSON file")
	simulateCmd.Flags().BoolVarP(&simDetailed, "details", "d", false, "include per-transaction results (json only)")
	_ = simulateCmd.MarkFlagRequired("tx")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	c, err := loadCatalog()
	if err != nil {
		return err
	}
	schemes, err := loadSchemes(c, args)
	if err != nil {
		return err
	}
	txs, err := readTransactions(simTxFile)
	if err != nil {
		return err
	}
	var targets []engine.DealerTarget
	if simTargets != "" {
		if err := readJSON(simTargets, &targets); err != nil {
			return err
		}
	}

	report, err := engine.NewSimulator().Simulate(engine.SimulationInput{
		Transactions: txs,
		Candidates:   schemes,
		Dealers:      c.dealerMap(),
		Products:     c.productMap(),
		Targets:      targets,
	})
	if err != nil {
		return err
	}

	switch simFormat {
	case "json":
		if !simDetailed {
			for i := range report.Candidates {
				report.Candidates[i].Results = nil
			}
		}
		return printJSON(cmd.OutOrStdout(), report)
	case "table":
		printReport(cmd.OutOrStdout(), report)
		return nil
	default:
		return fmt.Errorf("unknown format %q (use table or json)", simFormat)
	}
}

func printReport(w io.Writer, report *engine.SimulationReport) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "SCHEME\tPAID\tINELIGIBLE\tUNITS\tTOTAL\tNET\tPER UNIT\tRATE %\t")
	for _, c := range report.Candidates {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\t%s\t%s\t%s\t\n",
			c.Scheme.SchemeID, c.Paid, c.Ineligible, c.Units,
			c.TotalIncentive.StringFixed(2), c.NetIncentive.StringFixed(2),
			c.IncentivePerUnit.StringFixed(2), c.IncentiveRate.StringFixed(2))
	}
	tw.Flush()
	if report.Best != nil {
		fmt.Fprintf(w, "\nbest: %s\n", report.Best.SchemeID)
	}
}
