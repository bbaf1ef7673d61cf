// Package cmd - calculate command
package cmd

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/incentive-engine/engine"
)

var (
	calcSchemes []string
	calcTxFile  string
)

// calculateCmd represents the calculate command
var calculateCmd = &cobra.Command{
	Use:   "calculate",
	Short: "Compute the payout breakdown of transactions under draft schemes",
	Long: `Treat the given drafts as the active schemes and compute each
transaction's payout. Transactions are evaluated on their own; cumulative
slabs see only the earlier transactions in the same file.

Examples:
  schemectl calculate --scheme flat.json --tx sale.json
  schemectl calculate --scheme flat.json --scheme bundle.json --tx march.json`,
	Args: cobra.NoArgs,
	RunE: runCalculate,
}

func init() {
	calculateCmd.Flags().StringArrayVarP(&calcSchemes, "scheme", "s", nil, "scheme draft file (repeatable)")
	calculateCmd.Flags().StringVarP(&calcTxFile, "tx", "t", "", "transaction JSON file (object or array)")
	_ = calculateCmd.MarkFlagRequired("scheme")
	_ = calculateCmd.MarkFlagRequired("tx")
}

func runCalculate(cmd *cobra.Command, args []string) error {
	c, err := loadCatalog()
	if err != nil {
		return err
	}
	schemes, err := loadSchemes(c, calcSchemes)
	if err != nil {
		return err
	}
	txs, err := readTransactions(calcTxFile)
	if err != nil {
		return err
	}

	results, err := engine.NewSimulator().Replay(engine.SimulationInput{
		Transactions: txs,
		Candidates:   schemes,
		Dealers:      c.dealerMap(),
		Products:     c.productMap(),
	})
	if err != nil {
		return err
	}
	for _, r := range results {
		logger.Debug("payout computed",
			zap.String("transaction_id", string(r.TransactionID)),
			zap.String("outcome", string(r.Outcome)),
			zap.String("total", r.Total.String()))
	}
	if len(results) == 1 {
		return printJSON(cmd.OutOrStdout(), results[0])
	}
	if err := printJSON(cmd.OutOrStdout(), results); err != nil {
		return err
	}
	fmt.Fprintln(cmd.ErrOrStderr(), summarize(results))
	return nil
}

func summarize(results []engine.PayoutResult) string {
	var paid int
	total := decimal.Zero
	for _, r := range results {
		if r.Outcome == engine.OutcomeCalculated {
			paid++
		}
		total = total.Add(r.Total)
	}
	return fmt.Sprintf("%d transactions, %d paid, total %s", len(results), paid, total.StringFixed(2))
}
