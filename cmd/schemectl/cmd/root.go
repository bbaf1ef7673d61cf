// Package cmd provides the CLI commands for schemectl.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/incentive-engine/engine"
	"github.com/warp/incentive-engine/factory"
	"github.com/warp/incentive-engine/logging"
	"github.com/warp/incentive-engine/presets"
)

var (
	catalogFile string
	verbose     bool
	logger      = zap.NewNop()
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "schemectl",
	Short: "Validate, preview and compare incentive scheme drafts",
	Long: `schemectl works on JSON scheme drafts and transactions without a server.

Products and dealers come from --catalog, or the built-in sample catalog.

Examples:
  schemectl presets --start 2025-03-01 --end 2025-03-31 slab > slab.json
  schemectl validate slab.json
  schemectl calculate --scheme slab.json --tx sale.json
  schemectl simulate --tx march.json flat.json slab.json`,
	SilenceUsage:      true,
	PersistentPreRunE: initLogging,
}

// Execute runs the CLI
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&catalogFile, "catalog", "", `catalog JSON file ({"products": [...], "dealers": [...]})`)
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(calculateCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(presetsCmd)
}

func initLogging(cmd *cobra.Command, args []string) error {
	cfg := logging.DefaultConfig()
	cfg.Level = "warn"
	if verbose {
		cfg.Level = "debug"
	}
	l, err := logging.New(cfg)
	if err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	logger = l
	return nil
}

// =============================================================================
// SHARED INPUT
// =============================================================================

type catalog struct {
	Products []engine.Product `json:"products"`
	Dealers  []engine.Dealer  `json:"dealers"`
}

func (c catalog) productMap() map[engine.ProductID]engine.Product {
	out := make(map[engine.ProductID]engine.Product, len(c.Products))
	for _, p := range c.Products {
		out[p.ID] = p
	}
	return out
}

func (c catalog) dealerMap() map[engine.DealerID]engine.Dealer {
	out := make(map[engine.DealerID]engine.Dealer, len(c.Dealers))
	for _, d := range c.Dealers {
		out[d.ID] = d
	}
	return out
}

func loadCatalog() (catalog, error) {
	if catalogFile == "" {
		return catalog{Products: presets.SampleProducts(), Dealers: presets.SampleDealers()}, nil
	}
	var c catalog
	if err := readJSON(catalogFile, &c); err != nil {
		return catalog{}, err
	}
	logger.Debug("catalog loaded",
		zap.String("file", catalogFile),
		zap.Int("products", len(c.Products)),
		zap.Int("dealers", len(c.Dealers)))
	return c, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// readTransactions accepts a single transaction or an array of them.
func readTransactions(path string) ([]engine.Transaction, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var many []engine.Transaction
	if err := json.Unmarshal(data, &many); err == nil {
		return many, nil
	}
	var one engine.Transaction
	if err := json.Unmarshal(data, &one); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return []engine.Transaction{one}, nil
}

// loadSchemes parses draft files into schemes numbered as version 1.
func loadSchemes(c catalog, paths []string) ([]engine.Scheme, error) {
	f, err := factory.NewSchemeFactory(factory.NewCatalogIndex(c.Products))
	if err != nil {
		return nil, err
	}
	out := make([]engine.Scheme, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		s, err := f.ParseDraft(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		if s.ID == "" {
			s.ID = engine.SchemeID(p)
		}
		s.Version = 1
		out = append(out, s)
	}
	return out, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
