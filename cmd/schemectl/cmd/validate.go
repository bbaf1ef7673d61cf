// Package cmd - validate command
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/warp/incentive-engine/engine"
	"github.com/warp/incentive-engine/factory"
)

var draftOnly bool

// validateCmd represents the validate command
var validateCmd = &cobra.Command{
	Use:   "validate <draft.json>...",
	Short: "Check scheme drafts against the schema and submit rules",
	Long: `Parse each draft and run the checks a version must pass before it can be
submitted for approval. Every issue is listed; the command fails if any
draft has one.

Examples:
  schemectl validate flat.json slab.json
  schemectl validate --draft-only work-in-progress.json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&draftOnly, "draft-only", false, "apply only the checks needed to save a draft")
}

func runValidate(cmd *cobra.Command, args []string) error {
	c, err := loadCatalog()
	if err != nil {
		return err
	}
	f, err := factory.NewSchemeFactory(factory.NewCatalogIndex(c.Products))
	if err != nil {
		return err
	}
	level := engine.LevelSubmit
	if draftOnly {
		level = engine.LevelDraft
	}

	out := cmd.OutOrStdout()
	failed := 0
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		s, err := f.ParseDraft(data)
		if err == nil {
			err = engine.ValidateScheme(s, level, c.productMap())
		}

		var verr *engine.ValidationError
		switch {
		case err == nil:
			fmt.Fprintf(out, "%s: ok (%d products, %d bundles, %d rules)\n", path, len(s.Products), len(s.Bundles), len(s.Rules))
		case errors.As(err, &verr):
			failed++
			fmt.Fprintf(out, "%s: %d issue(s)\n", path, len(verr.Issues))
			for _, is := range verr.Issues {
				fmt.Fprintf(out, "  %s [%s] %s\n", is.Field, is.Code, is.Message)
			}
		default:
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d drafts failed validation", failed, len(args))
	}
	return nil
}
