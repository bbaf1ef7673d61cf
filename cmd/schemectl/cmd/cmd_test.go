package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/incentive-engine/engine"
	"github.com/warp/incentive-engine/presets"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	catalogFile, verbose = "", false
	draftOnly = false
	calcSchemes, calcTxFile = nil, ""
	simTxFile, simFormat, simTargets, simDetailed = "", "table", "", false
	presetStart, presetEnd = "", ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func saleFile(t *testing.T, qty int) string {
	t.Helper()
	tx := engine.Transaction{
		ID:       "tx-1",
		Kind:     engine.KindSale,
		DealerID: "VS001",
		Date:     engine.NewDate(2025, 3, 12),
		Lines: []engine.TransactionLine{{
			ProductID: presets.GalaxyS23, Quantity: qty,
		}},
	}
	data, err := json.Marshal(tx)
	require.NoError(t, err)
	return writeFile(t, "sale.json", string(data))
}

func flatFile(t *testing.T, id string, amount float64) string {
	t.Helper()
	return writeFile(t, id+".json", presets.FlatSupportJSON(id, id, "2025-03-01", "2025-03-31", amount, presets.GalaxyS23))
}

// =============================================================================
// COMMANDS
// =============================================================================

func TestPresets_ListAndPrint(t *testing.T) {
	out, err := execute(t, "presets")
	require.NoError(t, err)
	assert.Contains(t, out, "bundle")
	assert.Contains(t, out, "regional")

	out, err = execute(t, "presets", "slab", "--start", "2025-03-01", "--end", "2025-03-31")
	require.NoError(t, err)
	assert.True(t, json.Valid([]byte(out)), out)
	assert.Contains(t, out, `"scheme_period_end": "2025-03-31"`)

	_, err = execute(t, "presets", "nope")
	assert.Error(t, err)
	_, err = execute(t, "presets", "--start", "2025-03-31", "--end", "2025-03-01")
	assert.Error(t, err)
}

func TestValidate_ReportsIssues(t *testing.T) {
	good := flatFile(t, "flat", 500)
	bad := writeFile(t, "bad.json", `{
		"scheme_name": "Backwards",
		"scheme_period_start": "2025-03-31",
		"scheme_period_end": "2025-03-01",
		"products": [{"product_code": "SM-S911B", "payout_type": "fixed", "payout_amount": 100}]
	}`)

	out, err := execute(t, "validate", good)
	require.NoError(t, err)
	assert.Contains(t, out, "ok (1 products")

	out, err = execute(t, "validate", good, bad)
	require.Error(t, err)
	assert.Contains(t, out, "issue(s)")
	assert.Contains(t, err.Error(), "1 of 2")
}

func TestCalculate_SingleTransaction(t *testing.T) {
	// GIVEN: Flat 500 per S23 and a sale of 2 at the catalog price
	// WHEN: calculate runs
	// THEN: The breakdown pays 1000

	out, err := execute(t, "calculate", "--scheme", flatFile(t, "flat", 500), "--tx", saleFile(t, 2))
	require.NoError(t, err)

	var result engine.PayoutResult
	require.NoError(t, json.Unmarshal([]byte(out), &result), out)
	assert.Equal(t, engine.OutcomeCalculated, result.Outcome)
	assert.Equal(t, "1000", result.Total.String())
}

func TestCalculate_SchemesStack(t *testing.T) {
	out, err := execute(t, "calculate",
		"--scheme", flatFile(t, "a", 500),
		"--scheme", flatFile(t, "b", 250),
		"--tx", saleFile(t, 2))
	require.NoError(t, err)

	var result engine.PayoutResult
	require.NoError(t, json.Unmarshal([]byte(out), &result), out)
	assert.Equal(t, "1500", result.Total.String())
	assert.Len(t, result.Schemes, 2)
}

func TestSimulate_TableNamesBest(t *testing.T) {
	out, err := execute(t, "simulate", "--tx", saleFile(t, 4), flatFile(t, "flat-500", 500), flatFile(t, "flat-750", 750))
	require.NoError(t, err)
	assert.Contains(t, out, "3000.00")
	assert.Contains(t, out, "best: flat-750")

	_, err = execute(t, "simulate", "--tx", saleFile(t, 4), "--format", "xml", flatFile(t, "flat-500", 500))
	assert.Error(t, err)
}

func TestCatalogFile_Overrides(t *testing.T) {
	catalog := writeFile(t, "catalog.json", `{"products": [], "dealers": []}`)

	out, err := execute(t, "validate", "--catalog", catalog, flatFile(t, "flat", 500))
	require.Error(t, err)
	assert.Contains(t, out, "unknown_product")
}
