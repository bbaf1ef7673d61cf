/*
scenarios.go - Demo scenario loaders

PURPOSE:
	Populates the store with the sample catalog and scheme drafts from the
	presets package, driven through the same services the API uses, so a
	loaded scenario carries real approval logs and recorded payouts.

AVAILABLE SCENARIOS:

	catalog:         Sample products and dealers only
	active-schemes:  Every preset scheme active for the current month, with sales
	approval-queue:  Versions waiting at each workflow stage
	version-change:  Active v1 with an approved, higher-paying v2 ready to activate

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Save products and dealers
 3. Ingest drafts through the scheme factory
 4. Walk versions through submit / approve / activate
 5. Optionally record transactions

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "active-schemes"}

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - presets/: Sample catalog and drafts
  - handlers.go: Services the loaders call
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/incentive-engine/engine"
	"github.com/warp/incentive-engine/factory"
	"github.com/warp/incentive-engine/presets"
)

const (
	scenarioAuthor   = "scheme-manager"
	scenarioApprover = "finance-approver"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "catalog",
		Name:        "Catalog Only",
		Description: "Sample Galaxy products and six retail dealers, no schemes",
		Category:    "catalog",
	},
	{
		ID:          "active-schemes",
		Name:        "Active Schemes",
		Description: "Flat, percentage, slab, bundle, exchange and regional schemes active this month, with recorded sales",
		Category:    "payout",
	},
	{
		ID:          "approval-queue",
		Name:        "Approval Queue",
		Description: "Scheme versions in draft, pending approval, approved and rejected",
		Category:    "workflow",
	},
	{
		ID:          "version-change",
		Name:        "Version Change",
		Description: "S23 flat support v1 active, v2 at a higher amount approved and ready to activate",
		Category:    "workflow",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var load func(context.Context) error
	switch req.ScenarioID {
	case "catalog":
		load = h.seedCatalog
	case "active-schemes":
		load = h.loadActiveSchemesScenario
	case "approval-queue":
		load = h.loadApprovalQueueScenario
	case "version-change":
		load = h.loadVersionChangeScenario
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	if err := h.LoadScenarioByID(r.Context(), req.ScenarioID, load); err != nil {
		writeEngineError(w, fmt.Sprintf("Failed to load scenario %s", req.ScenarioID), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// LoadScenarioByID resets the store, runs load and records the scenario as
// current.
func (h *Handler) LoadScenarioByID(ctx context.Context, id string, load func(context.Context) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.currentScenario = ""
	if err := h.Store.Reset(ctx); err != nil {
		return fmt.Errorf("reset store: %w", err)
	}
	if err := load(ctx); err != nil {
		return err
	}
	h.currentScenario = id
	h.Logger.Info("scenario loaded", zap.String("scenario", id))
	return nil
}

// ResetDatabase clears all data.
// POST /api/scenarios/reset
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// scenarioPeriod is the calendar month containing today.
func (h *Handler) scenarioPeriod() (start, end string) {
	today := engine.DateOf(h.now())
	first := engine.NewDate(today.Year(), today.Month(), 1)
	return first.String(), first.AddMonths(1).AddDays(-1).String()
}

func (h *Handler) seedCatalog(ctx context.Context) error {
	for _, p := range presets.SampleProducts() {
		if err := h.Catalog.SaveProduct(ctx, p); err != nil {
			return fmt.Errorf("product %s: %w", p.ID, err)
		}
	}
	for _, d := range presets.SampleDealers() {
		if err := h.Catalog.SaveDealer(ctx, d); err != nil {
			return fmt.Errorf("dealer %s: %w", d.ID, err)
		}
	}
	return nil
}

func (h *Handler) loadActiveSchemesScenario(ctx context.Context) error {
	if err := h.seedCatalog(ctx); err != nil {
		return err
	}
	f, err := h.schemeFactory(ctx)
	if err != nil {
		return err
	}
	start, end := h.scenarioPeriod()
	for _, d := range presets.Drafts(start, end) {
		if _, err := h.publish(ctx, f, d.JSON); err != nil {
			return fmt.Errorf("scheme %s: %w", d.Key, err)
		}
	}

	today := engine.DateOf(h.now())
	products := presets.SampleProducts()
	price := make(map[string]decimal.Decimal, len(products))
	for _, p := range products {
		price[p.Code] = p.DealerPrice
	}
	line := func(code string, qty int) engine.TransactionLine {
		return engine.TransactionLine{ProductID: engine.ProductID(code), Quantity: qty, UnitPrice: price[code]}
	}

	sales := []engine.Transaction{
		{ID: "demo-croma-a54", Kind: engine.KindSale, DealerID: "CR001", Date: today,
			Lines: []engine.TransactionLine{line(presets.GalaxyA54, 3)}},
		{ID: "demo-reliance-ecosystem", Kind: engine.KindSale, DealerID: "RD001", Date: today,
			Lines: []engine.TransactionLine{
				line(presets.GalaxyS23Ultra, 1), line(presets.GalaxyWatch6, 1), line(presets.GalaxyBuds3Pro, 1),
			}},
		{ID: "demo-vijay-s23", Kind: engine.KindSale, DealerID: "VS001", Date: today,
			Lines: []engine.TransactionLine{line(presets.GalaxyS23, 4), line(presets.GalaxyTabS9, 2)}},
		{ID: "demo-sangeetha-upgrade", Kind: engine.KindExchange, DealerID: "SM001", Date: today,
			Lines:   []engine.TransactionLine{line(presets.GalaxyS23Plus, 1)},
			TradeIn: &engine.TradeIn{Description: "Galaxy S21", Value: decimal.NewFromInt(22000)}},
	}
	for _, tx := range sales {
		if _, err := h.Payouts.Record(ctx, tx); err != nil {
			return fmt.Errorf("transaction %s: %w", tx.ID, err)
		}
	}
	return nil
}

func (h *Handler) loadApprovalQueueScenario(ctx context.Context) error {
	if err := h.seedCatalog(ctx); err != nil {
		return err
	}
	f, err := h.schemeFactory(ctx)
	if err != nil {
		return err
	}
	start, end := h.scenarioPeriod()

	// draft only
	if _, err := f.Ingest(ctx, h.Workflow, []byte(presets.VolumeSlabJSON("s23u-volume", "S23 Ultra Volume", start, end, true))); err != nil {
		return err
	}

	// pending approval
	pending, err := f.Ingest(ctx, h.Workflow, []byte(presets.EcosystemBundleJSON("ecosystem", "Galaxy Ecosystem Bundle", start, end)))
	if err != nil {
		return err
	}
	if _, err := h.Workflow.Submit(ctx, pending.Ref(), scenarioAuthor, "bundle for the festive push"); err != nil {
		return err
	}

	// approved, not yet active
	approved, err := f.Ingest(ctx, h.Workflow, []byte(presets.UpgradeExchangeJSON("upgrade", "Galaxy Upgrade Program", start, end, presets.GalaxyS23Ultra, presets.GalaxyS23Plus)))
	if err != nil {
		return err
	}
	if _, err := h.Workflow.Submit(ctx, approved.Ref(), scenarioAuthor, ""); err != nil {
		return err
	}
	if _, err := h.Workflow.Decide(ctx, approved.Ref(), engine.DecisionApprove, scenarioApprover, "within budget"); err != nil {
		return err
	}

	// rejected
	rejected, err := f.Ingest(ctx, h.Workflow, []byte(presets.PercentageSupportJSON("tab-cashback", "Tab S9 Cashback", start, end, 12, presets.GalaxyTabS9)))
	if err != nil {
		return err
	}
	if _, err := h.Workflow.Submit(ctx, rejected.Ref(), scenarioAuthor, ""); err != nil {
		return err
	}
	_, err = h.Workflow.Decide(ctx, rejected.Ref(), engine.DecisionReject, scenarioApprover, "12% exceeds the tablet budget")
	return err
}

func (h *Handler) loadVersionChangeScenario(ctx context.Context) error {
	if err := h.seedCatalog(ctx); err != nil {
		return err
	}
	f, err := h.schemeFactory(ctx)
	if err != nil {
		return err
	}
	start, end := h.scenarioPeriod()

	if _, err := h.publish(ctx, f, presets.FlatSupportJSON("s23-flat", "S23 Special Support", start, end, 500, presets.GalaxyS23, presets.GalaxyS23Plus)); err != nil {
		return err
	}
	v2, err := f.Ingest(ctx, h.Workflow, []byte(presets.FlatSupportJSON("s23-flat", "S23 Special Support", start, end, 750, presets.GalaxyS23, presets.GalaxyS23Plus)))
	if err != nil {
		return err
	}
	if _, err := h.Workflow.Submit(ctx, v2.Ref(), scenarioAuthor, "raise support to 750"); err != nil {
		return err
	}
	_, err = h.Workflow.Decide(ctx, v2.Ref(), engine.DecisionApprove, scenarioApprover, "")
	return err
}

// publish ingests a draft and walks it to active.
func (h *Handler) publish(ctx context.Context, f *factory.SchemeFactory, draft string) (*engine.Scheme, error) {
	s, err := f.Ingest(ctx, h.Workflow, []byte(draft))
	if err != nil {
		return nil, err
	}
	ref := s.Ref()
	if _, err := h.Workflow.Submit(ctx, ref, scenarioAuthor, ""); err != nil {
		return nil, err
	}
	if _, err := h.Workflow.Decide(ctx, ref, engine.DecisionApprove, scenarioApprover, ""); err != nil {
		return nil, err
	}
	return h.Workflow.Activate(ctx, ref, scenarioApprover, "")
}

