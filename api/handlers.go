/*
handlers.go - HTTP API handlers for the incentive engine

PURPOSE:
  Exposes the engine services over REST for the dashboard. Handlers parse
  the request, call one service method and serialise the result; all
  business rules live in the engine package.

ENDPOINTS:
  Schemes:
    GET    /api/schemes                              List versions (?state=, ?scheme_id=)
    POST   /api/schemes                              Ingest a JSON draft
    GET    /api/schemes/{id}/active                  Active snapshot
    GET    /api/schemes/{id}/versions/{v}            Version snapshot
    PUT    /api/schemes/{id}/versions/{v}            Edit a draft
    GET    /api/schemes/{id}/versions/{v}/draft      Export as JSON draft
    GET    /api/schemes/{id}/versions/{v}/approvals  Approval log
    POST   /api/schemes/{id}/versions/{v}/{action}   submit|approve|reject|activate|deactivate|revise
    GET    /api/approvals/pending                    Versions awaiting a decision

  Transactions:
    GET    /api/transactions                 Recent ledger (?limit=)
    POST   /api/transactions                 Record a sale or exchange
    POST   /api/transactions/preview         Payout if recorded now
    GET    /api/transactions/{id}/payout     Stored breakdown
    POST   /api/transactions/{id}/reverse    Correction

  Catalog:
    GET/POST /api/products, /api/dealers, /api/targets
    GET    /api/dealers/{id}/statement       Payout statement (?from=&to=)

  Analysis:
    POST   /api/simulate                     Compare candidate schemes
    POST   /api/recalculate                  Replay stored payouts

ERROR HANDLING:
  writeEngineError maps engine errors to statuses:
  - 400: *ValidationError (issues listed), outside validity
  - 404: IsNotFound
  - 409: illegal transition, duplicate, already reversed, immutable product,
         concurrent modification (retryable: true)
  - 500: anything else

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/incentive-engine/engine"
	"github.com/warp/incentive-engine/factory"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is the repository the API runs on. Reset backs the demo scenarios.
type Store interface {
	engine.Repository
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     Store
	Workflow  *engine.WorkflowService
	Payouts   *engine.PayoutService
	Catalog   *engine.CatalogService
	Simulator *engine.Simulator
	Metrics   *Metrics
	Logger    *zap.Logger

	clock    func() time.Time
	currency engine.Currency

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler wires the engine services over store. metrics may be nil.
func NewHandler(store Store, logger *zap.Logger, metrics *Metrics) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		Store:     store,
		Workflow:  engine.NewWorkflowService(store, logger.Named("workflow")),
		Payouts:   engine.NewPayoutService(store, logger.Named("payout")),
		Catalog:   engine.NewCatalogService(store, logger.Named("catalog")),
		Simulator: engine.NewSimulator(),
		Metrics:   metrics,
		Logger:    logger,
	}
	if metrics != nil {
		h.Workflow.Observer = metrics
		h.Payouts.Observer = metrics
	}
	return h
}

// SetClock fixes "now" for the workflow, payout and expiry paths.
func (h *Handler) SetClock(clock func() time.Time) {
	h.clock = clock
	h.Workflow.Clock = clock
	h.Payouts.Clock = clock
}

func (h *Handler) now() time.Time {
	if h.clock != nil {
		return h.clock()
	}
	return time.Now()
}

// SetDefaultCurrency sets the currency given to ingested drafts that name
// none.
func (h *Handler) SetDefaultCurrency(c string) {
	h.currency = engine.Currency(c)
}

// SetBatchWorkers bounds recalculation parallelism.
func (h *Handler) SetBatchWorkers(n int) {
	h.Payouts.Workers = n
}

// schemeFactory builds a factory over the current catalog, so drafts may
// reference products by code or name.
func (h *Handler) schemeFactory(ctx context.Context) (*factory.SchemeFactory, error) {
	products, err := h.Catalog.Products(ctx)
	if err != nil {
		return nil, err
	}
	f, err := factory.NewSchemeFactory(factory.NewCatalogIndex(products))
	if err != nil {
		return nil, err
	}
	f.DefaultCurrency = h.currency
	return f, nil
}

// =============================================================================
// SCHEME HANDLERS
// =============================================================================

// ListSchemes returns scheme version summaries.
// GET /api/schemes?state=active&scheme_id=...
func (h *Handler) ListSchemes(w http.ResponseWriter, r *http.Request) {
	filter := engine.SchemeFilter{SchemeID: engine.SchemeID(r.URL.Query().Get("scheme_id"))}
	if states := r.URL.Query().Get("state"); states != "" {
		for _, st := range strings.Split(states, ",") {
			state := engine.State(strings.TrimSpace(st))
			if !state.Valid() {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown state %q", st), nil)
				return
			}
			filter.States = append(filter.States, state)
		}
	}

	schemes, err := h.Workflow.List(r.Context(), filter)
	if err != nil {
		writeEngineError(w, "Failed to list schemes", err)
		return
	}
	dtos := make([]SchemeSummaryDTO, len(schemes))
	for i, s := range schemes {
		dtos[i] = toSchemeSummary(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// IngestScheme stores a JSON draft as the next draft version of its scheme.
// POST /api/schemes
func (h *Handler) IngestScheme(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	f, err := h.schemeFactory(r.Context())
	if err != nil {
		writeEngineError(w, "Failed to prepare scheme factory", err)
		return
	}
	scheme, err := f.Ingest(r.Context(), h.Workflow, body)
	if err != nil {
		writeEngineError(w, "Failed to ingest scheme", err)
		return
	}
	writeJSON(w, http.StatusCreated, scheme)
}

// GetActiveScheme returns the active snapshot of a scheme.
// GET /api/schemes/{id}/active
func (h *Handler) GetActiveScheme(w http.ResponseWriter, r *http.Request) {
	scheme, err := h.Workflow.ActiveScheme(r.Context(), engine.SchemeID(chi.URLParam(r, "id")))
	if err != nil {
		writeEngineError(w, "Failed to get active scheme", err)
		return
	}
	writeJSON(w, http.StatusOK, scheme)
}

// GetSchemeVersion returns one version snapshot.
// GET /api/schemes/{id}/versions/{version}
func (h *Handler) GetSchemeVersion(w http.ResponseWriter, r *http.Request) {
	ref, ok := schemeRef(w, r)
	if !ok {
		return
	}
	scheme, err := h.Workflow.Get(r.Context(), ref)
	if err != nil {
		writeEngineError(w, "Failed to get scheme", err)
		return
	}
	writeJSON(w, http.StatusOK, scheme)
}

// EditDraft replaces a draft version's content with a JSON draft.
// PUT /api/schemes/{id}/versions/{version}
func (h *Handler) EditDraft(w http.ResponseWriter, r *http.Request) {
	ref, ok := schemeRef(w, r)
	if !ok {
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	f, err := h.schemeFactory(r.Context())
	if err != nil {
		writeEngineError(w, "Failed to prepare scheme factory", err)
		return
	}
	updated, err := f.ParseDraft(body)
	if err != nil {
		writeEngineError(w, "Invalid scheme draft", err)
		return
	}
	scheme, err := h.Workflow.EditDraft(r.Context(), ref, updated)
	if err != nil {
		writeEngineError(w, "Failed to edit draft", err)
		return
	}
	writeJSON(w, http.StatusOK, scheme)
}

// ExportDraft returns a version in the JSON draft format.
// GET /api/schemes/{id}/versions/{version}/draft
func (h *Handler) ExportDraft(w http.ResponseWriter, r *http.Request) {
	ref, ok := schemeRef(w, r)
	if !ok {
		return
	}
	scheme, err := h.Workflow.Get(r.Context(), ref)
	if err != nil {
		writeEngineError(w, "Failed to get scheme", err)
		return
	}
	f, err := h.schemeFactory(r.Context())
	if err != nil {
		writeEngineError(w, "Failed to prepare scheme factory", err)
		return
	}
	draft, err := f.ToDraft(*scheme)
	if err != nil {
		writeEngineError(w, "Failed to export scheme", err)
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

// GetApprovals returns a version's approval log.
// GET /api/schemes/{id}/versions/{version}/approvals
func (h *Handler) GetApprovals(w http.ResponseWriter, r *http.Request) {
	ref, ok := schemeRef(w, r)
	if !ok {
		return
	}
	records, err := h.Workflow.History(r.Context(), ref)
	if err != nil {
		writeEngineError(w, "Failed to get approvals", err)
		return
	}
	if records == nil {
		records = []engine.SchemeApproval{}
	}
	writeJSON(w, http.StatusOK, records)
}

// ListPendingApprovals returns versions awaiting a decision.
// GET /api/approvals/pending
func (h *Handler) ListPendingApprovals(w http.ResponseWriter, r *http.Request) {
	schemes, err := h.Workflow.PendingApprovals(r.Context())
	if err != nil {
		writeEngineError(w, "Failed to list pending approvals", err)
		return
	}
	dtos := make([]SchemeSummaryDTO, len(schemes))
	for i, s := range schemes {
		dtos[i] = toSchemeSummary(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// WORKFLOW ACTIONS
// =============================================================================

type transitionFunc func(ctx context.Context, ref engine.SchemeRef, req TransitionRequest) (*engine.Scheme, error)

// transition is the shared body of every workflow action endpoint.
func (h *Handler) transition(w http.ResponseWriter, r *http.Request, what string, fn transitionFunc) {
	ref, ok := schemeRef(w, r)
	if !ok {
		return
	}
	var req TransitionRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(req.Actor) == "" {
		writeError(w, http.StatusBadRequest, "actor is required", nil)
		return
	}

	scheme, err := fn(r.Context(), ref, req)
	if err != nil {
		writeEngineError(w, "Failed to "+what+" scheme", err)
		return
	}
	writeJSON(w, http.StatusOK, scheme)
}

// SubmitScheme: POST /api/schemes/{id}/versions/{version}/submit
func (h *Handler) SubmitScheme(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "submit", func(ctx context.Context, ref engine.SchemeRef, req TransitionRequest) (*engine.Scheme, error) {
		return h.Workflow.Submit(ctx, ref, req.Actor, req.Comment)
	})
}

// ApproveScheme: POST /api/schemes/{id}/versions/{version}/approve
func (h *Handler) ApproveScheme(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "approve", func(ctx context.Context, ref engine.SchemeRef, req TransitionRequest) (*engine.Scheme, error) {
		return h.Workflow.Decide(ctx, ref, engine.DecisionApprove, req.Actor, req.Comment)
	})
}

// RejectScheme: POST /api/schemes/{id}/versions/{version}/reject
func (h *Handler) RejectScheme(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "reject", func(ctx context.Context, ref engine.SchemeRef, req TransitionRequest) (*engine.Scheme, error) {
		return h.Workflow.Decide(ctx, ref, engine.DecisionReject, req.Actor, req.Comment)
	})
}

// ActivateScheme: POST /api/schemes/{id}/versions/{version}/activate
//
// With expected_active set, activation fails with 409 if another version
// became active since the caller looked.
func (h *Handler) ActivateScheme(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "activate", func(ctx context.Context, ref engine.SchemeRef, req TransitionRequest) (*engine.Scheme, error) {
		if req.ExpectedActive != nil {
			return h.Workflow.ActivateExpecting(ctx, ref, *req.ExpectedActive, req.Actor, req.Comment)
		}
		return h.Workflow.Activate(ctx, ref, req.Actor, req.Comment)
	})
}

// DeactivateScheme: POST /api/schemes/{id}/versions/{version}/deactivate
func (h *Handler) DeactivateScheme(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "deactivate", func(ctx context.Context, ref engine.SchemeRef, req TransitionRequest) (*engine.Scheme, error) {
		return h.Workflow.Deactivate(ctx, ref, req.Actor, req.Comment)
	})
}

// ReviseScheme: POST /api/schemes/{id}/versions/{version}/revise
func (h *Handler) ReviseScheme(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "revise", func(ctx context.Context, ref engine.SchemeRef, req TransitionRequest) (*engine.Scheme, error) {
		return h.Workflow.Revise(ctx, ref, req.Actor)
	})
}

// TriggerExpiry runs the expiry check now.
// POST /api/admin/expire
func (h *Handler) TriggerExpiry(w http.ResponseWriter, r *http.Request) {
	today := engine.DateOf(h.now())
	expired, err := h.Workflow.ExpireDue(r.Context(), today)
	if err != nil {
		writeEngineError(w, "Failed to expire schemes", err)
		return
	}
	if expired == nil {
		expired = []engine.SchemeRef{}
	}
	writeJSON(w, http.StatusOK, ExpiryResponse{Today: today, Expired: expired})
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// ListTransactions returns the most recent ledger entries.
// GET /api/transactions?limit=50
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}
	txs, err := h.Store.ListTransactions(r.Context(), limit)
	if err != nil {
		writeEngineError(w, "Failed to list transactions", err)
		return
	}
	if txs == nil {
		txs = []engine.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

// RecordTransaction records a sale or exchange and returns its payout.
// POST /api/transactions
func (h *Handler) RecordTransaction(w http.ResponseWriter, r *http.Request) {
	var tx engine.Transaction
	if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	result, err := h.Payouts.Record(r.Context(), tx)
	if err != nil {
		writeEngineError(w, "Failed to record transaction", err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// PreviewTransaction computes a payout without recording anything.
// POST /api/transactions/preview
func (h *Handler) PreviewTransaction(w http.ResponseWriter, r *http.Request) {
	var tx engine.Transaction
	if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	result, err := h.Payouts.Preview(r.Context(), tx)
	if err != nil {
		writeEngineError(w, "Failed to preview payout", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetPayout returns a transaction's stored breakdown.
// GET /api/transactions/{id}/payout
func (h *Handler) GetPayout(w http.ResponseWriter, r *http.Request) {
	result, err := h.Payouts.Breakdown(r.Context(), engine.TransactionID(chi.URLParam(r, "id")))
	if err != nil {
		writeEngineError(w, "Failed to get payout", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ReverseTransaction records the correction of a transaction.
// POST /api/transactions/{id}/reverse
func (h *Handler) ReverseTransaction(w http.ResponseWriter, r *http.Request) {
	var req ReverseRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	result, err := h.Payouts.Reverse(r.Context(), engine.TransactionID(chi.URLParam(r, "id")), req.Reason)
	if err != nil {
		writeEngineError(w, "Failed to reverse transaction", err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// =============================================================================
// CATALOG HANDLERS
// =============================================================================

// ListProducts: GET /api/products
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.Catalog.Products(r.Context())
	if err != nil {
		writeEngineError(w, "Failed to list products", err)
		return
	}
	if products == nil {
		products = []engine.Product{}
	}
	writeJSON(w, http.StatusOK, products)
}

// SaveProduct creates or updates a product.
// POST /api/products
func (h *Handler) SaveProduct(w http.ResponseWriter, r *http.Request) {
	var p engine.Product
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.Catalog.SaveProduct(r.Context(), p); err != nil {
		writeEngineError(w, "Failed to save product", err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// ListDealers: GET /api/dealers
func (h *Handler) ListDealers(w http.ResponseWriter, r *http.Request) {
	dealers, err := h.Catalog.Dealers(r.Context())
	if err != nil {
		writeEngineError(w, "Failed to list dealers", err)
		return
	}
	if dealers == nil {
		dealers = []engine.Dealer{}
	}
	writeJSON(w, http.StatusOK, dealers)
}

// SaveDealer creates or updates a dealer.
// POST /api/dealers
func (h *Handler) SaveDealer(w http.ResponseWriter, r *http.Request) {
	var d engine.Dealer
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if d.Status == "" {
		d.Status = engine.DealerActive
	}
	if err := h.Catalog.SaveDealer(r.Context(), d); err != nil {
		writeEngineError(w, "Failed to save dealer", err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// GetStatement lists a dealer's transactions and payouts.
// GET /api/dealers/{id}/statement?from=2025-03-01&to=2025-03-31
func (h *Handler) GetStatement(w http.ResponseWriter, r *http.Request) {
	from, err := queryDate(r, "from", engine.NewDate(1970, time.January, 1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid from date (use YYYY-MM-DD)", err)
		return
	}
	to, err := queryDate(r, "to", engine.DateOf(h.now()))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid to date (use YYYY-MM-DD)", err)
		return
	}
	lines, err := h.Payouts.Statement(r.Context(), engine.DealerID(chi.URLParam(r, "id")), from, to)
	if err != nil {
		writeEngineError(w, "Failed to build statement", err)
		return
	}
	if lines == nil {
		lines = []engine.StatementLine{}
	}
	writeJSON(w, http.StatusOK, lines)
}

// ListTargets returns a dealer's targets.
// GET /api/targets?dealer_id=CR001
func (h *Handler) ListTargets(w http.ResponseWriter, r *http.Request) {
	dealer := r.URL.Query().Get("dealer_id")
	if dealer == "" {
		writeError(w, http.StatusBadRequest, "dealer_id is required", nil)
		return
	}
	targets, err := h.Catalog.Targets(r.Context(), engine.DealerID(dealer))
	if err != nil {
		writeEngineError(w, "Failed to list targets", err)
		return
	}
	if targets == nil {
		targets = []engine.DealerTarget{}
	}
	writeJSON(w, http.StatusOK, targets)
}

// SaveTarget creates or updates a dealer target.
// POST /api/targets
func (h *Handler) SaveTarget(w http.ResponseWriter, r *http.Request) {
	var t engine.DealerTarget
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if t.ID == "" {
		t.ID = engine.TargetID(uuid.NewString())
	}
	if err := h.Catalog.SaveTarget(r.Context(), t); err != nil {
		writeEngineError(w, "Failed to save target", err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// =============================================================================
// ANALYSIS HANDLERS
// =============================================================================

// Simulate compares candidate schemes over hypothetical transactions.
// Nothing is persisted.
// POST /api/simulate
func (h *Handler) Simulate(w http.ResponseWriter, r *http.Request) {
	var req SimulateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	ctx := r.Context()

	in, err := h.simulationInput(ctx, req)
	if err != nil {
		writeEngineError(w, "Failed to prepare simulation", err)
		return
	}
	report, err := h.Simulator.Simulate(in)
	if err != nil {
		writeEngineError(w, "Simulation failed", err)
		return
	}
	if !req.IncludeResults {
		for i := range report.Candidates {
			report.Candidates[i].Results = nil
		}
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) simulationInput(ctx context.Context, req SimulateRequest) (engine.SimulationInput, error) {
	in := engine.SimulationInput{
		Transactions: req.Transactions,
		Dealers:      make(map[engine.DealerID]engine.Dealer),
		Products:     make(map[engine.ProductID]engine.Product),
	}

	for _, ref := range req.Candidates {
		s, err := h.Workflow.Get(ctx, ref)
		if err != nil {
			return in, err
		}
		in.Candidates = append(in.Candidates, *s)
	}
	if len(req.Drafts) > 0 {
		f, err := h.schemeFactory(ctx)
		if err != nil {
			return in, err
		}
		for i, raw := range req.Drafts {
			s, err := f.ParseDraft(raw)
			if err != nil {
				return in, err
			}
			if s.ID == "" {
				s.ID = engine.SchemeID(fmt.Sprintf("draft-%d", i+1))
			}
			in.Candidates = append(in.Candidates, s)
		}
	}

	products, err := h.Catalog.Products(ctx)
	if err != nil {
		return in, err
	}
	for _, p := range products {
		in.Products[p.ID] = p
	}
	dealers, err := h.Catalog.Dealers(ctx)
	if err != nil {
		return in, err
	}
	for _, d := range dealers {
		in.Dealers[d.ID] = d
	}

	seen := make(map[engine.DealerID]bool)
	for _, tx := range req.Transactions {
		if seen[tx.DealerID] {
			continue
		}
		seen[tx.DealerID] = true
		targets, err := h.Catalog.Targets(ctx, tx.DealerID)
		if err != nil {
			return in, err
		}
		in.Targets = append(in.Targets, targets...)
	}
	return in, nil
}

// Recalculate replays stored payouts and reports drift.
// POST /api/recalculate
func (h *Handler) Recalculate(w http.ResponseWriter, r *http.Request) {
	var req RecalculateRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	report, err := h.Payouts.Recalculate(r.Context(), req.TransactionIDs)
	if err != nil {
		writeEngineError(w, "Recalculation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// =============================================================================
// HELPERS
// =============================================================================

func schemeRef(w http.ResponseWriter, r *http.Request) (engine.SchemeRef, bool) {
	v, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil || v < 1 {
		writeError(w, http.StatusBadRequest, "Invalid version", err)
		return engine.SchemeRef{}, false
	}
	return engine.SchemeRef{SchemeID: engine.SchemeID(chi.URLParam(r, "id")), Version: v}, true
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return nil, false
	}
	return raw, true
}

// decodeOptional decodes the body into v; an empty body leaves v as is.
func decodeOptional(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func queryDate(r *http.Request, key string, fallback engine.Date) (engine.Date, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback, nil
	}
	return engine.ParseDate(v)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError picks the status for an engine error.
func writeEngineError(w http.ResponseWriter, message string, err error) {
	resp := ErrorResponse{Error: message, Details: err.Error()}

	var verr *engine.ValidationError
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &verr):
		status = http.StatusBadRequest
		resp.Issues = verr.Issues
	case errors.Is(err, engine.ErrConcurrentModification):
		status = http.StatusConflict
		resp.Retryable = true
	case errors.Is(err, engine.ErrIllegalTransition),
		errors.Is(err, engine.ErrDuplicateTransaction),
		errors.Is(err, engine.ErrAlreadyReversed),
		errors.Is(err, engine.ErrImmutableProduct):
		status = http.StatusConflict
	case engine.IsNotFound(err):
		status = http.StatusNotFound
	case engine.IsClientError(err):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, resp)
}
