// Package store provides an in-memory engine.Repository.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/incentive-engine/engine"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements engine.Repository. Values are deep-copied on the way in
// and out so callers never alias stored state.
type Memory struct {
	mu sync.RWMutex
	memoryState
}

type memoryState struct {
	schemes   map[engine.SchemeRef]engine.Scheme
	approvals map[engine.SchemeRef][]engine.SchemeApproval
	products  map[engine.ProductID]engine.Product
	dealers   map[engine.DealerID]engine.Dealer
	targets   map[engine.TargetID]engine.DealerTarget
	txs       []engine.Transaction // ledger order by seq
	txIndex   map[engine.TransactionID]int
	payouts   map[engine.TransactionID]engine.PayoutResult
	seq       int64
}

func NewMemory() *Memory {
	return &Memory{memoryState: newMemoryState()}
}

func newMemoryState() memoryState {
	return memoryState{
		schemes:   make(map[engine.SchemeRef]engine.Scheme),
		approvals: make(map[engine.SchemeRef][]engine.SchemeApproval),
		products:  make(map[engine.ProductID]engine.Product),
		dealers:   make(map[engine.DealerID]engine.Dealer),
		targets:   make(map[engine.TargetID]engine.DealerTarget),
		txIndex:   make(map[engine.TransactionID]int),
		payouts:   make(map[engine.TransactionID]engine.PayoutResult),
	}
}

// clone copies the state for rollback. Stored values are already private
// copies and never mutated in place, so copying the containers suffices.
func (st *memoryState) clone() memoryState {
	out := newMemoryState()
	for k, v := range st.schemes {
		out.schemes[k] = v
	}
	for k, v := range st.approvals {
		out.approvals[k] = append([]engine.SchemeApproval(nil), v...)
	}
	for k, v := range st.products {
		out.products[k] = v
	}
	for k, v := range st.dealers {
		out.dealers[k] = v
	}
	for k, v := range st.targets {
		out.targets[k] = v
	}
	out.txs = append([]engine.Transaction(nil), st.txs...)
	for k, v := range st.txIndex {
		out.txIndex[k] = v
	}
	for k, v := range st.payouts {
		out.payouts[k] = v
	}
	out.seq = st.seq
	return out
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For the memory store this is simulated with a snapshot + rollback on error.
// The write lock is held for the duration, giving fn an isolated view.
func (m *Memory) WithTx(ctx context.Context, fn func(engine.Repository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.memoryState.clone()
	view := &txView{st: &m.memoryState}
	if err := fn(view); err != nil {
		m.memoryState = snapshot
		return err
	}
	return nil
}

// txView runs every call against the locked state without re-locking.
type txView struct {
	st *memoryState
}

func (v *txView) WithTx(ctx context.Context, fn func(engine.Repository) error) error {
	return fn(v)
}

// Reset drops all data.
func (m *Memory) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.memoryState = newMemoryState()
	return nil
}

// =============================================================================
// SCHEME STORE
// =============================================================================

func (m *Memory) CreateVersion(ctx context.Context, s engine.Scheme) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.memoryState.createVersion(s)
}

func (m *Memory) UpdateVersion(ctx context.Context, s engine.Scheme) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.memoryState.updateVersion(s)
}

func (m *Memory) GetVersion(ctx context.Context, ref engine.SchemeRef) (*engine.Scheme, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.memoryState.getVersion(ref)
}

func (m *Memory) LatestVersion(ctx context.Context, id engine.SchemeID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.memoryState.latestVersion(id), nil
}

func (m *Memory) ListSchemes(ctx context.Context, f engine.SchemeFilter) ([]engine.Scheme, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.memoryState.listSchemes(f), nil
}

func (m *Memory) ActiveVersion(ctx context.Context, id engine.SchemeID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.memoryState.activeVersion(id), nil
}

func (m *Memory) AppendApproval(ctx context.Context, a engine.SchemeApproval) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.memoryState.appendApproval(a)
}

func (m *Memory) Approvals(ctx context.Context, ref engine.SchemeRef) ([]engine.SchemeApproval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.memoryState.listApprovals(ref), nil
}

func (st *memoryState) createVersion(s engine.Scheme) error {
	ref := s.Ref()
	if _, exists := st.schemes[ref]; exists {
		return fmt.Errorf("scheme version %s already exists", ref)
	}
	if err := st.checkSingleActive(s); err != nil {
		return err
	}
	st.schemes[ref] = s.Clone()
	return nil
}

func (st *memoryState) updateVersion(s engine.Scheme) error {
	ref := s.Ref()
	if _, exists := st.schemes[ref]; !exists {
		return fmt.Errorf("%w: %s", engine.ErrSchemeNotFound, ref)
	}
	if err := st.checkSingleActive(s); err != nil {
		return err
	}
	st.schemes[ref] = s.Clone()
	return nil
}

// checkSingleActive mirrors the SQLite unique index on active versions.
func (st *memoryState) checkSingleActive(s engine.Scheme) error {
	if s.State != engine.StateActive {
		return nil
	}
	if v := st.activeVersion(s.ID); v != 0 && v != s.Version {
		return &engine.ConcurrentModificationError{SchemeID: s.ID, ExpectedActive: 0, FoundActive: v}
	}
	return nil
}

func (st *memoryState) getVersion(ref engine.SchemeRef) (*engine.Scheme, error) {
	s, ok := st.schemes[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", engine.ErrSchemeNotFound, ref)
	}
	out := s.Clone()
	return &out, nil
}

func (st *memoryState) latestVersion(id engine.SchemeID) int {
	latest := 0
	for ref := range st.schemes {
		if ref.SchemeID == id && ref.Version > latest {
			latest = ref.Version
		}
	}
	return latest
}

func (st *memoryState) listSchemes(f engine.SchemeFilter) []engine.Scheme {
	var out []engine.Scheme
	for _, s := range st.schemes {
		if f.Matches(s) {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref().Less(out[j].Ref()) })
	return out
}

func (st *memoryState) activeVersion(id engine.SchemeID) int {
	for ref, s := range st.schemes {
		if ref.SchemeID == id && s.State == engine.StateActive {
			return ref.Version
		}
	}
	return 0
}

func (st *memoryState) appendApproval(a engine.SchemeApproval) error {
	ref := a.Ref()
	if _, ok := st.schemes[ref]; !ok {
		return fmt.Errorf("%w: %s", engine.ErrSchemeNotFound, ref)
	}
	st.approvals[ref] = append(st.approvals[ref], a)
	return nil
}

func (st *memoryState) listApprovals(ref engine.SchemeRef) []engine.SchemeApproval {
	return append([]engine.SchemeApproval(nil), st.approvals[ref]...)
}

// =============================================================================
// CATALOG STORE
// =============================================================================

func (m *Memory) SaveProduct(ctx context.Context, p engine.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = copyProduct(p)
	return nil
}

func (m *Memory) GetProduct(ctx context.Context, id engine.ProductID) (*engine.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.memoryState.getProduct(id)
}

func (m *Memory) ListProducts(ctx context.Context) ([]engine.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.memoryState.listProducts(), nil
}

func (m *Memory) SaveDealer(ctx context.Context, d engine.Dealer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dealers[d.ID] = d
	return nil
}

func (m *Memory) GetDealer(ctx context.Context, id engine.DealerID) (*engine.Dealer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.memoryState.getDealer(id)
}

func (m *Memory) ListDealers(ctx context.Context) ([]engine.Dealer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.memoryState.listDealers(), nil
}

func (m *Memory) SaveTarget(ctx context.Context, t engine.DealerTarget) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.targets[t.ID] = t
	return nil
}

func (m *Memory) DealerTargets(ctx context.Context, dealer engine.DealerID) ([]engine.DealerTarget, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.memoryState.dealerTargets(dealer), nil
}

func copyProduct(p engine.Product) engine.Product {
	if p.Attributes != nil {
		attrs := make(map[string]string, len(p.Attributes))
		for k, v := range p.Attributes {
			attrs[k] = v
		}
		p.Attributes = attrs
	}
	return p
}

func (st *memoryState) getProduct(id engine.ProductID) (*engine.Product, error) {
	p, ok := st.products[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", engine.ErrProductNotFound, id)
	}
	out := copyProduct(p)
	return &out, nil
}

func (st *memoryState) listProducts() []engine.Product {
	out := make([]engine.Product, 0, len(st.products))
	for _, p := range st.products {
		out = append(out, copyProduct(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (st *memoryState) getDealer(id engine.DealerID) (*engine.Dealer, error) {
	d, ok := st.dealers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", engine.ErrDealerNotFound, id)
	}
	return &d, nil
}

func (st *memoryState) listDealers() []engine.Dealer {
	out := make([]engine.Dealer, 0, len(st.dealers))
	for _, d := range st.dealers {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (st *memoryState) dealerTargets(dealer engine.DealerID) []engine.DealerTarget {
	var out []engine.DealerTarget
	for _, t := range st.targets {
		if t.DealerID == dealer {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// =============================================================================
// TRANSACTION STORE - append-only
// =============================================================================

func (m *Memory) AppendTransaction(ctx context.Context, tx engine.Transaction) (engine.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.memoryState.appendTransaction(tx)
}

func (m *Memory) GetTransaction(ctx context.Context, id engine.TransactionID) (*engine.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.memoryState.getTransaction(id)
}

func (m *Memory) DealerTransactions(ctx context.Context, dealer engine.DealerID, from, to engine.Date) ([]engine.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.memoryState.dealerTransactions(dealer, from, to), nil
}

func (m *Memory) ListTransactions(ctx context.Context, limit int) ([]engine.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.memoryState.listTransactions(limit), nil
}

func (m *Memory) ReversalOf(ctx context.Context, id engine.TransactionID) (*engine.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.memoryState.reversalOf(id), nil
}

func (m *Memory) SavePayout(ctx context.Context, r engine.PayoutResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.memoryState.savePayout(r)
}

func (m *Memory) GetPayout(ctx context.Context, id engine.TransactionID) (*engine.PayoutResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.memoryState.getPayout(id)
}

func (st *memoryState) appendTransaction(tx engine.Transaction) (engine.Transaction, error) {
	if _, exists := st.txIndex[tx.ID]; exists {
		return engine.Transaction{}, fmt.Errorf("%w: %s", engine.ErrDuplicateTransaction, tx.ID)
	}
	st.seq++
	tx.Seq = st.seq
	tx.RecordedAt = time.Now().UTC()
	tx.Lines = append([]engine.TransactionLine(nil), tx.Lines...)
	st.txIndex[tx.ID] = len(st.txs)
	st.txs = append(st.txs, tx)
	return tx, nil
}

func (st *memoryState) getTransaction(id engine.TransactionID) (*engine.Transaction, error) {
	i, ok := st.txIndex[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", engine.ErrTransactionNotFound, id)
	}
	tx := st.txs[i]
	return &tx, nil
}

func (st *memoryState) dealerTransactions(dealer engine.DealerID, from, to engine.Date) []engine.Transaction {
	var out []engine.Transaction
	for _, tx := range st.txs {
		if tx.DealerID == dealer && !tx.Date.Before(from) && !tx.Date.After(to) {
			out = append(out, tx)
		}
	}
	sortLedger(out)
	return out
}

func (st *memoryState) listTransactions(limit int) []engine.Transaction {
	out := append([]engine.Transaction(nil), st.txs...)
	sortLedger(out)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func (st *memoryState) reversalOf(id engine.TransactionID) *engine.Transaction {
	for _, tx := range st.txs {
		if tx.Reverses == id {
			out := tx
			return &out
		}
	}
	return nil
}

func (st *memoryState) savePayout(r engine.PayoutResult) error {
	if _, ok := st.txIndex[r.TransactionID]; !ok {
		return fmt.Errorf("%w: %s", engine.ErrTransactionNotFound, r.TransactionID)
	}
	if _, exists := st.payouts[r.TransactionID]; exists {
		return fmt.Errorf("payout for %s already stored", r.TransactionID)
	}
	st.payouts[r.TransactionID] = r
	return nil
}

func (st *memoryState) getPayout(id engine.TransactionID) (*engine.PayoutResult, error) {
	r, ok := st.payouts[id]
	if !ok {
		return nil, fmt.Errorf("%w: no payout for %s", engine.ErrTransactionNotFound, id)
	}
	return &r, nil
}

func sortLedger(txs []engine.Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		if !txs[i].Date.Equal(txs[j].Date) {
			return txs[i].Date.Before(txs[j].Date)
		}
		return txs[i].Seq < txs[j].Seq
	})
}

// =============================================================================
// TRANSACTIONAL VIEW - same operations, lock already held by WithTx
// =============================================================================

func (v *txView) CreateVersion(_ context.Context, s engine.Scheme) error {
	return v.st.createVersion(s)
}

func (v *txView) UpdateVersion(_ context.Context, s engine.Scheme) error {
	return v.st.updateVersion(s)
}

func (v *txView) GetVersion(_ context.Context, ref engine.SchemeRef) (*engine.Scheme, error) {
	return v.st.getVersion(ref)
}

func (v *txView) LatestVersion(_ context.Context, id engine.SchemeID) (int, error) {
	return v.st.latestVersion(id), nil
}

func (v *txView) ListSchemes(_ context.Context, f engine.SchemeFilter) ([]engine.Scheme, error) {
	return v.st.listSchemes(f), nil
}

func (v *txView) ActiveVersion(_ context.Context, id engine.SchemeID) (int, error) {
	return v.st.activeVersion(id), nil
}

func (v *txView) AppendApproval(_ context.Context, a engine.SchemeApproval) error {
	return v.st.appendApproval(a)
}

func (v *txView) Approvals(_ context.Context, ref engine.SchemeRef) ([]engine.SchemeApproval, error) {
	return v.st.listApprovals(ref), nil
}

func (v *txView) SaveProduct(_ context.Context, p engine.Product) error {
	v.st.products[p.ID] = copyProduct(p)
	return nil
}

func (v *txView) GetProduct(_ context.Context, id engine.ProductID) (*engine.Product, error) {
	return v.st.getProduct(id)
}

func (v *txView) ListProducts(_ context.Context) ([]engine.Product, error) {
	return v.st.listProducts(), nil
}

func (v *txView) SaveDealer(_ context.Context, d engine.Dealer) error {
	v.st.dealers[d.ID] = d
	return nil
}

func (v *txView) GetDealer(_ context.Context, id engine.DealerID) (*engine.Dealer, error) {
	return v.st.getDealer(id)
}

func (v *txView) ListDealers(_ context.Context) ([]engine.Dealer, error) {
	return v.st.listDealers(), nil
}

func (v *txView) SaveTarget(_ context.Context, t engine.DealerTarget) error {
	v.st.targets[t.ID] = t
	return nil
}

func (v *txView) DealerTargets(_ context.Context, dealer engine.DealerID) ([]engine.DealerTarget, error) {
	return v.st.dealerTargets(dealer), nil
}

func (v *txView) AppendTransaction(_ context.Context, tx engine.Transaction) (engine.Transaction, error) {
	return v.st.appendTransaction(tx)
}

func (v *txView) GetTransaction(_ context.Context, id engine.TransactionID) (*engine.Transaction, error) {
	return v.st.getTransaction(id)
}

func (v *txView) DealerTransactions(_ context.Context, dealer engine.DealerID, from, to engine.Date) ([]engine.Transaction, error) {
	return v.st.dealerTransactions(dealer, from, to), nil
}

func (v *txView) ListTransactions(_ context.Context, limit int) ([]engine.Transaction, error) {
	return v.st.listTransactions(limit), nil
}

func (v *txView) ReversalOf(_ context.Context, id engine.TransactionID) (*engine.Transaction, error) {
	return v.st.reversalOf(id), nil
}

func (v *txView) SavePayout(_ context.Context, r engine.PayoutResult) error {
	return v.st.savePayout(r)
}

func (v *txView) GetPayout(_ context.Context, id engine.TransactionID) (*engine.PayoutResult, error) {
	return v.st.getPayout(id)
}

var (
	_ engine.Repository = (*Memory)(nil)
	_ engine.Repository = (*txView)(nil)
)
