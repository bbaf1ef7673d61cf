/*
store.go - Persistence interfaces for schemes, catalog and the payout ledger

PURPOSE:
  Defines the interface between the engine and the database. The engine
  never performs I/O itself; everything it reads or writes goes through a
  Repository. Implementations: SQLite (store/sqlite) and in-memory
  (engine/store).

KEY INTERFACES:
  SchemeStore:      Versioned scheme snapshots + approval records
  CatalogStore:     Products, dealers, dealer targets
  TransactionStore: Append-only transactions and their payout breakdowns
  Repository:       All of the above plus WithTx

APPEND-ONLY CONTRACT:
  - Transactions: AppendTransaction only. Corrections are new transactions.
  - Approvals: AppendApproval only.
  - Payouts: SavePayout writes once per transaction.
  - Scheme versions: content is rewritten only while in draft; afterwards
    only the State column changes, and only through the workflow.

ACTIVE VERSION INVARIANT:
  At most one version per scheme id is active. Implementations enforce it
  (unique partial index / checked write) in addition to the workflow's
  optimistic re-check.

TRANSACTIONS:
  WithTx runs fn against a Repository bound to one database transaction.
  If fn returns an error everything is rolled back. Reads inside fn see a
  consistent snapshot, which is what cumulative slab aggregation relies on.

SEE ALSO:
  - service.go: Services built on Repository
  - store/sqlite/sqlite.go: Production implementation
  - engine/store/memory.go: In-memory implementation for tests/dev
*/
package engine

import "context"

// =============================================================================
// SCHEME STORE
// =============================================================================

// SchemeFilter narrows ListSchemes. Zero values match everything.
type SchemeFilter struct {
	SchemeID SchemeID
	States   []State
}

// Matches reports whether s passes the filter.
func (f SchemeFilter) Matches(s Scheme) bool {
	if f.SchemeID != "" && s.ID != f.SchemeID {
		return false
	}
	if len(f.States) == 0 {
		return true
	}
	for _, st := range f.States {
		if s.State == st {
			return true
		}
	}
	return false
}

type SchemeStore interface {
	// CreateVersion inserts a new version. Fails if (ID, Version) exists.
	CreateVersion(ctx context.Context, s Scheme) error

	// UpdateVersion overwrites an existing version.
	UpdateVersion(ctx context.Context, s Scheme) error

	// GetVersion returns one version or ErrSchemeNotFound.
	GetVersion(ctx context.Context, ref SchemeRef) (*Scheme, error)

	// LatestVersion returns the highest version number for id (0 if none).
	LatestVersion(ctx context.Context, id SchemeID) (int, error)

	// ListSchemes returns matching versions ordered by (id, version).
	ListSchemes(ctx context.Context, filter SchemeFilter) ([]Scheme, error)

	// ActiveVersion returns the active version number for id (0 if none).
	ActiveVersion(ctx context.Context, id SchemeID) (int, error)

	// AppendApproval appends one audit record.
	AppendApproval(ctx context.Context, a SchemeApproval) error

	// Approvals returns a version's records in append order.
	Approvals(ctx context.Context, ref SchemeRef) ([]SchemeApproval, error)
}

// =============================================================================
// CATALOG STORE
// =============================================================================

type CatalogStore interface {
	SaveProduct(ctx context.Context, p Product) error
	GetProduct(ctx context.Context, id ProductID) (*Product, error)
	ListProducts(ctx context.Context) ([]Product, error)

	SaveDealer(ctx context.Context, d Dealer) error
	GetDealer(ctx context.Context, id DealerID) (*Dealer, error)
	ListDealers(ctx context.Context) ([]Dealer, error)

	SaveTarget(ctx context.Context, t DealerTarget) error
	// DealerTargets returns every target of a dealer.
	DealerTargets(ctx context.Context, dealer DealerID) ([]DealerTarget, error)
}

// =============================================================================
// TRANSACTION STORE - append-only ledger of sales and their payouts
// =============================================================================

type TransactionStore interface {
	// AppendTransaction persists tx and returns it with Seq and RecordedAt
	// assigned. ErrDuplicateTransaction if the id exists.
	AppendTransaction(ctx context.Context, tx Transaction) (Transaction, error)

	// GetTransaction returns one transaction or ErrTransactionNotFound.
	GetTransaction(ctx context.Context, id TransactionID) (*Transaction, error)

	// DealerTransactions returns a dealer's transactions dated in [from, to],
	// in ledger order (date, then sequence).
	DealerTransactions(ctx context.Context, dealer DealerID, from, to Date) ([]Transaction, error)

	// ListTransactions returns up to limit most recent transactions
	// (limit <= 0 means all), in ledger order.
	ListTransactions(ctx context.Context, limit int) ([]Transaction, error)

	// ReversalOf returns the correction of id, if any.
	ReversalOf(ctx context.Context, id TransactionID) (*Transaction, error)

	// SavePayout stores the breakdown for a transaction.
	SavePayout(ctx context.Context, r PayoutResult) error

	// GetPayout returns the breakdown or ErrTransactionNotFound.
	GetPayout(ctx context.Context, id TransactionID) (*PayoutResult, error)
}

// =============================================================================
// REPOSITORY
// =============================================================================

type Repository interface {
	SchemeStore
	CatalogStore
	TransactionStore

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	WithTx(ctx context.Context, fn func(Repository) error) error
}
