/*
payout_service.go - Recording transactions and their payouts

PURPOSE:
  PayoutService connects the pure calculator to the repository:
  - Record:      append a sale/exchange fact and its payout atomically
  - Reverse:     append a correction whose payout negates the original
  - Breakdown:   read the stored audit trail of one transaction
  - Recalculate: replay stored transactions in parallel and report drift

CONSISTENCY:
  Record runs in one repository transaction: the transaction is appended
  (receiving its ledger sequence), the dealer's period-to-date history is
  read from the same snapshot, the payout is computed and stored. Two
  concurrent recordings for the same dealer therefore never both count
  each other in a cumulative slab.

REPLAY:
  Recalculate recomputes against the scheme versions named in the stored
  breakdown and the history recorded before the transaction. Versions are
  immutable after draft, so a correct engine reproduces every fingerprint.
*/
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultRecalcWorkers bounds Recalculate's parallelism when Workers is 0.
const DefaultRecalcWorkers = 4

type PayoutService struct {
	Repo       Repository
	Calculator *Calculator
	Logger     *zap.Logger
	Observer   Observer
	Workers    int
	Clock      func() time.Time
}

func NewPayoutService(repo Repository, logger *zap.Logger) *PayoutService {
	return &PayoutService{Repo: repo, Calculator: NewCalculator(), Logger: logger}
}

func (s *PayoutService) log() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func (s *PayoutService) observer() Observer {
	if s.Observer == nil {
		return nopObserver{}
	}
	return s.Observer
}

func (s *PayoutService) calc() *Calculator {
	if s.Calculator == nil {
		return NewCalculator()
	}
	return s.Calculator
}

// =============================================================================
// RECORD
// =============================================================================

// Record persists tx and its payout against the currently active schemes.
func (s *PayoutService) Record(ctx context.Context, tx Transaction) (*PayoutResult, error) {
	if tx.ID == "" {
		tx.ID = TransactionID(uuid.NewString())
	}
	tx.Source = SourceRecorded
	tx.Reverses = ""
	if err := tx.Validate(); err != nil {
		return nil, err
	}

	var result PayoutResult
	err := s.Repo.WithTx(ctx, func(repo Repository) error {
		active, err := repo.ListSchemes(ctx, SchemeFilter{States: []State{StateActive}})
		if err != nil {
			return err
		}
		in, err := s.prepare(ctx, repo, tx, active)
		if err != nil {
			return err
		}
		stored, err := repo.AppendTransaction(ctx, tx)
		if err != nil {
			return err
		}
		in.Transaction = stored
		in.Aggregates, err = s.aggregates(ctx, repo, stored, active)
		if err != nil {
			return err
		}
		result, err = s.calc().Calculate(in)
		if err != nil {
			return err
		}
		return repo.SavePayout(ctx, result)
	})
	if err != nil {
		return nil, err
	}

	s.log().Info("payout recorded",
		zap.String("transaction_id", string(result.TransactionID)),
		zap.String("dealer_id", string(result.DealerID)),
		zap.String("outcome", string(result.Outcome)),
		zap.String("total", result.Total.String()))
	s.observer().PayoutRecorded(result)
	return &result, nil
}

// Preview computes the payout tx would receive right now without recording
// anything.
func (s *PayoutService) Preview(ctx context.Context, tx Transaction) (*PayoutResult, error) {
	if tx.ID == "" {
		tx.ID = TransactionID("preview-" + uuid.NewString())
	}
	tx.Source = SourceSimulated
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	active, err := s.Repo.ListSchemes(ctx, SchemeFilter{States: []State{StateActive}})
	if err != nil {
		return nil, err
	}
	in, err := s.prepare(ctx, s.Repo, tx, active)
	if err != nil {
		return nil, err
	}
	in.Aggregates, err = s.aggregates(ctx, s.Repo, tx, active)
	if err != nil {
		return nil, err
	}
	result, err := s.calc().Calculate(in)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// prepare loads the dealer and products a calculation needs.
func (s *PayoutService) prepare(ctx context.Context, repo Repository, tx Transaction, schemes []Scheme) (CalculationInput, error) {
	dealer, err := repo.GetDealer(ctx, tx.DealerID)
	if err != nil {
		return CalculationInput{}, err
	}
	products := make(map[ProductID]Product, len(tx.Lines))
	for _, id := range tx.ProductIDs() {
		p, err := repo.GetProduct(ctx, id)
		if err != nil {
			return CalculationInput{}, err
		}
		products[id] = *p
	}
	return CalculationInput{
		Transaction: tx,
		Schemes:     schemes,
		Dealer:      *dealer,
		Products:    products,
	}, nil
}

func (s *PayoutService) aggregates(ctx context.Context, repo Repository, tx Transaction, schemes []Scheme) (Aggregates, error) {
	targets, err := repo.DealerTargets(ctx, tx.DealerID)
	if err != nil {
		return Aggregates{}, err
	}
	var history []Transaction
	if window, ok := AggregationWindow(schemes, tx, targets); ok {
		history, err = repo.DealerTransactions(ctx, tx.DealerID, window.Start, window.End)
		if err != nil {
			return Aggregates{}, err
		}
	}
	return BuildAggregates(schemes, tx, history, targets), nil
}

// =============================================================================
// CORRECTIONS
// =============================================================================

// Reverse records a correction offsetting id. The correction carries the
// original's date and negated quantities; its payout is exactly the
// negation of the original's stored payout.
func (s *PayoutService) Reverse(ctx context.Context, id TransactionID, reason string) (*PayoutResult, error) {
	var result PayoutResult
	err := s.Repo.WithTx(ctx, func(repo Repository) error {
		orig, err := repo.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		if orig.IsReversal() {
			var is issues
			is.add("id", "reverse_correction", "transaction %s is itself a correction", id)
			return is.err()
		}
		existing, err := repo.ReversalOf(ctx, id)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: %s by %s", ErrAlreadyReversed, id, existing.ID)
		}
		payout, err := repo.GetPayout(ctx, id)
		if err != nil {
			return err
		}
		correction := orig.Reversal(TransactionID(uuid.NewString()), orig.Date, reason)
		stored, err := repo.AppendTransaction(ctx, correction)
		if err != nil {
			return err
		}
		result, err = withFingerprint(payout.Negated(stored))
		if err != nil {
			return err
		}
		return repo.SavePayout(ctx, result)
	})
	if err != nil {
		return nil, err
	}

	s.log().Info("transaction reversed",
		zap.String("transaction_id", string(id)),
		zap.String("correction_id", string(result.TransactionID)),
		zap.String("total", result.Total.String()))
	s.observer().PayoutRecorded(result)
	return &result, nil
}

// Breakdown returns the stored payout of a transaction.
func (s *PayoutService) Breakdown(ctx context.Context, id TransactionID) (*PayoutResult, error) {
	return s.Repo.GetPayout(ctx, id)
}

// =============================================================================
// BATCH RECALCULATION
// =============================================================================

// Drift is a transaction whose recomputed payout differs from the stored one.
type Drift struct {
	TransactionID     TransactionID `json:"transaction_id"`
	StoredFingerprint string        `json:"stored_fingerprint"`
	FreshFingerprint  string        `json:"fresh_fingerprint"`
	StoredTotal       string        `json:"stored_total"`
	FreshTotal        string        `json:"fresh_total"`
}

// RecalcFailure is a transaction that could not be recomputed.
type RecalcFailure struct {
	TransactionID TransactionID `json:"transaction_id"`
	Error         string        `json:"error"`
}

type RecalculationReport struct {
	Checked  int             `json:"checked"`
	Matched  int             `json:"matched"`
	Drifted  []Drift         `json:"drifted,omitempty"`
	Failures []RecalcFailure `json:"failures,omitempty"`
}

// Recalculate replays ids (all stored transactions when empty) with bounded
// parallelism and compares fingerprints. Per-transaction failures are
// reported, not returned; only context cancellation aborts the batch.
func (s *PayoutService) Recalculate(ctx context.Context, ids []TransactionID) (*RecalculationReport, error) {
	if len(ids) == 0 {
		all, err := s.Repo.ListTransactions(ctx, 0)
		if err != nil {
			return nil, err
		}
		for _, tx := range all {
			ids = append(ids, tx.ID)
		}
	}

	workers := s.Workers
	if workers <= 0 {
		workers = DefaultRecalcWorkers
	}

	type outcome struct {
		drift   *Drift
		failure *RecalcFailure
	}
	outcomes := make([]outcome, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			stored, fresh, err := s.replay(gctx, id)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				outcomes[i].failure = &RecalcFailure{TransactionID: id, Error: err.Error()}
				return nil
			}
			if stored.Fingerprint != fresh.Fingerprint {
				outcomes[i].drift = &Drift{
					TransactionID:     id,
					StoredFingerprint: stored.Fingerprint,
					FreshFingerprint:  fresh.Fingerprint,
					StoredTotal:       stored.Total.String(),
					FreshTotal:        fresh.Total.String(),
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &RecalculationReport{Checked: len(ids)}
	for _, o := range outcomes {
		switch {
		case o.failure != nil:
			report.Failures = append(report.Failures, *o.failure)
		case o.drift != nil:
			report.Drifted = append(report.Drifted, *o.drift)
		default:
			report.Matched++
		}
	}

	s.log().Info("recalculation finished",
		zap.Int("checked", report.Checked),
		zap.Int("matched", report.Matched),
		zap.Int("drifted", len(report.Drifted)),
		zap.Int("failed", len(report.Failures)))
	return report, nil
}

// replay recomputes one stored transaction and returns (stored, fresh).
func (s *PayoutService) replay(ctx context.Context, id TransactionID) (*PayoutResult, *PayoutResult, error) {
	tx, err := s.Repo.GetTransaction(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	stored, err := s.Repo.GetPayout(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	if tx.IsReversal() {
		orig, err := s.Repo.GetPayout(ctx, tx.Reverses)
		if err != nil {
			return nil, nil, err
		}
		fresh, err := withFingerprint(orig.Negated(*tx))
		if err != nil {
			return nil, nil, err
		}
		return stored, &fresh, nil
	}

	schemes := make([]Scheme, 0, len(stored.Schemes))
	for _, ref := range stored.SchemeRefs() {
		sch, err := s.Repo.GetVersion(ctx, ref)
		if err != nil {
			return nil, nil, err
		}
		schemes = append(schemes, *sch)
	}
	in, err := s.prepare(ctx, s.Repo, *tx, schemes)
	if err != nil {
		return nil, nil, err
	}
	in.Aggregates, err = s.aggregates(ctx, s.Repo, *tx, schemes)
	if err != nil {
		return nil, nil, err
	}
	fresh, err := s.calc().Calculate(in)
	if err != nil {
		return nil, nil, err
	}
	return stored, &fresh, nil
}

// =============================================================================
// DEALER STATEMENT
// =============================================================================

// StatementLine is one transaction on a dealer statement.
type StatementLine struct {
	Transaction Transaction  `json:"transaction"`
	Payout      PayoutResult `json:"payout"`
}

// Statement returns a dealer's transactions in [from, to] with their stored
// payouts, fetched concurrently.
func (s *PayoutService) Statement(ctx context.Context, dealer DealerID, from, to Date) ([]StatementLine, error) {
	txs, err := s.Repo.DealerTransactions(ctx, dealer, from, to)
	if err != nil {
		return nil, err
	}
	lines := make([]StatementLine, len(txs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(DefaultRecalcWorkers)
	for i, tx := range txs {
		i, tx := i, tx
		g.Go(func() error {
			p, err := s.Repo.GetPayout(gctx, tx.ID)
			if err != nil {
				return fmt.Errorf("payout for %s: %w", tx.ID, err)
			}
			lines[i] = StatementLine{Transaction: tx, Payout: *p}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return lines, nil
}
