package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/warp/incentive-engine/engine"
)

// =============================================================================
// TRANSACTION LEDGER (engine.TransactionStore) - append-only
// =============================================================================

const transactionColumns = "seq, id, kind, dealer_id, tx_date, lines_json, trade_in_json, reverses, reason, source, recorded_at"

// AppendTransaction inserts tx. The database assigns Seq.
func (o ops) AppendTransaction(ctx context.Context, tx engine.Transaction) (engine.Transaction, error) {
	lines, err := json.Marshal(tx.Lines)
	if err != nil {
		return engine.Transaction{}, err
	}
	var tradeIn sql.NullString
	if tx.TradeIn != nil {
		raw, err := json.Marshal(tx.TradeIn)
		if err != nil {
			return engine.Transaction{}, err
		}
		tradeIn = sql.NullString{String: string(raw), Valid: true}
	}
	tx.RecordedAt = time.Now().UTC()

	res, err := o.q.ExecContext(ctx, `
		INSERT INTO transactions
		(id, kind, dealer_id, tx_date, lines_json, trade_in_json, reverses, reason, source, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.Kind, tx.DealerID, tx.Date.String(), string(lines), tradeIn,
		nullString(string(tx.Reverses)), nullString(tx.Reason), tx.Source, formatTime(tx.RecordedAt),
	)
	switch {
	case violates(err, "transactions.id"):
		return engine.Transaction{}, fmt.Errorf("%w: %s", engine.ErrDuplicateTransaction, tx.ID)
	case violates(err, "transactions.reverses"):
		return engine.Transaction{}, fmt.Errorf("%w: %s", engine.ErrAlreadyReversed, tx.Reverses)
	case isForeignKeyError(err):
		return engine.Transaction{}, fmt.Errorf("%w: %s", engine.ErrTransactionNotFound, tx.Reverses)
	case err != nil:
		return engine.Transaction{}, fmt.Errorf("failed to append transaction: %w", err)
	}

	if tx.Seq, err = res.LastInsertId(); err != nil {
		return engine.Transaction{}, err
	}
	return tx, nil
}

func (o ops) GetTransaction(ctx context.Context, id engine.TransactionID) (*engine.Transaction, error) {
	row := o.q.QueryRowContext(ctx, "SELECT "+transactionColumns+" FROM transactions WHERE id = ?", id)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", engine.ErrTransactionNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// DealerTransactions uses idx_transactions_dealer_date. Dates are stored as
// YYYY-MM-DD so string comparison is chronological.
func (o ops) DealerTransactions(ctx context.Context, dealer engine.DealerID, from, to engine.Date) ([]engine.Transaction, error) {
	return o.queryTransactions(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE dealer_id = ? AND tx_date >= ? AND tx_date <= ?
		ORDER BY tx_date, seq`,
		dealer, from.String(), to.String(),
	)
}

// ListTransactions returns the last limit transactions by seq, re-sorted
// into ledger order.
func (o ops) ListTransactions(ctx context.Context, limit int) ([]engine.Transaction, error) {
	if limit <= 0 {
		return o.queryTransactions(ctx,
			"SELECT "+transactionColumns+" FROM transactions ORDER BY tx_date, seq")
	}
	return o.queryTransactions(ctx, `
		SELECT `+transactionColumns+` FROM (
			SELECT * FROM transactions ORDER BY seq DESC LIMIT ?
		) ORDER BY tx_date, seq`,
		limit,
	)
}

func (o ops) ReversalOf(ctx context.Context, id engine.TransactionID) (*engine.Transaction, error) {
	row := o.q.QueryRowContext(ctx, "SELECT "+transactionColumns+" FROM transactions WHERE reverses = ?", id)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (o ops) queryTransactions(ctx context.Context, query string, args ...any) ([]engine.Transaction, error) {
	rows, err := o.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var out []engine.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func scanTransaction(row rowScanner) (engine.Transaction, error) {
	var (
		tx                        engine.Transaction
		date, lines, recordedAt   string
		tradeIn, reverses, reason sql.NullString
	)
	err := row.Scan(&tx.Seq, &tx.ID, &tx.Kind, &tx.DealerID, &date, &lines,
		&tradeIn, &reverses, &reason, &tx.Source, &recordedAt)
	if err != nil {
		return engine.Transaction{}, err
	}

	if tx.Date, err = parseDate(date); err != nil {
		return engine.Transaction{}, err
	}
	if err := json.Unmarshal([]byte(lines), &tx.Lines); err != nil {
		return engine.Transaction{}, fmt.Errorf("failed to decode lines of %s: %w", tx.ID, err)
	}
	if tradeIn.Valid {
		tx.TradeIn = &engine.TradeIn{}
		if err := json.Unmarshal([]byte(tradeIn.String), tx.TradeIn); err != nil {
			return engine.Transaction{}, fmt.Errorf("failed to decode trade-in of %s: %w", tx.ID, err)
		}
	}
	tx.Reverses = engine.TransactionID(reverses.String)
	tx.Reason = reason.String
	tx.RecordedAt = parseTime(recordedAt)
	return tx, nil
}

// =============================================================================
// PAYOUTS
// =============================================================================

// SavePayout stores the breakdown once. The transaction must exist.
func (o ops) SavePayout(ctx context.Context, r engine.PayoutResult) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return err
	}

	_, err = o.q.ExecContext(ctx, `
		INSERT INTO payouts (transaction_id, outcome, total, fingerprint, result_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.TransactionID, r.Outcome, r.Total.String(), r.Fingerprint, string(raw), formatTime(time.Now()),
	)
	switch {
	case isForeignKeyError(err):
		return fmt.Errorf("%w: %s", engine.ErrTransactionNotFound, r.TransactionID)
	case isUniqueConstraintError(err):
		return fmt.Errorf("payout for %s already recorded", r.TransactionID)
	case err != nil:
		return fmt.Errorf("failed to save payout: %w", err)
	}
	return nil
}

func (o ops) GetPayout(ctx context.Context, id engine.TransactionID) (*engine.PayoutResult, error) {
	var raw string
	err := o.q.QueryRowContext(ctx, "SELECT result_json FROM payouts WHERE transaction_id = ?", id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no payout for %s", engine.ErrTransactionNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	var r engine.PayoutResult
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("failed to decode payout of %s: %w", id, err)
	}
	return &r, nil
}
