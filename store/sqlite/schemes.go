package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/warp/incentive-engine/engine"
)

// =============================================================================
// SCHEME VERSIONS (engine.SchemeStore)
// =============================================================================

const schemeColumns = "scheme_id, version, state, config_json"

// CreateVersion inserts a new scheme version.
func (o ops) CreateVersion(ctx context.Context, s engine.Scheme) error {
	config, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode scheme %s: %w", s.Ref(), err)
	}

	_, err = o.q.ExecContext(ctx, `
		INSERT INTO schemes
		(scheme_id, version, name, state, valid_from, valid_to, config_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Version, s.Name, s.State,
		s.Validity.Start.String(), s.Validity.End.String(),
		string(config), formatTime(s.CreatedAt), formatTime(s.UpdatedAt),
	)
	if err != nil {
		return o.schemeWriteError(ctx, s, err)
	}
	return nil
}

// UpdateVersion rewrites an existing version.
func (o ops) UpdateVersion(ctx context.Context, s engine.Scheme) error {
	config, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode scheme %s: %w", s.Ref(), err)
	}

	res, err := o.q.ExecContext(ctx, `
		UPDATE schemes
		SET name = ?, state = ?, valid_from = ?, valid_to = ?, config_json = ?, updated_at = ?
		WHERE scheme_id = ? AND version = ?`,
		s.Name, s.State, s.Validity.Start.String(), s.Validity.End.String(),
		string(config), formatTime(s.UpdatedAt), s.ID, s.Version,
	)
	if err != nil {
		return o.schemeWriteError(ctx, s, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", engine.ErrSchemeNotFound, s.Ref())
	}
	return nil
}

// schemeWriteError maps the active-version index violation to a conflict.
func (o ops) schemeWriteError(ctx context.Context, s engine.Scheme, err error) error {
	if isUniqueConstraintError(err) && s.State == engine.StateActive && !violates(err, "schemes.version") {
		found, lookupErr := o.ActiveVersion(ctx, s.ID)
		if lookupErr != nil {
			return lookupErr
		}
		return &engine.ConcurrentModificationError{SchemeID: s.ID, FoundActive: found}
	}
	if isUniqueConstraintError(err) {
		return fmt.Errorf("scheme version %s already exists", s.Ref())
	}
	return fmt.Errorf("failed to write scheme %s: %w", s.Ref(), err)
}

// GetVersion loads one version. The state column is authoritative.
func (o ops) GetVersion(ctx context.Context, ref engine.SchemeRef) (*engine.Scheme, error) {
	row := o.q.QueryRowContext(ctx,
		"SELECT "+schemeColumns+" FROM schemes WHERE scheme_id = ? AND version = ?",
		ref.SchemeID, ref.Version,
	)
	s, err := scanScheme(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", engine.ErrSchemeNotFound, ref)
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// LatestVersion returns the highest version of a scheme id (0 if none).
func (o ops) LatestVersion(ctx context.Context, id engine.SchemeID) (int, error) {
	var v sql.NullInt64
	err := o.q.QueryRowContext(ctx, "SELECT MAX(version) FROM schemes WHERE scheme_id = ?", id).Scan(&v)
	if err != nil {
		return 0, err
	}
	return int(v.Int64), nil
}

// ListSchemes returns versions matching the filter ordered by (id, version).
func (o ops) ListSchemes(ctx context.Context, f engine.SchemeFilter) ([]engine.Scheme, error) {
	var (
		where []string
		args  []any
	)
	if f.SchemeID != "" {
		where = append(where, "scheme_id = ?")
		args = append(args, f.SchemeID)
	}
	if len(f.States) > 0 {
		marks := make([]string, len(f.States))
		for i, st := range f.States {
			marks[i] = "?"
			args = append(args, st)
		}
		where = append(where, "state IN ("+strings.Join(marks, ", ")+")")
	}

	query := "SELECT " + schemeColumns + " FROM schemes"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY scheme_id, version"

	rows, err := o.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query schemes: %w", err)
	}
	defer rows.Close()

	var out []engine.Scheme
	for rows.Next() {
		s, err := scanScheme(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ActiveVersion returns the active version of a scheme id (0 if none).
func (o ops) ActiveVersion(ctx context.Context, id engine.SchemeID) (int, error) {
	var v int
	err := o.q.QueryRowContext(ctx,
		"SELECT version FROM schemes WHERE scheme_id = ? AND state = ?",
		id, engine.StateActive,
	).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return v, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanScheme(row rowScanner) (engine.Scheme, error) {
	var (
		id      engine.SchemeID
		version int
		state   engine.State
		config  string
	)
	if err := row.Scan(&id, &version, &state, &config); err != nil {
		return engine.Scheme{}, err
	}
	var s engine.Scheme
	if err := json.Unmarshal([]byte(config), &s); err != nil {
		return engine.Scheme{}, fmt.Errorf("failed to decode scheme %s@v%d: %w", id, version, err)
	}
	s.ID, s.Version, s.State = id, version, state
	return s, nil
}

// =============================================================================
// APPROVAL LOG
// =============================================================================

// AppendApproval records one workflow transition.
func (o ops) AppendApproval(ctx context.Context, a engine.SchemeApproval) error {
	_, err := o.q.ExecContext(ctx, `
		INSERT INTO scheme_approvals
		(id, scheme_id, version, action, from_state, to_state, actor, comment, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.SchemeID, a.Version, a.Action, a.From, a.To, a.Actor, nullString(a.Comment), formatTime(a.At),
	)
	if isForeignKeyError(err) {
		return fmt.Errorf("%w: %s", engine.ErrSchemeNotFound, a.Ref())
	}
	if err != nil {
		return fmt.Errorf("failed to append approval: %w", err)
	}
	return nil
}

// Approvals returns a version's records in the order they were written.
func (o ops) Approvals(ctx context.Context, ref engine.SchemeRef) ([]engine.SchemeApproval, error) {
	rows, err := o.q.QueryContext(ctx, `
		SELECT id, scheme_id, version, action, from_state, to_state, actor, comment, at
		FROM scheme_approvals WHERE scheme_id = ? AND version = ? ORDER BY seq`,
		ref.SchemeID, ref.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query approvals: %w", err)
	}
	defer rows.Close()

	var out []engine.SchemeApproval
	for rows.Next() {
		var (
			a       engine.SchemeApproval
			comment sql.NullString
			at      string
		)
		if err := rows.Scan(&a.ID, &a.SchemeID, &a.Version, &a.Action, &a.From, &a.To, &a.Actor, &comment, &at); err != nil {
			return nil, fmt.Errorf("failed to scan approval: %w", err)
		}
		a.Comment = comment.String
		a.At = parseTime(at)
		out = append(out, a)
	}
	return out, rows.Err()
}
