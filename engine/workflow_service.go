/*
workflow_service.go - Transactional application of the approval workflow

PURPOSE:
  WorkflowService is the only writer of scheme versions. It validates
  drafts, applies state transitions inside a repository transaction and
  appends the matching SchemeApproval record in the same transaction.

ACTIVATION:
  Activating version N of a scheme atomically expires the currently active
  version (if any). The caller's view of the active version is re-checked
  inside the transaction; if another actor activated a different version
  first, ConcurrentModificationError is returned and nothing is written.

USAGE:
  wf := engine.NewWorkflowService(repo, logger)
  draft, _ := wf.Ingest(ctx, scheme)
  wf.Submit(ctx, draft.Ref(), "alice", "")
  wf.Decide(ctx, draft.Ref(), engine.DecisionApprove, "bob", "ok")
  wf.Activate(ctx, draft.Ref(), "bob", "")
*/
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ActionEdit and ActionRevise name content changes in errors. They are not
// state transitions and leave no approval record.
const (
	ActionEdit   Action = "edit"
	ActionRevise Action = "revise"
)

type WorkflowService struct {
	Repo     Repository
	Logger   *zap.Logger
	Observer Observer
	Clock    func() time.Time
}

func NewWorkflowService(repo Repository, logger *zap.Logger) *WorkflowService {
	return &WorkflowService{Repo: repo, Logger: logger}
}

func (s *WorkflowService) log() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func (s *WorkflowService) observer() Observer {
	if s.Observer == nil {
		return nopObserver{}
	}
	return s.Observer
}

func (s *WorkflowService) now() time.Time {
	if s.Clock == nil {
		return time.Now().UTC()
	}
	return s.Clock().UTC()
}

// =============================================================================
// DRAFTS
// =============================================================================

// Ingest validates a scheme draft and persists it as the next version of its
// scheme id (a fresh id is assigned when empty).
func (s *WorkflowService) Ingest(ctx context.Context, scheme Scheme) (*Scheme, error) {
	if scheme.ID == "" {
		scheme.ID = SchemeID(uuid.NewString())
	}
	now := s.now()

	var created Scheme
	err := s.Repo.WithTx(ctx, func(repo Repository) error {
		catalog, err := productIndex(ctx, repo)
		if err != nil {
			return err
		}
		latest, err := repo.LatestVersion(ctx, scheme.ID)
		if err != nil {
			return err
		}
		created = scheme.Clone()
		created.Version = latest + 1
		created.State = StateDraft
		created.CreatedAt = now
		created.UpdatedAt = now
		if err := ValidateScheme(created, LevelDraft, catalog); err != nil {
			return err
		}
		return repo.CreateVersion(ctx, created)
	})
	if err != nil {
		return nil, err
	}

	s.log().Info("scheme draft ingested",
		zap.String("scheme_id", string(created.ID)),
		zap.Int("version", created.Version),
		zap.Int("products", len(created.Products)))
	return &created, nil
}

// EditDraft replaces the content of a draft version. Identity, state and
// creation time are kept. No approval record is written.
func (s *WorkflowService) EditDraft(ctx context.Context, ref SchemeRef, updated Scheme) (*Scheme, error) {
	var out Scheme
	err := s.Repo.WithTx(ctx, func(repo Repository) error {
		cur, err := repo.GetVersion(ctx, ref)
		if err != nil {
			return err
		}
		if cur.State != StateDraft {
			return &IllegalTransitionError{Ref: ref, From: cur.State, Action: ActionEdit}
		}
		catalog, err := productIndex(ctx, repo)
		if err != nil {
			return err
		}
		out = updated.Clone()
		out.ID = cur.ID
		out.Version = cur.Version
		out.State = StateDraft
		out.CreatedAt = cur.CreatedAt
		out.UpdatedAt = s.now()
		if err := ValidateScheme(out, LevelDraft, catalog); err != nil {
			return err
		}
		return repo.UpdateVersion(ctx, out)
	})
	if err != nil {
		return nil, err
	}
	s.log().Info("scheme draft edited", zap.String("scheme", ref.String()))
	return &out, nil
}

// Revise copies a non-draft version into a new draft version.
func (s *WorkflowService) Revise(ctx context.Context, ref SchemeRef, actor string) (*Scheme, error) {
	var out Scheme
	err := s.Repo.WithTx(ctx, func(repo Repository) error {
		src, err := repo.GetVersion(ctx, ref)
		if err != nil {
			return err
		}
		if src.State == StateDraft {
			return &IllegalTransitionError{Ref: ref, From: src.State, Action: ActionRevise}
		}
		latest, err := repo.LatestVersion(ctx, ref.SchemeID)
		if err != nil {
			return err
		}
		now := s.now()
		out = src.Clone()
		out.Version = latest + 1
		out.State = StateDraft
		out.CreatedAt = now
		out.UpdatedAt = now
		return repo.CreateVersion(ctx, out)
	})
	if err != nil {
		return nil, err
	}
	s.log().Info("scheme revised",
		zap.String("from", ref.String()),
		zap.Int("version", out.Version),
		zap.String("actor", actor))
	return &out, nil
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// Submit moves a draft to pending_approval after full validation. On
// validation failure the version stays in draft.
func (s *WorkflowService) Submit(ctx context.Context, ref SchemeRef, actor, comment string) (*Scheme, error) {
	return s.transition(ctx, ref, ActionSubmit, actor, comment, func(ctx context.Context, repo Repository, cur *Scheme) error {
		if cur.State != StateDraft {
			return nil // Next reports the illegal transition
		}
		catalog, err := productIndex(ctx, repo)
		if err != nil {
			return err
		}
		return ValidateScheme(*cur, LevelSubmit, catalog)
	})
}

// Decide approves or rejects a pending version.
func (s *WorkflowService) Decide(ctx context.Context, ref SchemeRef, decision Decision, actor, comment string) (*Scheme, error) {
	action, err := decision.action()
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, ref, action, actor, comment, nil)
}

// Deactivate manually expires the active version.
func (s *WorkflowService) Deactivate(ctx context.Context, ref SchemeRef, actor, comment string) (*Scheme, error) {
	return s.transition(ctx, ref, ActionDeactivate, actor, comment, nil)
}

// Activate activates an approved version, expiring the prior active one.
func (s *WorkflowService) Activate(ctx context.Context, ref SchemeRef, actor, comment string) (*Scheme, error) {
	expected, err := s.Repo.ActiveVersion(ctx, ref.SchemeID)
	if err != nil {
		return nil, err
	}
	return s.ActivateExpecting(ctx, ref, expected, actor, comment)
}

// ActivateExpecting activates ref only if the scheme's active version is
// still expectedActive (0 for none) at commit time.
func (s *WorkflowService) ActivateExpecting(ctx context.Context, ref SchemeRef, expectedActive int, actor, comment string) (*Scheme, error) {
	var (
		out     Scheme
		records []SchemeApproval
	)
	err := s.Repo.WithTx(ctx, func(repo Repository) error {
		records = records[:0]
		cur, err := repo.GetVersion(ctx, ref)
		if err != nil {
			return err
		}
		if _, err := Next(ref, cur.State, ActionActivate); err != nil {
			return err
		}
		today := DateOf(s.now())
		if !cur.Validity.Contains(today) {
			return &ActivationWindowError{Ref: ref, Today: today, Validity: cur.Validity}
		}

		found, err := repo.ActiveVersion(ctx, ref.SchemeID)
		if err != nil {
			return err
		}
		if found != expectedActive {
			return &ConcurrentModificationError{SchemeID: ref.SchemeID, ExpectedActive: expectedActive, FoundActive: found}
		}

		if found != 0 {
			prior, err := repo.GetVersion(ctx, SchemeRef{SchemeID: ref.SchemeID, Version: found})
			if err != nil {
				return err
			}
			rec, err := s.apply(ctx, repo, prior, ActionExpire, actor, fmt.Sprintf("superseded by version %d", ref.Version))
			if err != nil {
				return err
			}
			records = append(records, rec)
		}

		rec, err := s.apply(ctx, repo, cur, ActionActivate, actor, comment)
		if err != nil {
			return err
		}
		records = append(records, rec)
		out = *cur
		return nil
	})
	if err != nil {
		if IsRetryable(err) {
			s.log().Warn("scheme activation conflict",
				zap.String("scheme", ref.String()),
				zap.Int("expected_active", expectedActive),
				zap.Error(err))
		}
		return nil, err
	}
	s.committed(records)
	return &out, nil
}

// ExpireDue expires every active version whose validity ended before today.
// Each expiry is its own transaction with actor "system".
func (s *WorkflowService) ExpireDue(ctx context.Context, today Date) ([]SchemeRef, error) {
	active, err := s.Repo.ListSchemes(ctx, SchemeFilter{States: []State{StateActive}})
	if err != nil {
		return nil, err
	}

	var expired []SchemeRef
	for _, sch := range active {
		if !sch.Validity.End.Before(today) {
			continue
		}
		ref := sch.Ref()
		var rec *SchemeApproval
		err := s.Repo.WithTx(ctx, func(repo Repository) error {
			cur, err := repo.GetVersion(ctx, ref)
			if err != nil {
				return err
			}
			if cur.State != StateActive || !cur.Validity.End.Before(today) {
				return nil
			}
			r, err := s.apply(ctx, repo, cur, ActionExpire, SystemActor,
				fmt.Sprintf("validity ended %s", cur.Validity.End))
			if err != nil {
				return err
			}
			rec = &r
			return nil
		})
		if err != nil {
			return expired, fmt.Errorf("expire %s: %w", ref, err)
		}
		if rec != nil {
			s.committed([]SchemeApproval{*rec})
			expired = append(expired, ref)
		}
	}
	return expired, nil
}

type precheck func(ctx context.Context, repo Repository, cur *Scheme) error

func (s *WorkflowService) transition(ctx context.Context, ref SchemeRef, action Action, actor, comment string, check precheck) (*Scheme, error) {
	var (
		out Scheme
		rec SchemeApproval
	)
	err := s.Repo.WithTx(ctx, func(repo Repository) error {
		cur, err := repo.GetVersion(ctx, ref)
		if err != nil {
			return err
		}
		if check != nil {
			if err := check(ctx, repo, cur); err != nil {
				return err
			}
		}
		rec, err = s.apply(ctx, repo, cur, action, actor, comment)
		if err != nil {
			return err
		}
		out = *cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.committed([]SchemeApproval{rec})
	return &out, nil
}

// apply moves cur through action and writes the version and its approval
// record. Must run inside WithTx.
func (s *WorkflowService) apply(ctx context.Context, repo Repository, cur *Scheme, action Action, actor, comment string) (SchemeApproval, error) {
	to, err := Next(cur.Ref(), cur.State, action)
	if err != nil {
		return SchemeApproval{}, err
	}
	now := s.now()
	rec := SchemeApproval{
		ID:       ApprovalID(uuid.NewString()),
		SchemeID: cur.ID,
		Version:  cur.Version,
		Action:   action,
		From:     cur.State,
		To:       to,
		Actor:    actor,
		Comment:  comment,
		At:       now,
	}
	cur.State = to
	cur.UpdatedAt = now
	if err := repo.UpdateVersion(ctx, *cur); err != nil {
		return SchemeApproval{}, err
	}
	if err := repo.AppendApproval(ctx, rec); err != nil {
		return SchemeApproval{}, err
	}
	return rec, nil
}

func (s *WorkflowService) committed(records []SchemeApproval) {
	for _, rec := range records {
		s.log().Info("scheme transition",
			zap.String("scheme_id", string(rec.SchemeID)),
			zap.Int("version", rec.Version),
			zap.String("action", string(rec.Action)),
			zap.String("from", string(rec.From)),
			zap.String("to", string(rec.To)),
			zap.String("actor", rec.Actor))
		s.observer().Transitioned(rec.Ref(), rec.From, rec.To)
	}
}

// =============================================================================
// QUERIES
// =============================================================================

func (s *WorkflowService) Get(ctx context.Context, ref SchemeRef) (*Scheme, error) {
	return s.Repo.GetVersion(ctx, ref)
}

func (s *WorkflowService) List(ctx context.Context, filter SchemeFilter) ([]Scheme, error) {
	return s.Repo.ListSchemes(ctx, filter)
}

// ActiveScheme returns the active snapshot of a scheme id.
func (s *WorkflowService) ActiveScheme(ctx context.Context, id SchemeID) (*Scheme, error) {
	v, err := s.Repo.ActiveVersion(ctx, id)
	if err != nil {
		return nil, err
	}
	if v == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoActiveVersion, id)
	}
	return s.Repo.GetVersion(ctx, SchemeRef{SchemeID: id, Version: v})
}

// PendingApprovals lists versions waiting for a decision.
func (s *WorkflowService) PendingApprovals(ctx context.Context) ([]Scheme, error) {
	return s.Repo.ListSchemes(ctx, SchemeFilter{States: []State{StatePendingApproval}})
}

// History returns a version's approval records.
func (s *WorkflowService) History(ctx context.Context, ref SchemeRef) ([]SchemeApproval, error) {
	if _, err := s.Repo.GetVersion(ctx, ref); err != nil {
		return nil, err
	}
	return s.Repo.Approvals(ctx, ref)
}

// VerifyHistory replays a version's approval log and checks it reproduces
// the stored state.
func (s *WorkflowService) VerifyHistory(ctx context.Context, ref SchemeRef) (State, error) {
	cur, err := s.Repo.GetVersion(ctx, ref)
	if err != nil {
		return "", err
	}
	records, err := s.Repo.Approvals(ctx, ref)
	if err != nil {
		return "", err
	}
	replayed, err := ReplayApprovals(records)
	if err != nil {
		return replayed, err
	}
	if replayed != cur.State {
		return replayed, fmt.Errorf("scheme %s: replayed state %s differs from stored state %s", ref, replayed, cur.State)
	}
	return replayed, nil
}

func productIndex(ctx context.Context, repo CatalogStore) (map[ProductID]Product, error) {
	products, err := repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[ProductID]Product, len(products))
	for _, p := range products {
		out[p.ID] = p
	}
	return out, nil
}
