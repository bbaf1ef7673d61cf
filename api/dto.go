/*
dto.go - Request and response bodies for the HTTP API

PURPOSE:
  Most responses are the engine types themselves (engine.Scheme,
  engine.PayoutResult, ...), which already carry JSON tags. The types here
  cover request bodies and the few responses that wrap or summarise.

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *DTO: Response types returned to clients
  - *Response: Response wrappers

VALIDATION:
  Validation is done by the engine services, not in DTOs.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/scheme.go: SchemeDraft, the body of scheme ingestion and edits
*/
package api

import (
	"encoding/json"

	"github.com/warp/incentive-engine/engine"
)

// TransitionRequest is the body of every workflow action.
type TransitionRequest struct {
	Actor   string `json:"actor"`
	Comment string `json:"comment,omitempty"`
	// ExpectedActive, on activate, is the active version the caller last
	// saw (0 for none). Omitted means "whatever is active now".
	ExpectedActive *int `json:"expected_active,omitempty"`
}

// ReverseRequest is the body of a correction.
type ReverseRequest struct {
	Reason string `json:"reason"`
}

// SimulateRequest runs candidate schemes over hypothetical transactions.
// Candidates name stored versions; Drafts are unsaved scheme drafts.
type SimulateRequest struct {
	Transactions   []engine.Transaction `json:"transactions"`
	Candidates     []engine.SchemeRef   `json:"candidates,omitempty"`
	Drafts         []json.RawMessage    `json:"drafts,omitempty"`
	IncludeResults bool                 `json:"include_results,omitempty"`
}

// RecalculateRequest lists transactions to replay. Empty means all.
type RecalculateRequest struct {
	TransactionIDs []engine.TransactionID `json:"transaction_ids,omitempty"`
}

// LoadScenarioRequest picks a demo scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// SchemeSummaryDTO is one row of a scheme listing.
type SchemeSummaryDTO struct {
	SchemeID   engine.SchemeID `json:"scheme_id"`
	Version    int             `json:"version"`
	Name       string          `json:"name"`
	SchemeType string          `json:"scheme_type"`
	State      engine.State    `json:"state"`
	Start      engine.Date     `json:"start"`
	End        engine.Date     `json:"end"`
	Products   int             `json:"products"`
	Bundles    int             `json:"bundles"`
	Rules      int             `json:"rules"`
}

func toSchemeSummary(s engine.Scheme) SchemeSummaryDTO {
	return SchemeSummaryDTO{
		SchemeID:   s.ID,
		Version:    s.Version,
		Name:       s.Name,
		SchemeType: s.SchemeType,
		State:      s.State,
		Start:      s.Validity.Start,
		End:        s.Validity.End,
		Products:   len(s.Products),
		Bundles:    len(s.Bundles),
		Rules:      len(s.Rules),
	}
}

// ExpiryResponse reports the versions a manual expiry run expired.
type ExpiryResponse struct {
	Today   engine.Date        `json:"today"`
	Expired []engine.SchemeRef `json:"expired"`
}

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// ErrorResponse is the body of every error.
type ErrorResponse struct {
	Error     string                   `json:"error"`
	Details   string                   `json:"details,omitempty"`
	Issues    []engine.ValidationIssue `json:"issues,omitempty"`
	Retryable bool                     `json:"retryable,omitempty"`
}
