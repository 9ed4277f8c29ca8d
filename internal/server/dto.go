package server

import (
	"encoding/json"
	"time"

	"capplan/internal/domain"
	"capplan/internal/engine"
	"capplan/internal/insights"
	"capplan/internal/snapshot"
)

// windowQuery is shared by every run endpoint.
type windowQuery struct {
	From        string `query:"from" doc:"Report window start (YYYY-MM-DD)"`
	To          string `query:"to" doc:"Report window end (YYYY-MM-DD)"`
	Granularity string `query:"granularity" doc:"Capacity bucket size (week or month)"`
}

type PlanRequest struct {
	Snapshot    snapshot.Document `json:"snapshot"`
	From        string            `json:"from,omitempty" doc:"Report window start (YYYY-MM-DD)"`
	To          string            `json:"to,omitempty" doc:"Report window end (YYYY-MM-DD)"`
	Granularity string            `json:"granularity,omitempty" doc:"week or month"`
}

type PlanResponse struct {
	SnapshotID  string                   `json:"snapshot_id"`
	Granularity domain.Granularity       `json:"granularity"`
	From        *time.Time               `json:"from,omitempty"`
	To          *time.Time               `json:"to,omitempty"`
	Tasks       []domain.ResolvedTask    `json:"tasks"`
	Excluded    []domain.ExcludedTask    `json:"excluded"`
	Buckets     []domain.CapacityBucket  `json:"buckets"`
	Concurrency []domain.ConcurrencyNote `json:"concurrency"`
	Findings    []FindingResponse        `json:"findings"`
	Summary     insights.Summary         `json:"summary"`
}

type TasksResponse struct {
	SnapshotID string                `json:"snapshot_id"`
	Tasks      []domain.ResolvedTask `json:"tasks"`
	Excluded   []domain.ExcludedTask `json:"excluded"`
}

type CapacityResponse struct {
	SnapshotID  string                   `json:"snapshot_id"`
	Granularity domain.Granularity       `json:"granularity"`
	Buckets     []domain.CapacityBucket  `json:"buckets"`
	Concurrency []domain.ConcurrencyNote `json:"concurrency"`
}

// FindingResponse adds the rendered message to a finding.
type FindingResponse struct {
	ID         string            `json:"id"`
	Severity   domain.Severity   `json:"severity" enum:"error,warning,invariant"`
	Code       string            `json:"code"`
	Entity     string            `json:"entity"`
	Field      string            `json:"field,omitempty"`
	Value      string            `json:"value,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	Params     map[string]string `json:"params,omitempty"`
	Excludes   bool              `json:"excludes"`
	Message    string            `json:"message"`
}

type FindingsResponse struct {
	SnapshotID string                  `json:"snapshot_id"`
	Counts     map[domain.Severity]int `json:"counts"`
	Findings   []FindingResponse       `json:"findings"`
}

type WorkspaceResponse struct {
	Name       string         `json:"name"`
	CreatedAt  string         `json:"created_at" format:"date-time"`
	SnapshotID string         `json:"snapshot_id,omitempty"`
	ImportedAt string         `json:"imported_at,omitempty"`
	Counts     map[string]int `json:"counts"`
	Config     any            `json:"config,omitempty"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type WhoAmIResponse struct {
	ActorID string `json:"actor_id"`
	Source  string `json:"source" enum:"jwt,api_key,legacy_header"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id" minLength:"1"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

func findingResponse(f domain.Finding) FindingResponse {
	return FindingResponse{
		ID:         f.ID,
		Severity:   f.Severity,
		Code:       f.Code,
		Entity:     f.Entity.String(),
		Field:      f.Field,
		Value:      f.Value,
		Suggestion: f.Suggestion,
		Params:     f.Params,
		Excludes:   f.Excludes,
		Message:    f.Message(),
	}
}

func findingResponses(items []domain.Finding) []FindingResponse {
	out := make([]FindingResponse, 0, len(items))
	for _, f := range items {
		out = append(out, findingResponse(f))
	}
	return out
}

func planResponse(res engine.Result) PlanResponse {
	return PlanResponse{
		SnapshotID:  res.SnapshotID,
		Granularity: res.Granularity,
		From:        res.From,
		To:          res.To,
		Tasks:       nonNilSlice(res.Tasks),
		Excluded:    nonNilSlice(res.Excluded),
		Buckets:     nonNilSlice(res.Buckets),
		Concurrency: nonNilSlice(res.Concurrency),
		Findings:    findingResponses(res.Findings),
		Summary:     res.Summary,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil || obj == nil {
		return map[string]any{}
	}
	return obj
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
