package domain

// WorkspaceInfo describes an initialised workspace and its current snapshot.
type WorkspaceInfo struct {
	Name       string         `json:"name"`
	CreatedAt  string         `json:"created_at" format:"date-time"`
	SnapshotID string         `json:"snapshot_id,omitempty"`
	ImportedAt string         `json:"imported_at,omitempty" format:"date-time"`
	Counts     map[string]int `json:"counts"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
