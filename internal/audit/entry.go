package audit

// Event classifies what an audit entry records.
const (
	EventScreen       = "screen"
	EventAccess       = "access"
	EventTokenIssued  = "token_issued"
	EventTokenRevoked = "token_revoked"
	EventRejected     = "envelope_rejected"
)

// Entry is one line in the hash-chained JSONL audit log.
// All fields are scalars (no map[string]any) to guarantee deterministic
// json.Marshal field order for reproducible hashing.
type Entry struct {
	Timestamp     string  `json:"ts"`
	Event         string  `json:"event"`
	CorrelationID string  `json:"correlation_id,omitempty"`
	MessageID     string  `json:"message_id,omitempty"`
	Peer          string  `json:"peer"`
	Resource      string  `json:"resource,omitempty"`
	Level         string  `json:"level,omitempty"`
	Decision      string  `json:"decision"`
	Reason        string  `json:"reason,omitempty"`
	Score         float64 `json:"score,omitempty"`
	TokenID       string  `json:"token_id,omitempty"`
	PolicyHash    string  `json:"policy_hash"`
	PrevHash      string  `json:"prev_hash"`
}
