package models

// SecurityAuditEntry is one forensic record of a security decision or an
// administrative security action.
type SecurityAuditEntry struct {
	ID        string                 `json:"id"`
	Kind      string                 `json:"kind"`
	IP        string                 `json:"ip,omitempty"`
	Platform  string                 `json:"platform,omitempty"`
	Rule      string                 `json:"rule,omitempty"`
	Actor     string                 `json:"actor,omitempty"`
	Detail    map[string]interface{} `json:"detail,omitempty"`
	CreatedAt int64                  `json:"created_at"`
}

type AuditFilter struct {
	Kind  string
	IP    string
	Since int64
	Limit int
}
