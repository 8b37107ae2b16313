package types

// IngestRequest carries one raw wire line received from a peer.
type IngestRequest struct {
	Node    string `json:"node"`
	Line    string `json:"line"`
	Dialect string `json:"dialect,omitempty"` // defaults to the node's receive dialect
}

type IngestResponse struct {
	OK         bool     `json:"ok"`
	Known      bool     `json:"known"`
	Node       string   `json:"node"`
	Events     int      `json:"events"`
	Skipped    int      `json:"skipped"`
	Audit      []string `json:"audit,omitempty"`
	ServerTime string   `json:"server_time"`
}
