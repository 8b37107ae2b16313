package types

// AccessRequest is one keypad PIN submission on the door node.
type AccessRequest struct {
	Node        string `json:"node"`
	PIN         string `json:"pin"`
	Present     *bool  `json:"present,omitempty"`
	RequestedAt string `json:"requested_at,omitempty"` // optional client timestamp
}

type AccessResponse struct {
	OK         bool   `json:"ok"`
	Granted    bool   `json:"granted"`
	Reason     string `json:"reason,omitempty"`
	Node       string `json:"node"`
	RelockAt   string `json:"relock_at,omitempty"`
	ServerTime string `json:"server_time"`
}
