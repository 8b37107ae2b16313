package types

// StatusResponse is the System State as served by the API surfaces. Flags
// are "true", "false" or "unknown".
type StatusResponse struct {
	Node          string            `json:"node"`
	Role          string            `json:"role"`
	Locked        string            `json:"locked"`
	Open          string            `json:"open"`
	Motion        string            `json:"motion"`
	FaceName      string            `json:"face_name"`
	FaceValidated string            `json:"face_validated"`
	PinValidated  string            `json:"pin_validated"`
	NewAttempt    string            `json:"new_attempt"`
	Temperature   string            `json:"temperature"`
	Humidity      string            `json:"humidity"`
	AirQuality    string            `json:"air_quality"`
	Readings      map[string]string `json:"readings,omitempty"`
	Peer          string            `json:"peer,omitempty"`
	Version       uint64            `json:"version"`
	UpdatedAt     string            `json:"updated_at,omitempty"`
}

type AuditEntry struct {
	Seq  uint64 `json:"seq"`
	At   string `json:"at"`
	Text string `json:"text"`
}

type AuditResponse struct {
	Entries []AuditEntry `json:"entries"`
}

type ConsoleRequest struct {
	Command string `json:"command"`
}

type ConsoleResponse struct {
	OK     bool   `json:"ok"`
	Output string `json:"output"`
	Error  string `json:"error,omitempty"`
}

type SamplePoint struct {
	At    string  `json:"at"`
	Value string  `json:"value"`
	Float float64 `json:"float"`
}

type HistoryResponse struct {
	Device string        `json:"device"`
	Metric string        `json:"metric"`
	Points []SamplePoint `json:"points"`
}
