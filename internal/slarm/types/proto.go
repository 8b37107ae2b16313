package types

import "google.golang.org/protobuf/types/known/structpb"

// Struct renders the status as a protobuf Struct with the JSON field names.
func (r StatusResponse) Struct() (*structpb.Struct, error) {
	readings := make(map[string]any, len(r.Readings))
	for k, v := range r.Readings {
		readings[k] = v
	}
	return structpb.NewStruct(map[string]any{
		"node":           r.Node,
		"role":           r.Role,
		"locked":         r.Locked,
		"open":           r.Open,
		"motion":         r.Motion,
		"face_name":      r.FaceName,
		"face_validated": r.FaceValidated,
		"pin_validated":  r.PinValidated,
		"new_attempt":    r.NewAttempt,
		"temperature":    r.Temperature,
		"humidity":       r.Humidity,
		"air_quality":    r.AirQuality,
		"readings":       readings,
		"peer":           r.Peer,
		"version":        float64(r.Version),
		"updated_at":     r.UpdatedAt,
	})
}

// Struct renders the audit entries as {"entries": [{seq, at, text}...]}.
func (r AuditResponse) Struct() (*structpb.Struct, error) {
	entries := make([]any, 0, len(r.Entries))
	for _, e := range r.Entries {
		entries = append(entries, map[string]any{
			"seq":  float64(e.Seq),
			"at":   e.At,
			"text": e.Text,
		})
	}
	return structpb.NewStruct(map[string]any{"entries": entries})
}
