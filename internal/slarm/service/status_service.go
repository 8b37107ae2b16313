package service

import (
	"context"
	"strings"
	"time"

	"github.com/slarm-iot/slarm/internal/slarm/auditlog"
	"github.com/slarm-iot/slarm/internal/slarm/state"
	"github.com/slarm-iot/slarm/internal/slarm/store"
	"github.com/slarm-iot/slarm/internal/slarm/types"
)

// StatusService is the read model behind the API surfaces.
type StatusService struct {
	node    string
	role    string
	state   *state.Aggregator
	peer    func() string
	archive *AuditArchiver
	samples store.SampleStore
}

type StatusConfig struct {
	Node  string
	Role  string
	State *state.Aggregator
	// Peer names the current hop-1 peer; optional.
	Peer    func() string
	Archive *AuditArchiver    // optional
	Samples store.SampleStore // optional
}

func NewStatusService(cfg StatusConfig) *StatusService {
	return &StatusService{
		node:    cfg.Node,
		role:    cfg.Role,
		state:   cfg.State,
		peer:    cfg.Peer,
		archive: cfg.Archive,
		samples: cfg.Samples,
	}
}

func (s *StatusService) State() *state.Aggregator { return s.state }

func (s *StatusService) Status() types.StatusResponse {
	return s.StatusOf(s.state.Snapshot())
}

// StatusOf renders a snapshot for the wire.
func (s *StatusService) StatusOf(st state.State) types.StatusResponse {
	resp := types.StatusResponse{
		Node:          s.node,
		Role:          s.role,
		Locked:        st.Locked.String(),
		Open:          st.Open.String(),
		Motion:        st.Motion.String(),
		FaceName:      st.FaceName,
		FaceValidated: st.FaceValidated.String(),
		PinValidated:  st.PinValidated.String(),
		NewAttempt:    st.NewAttempt.String(),
		Temperature:   st.Temperature,
		Humidity:      st.Humidity,
		AirQuality:    string(st.AirQuality),
		Version:       st.Version,
	}
	if len(st.Readings) > 0 {
		resp.Readings = st.Readings
	}
	if !st.UpdatedAt.IsZero() {
		resp.UpdatedAt = st.UpdatedAt.Format(time.RFC3339Nano)
	}
	if s.peer != nil {
		resp.Peer = s.peer()
	}
	return resp
}

// Audit returns the on-screen ring, oldest first. When limit exceeds the
// ring and an archive is configured, older archived lines are returned
// instead, newest first.
func (s *StatusService) Audit(ctx context.Context, limit int) (types.AuditResponse, error) {
	ring := s.state.Audit()
	if s.archive == nil || limit <= ring.Cap() {
		return types.AuditResponse{Entries: ringEntries(ring, limit)}, nil
	}

	recs, err := s.archive.Recent(ctx, limit)
	if err != nil {
		return types.AuditResponse{}, err
	}
	out := types.AuditResponse{Entries: make([]types.AuditEntry, 0, len(recs))}
	for _, r := range recs {
		out.Entries = append(out.Entries, types.AuditEntry{
			Seq:  r.Seq,
			At:   r.At.Format(time.RFC3339Nano),
			Text: r.Text,
		})
	}
	return out, nil
}

func ringEntries(r *auditlog.Ring, limit int) []types.AuditEntry {
	es := r.Entries()
	if limit > 0 && limit < len(es) {
		es = es[len(es)-limit:]
	}
	out := make([]types.AuditEntry, 0, len(es))
	for _, e := range es {
		out = append(out, types.AuditEntry{Seq: e.Seq, At: e.At.Format(time.RFC3339Nano), Text: e.Text})
	}
	return out
}

// History returns stored samples for one series, newest first.
func (s *StatusService) History(ctx context.Context, device, metric string, limit int) (types.HistoryResponse, error) {
	device, metric = strings.TrimSpace(device), strings.TrimSpace(metric)
	resp := types.HistoryResponse{Device: device, Metric: metric, Points: []types.SamplePoint{}}
	if s.samples == nil {
		return resp, nil
	}
	recs, err := s.samples.History(ctx, device, metric, limit)
	if err != nil {
		return types.HistoryResponse{}, err
	}
	for _, r := range recs {
		resp.Points = append(resp.Points, types.SamplePoint{
			At:    r.At.Format(time.RFC3339Nano),
			Value: r.Value,
			Float: r.Float,
		})
	}
	return resp, nil
}
