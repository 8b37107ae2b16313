package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/slarm-iot/slarm/internal/slarm/console"
	"github.com/slarm-iot/slarm/internal/slarm/service"
	"github.com/slarm-iot/slarm/internal/slarm/types"
)

type Dependencies struct {
	Logger  *log.Logger
	Addr    string
	Status  *service.StatusService
	Console *console.Console
	// Receiver enables POST /v1/ingest; AccessService enables
	// POST /v1/access_request. Both are optional.
	Receiver      *service.Receiver
	AccessService *service.AccessService
	// Gatherer backs /metrics; nil leaves the endpoint out.
	Gatherer prometheus.Gatherer
}

type Server struct {
	httpServer    *http.Server
	logger        *log.Logger
	mux           *http.ServeMux
	status        *service.StatusService
	console       *console.Console
	receiver      *service.Receiver
	accessService *service.AccessService
}

func NewServer(d Dependencies) *Server {
	mux := http.NewServeMux()

	s := &Server{
		logger:        d.Logger,
		mux:           mux,
		status:        d.Status,
		console:       d.Console,
		receiver:      d.Receiver,
		accessService: d.AccessService,
	}

	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("GET /v1/audit", s.handleAudit)
	mux.HandleFunc("GET /v1/history", s.handleHistory)
	mux.HandleFunc("GET /v1/stream", s.handleStream)
	if d.Console != nil {
		mux.HandleFunc("POST /v1/console", s.handleConsole)
	}
	if d.Receiver != nil {
		mux.HandleFunc("POST /v1/ingest", s.handleIngest)
	}
	if d.AccessService != nil {
		mux.HandleFunc("POST /v1/access_request", s.handleAccessRequest)
	}
	if d.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	handler := loggingMiddleware(d.Logger, mux)

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := s.status.Status()
	if wantsProtobuf(r) {
		msg, err := statusToStruct(resp)
		if err != nil {
			s.logger.Printf("status proto error: %v", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
			return
		}
		writeProto(w, http.StatusOK, msg)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	resp, err := s.status.Audit(r.Context(), limit)
	if err != nil {
		s.logger.Printf("audit error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	device, metric := r.URL.Query().Get("device"), r.URL.Query().Get("metric")
	if device == "" || metric == "" {
		writeError(w, http.StatusBadRequest, "invalid_series", "device and metric are required")
		return
	}
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	resp, err := s.status.History(r.Context(), device, metric, limit)
	if err != nil {
		s.logger.Printf("history error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleConsole(w http.ResponseWriter, r *http.Request) {
	var req types.ConsoleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	out, err := s.console.Exec(req.Command)
	resp := types.ConsoleResponse{OK: err == nil, Output: out}
	if err == nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}
	resp.Error = err.Error()

	switch {
	case errors.Is(err, console.ErrUsage):
		writeJSON(w, http.StatusBadRequest, resp)
	case errors.Is(err, console.ErrUnknownCommand):
		writeJSON(w, http.StatusNotFound, resp)
	case errors.Is(err, console.ErrNoActuator):
		writeJSON(w, http.StatusForbidden, resp)
	default:
		s.logger.Printf("console error: %v", err)
		writeJSON(w, http.StatusInternalServerError, resp)
	}
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req types.IngestRequest

	if isProtobuf(r) {
		var msg structpb.Struct
		if err := readProto(r, &msg); err != nil {
			writeError(w, http.StatusBadRequest, "bad_protobuf", "invalid protobuf body")
			return
		}
		req = ingestRequestFromStruct(&msg)
	} else if !decodeJSON(w, r, &req) {
		return
	}

	resp, err := s.receiver.Ingest(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidNode):
			writeError(w, http.StatusBadRequest, "invalid_node", err.Error())
		case errors.Is(err, service.ErrUnknownDialect):
			writeError(w, http.StatusBadRequest, "invalid_dialect", err.Error())
		default:
			s.logger.Printf("ingest error: %v", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAccessRequest(w http.ResponseWriter, r *http.Request) {
	var req types.AccessRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	resp, err := s.accessService.Decide(r.Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidPIN) {
			writeError(w, http.StatusBadRequest, "invalid_pin", err.Error())
			return
		}
		s.logger.Printf("access_request error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return false
	}
	return true
}

func queryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}
