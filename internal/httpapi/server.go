// Package httpapi exposes the Generate and admin operations as
// JSON-over-HTTP handlers on net/http. The teacher's transport is gRPC
// against a pkg/proto-generated stub that is not present in the retrieved
// source; hand-writing protobuf-generated code would be fabricating
// vendored stubs, so this package instead follows the teacher's own
// health.StartHealthServer/ReadinessHandler shape — a plain
// http.ServeMux, one handler per route, encoding/json in and out.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/magicliang/distributed-sequence/internal/admin"
	"github.com/magicliang/distributed-sequence/internal/issuance"
	"github.com/magicliang/distributed-sequence/internal/metrics"
	"github.com/magicliang/distributed-sequence/internal/model"
	"github.com/magicliang/distributed-sequence/internal/stepsize"
)

// Server wires the issuance, admin, and step-size services onto an
// http.ServeMux.
type Server struct {
	engine         *issuance.Engine
	admin          *admin.Service
	stepsize       *stepsize.Service
	metrics        *metrics.Metrics
	refreshTimeout time.Duration
	logger         *zap.Logger
}

// NewServer constructs the HTTP server.
func NewServer(engine *issuance.Engine, adminSvc *admin.Service, stepsizeSvc *stepsize.Service, m *metrics.Metrics, refreshTimeout time.Duration, logger *zap.Logger) *Server {
	return &Server{
		engine:         engine,
		admin:          adminSvc,
		stepsize:       stepsizeSvc,
		metrics:        m,
		refreshTimeout: refreshTimeout,
		logger:         logger,
	}
}

// Mux builds the route table (§6).
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/generate", s.handleGenerate)
	mux.HandleFunc("/v1/status", s.handleStatus)
	mux.HandleFunc("/v1/admin/step-size", s.handleStepSize)
	mux.HandleFunc("/v1/admin/recover-refresh", s.handleRecoverRefresh)
	mux.HandleFunc("/v1/admin/resolve-conflicts", s.handleResolveConflicts)
	mux.HandleFunc("/v1/admin/expire-segments", s.handleExpireSegments)
	return mux
}

type generateRequest struct {
	BusinessType    string `json:"business_type"`
	TimeKey         string `json:"time_key,omitempty"`
	Count           int    `json:"count"`
	IncludeRouting  bool   `json:"include_routing,omitempty"`
	ShardDBCount    int    `json:"shard_db_count,omitempty"`
	ShardTableCount int    `json:"shard_table_count,omitempty"`
	CustomStepSize  *int32 `json:"custom_step_size,omitempty"`
	ForceShardType  *int   `json:"force_shard_type,omitempty"`
}

type routingHint struct {
	DBIndex         int   `json:"db_index"`
	TableIndex      *int  `json:"table_index,omitempty"`
	ShardDBCount    int   `json:"shard_db_count"`
	ShardTableCount *int  `json:"shard_table_count,omitempty"`
	RoutingKey      int64 `json:"routing_key"`
}

type generateResponse struct {
	IDs          []int64      `json:"ids"`
	BusinessType string       `json:"business_type"`
	TimeKey      string       `json:"time_key"`
	ShardType    int          `json:"shard_type"`
	NodeID       string       `json:"node_id"`
	TimestampMs  int64        `json:"timestamp_ms"`
	Routing      *routingHint `json:"routing,omitempty"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Count == 0 {
		req.Count = 1
	}

	start := time.Now()

	issReq := issuance.Request{
		BusinessType:    req.BusinessType,
		Count:           req.Count,
		IncludeRouting:  req.IncludeRouting,
		ShardDBCount:    req.ShardDBCount,
		ShardTableCount: req.ShardTableCount,
		CustomStepSize:  req.CustomStepSize,
	}
	if req.TimeKey != "" {
		issReq.TimeKey = &req.TimeKey
	}
	if req.ForceShardType != nil {
		role := model.Role(*req.ForceShardType)
		issReq.ForcedRole = &role
	}

	result, err := s.engine.Generate(r.Context(), issReq)
	if err != nil {
		if _, ok := err.(*issuance.ValidationError); ok {
			if s.metrics != nil {
				s.metrics.RecordGenerateError("validation")
			}
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if errors.Is(err, issuance.ErrSegmentRace) {
			if s.metrics != nil {
				s.metrics.RecordGenerateError("segment_race")
			}
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		if s.metrics != nil {
			s.metrics.RecordGenerateError("internal")
		}
		s.logger.Error("generate failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if s.metrics != nil {
		s.metrics.RecordGenerate(req.BusinessType, time.Since(start).Seconds())
		s.metrics.RecordIssued(req.BusinessType, result.Role.String(), len(result.IDs))
	}

	resp := generateResponse{
		IDs:          result.IDs,
		BusinessType: result.BusinessType,
		TimeKey:      result.TimeKey,
		ShardType:    int(result.Role),
		NodeID:       result.NodeID,
		TimestampMs:  result.TimestampMs,
	}
	if result.Routing != nil {
		hint := routingHint{
			DBIndex:      result.Routing.DBIndex,
			ShardDBCount: result.Routing.ShardDBCount,
			RoutingKey:   result.Routing.RoutingKey,
		}
		if result.Routing.HasTableIndex {
			t := result.Routing.TableIndex
			c := result.Routing.ShardTableCount
			hint.TableIndex = &t
			hint.ShardTableCount = &c
		}
		resp.Routing = &hint
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	report, err := s.admin.Status(r.Context())
	if err != nil {
		s.logger.Error("status failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if s.metrics != nil {
		s.metrics.UpdateOwnBufferCount(report.BufferCount)
		s.metrics.UpdateProxyBufferCount(report.ProxyBufferCount)
	}
	writeJSON(w, http.StatusOK, report)
}

type stepSizeRequest struct {
	BusinessType string  `json:"business_type"`
	TimeKey      *string `json:"time_key,omitempty"`
	NewStepSize  int32   `json:"new_step_size"`
	Preview      bool    `json:"preview"`
}

func (s *Server) handleStepSize(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		business := r.URL.Query().Get("business_type")
		segs, err := s.stepsize.CurrentStepSizes(r.Context(), business)
		if err != nil {
			s.logger.Error("get step sizes failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, segs)

	case http.MethodPost:
		var req stepSizeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
		if req.NewStepSize <= 0 {
			writeError(w, http.StatusBadRequest, "new_step_size must be > 0")
			return
		}
		report, err := s.stepsize.ChangeStep(r.Context(), stepsize.Request{
			BusinessType: req.BusinessType,
			TimeKey:      req.TimeKey,
			NewStepSize:  req.NewStepSize,
			Preview:      req.Preview,
		})
		if err != nil {
			s.logger.Error("change step size failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, report)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleRecoverRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	recovered := s.admin.RecoverRefresh(s.refreshTimeout)
	writeJSON(w, http.StatusOK, map[string]any{"recovered": recovered})
}

func (s *Server) handleResolveConflicts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	report, err := s.admin.ResolveConflicts(r.Context())
	if err != nil {
		s.logger.Error("resolve conflicts failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleExpireSegments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		Cutoff string `json:"cutoff"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	count, err := s.admin.ExpireSegments(r.Context(), req.Cutoff)
	if err != nil {
		s.logger.Error("expire segments failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted_count": count})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// StartServer starts the HTTP API server.
func StartServer(ctx context.Context, s *Server, addr string, readTimeout, writeTimeout time.Duration, logger *zap.Logger) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      s.Mux(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
	logger.Info("starting API server", zap.String("address", addr))

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
