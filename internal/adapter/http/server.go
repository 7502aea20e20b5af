// Package http serves the local map API: health, metrics, identity, regions,
// risk markers, the heat overlay and the notification inbox.
package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/firewatch-sync/internal/adapter/layers"
	"github.com/couchcryptid/firewatch-sync/internal/domain"
	"github.com/couchcryptid/firewatch-sync/internal/reconcile"
)

const maxBodyBytes = 5 << 20

// IdentityService resolves the active identity.
type IdentityService interface {
	Active() domain.Identity
	Submit(ctx context.Context, raw string) (domain.Identity, error)
}

// RegionService accepts region edits from the map.
type RegionService interface {
	OnCreate(draft domain.Draft) (reconcile.Created, error)
	OnUpload(text string) ([]reconcile.Created, error)
	OnEdit(handle domain.RenderHandle, g orb.Geometry) error
	OnDelete(handles []domain.RenderHandle) error
}

// LayerView is the rendered map state.
type LayerView interface {
	FeatureCollection() *geojson.FeatureCollection
	Markers() []layers.Marker
}

// RiskService exposes the held risk points.
type RiskService interface {
	FetchedAt() time.Time
	Fetch(ctx context.Context, identity domain.Identity) ([]domain.RiskPoint, error)
}

// HeatService drives the heat overlay.
type HeatService interface {
	Settings() (domain.Horizon, float64)
	Apply(ctx context.Context, h domain.Horizon, t float64) (domain.HeatLayer, error)
}

// NotificationView lists recent notifications.
type NotificationView interface {
	List() []domain.Notification
}

// Deps are the collaborators behind the API routes.
type Deps struct {
	Ready         sharedobs.ReadinessChecker
	Identity      IdentityService
	Regions       RegionService
	Layers        LayerView
	Risk          RiskService
	Heat          HeatService
	Notifications NotificationView
}

// Server exposes the local API.
type Server struct {
	httpServer *http.Server
	deps       Deps
	logger     *slog.Logger
}

// NewServer creates an HTTP server with every local API route registered.
func NewServer(addr string, deps Deps, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		deps:   deps,
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(deps.Ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /session/identity", s.handleGetIdentity)
	mux.HandleFunc("PUT /session/identity", s.handlePutIdentity)

	mux.HandleFunc("GET /regions", s.handleListRegions)
	mux.HandleFunc("POST /regions", s.handleCreateRegion)
	mux.HandleFunc("POST /regions/upload", s.handleUpload)
	mux.HandleFunc("PUT /regions/{handle}", s.handleEditRegion)
	mux.HandleFunc("POST /regions/delete", s.handleDeleteRegions)

	mux.HandleFunc("GET /risk", s.handleRisk)
	mux.HandleFunc("POST /risk/refresh", s.handleRiskRefresh)
	mux.HandleFunc("GET /heatmap", s.handleHeatmap)
	mux.HandleFunc("GET /notifications", s.handleNotifications)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

// --- identity ---

type identityRequest struct {
	Email string `json:"email"`
}

type identityResponse struct {
	Identity domain.Identity `json:"identity"`
	Error    string          `json:"error,omitempty"`
}

func (s *Server) handleGetIdentity(w http.ResponseWriter, _ *http.Request) {
	sharedobs.WriteJSON(w, http.StatusOK, identityResponse{Identity: s.deps.Identity.Active()})
}

func (s *Server) handlePutIdentity(w http.ResponseWriter, r *http.Request) {
	var req identityRequest
	if !s.decode(w, r, &req) {
		return
	}
	id, err := s.deps.Identity.Submit(r.Context(), req.Email)
	if id.IsZero() {
		s.writeError(w, err)
		return
	}
	// The identity is active even when a collaborator failed to activate.
	resp := identityResponse{Identity: id}
	if err != nil {
		s.logger.Warn("identity activation incomplete", "identity", id, "error", err)
		resp.Error = err.Error()
	}
	sharedobs.WriteJSON(w, http.StatusOK, resp)
}

// --- regions ---

type createRequest struct {
	Name    string              `json:"name"`
	GeoJSON json.RawMessage     `json:"geojson"`
	Handle  domain.RenderHandle `json:"handle"`
}

type editRequest struct {
	GeoJSON json.RawMessage `json:"geojson"`
}

type deleteRequest struct {
	Handles []domain.RenderHandle `json:"handles"`
}

func (s *Server) handleListRegions(w http.ResponseWriter, _ *http.Request) {
	sharedobs.WriteJSON(w, http.StatusOK, s.deps.Layers.FeatureCollection())
}

func (s *Server) handleCreateRegion(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !s.decode(w, r, &req) {
		return
	}
	g, err := domain.DecodeGeometry(req.GeoJSON)
	if err != nil {
		s.writeError(w, err)
		return
	}
	created, err := s.deps.Regions.OnCreate(domain.Draft{Name: req.Name, Geometry: g, Handle: req.Handle})
	if err != nil {
		s.writeError(w, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusAccepted, created)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, &domain.ParseError{Source: "upload", Err: err})
		return
	}
	created, err := s.deps.Regions.OnUpload(string(body))
	if err != nil {
		s.writeError(w, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusAccepted, map[string]any{"regions": created})
}

func (s *Server) handleEditRegion(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if !s.decode(w, r, &req) {
		return
	}
	g, err := domain.DecodeGeometry(req.GeoJSON)
	if err != nil {
		s.writeError(w, err)
		return
	}
	handle := domain.RenderHandle(r.PathValue("handle"))
	if err := s.deps.Regions.OnEdit(handle, g); err != nil {
		s.writeError(w, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusAccepted, map[string]string{"handle": string(handle)})
}

func (s *Server) handleDeleteRegions(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if !s.decode(w, r, &req) {
		return
	}
	if len(req.Handles) == 0 {
		s.writeError(w, &domain.ValidationError{Field: "handles", Reason: "at least one handle is required"})
		return
	}
	if err := s.deps.Regions.OnDelete(req.Handles); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// --- risk ---

type riskResponse struct {
	Markers   []layers.Marker `json:"markers"`
	FetchedAt *time.Time      `json:"fetchedAt,omitempty"`
}

func (s *Server) riskSnapshot() riskResponse {
	resp := riskResponse{Markers: s.deps.Layers.Markers()}
	if at := s.deps.Risk.FetchedAt(); !at.IsZero() {
		resp.FetchedAt = &at
	}
	if resp.Markers == nil {
		resp.Markers = []layers.Marker{}
	}
	return resp
}

func (s *Server) handleRisk(w http.ResponseWriter, _ *http.Request) {
	sharedobs.WriteJSON(w, http.StatusOK, s.riskSnapshot())
}

func (s *Server) handleRiskRefresh(w http.ResponseWriter, r *http.Request) {
	id := s.deps.Identity.Active()
	if id.IsZero() {
		s.writeError(w, domain.ErrNoIdentity)
		return
	}
	if _, err := s.deps.Risk.Fetch(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, s.riskSnapshot())
}

// --- heatmap ---

func (s *Server) handleHeatmap(w http.ResponseWriter, r *http.Request) {
	horizon, threshold := s.deps.Heat.Settings()
	q := r.URL.Query()
	if v := q.Get("horizon"); v != "" {
		h, err := domain.ParseHorizon(v)
		if err != nil {
			s.writeError(w, err)
			return
		}
		horizon = h
	}
	if v := q.Get("threshold"); v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil {
			s.writeError(w, &domain.ValidationError{Field: "threshold", Reason: "must be a number"})
			return
		}
		threshold = t
	}

	layer, err := s.deps.Heat.Apply(r.Context(), horizon, threshold)
	if err != nil {
		s.writeError(w, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, layer)
}

// --- notifications ---

func (s *Server) handleNotifications(w http.ResponseWriter, _ *http.Request) {
	items := s.deps.Notifications.List()
	if items == nil {
		items = []domain.Notification{}
	}
	sharedobs.WriteJSON(w, http.StatusOK, items)
}

// --- helpers ---

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		s.writeError(w, &domain.ParseError{Source: "request body", Err: err})
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := domain.ErrorKind(err)
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "kind", kind, "error", err)
	}
	sharedobs.WriteJSON(w, status, errorResponse{Error: err.Error(), Kind: kind})
}

func statusFor(kind string) int {
	switch kind {
	case "validation", "parse":
		return http.StatusBadRequest
	case "unknown_region":
		return http.StatusNotFound
	case "no_identity":
		return http.StatusConflict
	case "transport", "server":
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
