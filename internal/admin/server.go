package admin

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"time"

	"precision-land/internal/control"
	"precision-land/internal/logging"
	"precision-land/internal/mission"
	"precision-land/internal/telemetry"
)

// Flight is the running mission as seen by operators.
type Flight interface {
	Snapshot() mission.Snapshot
	Abort() bool
}

type Server struct {
	Flight  Flight
	Bands   control.BandTable
	Samples *telemetry.Hub[telemetry.PositionSample]
	Status  *telemetry.Hub[telemetry.Status]
	mux     *http.ServeMux
}

func NewServer(flight Flight, bands control.BandTable, samples *telemetry.Hub[telemetry.PositionSample], status *telemetry.Hub[telemetry.Status]) *Server {
	s := &Server{Flight: flight, Bands: bands, Samples: samples, Status: status, mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/status", s.handleStatus)
	s.mux.HandleFunc("/abort", s.handleAbort)
	s.mux.HandleFunc("/bands", s.handleBands)
	s.mux.HandleFunc("/telemetry", s.handleTelemetry)
}

// ServeHTTP makes the server usable with httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// Start serves on addr until ctx is done.
func (s *Server) Start(ctx context.Context, addr string) error {
	log := logging.FromContext(ctx)
	srv := &http.Server{Addr: addr, Handler: s, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Info("admin server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Flight.Snapshot())
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.Flight.Abort() {
		writeJSON(w, http.StatusConflict, map[string]any{"aborted": false, "reason": "no flight in progress"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"aborted": true})
}

// bandView replaces the unbounded upper edge with null; JSON has no infinity.
type bandView struct {
	LowerM         float64  `json:"lower_m"`
	UpperM         *float64 `json:"upper_m"`
	MaxSpeedMPS    float64  `json:"max_speed_mps,omitempty"`
	DescentRateMPS float64  `json:"descent_rate_mps,omitempty"`
	TargetAltM     float64  `json:"target_alt_m,omitempty"`
	Action         string   `json:"action"`
}

func (s *Server) handleBands(w http.ResponseWriter, r *http.Request) {
	views := make([]bandView, 0, len(s.Bands))
	for _, b := range s.Bands {
		v := bandView{
			LowerM:         b.LowerM,
			MaxSpeedMPS:    b.MaxSpeedMPS,
			DescentRateMPS: b.DescentRateMPS,
			TargetAltM:     b.TargetAltM,
			Action:         b.Action.String(),
		}
		if !math.IsInf(b.UpperM, 1) {
			upper := b.UpperM
			v.UpperM = &upper
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	out := struct {
		Sample *telemetry.PositionSample `json:"sample,omitempty"`
		Status *telemetry.Status         `json:"status,omitempty"`
	}{}
	if s.Samples != nil {
		if v, ok := s.Samples.Latest(); ok {
			out.Sample = &v
		}
	}
	if s.Status != nil {
		if v, ok := s.Status.Latest(); ok {
			out.Status = &v
		}
	}
	writeJSON(w, http.StatusOK, out)
}
