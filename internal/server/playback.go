package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/zsiec/cadence/internal/errors"
	"github.com/zsiec/cadence/internal/events"
	"github.com/zsiec/cadence/internal/logger"
	"github.com/zsiec/cadence/internal/playback/driver"
	"github.com/zsiec/cadence/internal/playback/scheduler"
	"github.com/zsiec/cadence/internal/playback/types"
)

const (
	maxCommandBody   = 64 << 10
	commandTimeout   = 5 * time.Second
	eventsHeartbeat  = 15 * time.Second
	playbackBasePath = "/api/v1/playback"
)

// PlaybackController is the part of the playback driver the API needs.
type PlaybackController interface {
	Do(ctx context.Context, fn func(*scheduler.Scheduler) error) error
	Snapshot() driver.Snapshot
}

// StatusResponse is the compact view returned by GET /status.
type StatusResponse struct {
	SessionID  string  `json:"session_id"`
	Frame      int     `json:"frame"`
	Playing    bool    `json:"playing"`
	Buffering  bool    `json:"buffering"`
	RealFPS    float64 `json:"real_fps"`
	FPS        float64 `json:"fps"`
	StatusText string  `json:"status_text"`
	Error      string  `json:"error,omitempty"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type frameRequest struct {
	Frame *int `json:"frame"`
}

type rangeRequest struct {
	Start *int `json:"start"`
	End   *int `json:"end"`
}

type inOutRequest struct {
	In  *int `json:"in"`
	Out *int `json:"out"`
}

type incRequest struct {
	Inc *int `json:"inc"`
}

type fpsRequest struct {
	FPS *float64 `json:"fps"`
}

type modeRequest struct {
	Mode string `json:"mode"`
}

type realtimeRequest struct {
	Realtime *bool `json:"realtime"`
}

// RegisterPlayback mounts the playback control API. bus may be nil, in which
// case the event stream is not served.
func (s *Server) RegisterPlayback(ctrl PlaybackController, bus *events.Bus) {
	api := &playbackAPI{server: s, ctrl: ctrl, bus: bus}
	s.RegisterRoutes(api.register)
}

type playbackAPI struct {
	server *Server
	ctrl   PlaybackController
	bus    *events.Bus
}

func (a *playbackAPI) register(r *mux.Router) {
	pb := r.PathPrefix(playbackBasePath).Subrouter()
	pb.Use(a.sessionHeader)
	pb.Use(a.server.rateLimitMiddleware(rate.Limit(a.server.config.CommandRate), a.server.config.CommandBurst))

	pb.HandleFunc("", a.handleSnapshot).Methods("GET")
	pb.HandleFunc("/status", a.handleStatus).Methods("GET")
	if a.bus != nil {
		pb.HandleFunc("/events", a.handleEvents).Methods("GET")
	}

	pb.HandleFunc("/play", a.handlePlay).Methods("POST")
	pb.HandleFunc("/stop", a.handleStop).Methods("POST")
	pb.HandleFunc("/stop-completely", a.handleStopCompletely).Methods("POST")

	pb.HandleFunc("/frame", a.handleFrame).Methods("PUT")
	pb.HandleFunc("/range", a.handleRange).Methods("PUT")
	pb.HandleFunc("/narrowed-range", a.handleNarrowedRange).Methods("PUT")
	pb.HandleFunc("/in-out", a.handleInOut).Methods("PUT")
	pb.HandleFunc("/inc", a.handleInc).Methods("PUT")
	pb.HandleFunc("/fps", a.handleFPS).Methods("PUT")
	pb.HandleFunc("/play-mode", a.handlePlayMode).Methods("PUT")
	pb.HandleFunc("/cache-mode", a.handleCacheMode).Methods("PUT")
	pb.HandleFunc("/realtime", a.handleRealtime).Methods("PUT")
}

// sessionHeader tags every playback response, errors included, with the
// session it describes.
func (a *playbackAPI) sessionHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(errors.SessionHeader, a.ctrl.Snapshot().State.SessionID)
		next.ServeHTTP(w, r)
	})
}

func (a *playbackAPI) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	a.server.writeJSON(w, http.StatusOK, a.ctrl.Snapshot())
}

func (a *playbackAPI) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := a.ctrl.Snapshot().State
	a.server.writeJSON(w, http.StatusOK, StatusResponse{
		SessionID:  st.SessionID,
		Frame:      st.Frame,
		Playing:    st.Running,
		Buffering:  st.BufferWait,
		RealFPS:    st.RealFPS,
		FPS:        st.FPS,
		StatusText: st.StatusText,
		Error:      st.ErrorMessage,
	})
}

func (a *playbackAPI) handlePlay(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if !a.decodeOptional(w, r, &req) {
		return
	}
	a.command(w, r, func(s *scheduler.Scheduler) error {
		s.Play(req.Reason)
		return nil
	})
}

func (a *playbackAPI) handleStop(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if !a.decodeOptional(w, r, &req) {
		return
	}
	a.command(w, r, func(s *scheduler.Scheduler) error {
		s.Stop(req.Reason)
		return nil
	})
}

func (a *playbackAPI) handleStopCompletely(w http.ResponseWriter, r *http.Request) {
	a.command(w, r, func(s *scheduler.Scheduler) error {
		s.StopCompletely()
		return nil
	})
}

func (a *playbackAPI) handleFrame(w http.ResponseWriter, r *http.Request) {
	var req frameRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.Frame == nil {
		a.server.writeError(w, r, errors.NewValidationError("frame is required"))
		return
	}
	frame := *req.Frame
	a.command(w, r, func(s *scheduler.Scheduler) error {
		st := s.State()
		if frame < st.RangeStart || frame >= st.RangeEnd {
			return errors.NewFrameOutOfRangeError(frame, st.RangeStart, st.RangeEnd)
		}
		s.SetFrame(frame)
		return nil
	})
}

func (a *playbackAPI) handleRange(w http.ResponseWriter, r *http.Request) {
	start, end, ok := a.decodeRange(w, r)
	if !ok {
		return
	}
	a.command(w, r, func(s *scheduler.Scheduler) error {
		return s.SetFrameRange(start, end)
	})
}

func (a *playbackAPI) handleNarrowedRange(w http.ResponseWriter, r *http.Request) {
	start, end, ok := a.decodeRange(w, r)
	if !ok {
		return
	}
	a.command(w, r, func(s *scheduler.Scheduler) error {
		return s.SetNarrowedRange(start, end)
	})
}

func (a *playbackAPI) handleInOut(w http.ResponseWriter, r *http.Request) {
	var req inOutRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.In == nil && req.Out == nil {
		a.server.writeError(w, r, errors.NewValidationError("in or out is required"))
		return
	}
	a.command(w, r, func(s *scheduler.Scheduler) error {
		// Move the out point first when the new in point would cross it.
		if req.In != nil && req.Out != nil && *req.In >= s.State().OutPoint {
			s.SetOutPoint(*req.Out)
			s.SetInPoint(*req.In)
			return nil
		}
		if req.In != nil {
			s.SetInPoint(*req.In)
		}
		if req.Out != nil {
			s.SetOutPoint(*req.Out)
		}
		return nil
	})
}

func (a *playbackAPI) handleInc(w http.ResponseWriter, r *http.Request) {
	var req incRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.Inc == nil {
		a.server.writeError(w, r, errors.NewValidationError("inc is required"))
		return
	}
	a.command(w, r, func(s *scheduler.Scheduler) error {
		s.SetInc(*req.Inc)
		return nil
	})
}

func (a *playbackAPI) handleFPS(w http.ResponseWriter, r *http.Request) {
	var req fpsRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.FPS == nil {
		a.server.writeError(w, r, errors.NewValidationError("fps is required"))
		return
	}
	a.command(w, r, func(s *scheduler.Scheduler) error {
		return s.SetFPS(*req.FPS)
	})
}

func (a *playbackAPI) handlePlayMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if !a.decode(w, r, &req) {
		return
	}
	mode, err := types.ParsePlayMode(req.Mode)
	if err != nil {
		a.server.writeError(w, r, errors.NewValidationError(err.Error()))
		return
	}
	a.command(w, r, func(s *scheduler.Scheduler) error {
		s.SetPlayMode(mode)
		return nil
	})
}

func (a *playbackAPI) handleCacheMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if !a.decode(w, r, &req) {
		return
	}
	mode, err := types.ParseCacheMode(req.Mode)
	if err != nil {
		a.server.writeError(w, r, errors.NewValidationError(err.Error()))
		return
	}
	a.command(w, r, func(s *scheduler.Scheduler) error {
		s.SetCaching(mode)
		return nil
	})
}

func (a *playbackAPI) handleRealtime(w http.ResponseWriter, r *http.Request) {
	var req realtimeRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.Realtime == nil {
		a.server.writeError(w, r, errors.NewValidationError("realtime is required"))
		return
	}
	a.command(w, r, func(s *scheduler.Scheduler) error {
		s.SetRealtime(*req.Realtime)
		return nil
	})
}

// handleEvents streams scheduler notifications as server-sent events.
func (a *playbackAPI) handleEvents(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	// The server write timeout would otherwise cut long-lived streams.
	_ = rc.SetWriteDeadline(time.Time{})

	var opts []events.Option
	if names := r.URL.Query().Get("names"); names != "" {
		opts = append(opts, events.WithNames(strings.Split(names, ",")...))
	}
	sub := a.bus.Subscribe(eventSubscriberID(r), opts...)
	defer a.bus.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		a.server.logger.WithError(err).Warn("Event stream does not support flushing")
		return
	}

	heartbeat := time.NewTicker(eventsHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := io.WriteString(w, ": keepalive\n\n"); err != nil {
				return
			}
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				a.server.logger.WithError(err).Error("Failed to encode playback event")
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, data); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

// eventSubscriberID keeps the request id for log correlation. The random
// suffix stops clients sending the same id from replacing each other.
func eventSubscriberID(r *http.Request) string {
	return "sse-" + r.Header.Get(logger.RequestIDHeader) + "-" + uuid.NewString()
}

// command runs fn on the control loop and answers with the resulting state.
func (a *playbackAPI) command(w http.ResponseWriter, r *http.Request, fn func(*scheduler.Scheduler) error) {
	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	if err := a.ctrl.Do(ctx, fn); err != nil {
		a.server.writeError(w, r, commandError(err))
		return
	}
	a.server.writeJSON(w, http.StatusOK, a.ctrl.Snapshot().State)
}

// commandError maps scheduler and driver failures onto API errors.
func commandError(err error) error {
	if errors.IsAppError(err) {
		return err
	}
	switch {
	case stderrors.Is(err, scheduler.ErrInvalidRange):
		return errors.Wrap(err, errors.ErrorTypeValidation, err.Error(), http.StatusBadRequest).
			WithCode("INVALID_RANGE")
	case stderrors.Is(err, scheduler.ErrInvalidFPS):
		return errors.Wrap(err, errors.ErrorTypeValidation, err.Error(), http.StatusBadRequest).
			WithCode("INVALID_FPS")
	case stderrors.Is(err, driver.ErrQueueFull):
		return errors.NewQueueFullError(err)
	case stderrors.Is(err, driver.ErrStopped):
		return errors.NewServiceDownError("playback")
	case stderrors.Is(err, context.DeadlineExceeded):
		return errors.NewTimeoutError("playback command timed out")
	}
	return errors.WrapInternalError(err, "playback command failed")
}

func (a *playbackAPI) decodeRange(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	var req rangeRequest
	if !a.decode(w, r, &req) {
		return 0, 0, false
	}
	if req.Start == nil || req.End == nil {
		a.server.writeError(w, r, errors.NewValidationError("start and end are required"))
		return 0, 0, false
	}
	return *req.Start, *req.End, true
}

func (a *playbackAPI) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxCommandBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		a.server.writeError(w, r, errors.NewValidationError("invalid request body: "+err.Error()))
		return false
	}
	return true
}

// decodeOptional accepts an empty body.
func (a *playbackAPI) decodeOptional(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	return a.decode(w, r, v)
}
