package cli

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"market-observer/internal/alerts"
	apperrors "market-observer/internal/errors"
	"market-observer/internal/models"
	"market-observer/internal/replay"
	"market-observer/internal/store"
	"market-observer/internal/stream"
)

// apiServer exposes the query surface over HTTP while the pipeline runs:
// alert CRUD, candle queries, replay control and the websocket stream.
type apiServer struct {
	app     *App
	session *replay.Session
	hub     *stream.Hub
}

func newAPIServer(app *App, session *replay.Session, hub *stream.Hub) *apiServer {
	return &apiServer{app: app, session: session, hub: hub}
}

func (s *apiServer) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /ws", s.handleWebSocket)

	mux.HandleFunc("GET /api/alerts", s.handleListAlerts)
	mux.HandleFunc("POST /api/alerts", s.handleCreateAlert)
	mux.HandleFunc("GET /api/alerts/{id}", s.handleGetAlert)
	mux.HandleFunc("DELETE /api/alerts/{id}", s.handleDeleteAlert)

	mux.HandleFunc("GET /api/candles/stats", s.handleCandleStats)
	mux.HandleFunc("POST /api/candles/regenerate", s.handleRegenerateCandles)
	mux.HandleFunc("GET /api/candles/{timeframe}", s.handleListCandles)
	mux.HandleFunc("GET /api/candles/{timeframe}/latest", s.handleLatestCandle)

	mux.HandleFunc("POST /api/replay/start", s.handleReplayStart)
	mux.HandleFunc("POST /api/replay/pause", s.replayControl(func() replay.Status { return s.session.Pause() }))
	mux.HandleFunc("POST /api/replay/resume", s.replayControl(func() replay.Status { return s.session.Resume() }))
	mux.HandleFunc("POST /api/replay/stop", s.replayControl(func() replay.Status { return s.session.Stop() }))
	mux.HandleFunc("POST /api/replay/speed", s.handleReplaySpeed)
	mux.HandleFunc("POST /api/replay/seek", s.handleReplaySeek)
	mux.HandleFunc("GET /api/replay/status", s.handleReplayStatus)
	mux.HandleFunc("GET /api/replay/info", s.handleReplayInfo)

	return mux
}

func (s *apiServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sink, err := stream.NewWebSocketSink(w, r, s.app.Logger)
	if err != nil {
		// Upgrade already wrote its own error response.
		s.app.Logger.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	id := s.hub.Register(sink)
	go func() {
		<-sink.Done()
		s.hub.Unregister(id)
	}()
}

func (s *apiServer) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	filter := store.AlertFilter{
		Pair:   r.URL.Query().Get("pair"),
		Status: models.AlertStatus(r.URL.Query().Get("status")),
	}
	list, err := s.app.Store.ListAlerts(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *apiServer) handleCreateAlert(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Pair          string   `json:"pair"`
		TargetPrice   float64  `json:"target_price"`
		Condition     string   `json:"condition"`
		Channels      []string `json:"channels"`
		Email         string   `json:"email"`
		Phone         string   `json:"phone"`
		CustomMessage string   `json:"custom_message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, apperrors.NewValidationError("body", nil, "invalid JSON"))
		return
	}

	channels := make([]models.AlertChannel, 0, len(req.Channels))
	for _, ch := range req.Channels {
		channels = append(channels, models.AlertChannel(ch))
	}

	alert, err := s.app.Engine.Create(r.Context(), alerts.CreateRequest{
		Pair:          req.Pair,
		TargetPrice:   req.TargetPrice,
		Condition:     models.AlertCondition(req.Condition),
		Channels:      channels,
		Email:         req.Email,
		Phone:         req.Phone,
		CustomMessage: req.CustomMessage,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, alert)
}

func (s *apiServer) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := s.app.Engine.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, alert)
}

func (s *apiServer) handleDeleteAlert(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Engine.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *apiServer) handleListCandles(w http.ResponseWriter, r *http.Request) {
	timeframe := models.Timeframe(r.PathValue("timeframe"))
	pair := r.URL.Query().Get("pair")

	q := r.URL.Query()
	if q.Get("start") != "" || q.Get("end") != "" {
		start, err := parseTimeParam(q.Get("start"))
		if err != nil {
			s.writeError(w, err)
			return
		}
		end, err := parseTimeParam(q.Get("end"))
		if err != nil {
			s.writeError(w, err)
			return
		}
		if end.IsZero() {
			end = time.Now().UTC()
		}
		list, err := s.app.Candles.ListRange(r.Context(), timeframe, pair, start, end)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, list)
		return
	}

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}
	list, err := s.app.Candles.List(r.Context(), timeframe, pair, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *apiServer) handleLatestCandle(w http.ResponseWriter, r *http.Request) {
	candle, err := s.app.Candles.Latest(r.Context(), models.Timeframe(r.PathValue("timeframe")), r.URL.Query().Get("pair"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, candle)
}

func (s *apiServer) handleCandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.app.Candles.Stats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *apiServer) handleRegenerateCandles(w http.ResponseWriter, r *http.Request) {
	pair := r.URL.Query().Get("pair")
	counts, err := s.app.Candles.RegenerateAll(r.Context(), pair)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, counts)
}

func (s *apiServer) handleReplayStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StartIndex int     `json:"start_index"`
		Speed      float64 `json:"speed"`
		Start      string  `json:"start"`
		End        string  `json:"end"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, apperrors.NewValidationError("body", nil, "invalid JSON"))
		return
	}
	if req.Speed == 0 {
		req.Speed = 1.0
	}

	start, err := parseTimeParam(req.Start)
	if err != nil {
		s.writeError(w, err)
		return
	}
	end, err := parseTimeParam(req.End)
	if err != nil {
		s.writeError(w, err)
		return
	}

	snapshots, err := s.app.Store.GetSnapshots(r.Context(), store.SnapshotFilter{Start: start, End: end})
	if err != nil {
		s.writeError(w, err)
		return
	}

	status, err := s.session.Start(snapshots, req.StartIndex, req.Speed)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *apiServer) replayControl(fn func() replay.Status) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, fn())
	}
}

func (s *apiServer) handleReplaySpeed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Speed float64 `json:"speed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, apperrors.NewValidationError("body", nil, "invalid JSON"))
		return
	}
	s.writeJSON(w, http.StatusOK, s.session.SetSpeed(req.Speed))
}

func (s *apiServer) handleReplaySeek(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Index   *int     `json:"index"`
		Percent *float64 `json:"percent"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, apperrors.NewValidationError("body", nil, "invalid JSON"))
		return
	}

	var (
		status replay.Status
		err    error
	)
	switch {
	case req.Index != nil:
		status, err = s.session.SeekToIndex(*req.Index)
	case req.Percent != nil:
		status, err = s.session.SeekToPercent(*req.Percent)
	default:
		err = apperrors.NewValidationError("body", nil, "index or percent required")
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *apiServer) handleReplayStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.session.Status())
}

func (s *apiServer) handleReplayInfo(w http.ResponseWriter, r *http.Request) {
	count, err := s.app.Store.CountSnapshots(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	info := map[string]interface{}{
		"total_snapshots": count,
	}
	if count > 0 {
		earliest, latest, err := s.app.Store.SnapshotDateRange(r.Context())
		if err != nil {
			s.writeError(w, err)
			return
		}
		info["earliest"] = earliest
		info["latest"] = latest
	}
	s.writeJSON(w, http.StatusOK, info)
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *apiServer) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case apperrors.Is(err, apperrors.ErrInvalidArgument):
		status = http.StatusBadRequest
	case apperrors.Is(err, apperrors.ErrDataNotFound):
		status = http.StatusNotFound
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func parseTimeParam(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, apperrors.NewValidationError("time", raw, "must be RFC3339")
	}
	return t, nil
}
