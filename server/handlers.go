package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"CoralPlay/core/queue"
	"CoralPlay/logger"
	"CoralPlay/model"

	"github.com/gorilla/mux"
)

// response 统一的响应包
type response struct {
	Code    int         `json:"code"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response{Code: status, Data: data}); err != nil {
		logger.Warn("响应编码失败", logger.ErrorField(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response{Code: status, Message: msg})
}

func decodeBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// ---- 播放控制 ----

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Play(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.ctrl.Pause()
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.ctrl.Stop()
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Position float64 `json:"position"` // 秒
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.ctrl.Seek(body.Position); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleVolume(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Volume float64 `json:"volume"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.ctrl.SetVolume(body.Volume)
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleMute(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Muted bool `json:"muted"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.ctrl.SetMuted(body.Muted)
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Rate float64 `json:"rate"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.ctrl.SetPlaybackRate(body.Rate)
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleEQ(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Low  float64 `json:"low"`
		Mid  float64 `json:"mid"`
		High float64 `json:"high"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.ctrl.SetEQ(body.Low, body.Mid, body.High)
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleAnalyser(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Analyser())
}

func (s *Server) handleTransitionState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.trans.State())
}

// ---- 队列管理 ----

func (s *Server) handleGetQueue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tracks":       s.queue.Tracks(),
		"currentIndex": s.queue.CurrentIndex(),
		"order":        s.queue.Order(),
		"repeatMode":   s.queue.RepeatMode(),
		"shuffle":      s.queue.ShuffleMode(),
	})
}

func (s *Server) handleSetQueue(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Tracks     []model.Track `json:"tracks"`
		StartIndex int           `json:"startIndex"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.queue.SetQueue(r.Context(), body.Tracks, body.StartIndex); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleClearQueue(w http.ResponseWriter, r *http.Request) {
	s.queue.ClearQueue()
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleAddToQueue(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Track    model.Track `json:"track"`
		Position string      `json:"position"` // next | end
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.queue.AddToQueue(body.Track, body.Position)
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleRemoveFromQueue(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid queue index")
		return
	}
	if err := s.queue.RemoveFromQueue(index); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleMoveTrack(w http.ResponseWriter, r *http.Request) {
	var body struct {
		From int `json:"from"`
		To   int `json:"to"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.queue.MoveTrack(body.From, body.To); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	if err := s.queue.Next(r.Context()); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handlePrevious(w http.ResponseWriter, r *http.Request) {
	if err := s.queue.Previous(r.Context()); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleSkipTo(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Index int `json:"index"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.queue.SkipTo(r.Context(), body.Index); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleRepeatMode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Mode string `json:"mode"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.queue.SetRepeatMode(queue.RepeatMode(body.Mode)); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleShuffleMode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.queue.SetShuffleMode(body.Enabled)
	writeJSON(w, http.StatusOK, map[string]interface{}{"order": s.queue.Order()})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.queue.History())
}

func (s *Server) handleExportQueue(w http.ResponseWriter, r *http.Request) {
	data, err := s.queue.ExportState()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) handleImportQueue(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if err := s.queue.ImportState(data); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// ---- 目录检索 ----

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "missing query parameter q")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 30
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	result, err := s.client.Search(r.Context(), query, limit, offset)
	if err != nil {
		writeError(w, providerStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleTrackDetail(w http.ResponseWriter, r *http.Request) {
	track, err := s.client.GetTrackDetail(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, providerStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, track)
}

func (s *Server) handleLyrics(w http.ResponseWriter, r *http.Request) {
	lyrics, err := s.client.GetLyrics(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, providerStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"lyrics": lyrics})
}

func (s *Server) handleLikeTrack(w http.ResponseWriter, r *http.Request) {
	if err := s.client.LikeTrack(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, providerStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleAlbum(w http.ResponseWriter, r *http.Request) {
	album, err := s.client.GetAlbum(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, providerStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, album)
}

// providerStatus 把目录服务错误映射到HTTP状态
func providerStatus(err error) int {
	switch {
	case model.IsAuthError(err):
		return http.StatusUnauthorized
	case errors.Is(err, model.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

// ---- 流客户端观测 ----

func (s *Server) handleStreamStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"breaker": map[string]interface{}{
			"state":    s.client.Breaker().State(),
			"failures": s.client.Breaker().Failures(),
		},
		"activeRequests": s.client.ActiveRequests(),
		"methodStats":    s.client.RequestStats(),
	})
}
