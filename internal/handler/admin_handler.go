package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"growth-service/internal/repository/scylla"
	"growth-service/internal/service"
)

// AdminHandler serves the operator surface: runtime settings, funnel
// aggregates, CRM search and broadcasts.
type AdminHandler struct {
	services *service.ServiceFactory
}

func NewAdminHandler(services *service.ServiceFactory) *AdminHandler {
	return &AdminHandler{services: services}
}

func (h *AdminHandler) GetSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	value, err := h.services.Settings.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, scylla.ErrSettingNotFound) {
			writeError(w, http.StatusNotFound, "setting not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load setting")
		return
	}
	writeSuccess(w, map[string]string{"key": key, "value": value})
}

func (h *AdminHandler) PutSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var body struct {
		Value string `json:"value"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	if err := h.services.Settings.Set(r.Context(), key, body.Value); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store setting")
		return
	}
	writeSuccess(w, map[string]string{"key": key, "value": body.Value})
}

// FunnelStats returns distinct-user counts per funnel stage.
func (h *AdminHandler) FunnelStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.services.Funnel.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load funnel stats")
		return
	}
	writeSuccess(w, stats)
}

// SearchUsers runs a CRM segment query.
func (h *AdminHandler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	query := service.CRMQuery{
		Segment:  r.URL.Query().Get("segment"),
		Source:   r.URL.Query().Get("source"),
		Campaign: r.URL.Query().Get("campaign"),
		Goal:     r.URL.Query().Get("goal"),
	}
	if raw := r.URL.Query().Get("min_score"); raw != "" {
		if minScore, err := strconv.Atoi(raw); err == nil {
			query.MinScore = minScore
		}
	}
	if raw := r.URL.Query().Get("size"); raw != "" {
		if size, err := strconv.Atoi(raw); err == nil {
			query.Size = size
		}
	}

	docs, err := h.services.CRM.Search(r.Context(), query)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeSuccess(w, map[string]interface{}{"users": docs, "count": len(docs)})
}

// UserEvents returns the newest events for one user.
func (h *AdminHandler) UserEvents(w http.ResponseWriter, r *http.Request) {
	telegramID, err := strconv.ParseInt(chi.URLParam(r, "telegramID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid telegram id")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}

	events, err := h.services.Funnel.RecentEvents(r.Context(), telegramID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load events")
		return
	}
	writeSuccess(w, map[string]interface{}{"events": events, "count": len(events)})
}

// Broadcast fans a message out to a CRM segment.
func (h *AdminHandler) Broadcast(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Segment  string `json:"segment"`
		Source   string `json:"source"`
		Campaign string `json:"campaign"`
		MinScore int    `json:"min_score"`
		Text     string `json:"text"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	result, err := h.services.Broadcast.SendToSegment(r.Context(), service.CRMQuery{
		Segment:  body.Segment,
		Source:   body.Source,
		Campaign: body.Campaign,
		MinScore: body.MinScore,
	}, body.Text)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "broadcast failed")
		return
	}
	writeSuccess(w, result)
}
