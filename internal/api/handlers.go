package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"crypto-screenerv1/internal/model"
	"crypto-screenerv1/internal/settings"
	"crypto-screenerv1/internal/store/sqlite"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func pathID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id
}

// ---- filters ----

func (h *handlers) listFilters(w http.ResponseWriter, r *http.Request) {
	filters, err := h.d.Store.ListFilters(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if filters == nil {
		filters = []model.Filter{}
	}
	writeJSON(w, http.StatusOK, filters)
}

// filterBody is the mutable part of a filter accepted on create/update.
type filterBody struct {
	Name    string           `json:"name"`
	Type    model.FilterType `json:"type"`
	Enabled bool             `json:"enabled"`
	Config  json.RawMessage  `json:"config"`
}

func (b *filterBody) validate() error {
	if b.Name == "" {
		return errors.New("name: required")
	}
	return model.ValidateFilterConfig(b.Type, b.Config)
}

func (h *handlers) createFilter(w http.ResponseWriter, r *http.Request) {
	var body filterBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := body.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	f := model.Filter{Name: body.Name, Type: body.Type, Enabled: body.Enabled, Config: body.Config}
	if err := h.d.Store.CreateFilter(r.Context(), &f); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

func (h *handlers) getFilter(w http.ResponseWriter, r *http.Request) {
	f, err := h.d.Store.Filter(r.Context(), pathID(r))
	if err != nil {
		respondStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (h *handlers) updateFilter(w http.ResponseWriter, r *http.Request) {
	var body filterBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := body.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	f := model.Filter{ID: pathID(r), Name: body.Name, Type: body.Type, Enabled: body.Enabled, Config: body.Config}
	if err := h.d.Store.UpdateFilter(r.Context(), &f); err != nil {
		respondStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (h *handlers) deleteFilter(w http.ResponseWriter, r *http.Request) {
	if err := h.d.Store.DeleteFilter(r.Context(), pathID(r)); err != nil {
		respondStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *handlers) toggleFilter(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	f, err := h.d.Store.Filter(r.Context(), id)
	if err != nil {
		respondStoreErr(w, err)
		return
	}
	if err := h.d.Store.SetFilterEnabled(r.Context(), id, !f.Enabled); err != nil {
		respondStoreErr(w, err)
		return
	}
	f.Enabled = !f.Enabled
	writeJSON(w, http.StatusOK, f)
}

func (h *handlers) cloneFilter(w http.ResponseWriter, r *http.Request) {
	src, err := h.d.Store.Filter(r.Context(), pathID(r))
	if err != nil {
		respondStoreErr(w, err)
		return
	}
	clone := model.Filter{
		Name:    src.Name + " (copy)",
		Type:    src.Type,
		Enabled: src.Enabled,
		Config:  src.Config,
	}
	if err := h.d.Store.CreateFilter(r.Context(), &clone); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, clone)
}

func respondStoreErr(w http.ResponseWriter, err error) {
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

// ---- triggers ----

func (h *handlers) listTriggers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var query sqlite.TriggerQuery
	query.FilterID, _ = strconv.ParseInt(q.Get("filter_id"), 10, 64)
	query.Symbol = q.Get("symbol")
	if m := q.Get("market"); m != "" {
		query.Market = model.Market(m)
		if !query.Market.Valid() {
			writeError(w, http.StatusBadRequest, "market: must be spot or futures")
			return
		}
	}
	query.From, _ = strconv.ParseInt(q.Get("from"), 10, 64)
	query.To, _ = strconv.ParseInt(q.Get("to"), 10, 64)
	query.Limit, _ = strconv.Atoi(q.Get("limit"))
	query.Offset, _ = strconv.Atoi(q.Get("offset"))

	triggers, err := h.d.Store.ListTriggers(r.Context(), query)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if triggers == nil {
		triggers = []model.Trigger{}
	}
	writeJSON(w, http.StatusOK, triggers)
}

func (h *handlers) triggerStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.d.Store.Stats(r.Context(), time.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ---- settings ----

type settingsResponse struct {
	settings.Settings
	TelegramConfigured bool `json:"telegram_configured"`
}

func (h *handlers) getSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, settingsResponse{
		Settings:           h.d.Settings.Get(),
		TelegramConfigured: h.d.TelegramConfigured,
	})
}

func (h *handlers) updateSettings(w http.ResponseWriter, r *http.Request) {
	var u settings.Update
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	applied, err := h.d.Settings.Apply(r.Context(), u)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, settingsResponse{
		Settings:           applied,
		TelegramConfigured: h.d.TelegramConfigured,
	})
}

func (h *handlers) testNotification(w http.ResponseWriter, r *http.Request) {
	if err := h.d.Notifier.NotifyTest(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, "test notification failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}
