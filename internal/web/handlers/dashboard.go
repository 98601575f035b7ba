package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/congregio/checkin-engine/internal/constants"
	"github.com/congregio/checkin-engine/internal/database"
	"github.com/congregio/checkin-engine/internal/sessions"
)

// dashboardListLimit caps how many check-ins one dashboard read pulls
// from the store; the default display size is constants.DefaultRecentCheckins.
const dashboardListLimit = 200

// DashboardHandler serves the live per-session attendance dashboard.
type DashboardHandler struct {
	sessions *sessions.Manager
	checkins database.CheckInStore
}

// NewDashboardHandler creates a dashboard handler.
func NewDashboardHandler(mgr *sessions.Manager, checkins database.CheckInStore) *DashboardHandler {
	return &DashboardHandler{sessions: mgr, checkins: checkins}
}

// DashboardResponse is one snapshot of a session's attendance.
type DashboardResponse struct {
	Session    sessionPayload   `json:"session"`
	Total      int              `json:"total"`
	Present    int              `json:"present"` // checked in, not yet out
	Verified   int              `json:"verified"`
	NeedReview int              `json:"need_review"` // pending + suspicious
	Rejected   int              `json:"rejected"`
	Visitors   int              `json:"visitors"` // check-ins with no matched owner
	FirstTimer int              `json:"first_timers"`
	ByMethod   map[string]int   `json:"by_method"`
	Recent     []checkInPayload `json:"recent"`
}

// Get returns live counts for a session. First-timer detection counts
// owners with no check-in recorded before this session's.
func (h *DashboardHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s, err := h.sessions.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, sessions.ErrNotFound) {
			respondError(w, http.StatusNotFound, "session not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to load session")
		return
	}

	limit := constants.DefaultRecentCheckins
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= dashboardListLimit {
			limit = n
		}
	}

	list, err := h.checkins.ListBySession(r.Context(), id, dashboardListLimit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list check-ins")
		return
	}

	resp := DashboardResponse{
		Session:  toSessionPayload(s),
		ByMethod: make(map[string]int),
		Recent:   make([]checkInPayload, 0, limit),
	}
	for i := range list {
		c := &list[i]
		resp.Total++
		resp.ByMethod[string(c.Method)]++
		if c.Active() {
			resp.Present++
		}
		switch c.Status {
		case database.StatusVerified:
			resp.Verified++
		case database.StatusPending, database.StatusSuspicious:
			resp.NeedReview++
		case database.StatusRejected:
			resp.Rejected++
		}
		if c.OwnerID == "" {
			resp.Visitors++
		} else {
			prior, err := h.checkins.CountPriorForOwner(r.Context(), c.OwnerID, c.CheckedInAt)
			if err == nil && prior == 0 {
				resp.FirstTimer++
			}
		}
		if len(resp.Recent) < limit {
			resp.Recent = append(resp.Recent, toCheckInPayload(c))
		}
	}

	respondJSON(w, http.StatusOK, resp)
}
