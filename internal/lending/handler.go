package lending

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"libris/internal/catalog"
	"libris/internal/users"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) HandleBorrow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID int64  `json:"user_id"`
		ISBN   string `json:"isbn"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	rec, err := h.service.Borrow(r.Context(), req.UserID, req.ISBN)
	if err != nil {
		http.Error(w, err.Error(), statusFromError(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(rec)
}

func (h *Handler) HandleReturn(w http.ResponseWriter, r *http.Request) {
	lendingID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid lending ID", http.StatusBadRequest)
		return
	}

	var req struct {
		UserID int64 `json:"user_id"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	view, err := h.service.Return(r.Context(), req.UserID, lendingID)
	if err != nil {
		http.Error(w, err.Error(), statusFromError(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(view)
}

func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid user ID", http.StatusBadRequest)
		return
	}

	views, err := h.service.History(r.Context(), userID)
	if err != nil {
		http.Error(w, err.Error(), statusFromError(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(views)
}

// statusFromError maps the workflow's error taxonomy onto transport status
// codes: absent references are 404, conflicting state is 409, a foreign
// return is 403 and a malformed record is 400.
func statusFromError(err error) int {
	switch {
	case errors.Is(err, users.ErrUserNotFound),
		errors.Is(err, catalog.ErrBookNotFound),
		errors.Is(err, ErrLendingNotFound):
		return http.StatusNotFound
	case errors.Is(err, catalog.ErrNotAvailable),
		errors.Is(err, ErrAlreadyReturned):
		return http.StatusConflict
	case errors.Is(err, ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalidLending):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
