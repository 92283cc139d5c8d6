package catalog

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) HandleAddBook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ISBN     string   `json:"isbn"`
		Title    string   `json:"title"`
		Authors  []Author `json:"authors"`
		Quantity int      `json:"quantity"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	book, err := h.service.AddBook(r.Context(), NewBook(req.ISBN, req.Title, req.Authors, req.Quantity))
	if err != nil {
		http.Error(w, err.Error(), statusFromError(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(book)
}

func (h *Handler) HandleGetBook(w http.ResponseWriter, r *http.Request) {
	book, err := h.service.FindBookByISBN(r.Context(), chi.URLParam(r, "isbn"))
	if err != nil {
		http.Error(w, err.Error(), statusFromError(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(book)
}

func (h *Handler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		http.Error(w, "missing search query", http.StatusBadRequest)
		return
	}

	books, err := h.service.Search(r.Context(), query)
	if err != nil {
		http.Error(w, err.Error(), statusFromError(err))
		return
	}
	if books == nil {
		books = []*Book{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(books)
}

func (h *Handler) HandleRemoveBook(w http.ResponseWriter, r *http.Request) {
	if err := h.service.RemoveBook(r.Context(), chi.URLParam(r, "isbn")); err != nil {
		http.Error(w, err.Error(), statusFromError(err))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func statusFromError(err error) int {
	switch {
	case errors.Is(err, ErrBookNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrBookExists), errors.Is(err, ErrNotAvailable), errors.Is(err, ErrBookInUse):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidBook):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
