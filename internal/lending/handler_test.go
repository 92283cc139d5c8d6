package lending

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libris/internal/catalog"
	"libris/internal/users"
)

// stubService lets each test script the workflow's answer.
type stubService struct {
	borrow  func(ctx context.Context, userID int64, isbn string) (*Lending, error)
	returns func(ctx context.Context, userID, lendingID int64) (*View, error)
	history func(ctx context.Context, userID int64) ([]*View, error)
}

func (s *stubService) Borrow(ctx context.Context, userID int64, isbn string) (*Lending, error) {
	return s.borrow(ctx, userID, isbn)
}

func (s *stubService) Return(ctx context.Context, userID, lendingID int64) (*View, error) {
	return s.returns(ctx, userID, lendingID)
}

func (s *stubService) History(ctx context.Context, userID int64) ([]*View, error) {
	return s.history(ctx, userID)
}

func (s *stubService) ResetLedger(context.Context) error { return nil }

func newTestRouter(svc Service) *chi.Mux {
	h := NewHandler(svc)
	r := chi.NewRouter()
	r.Post("/lendings", h.HandleBorrow)
	r.Post("/lendings/{id}/return", h.HandleReturn)
	r.Get("/users/{id}/lendings", h.HandleHistory)
	return r
}

func postJSON(t *testing.T, r http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHandleBorrowCreated(t *testing.T) {
	svc := &stubService{
		borrow: func(_ context.Context, userID int64, isbn string) (*Lending, error) {
			assert.Equal(t, int64(42), userID)
			assert.Equal(t, "9780132350884", isbn)
			return &Lending{
				ID:          1,
				Book:        catalog.NewBook(isbn, "Clean Code", []catalog.Author{{Name: "Robert C. Martin"}}, 0),
				User:        &users.User{ID: userID, Name: "Ada", Email: "ada@example.com"},
				LendingDate: time.Now(),
			}, nil
		},
	}

	rec := postJSON(t, newTestRouter(svc), "/lendings",
		map[string]any{"user_id": 42, "isbn": "9780132350884"})

	require.Equal(t, http.StatusCreated, rec.Code)

	var created Lending
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	assert.Equal(t, int64(1), created.ID)
	assert.Nil(t, created.ReturnDate)
}

func TestHandleBorrowErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"user not found", users.ErrUserNotFound, http.StatusNotFound},
		{"book not found", catalog.ErrBookNotFound, http.StatusNotFound},
		{"not available", catalog.ErrNotAvailable, http.StatusConflict},
		{"invalid lending", ErrInvalidLending, http.StatusBadRequest},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubService{
				borrow: func(context.Context, int64, string) (*Lending, error) {
					return nil, tc.err
				},
			}

			rec := postJSON(t, newTestRouter(svc), "/lendings",
				map[string]any{"user_id": 42, "isbn": "9780132350884"})

			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestHandleBorrowMalformedBody(t *testing.T) {
	svc := &stubService{}
	req := httptest.NewRequest(http.MethodPost, "/lendings", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	newTestRouter(svc).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleReturnOK(t *testing.T) {
	returnDate := time.Date(2024, 3, 8, 10, 0, 0, 0, time.UTC)
	svc := &stubService{
		returns: func(_ context.Context, userID, lendingID int64) (*View, error) {
			assert.Equal(t, int64(42), userID)
			assert.Equal(t, int64(7), lendingID)
			return &View{
				ID:          lendingID,
				Book:        BookView{ISBN: "9780132350884", Title: "Clean Code"},
				User:        UserView{ID: userID, Name: "Ada", Email: "ada@example.com"},
				LendingDate: returnDate.AddDate(0, 0, -7),
				ReturnDate:  &returnDate,
			}, nil
		},
	}

	rec := postJSON(t, newTestRouter(svc), "/lendings/7/return", map[string]any{"user_id": 42})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "quantity")
}

func TestHandleReturnErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"user not found", users.ErrUserNotFound, http.StatusNotFound},
		{"lending not found", ErrLendingNotFound, http.StatusNotFound},
		{"already returned", ErrAlreadyReturned, http.StatusConflict},
		{"wrong user", ErrNotAuthorized, http.StatusForbidden},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubService{
				returns: func(context.Context, int64, int64) (*View, error) {
					return nil, tc.err
				},
			}

			rec := postJSON(t, newTestRouter(svc), "/lendings/7/return", map[string]any{"user_id": 42})

			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestHandleReturnInvalidLendingID(t *testing.T) {
	rec := postJSON(t, newTestRouter(&stubService{}), "/lendings/abc/return", map[string]any{"user_id": 42})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleHistoryOK(t *testing.T) {
	svc := &stubService{
		history: func(_ context.Context, userID int64) ([]*View, error) {
			assert.Equal(t, int64(42), userID)
			return []*View{
				{ID: 1, Book: BookView{ISBN: "9780132350884", Title: "Clean Code"}},
			}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/users/42/lendings", nil)
	rec := httptest.NewRecorder()
	newTestRouter(svc).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var views []*View
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&views))
	require.Len(t, views, 1)
	assert.Equal(t, "9780132350884", views[0].Book.ISBN)
}

func TestHandleHistoryUnknownUser(t *testing.T) {
	svc := &stubService{
		history: func(context.Context, int64) ([]*View, error) {
			return nil, users.ErrUserNotFound
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/users/999/lendings", nil)
	rec := httptest.NewRecorder()
	newTestRouter(svc).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
