package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studydesk/internal/domain"
	models "studydesk/internal/domain/models/tree"
	treeRepo "studydesk/internal/domain/repositories/tree"
	"studydesk/internal/handler/sse"
	"studydesk/internal/httputil"
	"studydesk/internal/middleware"
	"studydesk/internal/repository/memory"
	"studydesk/internal/service/session"
	"studydesk/internal/service/tree"
)

const owner = "student-1"

// brokenRenames fails every rename the way an unreachable backend would
type brokenRenames struct {
	*memory.Gateway
}

func (g brokenRenames) RenameFolder(context.Context, string, string, string) error {
	return errors.New("connection refused")
}

func (g brokenRenames) RenameDocument(context.Context, string, string, string) error {
	return errors.New("connection refused")
}

type testServer struct {
	mux      *http.ServeMux
	sessions *session.Manager
}

func newTestServer(t *testing.T, gw treeRepo.PersistenceGateway) *testServer {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	sessions := session.NewManager(gw, tree.Options{GatewayTimeout: 2 * time.Second}, 0, logger)
	t.Cleanup(func() { _ = sessions.CloseAll(context.Background()) })

	sseConfig := sse.DefaultConfig()
	sseConfig.KeepAliveInterval = time.Hour
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", HealthCheck(sessions))
	NewTreeHandler(sessions, sseConfig, logger).Register(mux, middleware.Owner)
	return &testServer{mux: mux, sessions: sessions}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	switch b := body.(type) {
	case nil:
		reader = strings.NewReader("")
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = strings.NewReader(string(raw))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(httputil.OwnerHeader, owner)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *testServer) createFolder(t *testing.T, name string, parentID *string) *models.Node {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/folders", map[string]any{"name": name, "parent_id": parentID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[*models.Node](t, rec)
}

func (s *testServer) createDocument(t *testing.T, name string, parentID *string) *models.Node {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/documents", map[string]any{"name": name, "parent_id": parentID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[*models.Node](t, rec)
}

func problemCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	return decode[map[string]any](t, rec)["code"].(string)
}

func TestOwnerHeaderRequired(t *testing.T) {
	s := newTestServer(t, memory.NewGateway())

	for _, value := range []string{"", "has space", strings.Repeat("x", 129)} {
		req := httptest.NewRequest(http.MethodGet, "/api/tree", nil)
		if value != "" {
			req.Header.Set(httputil.OwnerHeader, value)
		}
		rec := httptest.NewRecorder()
		s.mux.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "owner %q", value)
		assert.Equal(t, "invalid_owner", problemCode(t, rec))
	}
	assert.Equal(t, 0, s.sessions.Len())
}

func TestCreateAndReadTree(t *testing.T) {
	s := newTestServer(t, memory.NewGateway())

	lectures := s.createFolder(t, "Lectures", nil)
	assert.Equal(t, "Lectures", lectures.Name)
	assert.Equal(t, models.TypeFolder, lectures.Type)

	week1 := s.createDocument(t, "Week1.pdf", &lectures.ID)
	assert.Equal(t, models.KindPDF, week1.Kind)
	assert.Equal(t, lectures.ID, *week1.ParentID)

	rec := s.do(t, http.MethodGet, "/api/tree", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[struct {
		Status struct {
			Items int `json:"items"`
		} `json:"status"`
		Tree []*models.Node `json:"tree"`
	}](t, rec)
	assert.Equal(t, 2, body.Status.Items)
	require.Len(t, body.Tree, 1)
	require.Len(t, body.Tree[0].Children, 1)
	assert.Equal(t, week1.ID, body.Tree[0].Children[0].ID)

	t.Run("get item", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/items/"+lectures.ID, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, decode[*models.Node](t, rec).Children, 1)

		rec = s.do(t, http.MethodGet, "/api/items/ghost", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "not_found", problemCode(t, rec))
	})

	t.Run("path", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/items/"+week1.ID+"/path", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		path := decode[[]*models.Node](t, rec)
		require.Len(t, path, 2)
		assert.Equal(t, lectures.ID, path[0].ID)
		assert.Equal(t, week1.ID, path[1].ID)
	})
}

func TestListingOrder(t *testing.T) {
	s := newTestServer(t, memory.NewGateway())
	s.createDocument(t, "doc1", nil)
	s.createFolder(t, "B", nil)
	s.createFolder(t, "A", nil)

	rec := s.do(t, http.MethodGet, "/api/tree/listing", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var names []string
	for _, n := range decode[[]*models.Node](t, rec) {
		names = append(names, n.Name)
	}
	assert.Equal(t, []string{"A", "B", "doc1"}, names)

	t.Run("empty folder lists as an empty array", func(t *testing.T) {
		empty := s.createFolder(t, "Empty", nil)
		rec := s.do(t, http.MethodGet, "/api/tree/listing?parent_id="+empty.ID, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, "[]", rec.Body.String())
	})

	t.Run("unknown parent", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/tree/listing?parent_id=ghost", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid_parent", problemCode(t, rec))
	})
}

func TestMutationErrors(t *testing.T) {
	s := newTestServer(t, memory.NewGateway())
	lectures := s.createFolder(t, "Lectures", nil)
	week1 := s.createDocument(t, "Week1.pdf", &lectures.ID)

	tests := []struct {
		name       string
		method     string
		path       string
		body       any
		wantStatus int
		wantCode   string
	}{
		{
			name:       "blank folder name",
			method:     http.MethodPost,
			path:       "/api/folders",
			body:       map[string]any{"name": "   "},
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_name",
		},
		{
			name:       "rename to whitespace",
			method:     http.MethodPatch,
			path:       "/api/items/" + lectures.ID,
			body:       map[string]any{"name": "\t"},
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_name",
		},
		{
			name:       "move folder under a document",
			method:     http.MethodPost,
			path:       "/api/items/" + lectures.ID + "/move",
			body:       map[string]any{"parent_id": week1.ID},
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_parent",
		},
		{
			name:       "move folder into itself",
			method:     http.MethodPost,
			path:       "/api/items/" + lectures.ID + "/move",
			body:       map[string]any{"parent_id": lectures.ID},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "cycle_detected",
		},
		{
			name:       "move without parent_id",
			method:     http.MethodPost,
			path:       "/api/items/" + week1.ID + "/move",
			body:       map[string]any{},
			wantStatus: http.StatusBadRequest,
			wantCode:   "validation_failed",
		},
		{
			name:       "move before without anchor",
			method:     http.MethodPost,
			path:       "/api/items/" + week1.ID + "/move-before",
			body:       map[string]any{},
			wantStatus: http.StatusBadRequest,
			wantCode:   "validation_failed",
		},
		{
			name:       "unknown document kind",
			method:     http.MethodPost,
			path:       "/api/documents",
			body:       map[string]any{"name": "x.bin", "kind": "video"},
			wantStatus: http.StatusBadRequest,
			wantCode:   "validation_failed",
		},
		{
			name:       "delete unknown item",
			method:     http.MethodDelete,
			path:       "/api/items/ghost",
			wantStatus: http.StatusNotFound,
			wantCode:   "not_found",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, tt.method, tt.path, tt.body)
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantCode, problemCode(t, rec))
		})
	}

	t.Run("malformed body", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/folders", `{"name": "x", "colour": "red"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("error slot is reported", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/tree/status", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.NotEmpty(t, decode[map[string]any](t, rec)["error"])
	})
}

func TestRenameMoveDelete(t *testing.T) {
	gw := memory.NewGateway()
	s := newTestServer(t, gw)
	lectures := s.createFolder(t, "Lectures", nil)
	archive := s.createFolder(t, "Archive", nil)
	week1 := s.createDocument(t, "Week1.pdf", &lectures.ID)

	rec := s.do(t, http.MethodPatch, "/api/items/"+lectures.ID, map[string]any{"name": "Lecture Notes"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Lecture Notes", decode[*models.Node](t, rec).Name)

	rec = s.do(t, http.MethodPost, "/api/items/"+week1.ID+"/move", map[string]any{"parent_id": archive.ID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, archive.ID, *decode[*models.Node](t, rec).ParentID)

	rec = s.do(t, http.MethodPost, "/api/items/"+archive.ID+"/move-before", map[string]any{"before_id": lectures.ID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = s.do(t, http.MethodGet, "/api/tree", nil)
	roots := decode[struct {
		Tree []*models.Node `json:"tree"`
	}](t, rec).Tree
	require.Len(t, roots, 2)
	assert.Equal(t, archive.ID, roots[0].ID)

	rec = s.do(t, http.MethodPost, "/api/items/"+week1.ID+"/move", map[string]any{"parent_id": nil})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Nil(t, decode[*models.Node](t, rec).ParentID)

	rec = s.do(t, http.MethodDelete, "/api/items/"+archive.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{archive.ID}, decode[deleteResponse](t, rec).RemovedIDs)

	forest, err := gw.ListTree(context.Background(), owner)
	require.NoError(t, err)
	assert.Len(t, forest, 2)
}

func TestAsyncMutation(t *testing.T) {
	s := newTestServer(t, memory.NewGateway())

	rec := s.do(t, http.MethodPost, "/api/folders?async=true", map[string]any{"name": "Lectures"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	folder := decode[*models.Node](t, rec)
	assert.Equal(t, "Lectures", folder.Name)

	ctrl, err := s.sessions.Get(context.Background(), owner)
	require.NoError(t, err)
	require.NoError(t, ctrl.Sync(context.Background()))
	_, ok := ctrl.FindItemByID(folder.ID)
	assert.True(t, ok)
}

func TestGatewayFailureRollsBack(t *testing.T) {
	s := newTestServer(t, brokenRenames{memory.NewGateway()})
	lectures := s.createFolder(t, "Lectures", nil)

	rec := s.do(t, http.MethodPatch, "/api/items/"+lectures.ID, map[string]any{"name": "New Name"})
	require.Equal(t, http.StatusBadGateway, rec.Code, rec.Body.String())
	assert.Equal(t, "gateway_failure", problemCode(t, rec))

	rec = s.do(t, http.MethodGet, "/api/items/"+lectures.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Lectures", decode[*models.Node](t, rec).Name)

	rec = s.do(t, http.MethodGet, "/api/tree/status", nil)
	assert.Contains(t, decode[map[string]any](t, rec)["error"], "connection refused")
}

func TestRefresh(t *testing.T) {
	gw := memory.NewGateway()
	s := newTestServer(t, gw)
	s.createFolder(t, "Lectures", nil)

	_, err := gw.CreateDocument(context.Background(), &treeRepo.CreateRequest{ID: "upload", OwnerID: owner, Name: "scan.pdf"})
	require.NoError(t, err)

	rec := s.do(t, http.MethodPost, "/api/tree/refresh", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 2, decode[map[string]any](t, rec)["items"])
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"not found", &domain.NotFoundError{ID: "x"}, http.StatusNotFound, "not_found"},
		{"invalid name", fmt.Errorf("%w: empty", domain.ErrInvalidName), http.StatusBadRequest, "invalid_name"},
		{"invalid parent", domain.ErrInvalidParent, http.StatusBadRequest, "invalid_parent"},
		{"cycle", domain.ErrCycleDetected, http.StatusUnprocessableEntity, "cycle_detected"},
		{"remote not found is a gateway failure", domain.NewGatewayError("rename_folder", "x", &domain.NotFoundError{ID: "x"}), http.StatusBadGateway, "gateway_failure"},
		{"closed", tree.ErrClosed, http.StatusServiceUnavailable, "closed"},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := classify(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantCode, code)
		})
	}
}

func TestInternalErrorsHideDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	handleError(rec, slog.New(slog.DiscardHandler), errors.New("pq: password authentication failed"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password")
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t, memory.NewGateway())
	s.createFolder(t, "Lectures", nil)

	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 1, body["sessions"])
}

func TestStreamEvents(t *testing.T) {
	s := newTestServer(t, memory.NewGateway())
	srv := httptest.NewServer(s.mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/tree/events", nil)
	require.NoError(t, err)
	req.Header.Set(httputil.OwnerHeader, owner)

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan string, 16)
	go func() {
		defer close(events)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if name, ok := strings.CutPrefix(scanner.Text(), "event: "); ok {
				events <- name
			}
		}
	}()

	next := func() string {
		select {
		case name := <-events:
			return name
		case <-ctx.Done():
			t.Fatal("timed out waiting for event")
			return ""
		}
	}

	require.Equal(t, "status", next())
	s.createFolder(t, "Lectures", nil)
	assert.Equal(t, "applied", next())
	assert.Equal(t, "confirmed", next())
}
