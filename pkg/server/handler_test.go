package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeboe/hyperresearch/pkg/research"
)

func newTestRouter(repo Repository) (*gin.Engine, *Service) {
	gin.SetMode(gin.TestMode)
	svc := NewService(repo, 10)
	svc.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	r := gin.New()
	NewHandler(svc).RegisterRoutes(r)
	return r, svc
}

func do(t *testing.T, r http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func createSession(t *testing.T, r http.Handler) string {
	t.Helper()
	w := do(t, r, http.MethodPost, "/api/sessions", `{"title":"Quantum"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	view := decode[SessionView](t, w)
	assert.Equal(t, "Quantum", view.Title)
	assert.Equal(t, -1, view.DeltaCursor)
	return view.ID.String()
}

const deltaBatchBody = `[
	{"type":"activity-delta","content":{"type":"search","status":"pending","message":"m1","timestamp":"t1"}},
	{"type":"activity-delta","content":{"type":"search","status":"pending","message":"m1","timestamp":"t1","completedSteps":2,"totalSteps":5}},
	{"type":"source-delta","content":{"url":"https://a","title":"A","relevance":0.9}},
	{"type":"source-delta","content":{"url":"https://a","title":"A","relevance":0.9}},
	{"type":"user-message-id","content":"msg-1"},
	{"type":"text-delta","content":"hello"},
	{"oops":true}
]`

func TestSessionDeltaFlow(t *testing.T) {
	r, _ := newTestRouter(nil)
	id := createSession(t, r)

	w := do(t, r, http.MethodPost, "/api/sessions/"+id+"/deltas", deltaBatchBody)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[DeltaResult](t, w)
	assert.Equal(t, 7, res.Received)
	assert.Equal(t, 7, res.Processed)
	assert.Equal(t, 6, res.Cursor)

	w = do(t, r, http.MethodGet, "/api/sessions/"+id, "")
	require.Equal(t, http.StatusOK, w.Code)
	view := decode[SessionView](t, w)
	require.Len(t, view.State.Activity, 1)
	assert.Equal(t, "m1", view.State.Activity[0].Message)
	assert.Equal(t, 2, view.State.CompletedSteps)
	assert.Equal(t, 5, view.State.TotalExpectedSteps)
	assert.Len(t, view.State.Sources, 1)
	assert.Equal(t, "msg-1", view.UserMessageID)
	assert.Equal(t, "hello", view.Block.Content)
	assert.Equal(t, 7, view.Deltas)

	// an empty append consumes nothing
	w = do(t, r, http.MethodPost, "/api/sessions/"+id+"/deltas", `[]`)
	require.Equal(t, http.StatusOK, w.Code)
	res = decode[DeltaResult](t, w)
	assert.Equal(t, 0, res.Processed)
	assert.Equal(t, 6, res.Cursor)
}

func TestSessionDeltasRejectedWhenLogUnavailable(t *testing.T) {
	repo := newMemoryRepo()
	r, _ := newTestRouter(repo)
	id := createSession(t, r)

	repo.failAppends(assert.AnError)
	w := do(t, r, http.MethodPost, "/api/sessions/"+id+"/deltas", deltaBatchBody)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	w = do(t, r, http.MethodGet, "/api/sessions/"+id, "")
	require.Equal(t, http.StatusOK, w.Code)
	view := decode[SessionView](t, w)
	assert.Equal(t, 0, view.Deltas)
	assert.Equal(t, -1, view.DeltaCursor)
	assert.Empty(t, view.State.Sources)

	repo.failAppends(nil)
	w = do(t, r, http.MethodPost, "/api/sessions/"+id+"/deltas", deltaBatchBody)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 6, decode[DeltaResult](t, w).Cursor)
}

func TestSessionActions(t *testing.T) {
	r, _ := newTestRouter(nil)
	id := createSession(t, r)
	path := "/api/sessions/" + id + "/actions"

	w := do(t, r, http.MethodPost, path, `{"type":"init-progress","maxDepth":3,"totalSteps":10}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = do(t, r, http.MethodPost, path, `{"type":"update-progress","completed":4,"total":10}`)
	require.Equal(t, http.StatusOK, w.Code)
	state := decode[research.ResearchState](t, w)
	assert.Equal(t, 3, state.MaxDepth)
	assert.Equal(t, 4, state.CompletedSteps)
	assert.Equal(t, 10, state.TotalExpectedSteps)

	do(t, r, http.MethodPost, path, `{"type":"toggle-active"}`)
	do(t, r, http.MethodPost, path, `{"type":"set-depth","current":1,"max":3}`)
	w = do(t, r, http.MethodPost, path, `{"type":"add-source","source":{"url":"https://a","title":"A","relevance":0.9}}`)
	state = decode[research.ResearchState](t, w)
	assert.True(t, state.Active)
	assert.Equal(t, 1, state.CurrentDepth)
	assert.Len(t, state.Sources, 1)

	// unknown action types are ignored
	w = do(t, r, http.MethodPost, path, `{"type":"launch-rocket"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, state, decode[research.ResearchState](t, w))

	w = do(t, r, http.MethodPost, path, `{"active":true}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodDelete, "/api/sessions/"+id+"/state", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, research.InitialState(), decode[research.ResearchState](t, w))
}

func TestSessionErrors(t *testing.T) {
	r, _ := newTestRouter(nil)

	w := do(t, r, http.MethodGet, "/api/sessions/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodGet, "/api/sessions/7f1d8f5e-8a38-4c36-9d4b-2f3c5b1b9a10", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	id := createSession(t, r)
	w = do(t, r, http.MethodPost, "/api/sessions/"+id+"/deltas", `{"type":"not-an-array"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodGet, "/api/sessions", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), id)

	w = do(t, r, http.MethodGet, "/api/sessions/"+id+"/logs", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestStreamStateSendsSnapshot(t *testing.T) {
	r, svc := newTestRouter(nil)
	id := createSession(t, r)

	sess, err := svc.Session(context.Background(), mustUUID(t, id))
	require.NoError(t, err)
	sess.Store.AddSource(research.SourceItem{URL: "https://a"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/sessions/"+id+"/events", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	body := w.Body.String()
	require.True(t, strings.HasPrefix(body, "data: "), body)
	assert.Contains(t, body, `"https://a"`)
}

func TestPanelVisibility(t *testing.T) {
	r, _ := newTestRouter(nil)

	first := decode[PanelView](t, do(t, r, http.MethodPost, "/api/panels", ""))
	second := decode[PanelView](t, do(t, r, http.MethodPost, "/api/panels", ""))
	assert.True(t, first.Visible)
	assert.False(t, second.Visible)

	w := do(t, r, http.MethodGet, "/api/panels/"+second.ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[PanelView](t, w).Visible)

	w = do(t, r, http.MethodDelete, "/api/panels/"+first.ID, "")
	require.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, r, http.MethodGet, "/api/panels/"+second.ID, "")
	assert.True(t, decode[PanelView](t, w).Visible)

	// render also needs research content when a session is given
	id := createSession(t, r)
	w = do(t, r, http.MethodGet, "/api/panels/"+second.ID+"?session="+id, "")
	view := decode[PanelView](t, w)
	assert.True(t, view.Visible)
	assert.False(t, view.Render)

	third := decode[PanelView](t, do(t, r, http.MethodPost, "/api/panels", ""))
	assert.False(t, third.Visible)
	w = do(t, r, http.MethodPost, "/api/panels/"+third.ID+"/claim", "")
	assert.True(t, decode[PanelView](t, w).Visible)
	w = do(t, r, http.MethodGet, "/api/panels/"+second.ID, "")
	assert.False(t, decode[PanelView](t, w).Visible)

	w = do(t, r, http.MethodDelete, "/api/panels/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMCPTools(t *testing.T) {
	r, _ := newTestRouter(nil)
	id := createSession(t, r)
	do(t, r, http.MethodPost, "/api/sessions/"+id+"/deltas", deltaBatchBody)

	w := do(t, r, http.MethodPost, "/mcp", `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodPost, "/mcp", `{"jsonrpc":"2.0","id":1,"method":"initialize"}`)
	require.Equal(t, http.StatusOK, w.Code)
	mcpSession := w.Header().Get("Mcp-Session-Id")
	require.NotEmpty(t, mcpSession)

	w = do(t, r, http.MethodPost, "/mcp", `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`, "Mcp-Session-Id", mcpSession)
	assert.Contains(t, w.Body.String(), "list_sources")

	call := `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"list_activity","arguments":{"session_id":"` + id + `","status":"pending"}}}`
	w = do(t, r, http.MethodPost, "/mcp", call, "Mcp-Session-Id", mcpSession)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Result struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"result"`
		Error *MCPError `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Nil(t, resp.Error)
	require.Len(t, resp.Result.Content, 1)

	var items []research.ActivityItem
	require.NoError(t, json.Unmarshal([]byte(resp.Result.Content[0].Text), &items))
	require.Len(t, items, 1)
	assert.Equal(t, "m1", items[0].Message)

	w = do(t, r, http.MethodPost, "/mcp", `{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"nope","arguments":{"session_id":"`+id+`"}}}`, "Mcp-Session-Id", mcpSession)
	assert.Contains(t, w.Body.String(), "Tool not found")
}

func TestActionRequestMissingPayloadIsIgnored(t *testing.T) {
	for _, typ := range []string{"set-active", "add-activity", "add-source"} {
		assert.Nil(t, ActionRequest{Type: typ}.Action(), typ)
	}
	assert.Equal(t, research.Clear{}, ActionRequest{Type: "clear"}.Action())
}

func TestMetricsEndpoint(t *testing.T) {
	r, _ := newTestRouter(nil)
	id := createSession(t, r)
	do(t, r, http.MethodPost, "/api/sessions/"+id+"/deltas", deltaBatchBody)

	w := do(t, r, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, bytes.Contains(w.Body.Bytes(), []byte("hyperresearch_stream_deltas_total")))
}
