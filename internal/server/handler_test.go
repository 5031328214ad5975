package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/courseloom/amvc/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testTokenStore implements TokenStore for tests.
type testTokenStore struct {
	tokens map[string]*TokenInfo
}

func (t *testTokenStore) GetByHash(hash string) (*TokenInfo, error) {
	return t.tokens[hash], nil
}

func (t *testTokenStore) UpdateLastUsed(_ string) error {
	return nil
}

func (t *testTokenStore) ListTokens() ([]*TokenInfo, error) {
	tokens := make([]*TokenInfo, 0, len(t.tokens))
	for _, tok := range t.tokens {
		tokens = append(tokens, tok)
	}
	return tokens, nil
}

func (t *testTokenStore) DeleteToken(id string) error {
	for hash, tok := range t.tokens {
		if tok.ID == id {
			delete(t.tokens, hash)
			return nil
		}
	}
	return fmt.Errorf("token '%s' not found", id)
}

func (t *testTokenStore) CreateToken(desc, permission string) (string, *TokenInfo, error) {
	rawToken := "test-created-token"
	tokenHash := HashToken(rawToken)
	info := &TokenInfo{
		ID:         "tok-new",
		TokenHash:  tokenHash,
		Desc:       desc,
		Permission: permission,
		CreatedAt:  time.Now().UTC().Format(time.RFC3339),
	}
	t.tokens[tokenHash] = info
	return rawToken, info, nil
}

// newTestServer builds a server over a fresh sqlite store and returns it with
// a read-write and a read-only token.
func newTestServer(t *testing.T) (*httptest.Server, string, string) {
	t.Helper()

	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, st.Initialize())
	t.Cleanup(func() { st.Close() })

	rwToken := "test-token-rw"
	roToken := "test-token-ro"
	tokens := &testTokenStore{
		tokens: map[string]*TokenInfo{
			HashToken(rwToken): {ID: "tok-rw", TokenHash: HashToken(rwToken), Permission: "rw"},
			HashToken(roToken): {ID: "tok-ro", TokenHash: HashToken(roToken), Permission: "ro"},
		},
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	ts := httptest.NewServer(Handler(st, tokens, DefaultServerConfig(), logger))
	t.Cleanup(ts.Close)

	return ts, rwToken, roToken
}

func authReq(method, url, token string, body any) *http.Request {
	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}
	req, _ := http.NewRequest(method, url, reader)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Actor-ID", "1")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func doJSON(t *testing.T, req *http.Request, out any) *http.Response {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	if out != nil {
		defer resp.Body.Close()
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

// createTestModule posts a module and returns the decoded revision payload.
func createTestModule(t *testing.T, ts *httptest.Server, token, slug string) map[string]json.RawMessage {
	t.Helper()

	var rev map[string]json.RawMessage
	resp := doJSON(t, authReq("POST", ts.URL+"/api/v1/modules", token, map[string]any{
		"slug":    slug,
		"title":   "Module " + slug,
		"type":    "page",
		"content": map[string]string{"body": "hello"},
	}), &rev)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return rev
}

func moduleField(t *testing.T, rev map[string]json.RawMessage, key, field string) int64 {
	t.Helper()

	var obj map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rev[key], &obj))
	id, err := strconv.ParseInt(string(obj[field]), 10, 64)
	require.NoError(t, err)
	return id
}

func TestHealthz(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestReadyz(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/readyz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuth_MissingToken(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/modules")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuth_InvalidToken(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp := doJSON(t, authReq("GET", ts.URL+"/api/v1/modules", "wrong-token", nil), nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuth_ReadOnlyTokenCannotWrite(t *testing.T) {
	ts, _, roToken := newTestServer(t)

	resp := doJSON(t, authReq("POST", ts.URL+"/api/v1/modules", roToken, map[string]any{
		"slug": "x", "title": "X", "type": "page",
	}), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestModules_CreateAndGet(t *testing.T) {
	ts, rwToken, roToken := newTestServer(t)

	createTestModule(t, ts, rwToken, "lesson-1")

	var snap map[string]json.RawMessage
	resp := doJSON(t, authReq("GET", ts.URL+"/api/v1/modules/lesson-1", roToken, nil), &snap)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, snap, "module")
	assert.Contains(t, snap, "version")
}

func TestModules_CreateRequiresActor(t *testing.T) {
	ts, rwToken, _ := newTestServer(t)

	req := authReq("POST", ts.URL+"/api/v1/modules", rwToken, map[string]any{
		"slug": "x", "title": "X", "type": "page",
	})
	req.Header.Del("X-Actor-ID")
	resp := doJSON(t, req, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestModules_DuplicateSlugConflict(t *testing.T) {
	ts, rwToken, _ := newTestServer(t)

	createTestModule(t, ts, rwToken, "lesson-1")

	resp := doJSON(t, authReq("POST", ts.URL+"/api/v1/modules", rwToken, map[string]any{
		"slug": "lesson-1", "title": "Again", "type": "page",
	}), nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestModules_GetUnknown(t *testing.T) {
	ts, _, roToken := newTestServer(t)

	resp := doJSON(t, authReq("GET", ts.URL+"/api/v1/modules/ghost", roToken, nil), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestModules_UpdateAndSearch(t *testing.T) {
	ts, rwToken, _ := newTestServer(t)

	createTestModule(t, ts, rwToken, "lesson-1")

	resp := doJSON(t, authReq("PATCH", ts.URL+"/api/v1/modules/lesson-1", rwToken, map[string]any{
		"content": map[string]string{"body": "revised"},
		"message": "revise body",
	}), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Total int `json:"total"`
	}
	resp = doJSON(t, authReq("GET", ts.URL+"/api/v1/modules?type=page", rwToken, nil), &result)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, result.Total)
}

func TestModules_ForkAndBranches(t *testing.T) {
	ts, rwToken, _ := newTestServer(t)

	rev := createTestModule(t, ts, rwToken, "lesson-1")
	origin := moduleField(t, rev, "module", "id")

	var fork map[string]json.RawMessage
	resp := doJSON(t, authReq("POST", ts.URL+"/api/v1/modules/lesson-1/fork", rwToken, map[string]any{
		"slug": "lesson-1-fork",
	}), &fork)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	base := fmt.Sprintf("%s/api/v1/lineages/%d/branches", ts.URL, origin)
	resp = doJSON(t, authReq("POST", base, rwToken, map[string]any{"name": "review"}), nil)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var listing struct {
		Branches []json.RawMessage `json:"branches"`
	}
	resp = doJSON(t, authReq("GET", base, rwToken, nil), &listing)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, listing.Branches, 2)

	// Deleting the default branch is refused.
	resp = doJSON(t, authReq("DELETE", base+"/main", rwToken, nil), nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = doJSON(t, authReq("DELETE", base+"/review", rwToken, nil), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestBranchMerge(t *testing.T) {
	ts, rwToken, _ := newTestServer(t)

	rev := createTestModule(t, ts, rwToken, "lesson-1")
	origin := moduleField(t, rev, "module", "id")

	base := fmt.Sprintf("%s/api/v1/lineages/%d", ts.URL, origin)
	resp := doJSON(t, authReq("POST", base+"/branches", rwToken, map[string]any{"name": "draft"}), nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doJSON(t, authReq("PATCH", ts.URL+"/api/v1/modules/lesson-1", rwToken, map[string]any{
		"branch":  "draft",
		"content": map[string]string{"body": "draft work"},
	}), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		FastForwarded int `json:"fast_forwarded"`
	}
	resp = doJSON(t, authReq("POST", base+"/merge", rwToken, map[string]any{
		"from": "draft", "to": "main",
	}), &result)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, result.FastForwarded)
}

func TestMergeRequestLifecycle(t *testing.T) {
	ts, rwToken, _ := newTestServer(t)

	rev := createTestModule(t, ts, rwToken, "lesson-1")
	sourceID := moduleField(t, rev, "module", "id")

	var fork map[string]json.RawMessage
	resp := doJSON(t, authReq("POST", ts.URL+"/api/v1/modules/lesson-1/fork", rwToken, map[string]any{
		"slug": "lesson-1-fork",
	}), &fork)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	forkID := moduleField(t, fork, "module", "id")

	resp = doJSON(t, authReq("PATCH", ts.URL+"/api/v1/modules/lesson-1-fork", rwToken, map[string]any{
		"content": map[string]string{"body": "improved"},
	}), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var mr struct {
		ID int64 `json:"id"`
	}
	resp = doJSON(t, authReq("POST", ts.URL+"/api/v1/merge-requests", rwToken, map[string]any{
		"title":          "fold back",
		"from_module_id": forkID,
		"to_module_id":   sourceID,
	}), &mr)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	mrURL := fmt.Sprintf("%s/api/v1/merge-requests/%d", ts.URL, mr.ID)

	resp = doJSON(t, authReq("POST", mrURL+"/comments", rwToken, map[string]any{"body": "nice"}), nil)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var accept struct {
		Request struct {
			Status string `json:"status"`
		} `json:"request"`
	}
	resp = doJSON(t, authReq("POST", mrURL+"/accept", rwToken, map[string]any{"reason": "ship it"}), &accept)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "merged", accept.Request.Status)

	// Terminal requests refuse further transitions.
	resp = doJSON(t, authReq("POST", mrURL+"/reject", rwToken, map[string]any{}), nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestMergeRequest_SelfMergeRejected(t *testing.T) {
	ts, rwToken, _ := newTestServer(t)

	rev := createTestModule(t, ts, rwToken, "lesson-1")
	id := moduleField(t, rev, "module", "id")

	resp := doJSON(t, authReq("POST", ts.URL+"/api/v1/merge-requests", rwToken, map[string]any{
		"title":          "self",
		"from_module_id": id,
		"to_module_id":   id,
	}), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMergeRequest_CommentsDisabledAfterReject(t *testing.T) {
	ts, rwToken, _ := newTestServer(t)

	rev := createTestModule(t, ts, rwToken, "lesson-1")
	sourceID := moduleField(t, rev, "module", "id")

	var fork map[string]json.RawMessage
	resp := doJSON(t, authReq("POST", ts.URL+"/api/v1/modules/lesson-1/fork", rwToken, map[string]any{
		"slug": "lesson-1-fork",
	}), &fork)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	forkID := moduleField(t, fork, "module", "id")

	var mr struct {
		ID int64 `json:"id"`
	}
	resp = doJSON(t, authReq("POST", ts.URL+"/api/v1/merge-requests", rwToken, map[string]any{
		"title":          "doomed",
		"from_module_id": forkID,
		"to_module_id":   sourceID,
	}), &mr)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	mrURL := fmt.Sprintf("%s/api/v1/merge-requests/%d", ts.URL, mr.ID)
	resp = doJSON(t, authReq("POST", mrURL+"/reject", rwToken, map[string]any{
		"reason": "no", "stop_comments": true,
	}), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, authReq("POST", mrURL+"/comments", rwToken, map[string]any{"body": "why"}), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
