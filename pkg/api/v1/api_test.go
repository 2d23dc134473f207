package apiv1

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beam-cloud/conceptstore/pkg/auth"
	"github.com/beam-cloud/conceptstore/pkg/content"
	"github.com/beam-cloud/conceptstore/pkg/gateway/services"
	"github.com/beam-cloud/conceptstore/pkg/metrics"
	"github.com/beam-cloud/conceptstore/pkg/types"
)

type testUsers struct{}

func (testUsers) User(ctx context.Context, token string) (*types.GitHubUser, error) {
	if token != "tok" {
		return nil, types.ErrUnauthorized
	}
	return &types.GitHubUser{Id: 7, Login: "octocat"}, nil
}

func newTestServer(t *testing.T) *echo.Echo {
	t.Helper()

	e := echo.New()
	e.Use(MetricsMiddleware(metrics.NewMetrics()))
	e.Use(auth.HTTPMiddleware(auth.NewUserResolver(testUsers{}, types.AuthConfig{})))

	svc := services.NewConceptService(content.NewMemoryOpener(), types.IndexConfig{})
	base := e.Group(HttpServerBaseRoute)
	NewHealthGroup(base.Group("/health"), nil, nil)
	NewConceptsGroup(base.Group("/repos/:owner/:repo", auth.RequireAuthMiddleware()), svc)
	NewFilesGroup(base.Group("/files", auth.RequireAuthMiddleware()), svc)
	return e
}

func do(t *testing.T, e *echo.Echo, method, target, body string) (*httptest.ResponseRecorder, Response) {
	t.Helper()

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req.Header.Set("Authorization", "Bearer tok")

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var resp Response
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	return rec, resp
}

func dataMap(t *testing.T, resp Response) map[string]any {
	t.Helper()
	m, ok := resp.Data.(map[string]any)
	require.True(t, ok, "data is %T", resp.Data)
	return m
}

func TestHealth(t *testing.T) {
	e := newTestServer(t)
	rec, _ := do(t, e, http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestConceptLifecycle(t *testing.T) {
	e := newTestServer(t)
	repo := "/api/v1/repos/octo/notes"

	rec, resp := do(t, e, http.MethodPost, repo+"/concepts/people/a.json", `{"key":"k1","object_type":"Person"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sha := dataMap(t, resp)["sha"].(string)

	rec, resp = do(t, e, http.MethodGet, repo+"/concepts/people/a.json", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, sha, dataMap(t, resp)["sha"])

	rec, resp = do(t, e, http.MethodGet, repo+"/lookup/people?key=k1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"a.json"}, dataMap(t, resp)["files"])

	rec, _ = do(t, e, http.MethodPut, repo+"/concepts/people/a.json?sha=stale", `{"key":"k2"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, resp = do(t, e, http.MethodPut, repo+"/concepts/people/a.json?sha="+sha, `{"key":"k2"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sha = dataMap(t, resp)["sha"].(string)

	rec, resp = do(t, e, http.MethodGet, repo+"/index/people", "")
	require.Equal(t, http.StatusOK, rec.Code)
	idx := dataMap(t, resp)["index"].(map[string]any)
	assert.Contains(t, idx["search"].(map[string]any)["byKey"], "k2")

	rec, _ = do(t, e, http.MethodDelete, repo+"/concepts/people/a.json?sha="+sha, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, e, http.MethodGet, repo+"/concepts/people/a.json", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateConceptAndRebuild(t *testing.T) {
	e := newTestServer(t)
	repo := "/api/v1/repos/octo/notes"

	rec, resp := do(t, e, http.MethodPost, repo+"/concepts-new/places", `{"object_type":"Place"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := dataMap(t, resp)
	assert.True(t, strings.HasPrefix(created["path"].(string), "places/"))
	assert.Len(t, created["key"], 9)

	rec, resp = do(t, e, http.MethodPost, repo+"/rebuild", `{"dir":"places"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := dataMap(t, resp)
	assert.Equal(t, float64(1), report["files_processed"])
	assert.Equal(t, map[string]any{"Place": float64(1)}, report["by_type_counts"])

	rec, resp = do(t, e, http.MethodGet, repo+"/rebuilds", "")
	require.Equal(t, http.StatusOK, rec.Code)
	runs := resp.Data.([]any)
	require.Len(t, runs, 1)
	assert.Equal(t, "octocat", runs[0].(map[string]any)["requested_by"])
}

func TestConfigBootstrap(t *testing.T) {
	e := newTestServer(t)
	repo := "/api/v1/repos/octo/notes"

	rec, resp := do(t, e, http.MethodGet, repo+"/config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, dataMap(t, resp)["bootstrapped"])

	rec, resp = do(t, e, http.MethodGet, repo+"/config?bootstrap=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, dataMap(t, resp)["sha"])

	rec, resp = do(t, e, http.MethodGet, repo+"/config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, dataMap(t, resp)["bootstrapped"])
}

func TestCreateFile(t *testing.T) {
	e := newTestServer(t)

	body := fmt.Sprintf(`{"owner":"octo","repo":"notes","path":"docs/readme.md","message":"add","content":%q}`,
		content.EncodeBase64([]byte("# hi\n")))
	rec, resp := do(t, e, http.MethodPost, "/api/v1/files", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "docs/readme.md", dataMap(t, resp)["path"])

	rec, resp = do(t, e, http.MethodGet, "/api/v1/repos/octo/notes/concepts/docs/readme.md", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "# hi\n", dataMap(t, resp)["raw"])

	rec, _ = do(t, e, http.MethodPost, "/api/v1/files", `{"owner":"octo","repo":"notes","path":"x","content":"%%%"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequiresAuth(t *testing.T) {
	e := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/repos/octo/notes/concepts/a.json", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStatusForError(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("get: %w", types.ErrNotFound), http.StatusNotFound},
		{types.ErrConflict, http.StatusConflict},
		{types.ErrRateLimited, http.StatusTooManyRequests},
		{types.ErrForbidden, http.StatusForbidden},
		{types.ErrUnauthorized, http.StatusUnauthorized},
		{types.ErrMalformedPayload, http.StatusBadRequest},
		{&types.RemoteError{Op: "GET", Status: 500}, http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.status, StatusForError(tc.err), tc.err.Error())
	}
}

func TestMetricsMiddlewareRecordsRoute(t *testing.T) {
	m := metrics.NewMetrics()
	e := echo.New()
	e.Use(MetricsMiddleware(m))
	e.GET("/ping/:id", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping/1", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	scrape := httptest.NewRecorder()
	m.Handler().ServeHTTP(scrape, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, scrape.Body.String(), `route="/ping/:id"`)
}
