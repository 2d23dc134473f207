package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	apiv1 "github.com/beam-cloud/conceptstore/pkg/api/v1"
	"github.com/beam-cloud/conceptstore/pkg/gateway/services"
	"github.com/beam-cloud/conceptstore/pkg/index"
	"github.com/beam-cloud/conceptstore/pkg/types"
)

const defaultRequestTimeout = 60 * time.Second

// GatewayClient talks to the gateway's concept API over HTTP
type GatewayClient struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

// RepoRef names the repository and branch a call targets
type RepoRef struct {
	Owner  string
	Repo   string
	Branch string
}

func NewGatewayClient(addr string, authToken string) *GatewayClient {
	addr = strings.TrimRight(addr, "/")
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	return &GatewayClient{
		baseURL:    addr,
		authToken:  authToken,
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
	}
}

// WithHTTPClient swaps the underlying client, mostly for tests
func (c *GatewayClient) WithHTTPClient(hc *http.Client) *GatewayClient {
	c.httpClient = hc
	return c
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func (c *GatewayClient) repoPath(ref RepoRef, parts ...string) string {
	p := apiv1.HttpServerBaseRoute + "/repos/" + url.PathEscape(ref.Owner) + "/" + url.PathEscape(ref.Repo)
	for _, part := range parts {
		p += "/" + strings.TrimPrefix(part, "/")
	}
	return p
}

func (c *GatewayClient) do(ctx context.Context, method, path string, query url.Values, body []byte, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= 300 {
			return errorForStatus(resp.StatusCode, strings.TrimSpace(string(raw)))
		}
		return fmt.Errorf("%w: gateway response: %v", types.ErrMalformedPayload, err)
	}

	if resp.StatusCode >= 300 || !env.Success {
		return errorForStatus(resp.StatusCode, env.Error)
	}

	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

// errorForStatus turns an API error back into the matching sentinel so
// callers can use errors.Is on either side of the wire
func errorForStatus(status int, msg string) error {
	if msg == "" {
		msg = http.StatusText(status)
	}

	var sentinel error
	switch status {
	case http.StatusNotFound:
		sentinel = types.ErrNotFound
	case http.StatusConflict:
		sentinel = types.ErrConflict
	case http.StatusTooManyRequests:
		sentinel = types.ErrRateLimited
	case http.StatusForbidden:
		sentinel = types.ErrForbidden
	case http.StatusUnauthorized:
		sentinel = types.ErrUnauthorized
	case http.StatusBadRequest:
		sentinel = types.ErrMalformedPayload
	default:
		return &types.RemoteError{Op: "gateway", Status: status, Message: msg}
	}
	return fmt.Errorf("%w: %s", sentinel, msg)
}

func refQuery(ref RepoRef) url.Values {
	q := url.Values{}
	if ref.Branch != "" {
		q.Set("branch", ref.Branch)
	}
	return q
}

func writeQuery(ref RepoRef, sha, indexName, message string) url.Values {
	q := refQuery(ref)
	if sha != "" {
		q.Set("sha", sha)
	}
	if indexName != "" {
		q.Set("index_name", indexName)
	}
	if message != "" {
		q.Set("message", message)
	}
	return q
}

func (c *GatewayClient) GetConcept(ctx context.Context, ref RepoRef, path string) (*apiv1.ObjectResponse, error) {
	var out apiv1.ObjectResponse
	if err := c.do(ctx, http.MethodGet, c.repoPath(ref, "concepts", path), refQuery(ref), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *GatewayClient) AddConcept(ctx context.Context, ref RepoRef, path string, body []byte, opts services.WriteOptions) (*services.ObjectResult, error) {
	var out services.ObjectResult
	q := writeQuery(ref, "", opts.IndexName, opts.Message)
	if err := c.do(ctx, http.MethodPost, c.repoPath(ref, "concepts", path), q, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *GatewayClient) UpdateConcept(ctx context.Context, ref RepoRef, path string, body []byte, sha string, opts services.WriteOptions) (*services.ObjectResult, error) {
	var out services.ObjectResult
	q := writeQuery(ref, sha, opts.IndexName, opts.Message)
	if err := c.do(ctx, http.MethodPut, c.repoPath(ref, "concepts", path), q, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *GatewayClient) DeleteConcept(ctx context.Context, ref RepoRef, path, sha string, opts services.WriteOptions) (*services.ObjectResult, error) {
	var out services.ObjectResult
	q := writeQuery(ref, sha, opts.IndexName, opts.Message)
	if err := c.do(ctx, http.MethodDelete, c.repoPath(ref, "concepts", path), q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateConcept stores body under a freshly allocated key in dir
func (c *GatewayClient) CreateConcept(ctx context.Context, ref RepoRef, dir string, body []byte, opts services.WriteOptions) (*services.ObjectResult, error) {
	var out services.ObjectResult
	q := writeQuery(ref, "", opts.IndexName, opts.Message)
	p := c.repoPath(ref, "concepts-new")
	if dir != "" {
		p = c.repoPath(ref, "concepts-new", dir)
	}
	if err := c.do(ctx, http.MethodPost, p, q, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *GatewayClient) GetIndex(ctx context.Context, ref RepoRef, dir, name string) (*apiv1.IndexResponse, error) {
	q := refQuery(ref)
	if name != "" {
		q.Set("name", name)
	}
	p := c.repoPath(ref, "index")
	if dir != "" {
		p = c.repoPath(ref, "index", dir)
	}

	var out apiv1.IndexResponse
	if err := c.do(ctx, http.MethodGet, p, q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *GatewayClient) Lookup(ctx context.Context, ref RepoRef, dir, name, key, objectType string) (*services.LookupResult, error) {
	q := refQuery(ref)
	if name != "" {
		q.Set("name", name)
	}
	if key != "" {
		q.Set("key", key)
	}
	if objectType != "" {
		q.Set("type", objectType)
	}
	p := c.repoPath(ref, "lookup")
	if dir != "" {
		p = c.repoPath(ref, "lookup", dir)
	}

	var out services.LookupResult
	if err := c.do(ctx, http.MethodGet, p, q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *GatewayClient) Rebuild(ctx context.Context, ref RepoRef, req index.RebuildRequest) (*index.RebuildReport, error) {
	if req.Ref == "" {
		req.Ref = ref.Branch
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	var out index.RebuildReport
	if err := c.do(ctx, http.MethodPost, c.repoPath(ref, "rebuild"), nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *GatewayClient) ListRebuilds(ctx context.Context, ref RepoRef, limit int) ([]types.RebuildRun, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var out []types.RebuildRun
	if err := c.do(ctx, http.MethodGet, c.repoPath(ref, "rebuilds"), q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *GatewayClient) Search(ctx context.Context, ref RepoRef, query, scope string) (*types.SearchResult, error) {
	q := url.Values{"q": {query}}
	if scope != "" {
		q.Set("scope", scope)
	}

	var out types.SearchResult
	if err := c.do(ctx, http.MethodGet, c.repoPath(ref, "search"), q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *GatewayClient) GetConfig(ctx context.Context, ref RepoRef, bootstrap bool) (*services.ConfigResult, error) {
	q := refQuery(ref)
	if bootstrap {
		q.Set("bootstrap", "true")
	}

	var out services.ConfigResult
	if err := c.do(ctx, http.MethodGet, c.repoPath(ref, "config"), q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *GatewayClient) User(ctx context.Context) (*types.GitHubUser, error) {
	var out types.GitHubUser
	if err := c.do(ctx, http.MethodGet, apiv1.HttpServerBaseRoute+"/auth/user", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
