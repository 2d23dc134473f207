package content

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/beam-cloud/conceptstore/pkg/types"
)

const (
	githubAPIBase    = "https://api.github.com"
	githubAPIVersion = "2022-11-28"
)

// GitHubClient talks to the GitHub REST API on behalf of the calling user.
// It opens per-repository stores that use the contents API as a blob store.
type GitHubClient struct {
	httpClient *http.Client
	config     types.GitHubConfig
	baseURL    string
	limiter    *RateLimiter
}

func NewGitHubClient(config types.GitHubConfig) *GitHubClient {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	baseURL := strings.TrimSuffix(config.APIBaseURL, "/")
	if baseURL == "" {
		baseURL = githubAPIBase
	}

	return &GitHubClient{
		httpClient: &http.Client{Timeout: timeout},
		config:     config,
		baseURL:    baseURL,
		limiter:    NewRateLimiter(config.RequestsPerSecond, config.Burst),
	}
}

func (c *GitHubClient) Open(ctx context.Context, target Target) (Store, error) {
	if target.Token == "" {
		return nil, fmt.Errorf("open %s: %w", target, types.ErrUnauthorized)
	}
	if target.Branch == "" {
		target.Branch = c.config.Branch
	}
	return &GitHubStore{client: c, target: target}, nil
}

// User resolves a bearer token to the GitHub account that owns it
func (c *GitHubClient) User(ctx context.Context, token string) (*types.GitHubUser, error) {
	var user types.GitHubUser
	if err := c.request(ctx, token, http.MethodGet, "/user", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// GitHubStore is a Store over one repository's contents API
type GitHubStore struct {
	client *GitHubClient
	target Target
}

type githubContent struct {
	Type     string `json:"type"`
	Path     string `json:"path"`
	Sha      string `json:"sha"`
	Size     int64  `json:"size"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

type githubCommitter struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type githubWriteRequest struct {
	Message   string           `json:"message"`
	Content   string           `json:"content,omitempty"`
	Sha       string           `json:"sha,omitempty"`
	Branch    string           `json:"branch,omitempty"`
	Committer *githubCommitter `json:"committer,omitempty"`
}

type githubWriteResponse struct {
	Content *githubContent `json:"content"`
}

func (s *GitHubStore) Get(ctx context.Context, path string) (*types.Blob, error) {
	return s.GetAt(ctx, path, s.target.Branch)
}

// GetAt reads path as of ref, which may be a branch, tag or commit sha
func (s *GitHubStore) GetAt(ctx context.Context, path, ref string) (*types.Blob, error) {
	endpoint := s.contentsPath(path)
	if ref != "" {
		endpoint += "?ref=" + url.QueryEscape(ref)
	}

	var raw json.RawMessage
	if err := s.client.request(ctx, s.target.Token, http.MethodGet, endpoint, nil, &raw); err != nil {
		return nil, withPath(err, path)
	}

	// Directories come back as an array of entries
	if len(raw) > 0 && raw[0] == '[' {
		return nil, fmt.Errorf("get %s: is a directory: %w", path, types.ErrNotFound)
	}

	var file githubContent
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("get %s: %w: %v", path, types.ErrMalformedPayload, err)
	}
	if file.Type != "" && file.Type != "file" {
		return nil, fmt.Errorf("get %s: not a file (%s): %w", path, file.Type, types.ErrNotFound)
	}

	// Files over 1MB are returned without inline content
	if file.Encoding == "none" || (file.Content == "" && file.Size > 0) {
		if file.Sha == "" {
			return nil, fmt.Errorf("get %s: content omitted without a blob sha: %w", path, types.ErrMalformedPayload)
		}
		content, err := s.blob(ctx, file.Sha)
		if err != nil {
			return nil, withPath(err, path)
		}
		return &types.Blob{Path: file.Path, Content: content, Revision: file.Sha}, nil
	}

	content, err := DecodeBase64(file.Content)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}

	return &types.Blob{Path: file.Path, Content: content, Revision: file.Sha}, nil
}

// blob reads raw content through the git data API, which serves blobs up to 100MB
func (s *GitHubStore) blob(ctx context.Context, sha string) ([]byte, error) {
	var resp struct {
		Sha      string `json:"sha"`
		Size     int64  `json:"size"`
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
	endpoint := fmt.Sprintf("/repos/%s/%s/git/blobs/%s", s.target.Owner, s.target.Repo, url.PathEscape(sha))
	if err := s.client.request(ctx, s.target.Token, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}

	switch resp.Encoding {
	case "base64":
	case "utf-8":
		return []byte(resp.Content), nil
	default:
		return nil, fmt.Errorf("blob %s: unsupported encoding %q: %w", sha, resp.Encoding, types.ErrMalformedPayload)
	}

	content, err := DecodeBase64(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("blob %s: %w", sha, err)
	}
	if resp.Size > 0 && int64(len(content)) != resp.Size {
		return nil, fmt.Errorf("blob %s: got %d of %d bytes: %w", sha, len(content), resp.Size, types.ErrMalformedPayload)
	}
	return content, nil
}

func (s *GitHubStore) Put(ctx context.Context, path string, content []byte, message, revision string) (string, error) {
	body := githubWriteRequest{
		Message:   message,
		Content:   EncodeBase64(content),
		Sha:       revision,
		Branch:    s.target.Branch,
		Committer: s.committer(),
	}

	var resp githubWriteResponse
	if err := s.client.request(ctx, s.target.Token, http.MethodPut, s.contentsPath(path), body, &resp); err != nil {
		return "", withPath(err, path)
	}
	if resp.Content == nil {
		return "", fmt.Errorf("put %s: response missing content: %w", path, types.ErrMalformedPayload)
	}

	log.Debug().Str("repo", s.target.String()).Str("path", path).Str("sha", resp.Content.Sha).Msg("wrote blob")
	return resp.Content.Sha, nil
}

func (s *GitHubStore) Delete(ctx context.Context, path, revision, message string) error {
	body := githubWriteRequest{
		Message:   message,
		Sha:       revision,
		Branch:    s.target.Branch,
		Committer: s.committer(),
	}

	if err := s.client.request(ctx, s.target.Token, http.MethodDelete, s.contentsPath(path), body, nil); err != nil {
		return withPath(err, path)
	}
	return nil
}

type githubTree struct {
	Sha       string `json:"sha"`
	Truncated bool   `json:"truncated"`
	Tree      []struct {
		Path string `json:"path"`
		Type string `json:"type"`
		Sha  string `json:"sha"`
	} `json:"tree"`
}

func (s *GitHubStore) ListTree(ctx context.Context, ref string, recursive bool) ([]types.TreeEntry, error) {
	ref = s.resolveRef(ref)

	endpoint := fmt.Sprintf("/repos/%s/%s/git/trees/%s", s.target.Owner, s.target.Repo, url.PathEscape(ref))
	if recursive {
		endpoint += "?recursive=1"
	}
	return s.listTree(ctx, endpoint, ref, "")
}

// ListDir lists the direct children of dir at ref. It reads a single tree
// object, so it stays complete on repositories too large for a recursive
// listing.
func (s *GitHubStore) ListDir(ctx context.Context, ref, dir string) ([]types.TreeEntry, error) {
	ref = s.resolveRef(ref)
	dir = strings.Trim(dir, "/")

	treeish := url.PathEscape(ref)
	if dir != "" {
		segments := strings.Split(dir, "/")
		for i, seg := range segments {
			segments[i] = url.PathEscape(seg)
		}
		treeish += ":" + strings.Join(segments, "/")
	}

	endpoint := fmt.Sprintf("/repos/%s/%s/git/trees/%s", s.target.Owner, s.target.Repo, treeish)
	return s.listTree(ctx, endpoint, ref, dir)
}

func (s *GitHubStore) listTree(ctx context.Context, endpoint, ref, prefix string) ([]types.TreeEntry, error) {
	var resp githubTree
	if err := s.client.request(ctx, s.target.Token, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}

	if resp.Truncated {
		log.Warn().Str("repo", s.target.String()).Str("ref", ref).Str("dir", prefix).Msg("tree listing truncated by github")
		return nil, fmt.Errorf("list %s at %s: %d entries returned: %w", s.target, ref, len(resp.Tree), types.ErrTreeTruncated)
	}

	entries := make([]types.TreeEntry, 0, len(resp.Tree))
	for _, e := range resp.Tree {
		kind := types.TreeEntryBlob
		if e.Type == "tree" {
			kind = types.TreeEntryTree
		} else if e.Type != "blob" {
			continue
		}

		p := e.Path
		if prefix != "" {
			p = prefix + "/" + e.Path
		}
		entries = append(entries, types.TreeEntry{Path: p, Kind: kind, Revision: e.Sha})
	}
	return entries, nil
}

func (s *GitHubStore) resolveRef(ref string) string {
	if ref == "" {
		ref = s.target.Branch
	}
	if ref == "" {
		ref = "HEAD"
	}
	return ref
}

func (s *GitHubStore) Search(ctx context.Context, query, scope string) (*types.SearchResult, error) {
	q := fmt.Sprintf("%s repo:%s/%s", query, s.target.Owner, s.target.Repo)
	if scope = strings.Trim(scope, "/"); scope != "" {
		q += " path:" + scope
	}

	var resp struct {
		TotalCount int `json:"total_count"`
		Items      []struct {
			Path  string  `json:"path"`
			Score float64 `json:"score"`
		} `json:"items"`
	}
	if err := s.client.request(ctx, s.target.Token, http.MethodGet, "/search/code?q="+url.QueryEscape(q), nil, &resp); err != nil {
		return nil, err
	}

	result := &types.SearchResult{TotalCount: resp.TotalCount, Items: make([]types.SearchItem, 0, len(resp.Items))}
	for _, item := range resp.Items {
		result.Items = append(result.Items, types.SearchItem{Path: item.Path, Score: item.Score})
	}
	return result, nil
}

func (s *GitHubStore) contentsPath(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return fmt.Sprintf("/repos/%s/%s/contents/%s", s.target.Owner, s.target.Repo, strings.Join(segments, "/"))
}

func (s *GitHubStore) committer() *githubCommitter {
	if s.client.config.CommitterName == "" || s.client.config.CommitterEmail == "" {
		return nil
	}
	return &githubCommitter{Name: s.client.config.CommitterName, Email: s.client.config.CommitterEmail}
}

func (c *GitHubClient) request(ctx context.Context, token, method, path string, body, result any) error {
	if err := c.limiter.Wait(ctx, token); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", githubAPIVersion)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return statusError(method, resp)
	}

	if result == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(result)
}

// statusError maps a GitHub error response onto the shared sentinels
func statusError(op string, resp *http.Response) error {
	data, _ := io.ReadAll(resp.Body)
	var ghErr struct {
		Message string `json:"message"`
	}
	json.Unmarshal(data, &ghErr)

	message := ghErr.Message
	if message == "" {
		message = resp.Status
	}

	remoteErr := &types.RemoteError{Op: op, Status: resp.StatusCode, Message: message}
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		remoteErr.Err = types.ErrUnauthorized
	case http.StatusTooManyRequests:
		remoteErr.Err = types.ErrRateLimited
	case http.StatusForbidden:
		if resp.Header.Get("X-RateLimit-Remaining") == "0" || strings.Contains(strings.ToLower(message), "rate limit") {
			remoteErr.Err = types.ErrRateLimited
		} else {
			remoteErr.Err = types.ErrForbidden
		}
	case http.StatusNotFound:
		remoteErr.Err = types.ErrNotFound
	case http.StatusConflict:
		remoteErr.Err = types.ErrConflict
	case http.StatusUnprocessableEntity:
		if strings.Contains(message, "sha") {
			remoteErr.Err = types.ErrConflict
		} else {
			remoteErr.Err = types.ErrMalformedPayload
		}
	}
	return remoteErr
}

func withPath(err error, path string) error {
	if remoteErr, ok := err.(*types.RemoteError); ok {
		remoteErr.Path = path
		return remoteErr
	}
	return fmt.Errorf("%s: %w", path, err)
}
