package oauth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/beam-cloud/conceptstore/pkg/repository"
	"github.com/beam-cloud/conceptstore/pkg/secrets"
	"github.com/beam-cloud/conceptstore/pkg/types"
)

func newTestOAuth(t *testing.T) *GitHubOAuth {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		w.Header().Set("Content-Type", "application/json")
		if r.Form.Get("code") != "good-code" {
			w.Write([]byte(`{"error":"bad_verification_code","error_description":"The code passed is incorrect or expired."}`))
			return
		}
		assert.Equal(t, "id", r.Form.Get("client_id"))
		assert.Equal(t, "http://localhost:3000/callback", r.Form.Get("redirect_uri"))
		w.Write([]byte(`{"access_token":"gho_abc","token_type":"bearer","scope":"repo,read:user"}`))
	}))
	t.Cleanup(srv.Close)

	store := secrets.NewConfigStore(types.GitHubOAuthConfig{ClientID: "id", ClientSecret: "secret"})
	return NewGitHubOAuth(types.GitHubOAuthConfig{}, store, WithEndpoint(oauth2.Endpoint{
		AuthURL:   srv.URL + "/login/oauth/authorize",
		TokenURL:  srv.URL + "/login/oauth/access_token",
		AuthStyle: oauth2.AuthStyleInParams,
	}))
}

func TestGitHubOAuth_Exchange(t *testing.T) {
	g := newTestOAuth(t)

	creds, err := g.Exchange(context.Background(), "good-code", "http://localhost:3000/callback")
	require.NoError(t, err)
	assert.Equal(t, "gho_abc", creds.AccessToken)
	assert.Equal(t, "repo,read:user", creds.Scope)

	_, err = g.Exchange(context.Background(), "bad-code", "http://localhost:3000/callback")
	assert.ErrorIs(t, err, types.ErrUnauthorized)

	_, err = g.Exchange(context.Background(), "", "")
	assert.ErrorIs(t, err, types.ErrMalformedPayload)
}

func TestGitHubOAuth_AuthorizeURL(t *testing.T) {
	g := newTestOAuth(t)

	raw, err := g.AuthorizeURL(context.Background(), "st", "http://localhost:3000/callback")
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "id", q.Get("client_id"))
	assert.Equal(t, "st", q.Get("state"))
	assert.Equal(t, "repo read:user", q.Get("scope"))
}

func TestGitHubOAuth_Unconfigured(t *testing.T) {
	g := NewGitHubOAuth(types.GitHubOAuthConfig{}, secrets.NewConfigStore(types.GitHubOAuthConfig{}))
	_, err := g.Exchange(context.Background(), "code", "")
	assert.ErrorIs(t, err, secrets.ErrNotConfigured)
}

func TestStateManager_SingleUse(t *testing.T) {
	m := NewStateManager("key", time.Minute, repository.NewStateMemoryRepository())
	ctx := context.Background()

	state, err := m.Issue(ctx, "http://localhost:3000/callback")
	require.NoError(t, err)

	claims, err := m.Redeem(ctx, state, "http://localhost:3000/callback")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:3000/callback", claims.Redirect)

	_, err = m.Redeem(ctx, state, "http://localhost:3000/callback")
	assert.ErrorIs(t, err, types.ErrUnauthorized)
}

func TestStateManager_Rejects(t *testing.T) {
	repo := repository.NewStateMemoryRepository()
	m := NewStateManager("key", time.Minute, repo)
	ctx := context.Background()

	state, err := m.Issue(ctx, "http://a/cb")
	require.NoError(t, err)

	_, err = m.Redeem(ctx, state, "http://b/cb")
	assert.ErrorIs(t, err, types.ErrUnauthorized, "redirect mismatch")

	other := NewStateManager("other-key", time.Minute, repo)
	_, err = other.Redeem(ctx, state, "")
	assert.ErrorIs(t, err, types.ErrUnauthorized, "wrong signing key")

	_, err = m.Redeem(ctx, "garbage", "")
	assert.ErrorIs(t, err, types.ErrUnauthorized)

	m.now = func() time.Time { return time.Now().Add(time.Hour) }
	_, err = m.Redeem(ctx, state, "")
	assert.ErrorIs(t, err, types.ErrUnauthorized, "expired")
}
