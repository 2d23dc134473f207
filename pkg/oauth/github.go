package oauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"

	"github.com/beam-cloud/conceptstore/pkg/secrets"
	"github.com/beam-cloud/conceptstore/pkg/types"
)

var defaultScopes = []string{"repo", "read:user"}

// GitHubOAuth performs the authorization-code flow against a GitHub OAuth
// app. Client credentials come from the secrets store on every call so a
// rotated secret is picked up without a restart of the config backend.
type GitHubOAuth struct {
	secrets     secrets.Store
	scopes      []string
	redirectURL string
	endpoint    oauth2.Endpoint
}

type GitHubOAuthOption func(*GitHubOAuth)

// WithEndpoint overrides the GitHub authorize and token URLs
func WithEndpoint(endpoint oauth2.Endpoint) GitHubOAuthOption {
	return func(g *GitHubOAuth) {
		g.endpoint = endpoint
	}
}

func NewGitHubOAuth(cfg types.GitHubOAuthConfig, store secrets.Store, opts ...GitHubOAuthOption) *GitHubOAuth {
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = defaultScopes
	}

	g := &GitHubOAuth{
		secrets:     store,
		scopes:      scopes,
		redirectURL: cfg.RedirectURL,
		endpoint:    github.Endpoint,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// AuthorizeURL generates the GitHub authorization URL for a signed state
func (g *GitHubOAuth) AuthorizeURL(ctx context.Context, state, redirect string) (string, error) {
	cfg, err := g.oauthConfig(ctx, redirect)
	if err != nil {
		return "", err
	}
	return cfg.AuthCodeURL(state), nil
}

// Exchange trades an authorization code for an access token. A code
// GitHub rejects maps to types.ErrUnauthorized.
func (g *GitHubOAuth) Exchange(ctx context.Context, code, redirect string) (*types.OAuthCredentials, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: code is required", types.ErrMalformedPayload)
	}

	cfg, err := g.oauthConfig(ctx, redirect)
	if err != nil {
		return nil, err
	}

	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return nil, fmt.Errorf("%w: exchange failed: %w", types.ErrUnauthorized, err)
		}
		return nil, fmt.Errorf("exchange failed: %w", err)
	}

	creds := &types.OAuthCredentials{
		AccessToken:  token.AccessToken,
		TokenType:    token.TokenType,
		RefreshToken: token.RefreshToken,
	}
	if scope, ok := token.Extra("scope").(string); ok {
		creds.Scope = scope
	}

	// GitHub tokens don't expire by default, but we report it if they do
	if !token.Expiry.IsZero() {
		creds.ExpiresIn = int64(time.Until(token.Expiry).Seconds())
	}

	return creds, nil
}

func (g *GitHubOAuth) oauthConfig(ctx context.Context, redirect string) (*oauth2.Config, error) {
	client, err := g.secrets.OAuthClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("oauth client: %w", err)
	}

	if redirect == "" {
		redirect = g.redirectURL
	}

	return &oauth2.Config{
		ClientID:     client.ClientID,
		ClientSecret: client.ClientSecret,
		RedirectURL:  redirect,
		Scopes:       g.scopes,
		Endpoint:     g.endpoint,
	}, nil
}
