package auth

import (
	"context"
	"errors"

	"github.com/beam-cloud/conceptstore/pkg/types"
)

type ctxKey int

const authInfoKey ctxKey = iota

var ErrAuthRequired = errors.New("authentication required")

func WithAuthInfo(ctx context.Context, info *types.AuthInfo) context.Context {
	return context.WithValue(ctx, authInfoKey, info)
}

func AuthInfoFromContext(ctx context.Context) *types.AuthInfo {
	info, _ := ctx.Value(authInfoKey).(*types.AuthInfo)
	return info
}

func RequireAuth(ctx context.Context) error {
	if i := AuthInfoFromContext(ctx); i == nil || i.Token == "" {
		return ErrAuthRequired
	}
	return nil
}

func IsAuthenticated(ctx context.Context) bool { return RequireAuth(ctx) == nil }

func Token(ctx context.Context) string {
	if i := AuthInfoFromContext(ctx); i != nil {
		return i.Token
	}
	return ""
}

func Login(ctx context.Context) string { return AuthInfoFromContext(ctx).Login() }
