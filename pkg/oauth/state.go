package oauth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/beam-cloud/conceptstore/pkg/repository"
	"github.com/beam-cloud/conceptstore/pkg/types"
)

const (
	DefaultStateTTL = 10 * time.Minute
	stateIssuer     = "conceptstore"
)

// StateClaims is the payload of a signed OAuth state value. The JWT ID is
// a nonce that can be redeemed once.
type StateClaims struct {
	Redirect string `json:"redirect,omitempty"`
	jwt.RegisteredClaims
}

// StateManager issues and redeems OAuth state values
type StateManager struct {
	secret []byte
	ttl    time.Duration
	repo   repository.StateRepository
	now    func() time.Time
}

func NewStateManager(secret string, ttl time.Duration, repo repository.StateRepository) *StateManager {
	if secret == "" {
		// States won't survive a restart
		b := make([]byte, 32)
		rand.Read(b)
		secret = hex.EncodeToString(b)
	}
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &StateManager{secret: []byte(secret), ttl: ttl, repo: repo, now: time.Now}
}

// Issue signs a new state bound to the redirect URI
func (m *StateManager) Issue(ctx context.Context, redirect string) (string, error) {
	nonce := uuid.NewString()
	if err := m.repo.SaveState(ctx, nonce, m.ttl); err != nil {
		return "", err
	}

	now := m.now()
	claims := StateClaims{
		Redirect: redirect,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        nonce,
			Issuer:    stateIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// Redeem validates a state value and consumes its nonce. A state that is
// forged, expired, already used, or issued for another redirect fails
// with types.ErrUnauthorized.
func (m *StateManager) Redeem(ctx context.Context, state, redirect string) (*StateClaims, error) {
	token, err := jwt.ParseWithClaims(state, &StateClaims{}, func(t *jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(stateIssuer),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid state: %w", types.ErrUnauthorized, err)
	}

	claims, ok := token.Claims.(*StateClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: invalid state", types.ErrUnauthorized)
	}
	if redirect != "" && claims.Redirect != "" && redirect != claims.Redirect {
		return nil, fmt.Errorf("%w: state issued for another redirect", types.ErrUnauthorized)
	}

	fresh, err := m.repo.ConsumeState(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if !fresh {
		return nil, fmt.Errorf("%w: state already used", types.ErrUnauthorized)
	}
	return claims, nil
}
