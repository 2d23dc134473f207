package index

import (
	"fmt"
	"math/rand/v2"
	"strconv"

	"github.com/beam-cloud/conceptstore/pkg/types"
)

const (
	MinConceptID       = 100000000
	MaxConceptID       = 999999999
	DefaultMaxAttempts = 1000
)

// RandSource is satisfied by *rand.Rand from math/rand/v2
type RandSource interface {
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) IntN(n int) int {
	return rand.IntN(n)
}

// Allocator draws nine-digit concept identifiers that do not collide
// with a directory's existing keys
type Allocator struct {
	rand        RandSource
	maxAttempts int
}

type AllocatorOption func(*Allocator)

func WithRandSource(src RandSource) AllocatorOption {
	return func(a *Allocator) {
		a.rand = src
	}
}

func WithMaxAttempts(n int) AllocatorOption {
	return func(a *Allocator) {
		if n > 0 {
			a.maxAttempts = n
		}
	}
}

func NewAllocator(opts ...AllocatorOption) *Allocator {
	a := &Allocator{rand: globalRand{}, maxAttempts: DefaultMaxAttempts}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Allocator) Allocate(existing map[string]struct{}) (int, error) {
	for attempt := 0; attempt < a.maxAttempts; attempt++ {
		id := MinConceptID + a.rand.IntN(MaxConceptID-MinConceptID+1)
		if _, taken := existing[strconv.Itoa(id)]; !taken {
			return id, nil
		}
	}
	return 0, fmt.Errorf("%w after %d attempts", types.ErrAllocationExhausted, a.maxAttempts)
}
