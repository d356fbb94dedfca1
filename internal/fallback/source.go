// Package fallback serves reads from the store with bounded retry, falling
// back to the last good value or the bundled seed dataset when the store is
// unavailable.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	apperrors "github.com/Geniusmania/ticket-chat-system/pkg/util/errorutil"
)

// Origin tells where a value came from. Only live values are authoritative.
type Origin string

const (
	OriginLive  Origin = "live"
	OriginCache Origin = "cache"
	OriginSeed  Origin = "seed"
)

// Authoritative reports whether the value was read from the store just now.
func (o Origin) Authoritative() bool {
	return o == OriginLive
}

// Result carries a value and its origin.
type Result[V any] struct {
	Value  V
	Origin Origin
}

// Loader reads a value from the primary store.
type Loader[K comparable, V any] func(ctx context.Context, key K) (V, error)

// SeedLookup returns bundled data for key, if any.
type SeedLookup[K comparable, V any] func(key K) (V, bool)

// Options tunes retry and caching.
type Options struct {
	Name            string
	Attempts        int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	CacheSize       int
}

// Source reads through a primary loader with fallback.
type Source[K comparable, V any] struct {
	name   string
	load   Loader[K, V]
	seed   SeedLookup[K, V]
	cache  *lru.Cache[K, V]
	opts   Options
	logger *zap.Logger
}

// NewSource builds a source. seed may be nil.
func NewSource[K comparable, V any](load Loader[K, V], seed SeedLookup[K, V], opts Options, logger *zap.Logger) (*Source[K, V], error) {
	if opts.Attempts <= 0 {
		opts.Attempts = 1
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 100 * time.Millisecond
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = 2 * time.Second
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 128
	}
	cache, err := lru.New[K, V](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create fallback cache: %w", err)
	}
	return &Source[K, V]{
		name:   opts.Name,
		load:   load,
		seed:   seed,
		cache:  cache,
		opts:   opts,
		logger: logger.Named("fallback"),
	}, nil
}

// Get loads key from the primary, retrying transient failures. A not-found
// answer or a cancelled context is returned as-is. Other failures fall back
// to the cache, then the seed, then surface as a store failure.
func (s *Source[K, V]) Get(ctx context.Context, key K) (Result[V], error) {
	value, err := backoff.Retry(ctx, func() (V, error) {
		v, err := s.load(ctx, key)
		if err != nil && (apperrors.IsNotFound(err) || isForbidden(err) || ctx.Err() != nil) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(s.backOff()),
		backoff.WithMaxTries(uint(s.opts.Attempts)),
	)
	if err == nil {
		s.cache.Add(key, value)
		return Result[V]{Value: value, Origin: OriginLive}, nil
	}

	var zero Result[V]
	if apperrors.IsNotFound(err) || isForbidden(err) {
		return zero, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return zero, ctxErr
	}

	if cached, ok := s.cache.Get(key); ok {
		s.logger.Warn("serving cached value", zap.String("source", s.name), zap.Any("key", key), zap.Error(err))
		return Result[V]{Value: cached, Origin: OriginCache}, nil
	}
	if s.seed != nil {
		if seeded, ok := s.seed(key); ok {
			s.logger.Warn("serving seed value", zap.String("source", s.name), zap.Any("key", key), zap.Error(err))
			return Result[V]{Value: seeded, Origin: OriginSeed}, nil
		}
	}
	if apperrors.HasCode(err, apperrors.CodeStore) {
		return zero, err
	}
	return zero, apperrors.NewStoreFailure("load "+s.name, err)
}

// Remember stores a known-good value, e.g. after a write.
func (s *Source[K, V]) Remember(key K, value V) {
	s.cache.Add(key, value)
}

// Forget drops the cached value for key.
func (s *Source[K, V]) Forget(key K) {
	s.cache.Remove(key)
}

func (s *Source[K, V]) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.InitialInterval
	b.MaxInterval = s.opts.MaxInterval
	return b
}

func isForbidden(err error) bool {
	var de *apperrors.DomainError
	return errors.As(err, &de) && (de.Code == apperrors.CodeForbidden || de.Code == apperrors.CodeValidation)
}
