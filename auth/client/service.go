// Package client implements the C5 OAuth client registry: CRUD, secret
// hashing/rotation with a grace period for in-flight credentials, and a
// circuit breaker with exponential backoff retry guarding every store
// call so a degraded client store fails fast instead of piling up
// latency on the authorize/token hot path.
//
// Grounded on the teacher's store/tenants_users.go clientStore (the
// CRUD shape) and oauth/service.go's inline client checks (secret
// verification), generalized with PBKDF2 secret hashing/rotation from
// auth/crypto and wrapped in a cenkalti/backoff/v5-driven retry plus a
// hand-rolled failure-ratio circuit breaker — neither of which the
// teacher needed since it never went multi-region.
package client

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/nebularis/iam/auth/core"
	"github.com/nebularis/iam/auth/crypto"
)

// Config tunes the retry/circuit-breaker behavior wrapping the client store.
type Config struct {
	RetryMaxAttempts   int
	RetryInitialDelay  time.Duration
	RetryMaxDelay      time.Duration
	CBFailureThreshold float64
	CBMinimumRequests  int
	CBCooldownPeriod   time.Duration
	CBSuccessThreshold int
	SecretGracePeriod  time.Duration
}

// Service implements core.ClientService.
type Service struct {
	store   core.ClientStore
	hasher  *crypto.SecretHasher
	breaker *CircuitBreaker
	clock   core.Clock
	cfg     Config
}

// NewService creates a new client registry service.
func NewService(store core.ClientStore, hasher *crypto.SecretHasher, clock core.Clock, cfg Config) *Service {
	if cfg.RetryMaxAttempts <= 0 {
		cfg.RetryMaxAttempts = 3
	}
	if cfg.SecretGracePeriod <= 0 {
		cfg.SecretGracePeriod = 24 * time.Hour
	}
	return &Service{
		store:   store,
		hasher:  hasher,
		breaker: NewCircuitBreaker(cfg.CBFailureThreshold, cfg.CBMinimumRequests, cfg.CBCooldownPeriod, cfg.CBSuccessThreshold, clock),
		clock:   clock,
		cfg:     cfg,
	}
}

// isDomainErr reports whether err is a well-known domain error that
// should never be retried (a retry can't fix "not found").
func isDomainErr(err error) bool {
	switch {
	case err == nil:
		return false
	case core.IsDomainError(err):
		return true
	default:
		return false
	}
}

// call executes fn through the circuit breaker with exponential-backoff
// retry for transient failures; domain errors (not found, conflict) are
// never retried and never counted against the breaker.
func call[T any](s *Service, ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	if !s.breaker.Allow() {
		return zero, core.ErrCircuitOpen
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.RetryInitialDelay
	bo.MaxInterval = s.cfg.RetryMaxDelay

	result, err := backoff.Retry(ctx, func() (T, error) {
		v, err := fn()
		if err != nil && isDomainErr(err) {
			return zero, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(uint(s.cfg.RetryMaxAttempts)))

	if err != nil {
		// A canceled attempt counts as neither success nor failure.
		if ctx.Err() == nil && !isDomainErr(err) {
			s.breaker.RecordFailure()
		}
		return zero, err
	}
	s.breaker.RecordSuccess()
	return result, nil
}

// Create registers a new OAuth client.
func (s *Service) Create(ctx context.Context, cl *core.Client) error {
	if cl.ID == "" {
		cl.ID = uuid.New().String()
	}
	if cl.ClientID == "" {
		cl.ClientID = uuid.New().String()
	}
	if cl.CreatedAt.IsZero() {
		cl.CreatedAt = s.clock.Now()
	}
	_, err := call(s, ctx, func() (struct{}, error) {
		return struct{}{}, s.store.Create(ctx, cl)
	})
	return err
}

// Get retrieves a client by internal ID.
func (s *Service) Get(ctx context.Context, tenantID, id string) (*core.Client, error) {
	return call(s, ctx, func() (*core.Client, error) {
		return s.store.GetByID(ctx, tenantID, id)
	})
}

// GetByClientID retrieves a client by its public client_id.
func (s *Service) GetByClientID(ctx context.Context, tenantID, clientID string) (*core.Client, error) {
	return call(s, ctx, func() (*core.Client, error) {
		return s.store.GetByClientID(ctx, tenantID, clientID)
	})
}

// Update persists changes to an existing client.
func (s *Service) Update(ctx context.Context, cl *core.Client) error {
	_, err := call(s, ctx, func() (struct{}, error) {
		return struct{}{}, s.store.Update(ctx, cl)
	})
	return err
}

// Delete removes a client.
func (s *Service) Delete(ctx context.Context, tenantID, id string) error {
	_, err := call(s, ctx, func() (struct{}, error) {
		return struct{}{}, s.store.Delete(ctx, tenantID, id)
	})
	return err
}

// List enumerates clients for a tenant.
func (s *Service) List(ctx context.Context, tenantID string, limit int, cursor string) ([]*core.Client, string, error) {
	type page struct {
		clients []*core.Client
		cursor  string
	}
	p, err := call(s, ctx, func() (page, error) {
		clients, next, err := s.store.List(ctx, tenantID, limit, cursor)
		return page{clients: clients, cursor: next}, err
	})
	return p.clients, p.cursor, err
}

func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// RotateSecret issues a fresh client secret, moving the current one
// into a grace-period slot so in-flight callers using the old secret
// keep working until it expires.
func (s *Service) RotateSecret(ctx context.Context, tenantID, id string) (string, error) {
	cl, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return "", err
	}

	plaintext, err := generateSecret()
	if err != nil {
		return "", err
	}
	newHash, err := s.hasher.Hash(plaintext)
	if err != nil {
		return "", fmt.Errorf("hash new secret: %w", err)
	}

	if cl.ClientSecretHash != nil {
		cl.PreviousSecretHash = cl.ClientSecretHash
		expiresAt := s.clock.Now().Add(s.cfg.SecretGracePeriod)
		cl.PreviousSecretExpiresAt = &expiresAt
	}
	cl.ClientSecretHash = &newHash
	last4 := crypto.Last4(plaintext)
	cl.ClientSecretLast4 = &last4
	rotatedAt := s.clock.Now()
	cl.RotatedAt = &rotatedAt

	if err := s.Update(ctx, cl); err != nil {
		return "", err
	}
	return plaintext, nil
}

// VerifyCredentials checks a client_id/client_secret pair, accepting
// either the current secret or a still-valid previous secret within its
// rotation grace period.
func (s *Service) VerifyCredentials(ctx context.Context, tenantID, clientID, plaintextSecret string) (*core.Client, error) {
	cl, err := s.GetByClientID(ctx, tenantID, clientID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidClient, err)
	}
	if !cl.Enabled {
		return nil, core.ErrInvalidClient
	}

	if cl.ClientSecretHash != nil {
		if ok, _ := s.hasher.Verify(plaintextSecret, *cl.ClientSecretHash); ok {
			return cl, nil
		}
	}
	if cl.PreviousSecretHash != nil && cl.PreviousSecretExpiresAt != nil && s.clock.Now().Before(*cl.PreviousSecretExpiresAt) {
		if ok, _ := s.hasher.Verify(plaintextSecret, *cl.PreviousSecretHash); ok {
			return cl, nil
		}
	}
	return nil, core.ErrInvalidClient
}
