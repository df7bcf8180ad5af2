package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/smallbiznis/enrollpay/internal/config"
)

const (
	keyResponse = "enrollpay:idem:%s:%s"
	keyLock     = "enrollpay:idem:lock:%s:%s"

	defaultTTL     = 24 * time.Hour
	defaultLockTTL = 60 * time.Second
	maxKeyLength   = 255
)

var (
	// ErrInFlight means another request holding the same key has not finished yet.
	ErrInFlight   = errors.New("idempotency_key_in_flight")
	// ErrKeyReused means the key was first used with a different request body.
	ErrKeyReused  = errors.New("idempotency_key_reused")
	ErrInvalidKey = errors.New("idempotency_key_invalid")
)

// Response is the stored outcome replayed for a repeated key.
type Response struct {
	Fingerprint string    `json:"fingerprint"`
	Status      int       `json:"status"`
	ContentType string    `json:"content_type"`
	Body        []byte    `json:"body"`
	StoredAt    time.Time `json:"stored_at"`
}

type Store struct {
	client  *redis.Client
	ttl     time.Duration
	lockTTL time.Duration
	log     *zap.Logger
}

// NewStore returns nil without redis. A nil store skips replay entirely.
func NewStore(cfg config.Config, client *redis.Client, log *zap.Logger) *Store {
	if client == nil {
		return nil
	}
	ttl := time.Duration(cfg.Limits.IdempotencyTTLSec) * time.Second
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{
		client:  client,
		ttl:     ttl,
		lockTTL: defaultLockTTL,
		log:     log.Named("idempotency"),
	}
}

func (s *Store) Enabled() bool {
	return s != nil && s.client != nil
}

// Reservation is held while the first request for a key runs.
type Reservation struct {
	store       *Store
	scope       string
	key         string
	lease       *lease
	fingerprint string
}

// Fingerprint identifies the request a key was first used with.
func Fingerprint(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(strings.ToUpper(method)))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Begin returns the stored response when key already completed, or a
// reservation the caller must Complete or Abort.
func (s *Store) Begin(ctx context.Context, scope, key, fingerprint string) (*Response, *Reservation, error) {
	key = strings.TrimSpace(key)
	if key == "" || len(key) > maxKeyLength {
		return nil, nil, ErrInvalidKey
	}

	stored, err := s.load(ctx, scope, key)
	if err != nil {
		return nil, nil, err
	}
	if stored != nil {
		if stored.Fingerprint != fingerprint {
			return nil, nil, ErrKeyReused
		}
		return stored, nil, nil
	}

	held, err := s.acquire(ctx, scope, key)
	if err != nil {
		return nil, nil, err
	}

	// The first holder may have finished between the read and the lock.
	stored, err = s.load(ctx, scope, key)
	if err != nil || stored != nil {
		_ = s.release(ctx, held)
		if err != nil {
			return nil, nil, err
		}
		if stored.Fingerprint != fingerprint {
			return nil, nil, ErrKeyReused
		}
		return stored, nil, nil
	}

	return nil, &Reservation{store: s, scope: scope, key: key, lease: held, fingerprint: fingerprint}, nil
}

func (s *Store) load(ctx context.Context, scope, key string) (*Response, error) {
	raw, err := s.client.Get(ctx, fmt.Sprintf(keyResponse, scope, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		s.log.Warn("discarding unreadable idempotency record", zap.String("scope", scope), zap.Error(err))
		return nil, nil
	}
	return &resp, nil
}

// Complete stores the response for replay and releases the key.
func (r *Reservation) Complete(ctx context.Context, status int, contentType string, body []byte) error {
	if r == nil {
		return nil
	}
	defer r.release(ctx)

	raw, err := json.Marshal(Response{
		Fingerprint: r.fingerprint,
		Status:      status,
		ContentType: contentType,
		Body:        body,
		StoredAt:    time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return r.store.client.Set(ctx, fmt.Sprintf(keyResponse, r.scope, r.key), raw, r.store.ttl).Err()
}

// Abort releases the key without storing anything, so a retry runs again.
func (r *Reservation) Abort(ctx context.Context) {
	if r == nil {
		return
	}
	r.release(ctx)
}

func (r *Reservation) release(ctx context.Context) {
	if err := r.store.release(ctx, r.lease); err != nil {
		r.store.log.Warn("release idempotency lock failed", zap.String("scope", r.scope), zap.Error(err))
	}
}
