package idempotency

import (
	"context"
	"fmt"

	"github.com/oklog/ulid/v2"
	redis "github.com/redis/go-redis/v9"
)

// Deletes the lease only while it still belongs to the caller, so a request
// that outlived its TTL cannot free a key someone else now holds.
var releaseLease = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

type lease struct {
	key   string
	owner string
}

// acquire takes the in-flight lease for scope/key or returns ErrInFlight.
func (s *Store) acquire(ctx context.Context, scope, key string) (*lease, error) {
	l := &lease{key: fmt.Sprintf(keyLock, scope, key), owner: ulid.Make().String()}
	ok, err := s.client.SetNX(ctx, l.key, l.owner, s.lockTTL).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInFlight
	}
	return l, nil
}

func (s *Store) release(ctx context.Context, l *lease) error {
	if l == nil {
		return nil
	}
	return releaseLease.Run(ctx, s.client, []string{l.key}, l.owner).Err()
}
