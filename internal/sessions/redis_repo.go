package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/2beens/adminauth/internal/auth"
	"github.com/2beens/adminauth/internal/telemetry/tracing"
	"github.com/2beens/adminauth/pkg"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

const (
	sessionKeyPrefix       = "admin-session||"
	ownerSessionsKeyPrefix = "admin-sessions-of||"
	ownersSetKey           = "admin-session-owners"

	// DefaultExpiredGrace is how long a session key outlives its expiry,
	// so validation can still tell an expired session from an unknown one.
	DefaultExpiredGrace = time.Hour
)

var errCorruptRecord = errors.New("corrupt session record")

type redisRecord struct {
	Owner     string    `json:"owner"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// RedisRepo keeps every session under its own key. The key is evicted by redis
// ExpiredGrace after the session expires, unless cleanup removes it first.
// A per-owner set of ids is kept next to it, used for revocation and housekeeping.
type RedisRepo struct {
	redisClient  *redis.Client
	ExpiredGrace time.Duration
	// ability to inject random string generator func for ids (for unit and dev testing)
	RandStringFunc IDFunc
}

func NewRedisRepo(redisClient *redis.Client) *RedisRepo {
	return &RedisRepo{
		redisClient:    redisClient,
		ExpiredGrace:   DefaultExpiredGrace,
		RandStringFunc: pkg.GenerateRandomString,
	}
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

func ownerSessionsKey(owner string) string {
	return ownerSessionsKeyPrefix + owner
}

func (r *RedisRepo) Create(ctx context.Context, owner string, createdAt, expiresAt time.Time) (_ string, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "redisSessionsRepo.create")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	ttl, err := checkLifetime(createdAt, expiresAt)
	if err != nil {
		return "", err
	}
	keyTTL := ttl + r.ExpiredGrace

	payload, err := json.Marshal(redisRecord{
		Owner:     owner,
		CreatedAt: createdAt,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return "", fmt.Errorf("encode session record: %w", err)
	}

	id, err := allocateID(r.RandStringFunc, func(id string) (bool, error) {
		return r.redisClient.SetNX(ctx, sessionKey(id), string(payload), keyTTL).Result()
	})
	if err != nil {
		return "", err
	}

	// the session key above is authoritative, the index only helps revocation
	if err := r.redisClient.SAdd(ctx, ownerSessionsKey(owner), id).Err(); err != nil {
		log.Warnf("redis sessions repo, index session of [%s]: %s", owner, err)
	}
	if err := r.redisClient.SAdd(ctx, ownersSetKey, owner).Err(); err != nil {
		log.Warnf("redis sessions repo, index owner [%s]: %s", owner, err)
	}

	return id, nil
}

func (r *RedisRepo) Get(ctx context.Context, id string) (_ *auth.Session, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "redisSessionsRepo.get")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	val, err := r.redisClient.Get(ctx, sessionKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, auth.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}

	var record redisRecord
	if err := json.Unmarshal([]byte(val), &record); err != nil {
		return nil, fmt.Errorf("%w: %w", errCorruptRecord, err)
	}

	return &auth.Session{
		ID:        id,
		Owner:     record.Owner,
		CreatedAt: record.CreatedAt,
		ExpiresAt: record.ExpiresAt,
	}, nil
}

// Delete removes the session key. Stale index entries are pruned by DeleteExpired.
func (r *RedisRepo) Delete(ctx context.Context, id string) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "redisSessionsRepo.delete")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	return r.redisClient.Del(ctx, sessionKey(id)).Err()
}

func (r *RedisRepo) DeleteAllForOwner(ctx context.Context, owner string) (_ int, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "redisSessionsRepo.deleteAllForOwner")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	ids, err := r.redisClient.SMembers(ctx, ownerSessionsKey(owner)).Result()
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(ids))
	members := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, sessionKey(id))
		members = append(members, id)
	}

	deleted, err := r.redisClient.Del(ctx, keys...).Result()
	if err != nil {
		return 0, err
	}

	// only the ids seen above, sessions created meanwhile stay indexed
	if err := r.redisClient.SRem(ctx, ownerSessionsKey(owner), members...).Err(); err != nil {
		log.Warnf("redis sessions repo, unindex sessions of [%s]: %s", owner, err)
	}

	return int(deleted), nil
}

// DeleteExpired walks the owner indexes, deletes sessions past their expiry
// and prunes index entries of sessions which are already gone.
func (r *RedisRepo) DeleteExpired(ctx context.Context, now time.Time) (_ int, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "redisSessionsRepo.deleteExpired")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	owners, err := r.redisClient.SMembers(ctx, ownersSetKey).Result()
	if err != nil {
		return 0, err
	}

	deletedCount := 0
	var cleanErr error
	for _, owner := range owners {
		deleted, err := r.cleanOwner(ctx, owner, now)
		deletedCount += deleted
		if err != nil {
			cleanErr = multierr.Append(cleanErr, fmt.Errorf("clean sessions of [%s]: %w", owner, err))
		}
	}

	return deletedCount, cleanErr
}

func (r *RedisRepo) cleanOwner(ctx context.Context, owner string, now time.Time) (int, error) {
	ids, err := r.redisClient.SMembers(ctx, ownerSessionsKey(owner)).Result()
	if err != nil {
		return 0, err
	}

	deleted := 0
	kept := 0
	var stale []interface{}
	for _, id := range ids {
		session, err := r.Get(ctx, id)
		if errors.Is(err, auth.ErrSessionNotFound) {
			stale = append(stale, id)
			continue
		}
		if errors.Is(err, errCorruptRecord) {
			log.Errorf("redis sessions repo, session of [%s]: %s", owner, err)
			kept++
			continue
		}
		if err != nil {
			return deleted, err
		}
		if session.Active(now) {
			kept++
			continue
		}
		if err := r.redisClient.Del(ctx, sessionKey(id)).Err(); err != nil {
			return deleted, err
		}
		stale = append(stale, id)
		deleted++
	}

	if len(stale) > 0 {
		if err := r.redisClient.SRem(ctx, ownerSessionsKey(owner), stale...).Err(); err != nil {
			return deleted, err
		}
	}
	if kept == 0 {
		if err := r.redisClient.SRem(ctx, ownersSetKey, owner).Err(); err != nil {
			return deleted, err
		}
	}

	return deleted, nil
}
