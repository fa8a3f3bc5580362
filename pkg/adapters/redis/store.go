package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aretw0/journey/pkg/domain"
	"github.com/aretw0/journey/pkg/ports"
	backend "github.com/redis/go-redis/v9"
)

var (
	_ ports.DurableStore  = (*Store)(nil)
	_ ports.SessionLister = (*Store)(nil)
)

// DefaultPrefix namespaces every key written by the store.
const DefaultPrefix = "journey:"

// maxTxRetries bounds optimistic retries of a response upsert.
const maxTxRetries = 8

// saveProgressScript writes the progress record only when the stored revision
// equals the expected one. KEYS: progress, index. ARGV: expected, revision,
// data, score, member, ttl(ms).
var saveProgressScript = backend.NewScript(`
local current = redis.call("HGET", KEYS[1], "revision")
if current == false then
	if ARGV[1] ~= "0" then return 0 end
elseif current ~= ARGV[1] then
	return 0
end
redis.call("HSET", KEYS[1], "revision", ARGV[2], "data", ARGV[3])
if tonumber(ARGV[6]) > 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[6])
end
redis.call("ZADD", KEYS[2], ARGV[4], ARGV[5])
return 1
`)

// Store implements ports.DurableStore using Redis.
// Progress lives in a hash guarded by its revision, responses in one hash per
// session keyed by item id, and a sorted set indexes the sessions.
type Store struct {
	client backend.UniversalClient
	prefix string
	ttl    time.Duration
}

type Option func(*Store)

// WithTTL sets the expiration for sessions.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a new Redis store with options.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a new Redis store from an existing client.
func NewFromClient(client backend.UniversalClient, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: DefaultPrefix,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Client returns the underlying client, e.g. to build a Locker on it.
func (s *Store) Client() backend.UniversalClient {
	return s.client
}

func member(key domain.SessionKey) string {
	return url.PathEscape(key.UserID) + "/" + url.PathEscape(key.PlaybookID)
}

func parseMember(m string) (domain.SessionKey, error) {
	user, playbook, ok := strings.Cut(m, "/")
	if !ok {
		return domain.SessionKey{}, fmt.Errorf("malformed index member %q", m)
	}
	u, err := url.PathUnescape(user)
	if err != nil {
		return domain.SessionKey{}, err
	}
	p, err := url.PathUnescape(playbook)
	if err != nil {
		return domain.SessionKey{}, err
	}
	return domain.NewSessionKey(u, p), nil
}

func (s *Store) progressKey(key domain.SessionKey) string {
	return s.prefix + "progress:" + member(key)
}

func (s *Store) responsesKey(key domain.SessionKey) string {
	return s.prefix + "responses:" + member(key)
}

func (s *Store) indexKey() string {
	return s.prefix + "index"
}

// LoadProgress retrieves the progress record.
func (s *Store) LoadProgress(ctx context.Context, key domain.SessionKey) (domain.Progress, error) {
	data, err := s.client.HGet(ctx, s.progressKey(key), "data").Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return domain.Progress{}, domain.ErrProgressNotFound
		}
		return domain.Progress{}, fmt.Errorf("failed to get from redis: %w", err)
	}

	var p domain.Progress
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return domain.Progress{}, fmt.Errorf("failed to unmarshal progress: %w", err)
	}
	return p, nil
}

// SaveProgress persists p atomically when the stored revision matches.
func (s *Store) SaveProgress(ctx context.Context, p domain.Progress, expectedRevision int64) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}

	// Score = Now + TTL. If TTL = 0, Score = +Inf (approx).
	score := float64(time.Now().Add(s.ttl).Unix())
	if s.ttl == 0 {
		score = 4102444800 // 2100-01-01
	}

	key := p.Key()
	ok, err := saveProgressScript.Run(ctx, s.client,
		[]string{s.progressKey(key), s.indexKey()},
		expectedRevision, p.Revision, data, score, member(key), s.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	if ok == 0 {
		return domain.ErrStaleWrite
	}
	return nil
}

// DeleteProgress removes the progress record and its index entry.
func (s *Store) DeleteProgress(ctx context.Context, key domain.SessionKey) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.progressKey(key))
	pipe.ZRem(ctx, s.indexKey(), member(key))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete progress: %w", err)
	}
	return nil
}

// SaveResponse upserts the response inside an optimistic WATCH transaction.
func (s *Store) SaveResponse(ctx context.Context, r domain.Response) (domain.Response, error) {
	payload, err := domain.CanonicalPayload(r.Payload)
	if err != nil {
		return domain.Response{}, err
	}
	r.Payload = payload

	hash := s.responsesKey(r.Key())
	var stored domain.Response

	txf := func(tx *backend.Tx) error {
		stored = r
		raw, err := tx.HGet(ctx, hash, r.ItemID).Result()
		switch {
		case err == nil:
			var existing domain.Response
			if err := domain.DecodeJSON([]byte(raw), &existing); err != nil {
				return fmt.Errorf("failed to unmarshal response: %w", err)
			}
			stored = existing.Merge(r)
		case !errors.Is(err, backend.Nil):
			return err
		}

		data, err := json.Marshal(stored)
		if err != nil {
			return fmt.Errorf("failed to marshal response: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			pipe.HSet(ctx, hash, stored.ItemID, data)
			if s.ttl > 0 {
				pipe.PExpire(ctx, hash, s.ttl)
			}
			return nil
		})
		return err
	}

	for range maxTxRetries {
		err = s.client.Watch(ctx, txf, hash)
		if !errors.Is(err, backend.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return domain.Response{}, fmt.Errorf("failed to save response: %w", err)
	}
	return stored, nil
}

// GetResponses returns the responses of a session keyed by item id.
func (s *Store) GetResponses(ctx context.Context, key domain.SessionKey) (map[string]domain.Response, error) {
	raw, err := s.client.HGetAll(ctx, s.responsesKey(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get responses: %w", err)
	}

	out := make(map[string]domain.Response, len(raw))
	for itemID, data := range raw {
		var r domain.Response
		if err := domain.DecodeJSON([]byte(data), &r); err != nil {
			return nil, fmt.Errorf("failed to unmarshal response %s: %w", itemID, err)
		}
		out[itemID] = r
	}
	return out, nil
}

// DeleteResponses removes every response of the session.
func (s *Store) DeleteResponses(ctx context.Context, key domain.SessionKey) error {
	if err := s.client.Del(ctx, s.responsesKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete responses: %w", err)
	}
	return nil
}

// ListSessions returns the indexed sessions, pruning expired entries first.
func (s *Store) ListSessions(ctx context.Context) ([]domain.SessionKey, error) {
	now := float64(time.Now().Unix())
	err := s.client.ZRemRangeByScore(ctx, s.indexKey(), "-inf", fmt.Sprintf("%f", now)).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to prune expired sessions: %w", err)
	}

	members, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	keys := make([]domain.SessionKey, 0, len(members))
	for _, m := range members {
		k, err := parseMember(m)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
