// Package store persists playback session state in Redis so a restarted
// service, or another instance, can resume a review where it left off.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/zsiec/cadence/internal/errors"
	"github.com/zsiec/cadence/internal/metrics"
	"github.com/zsiec/cadence/internal/playback/scheduler"
)

const (
	keyPrefix  = "cadence:session:"
	defaultTTL = 24 * time.Hour
)

// Record is one persisted session.
type Record struct {
	SessionID string          `json:"session_id"`
	State     scheduler.State `json:"state"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// SessionStore saves and restores session state.
type SessionStore interface {
	Save(ctx context.Context, state scheduler.State) error
	Load(ctx context.Context, sessionID string) (*Record, error)
	Delete(ctx context.Context, sessionID string) error
	List(ctx context.Context) ([]*Record, error)
}

// RedisSessionStore keeps one JSON record per session plus a set of active
// session IDs. Records expire after the TTL unless saved again.
type RedisSessionStore struct {
	client *redis.Client
	logger *logrus.Logger
	prefix string
	ttl    time.Duration
}

var saveScript = redis.NewScript(`
	local key = KEYS[1]
	local active_key = KEYS[2]
	local data = ARGV[1]
	local ttl = tonumber(ARGV[2])
	local session_id = ARGV[3]
	redis.call('SET', key, data, 'PX', ttl)
	return redis.call('SADD', active_key, session_id)
`)

var listScript = redis.NewScript(`
	local active_key = KEYS[1]
	local prefix = ARGV[1]
	local active = redis.call('SMEMBERS', active_key)
	local result = {}
	local expired = {}

	for i, id in ipairs(active) do
		local rec = redis.call('GET', prefix .. id)
		if rec then
			table.insert(result, rec)
		else
			table.insert(expired, id)
		end
	end

	for i, id in ipairs(expired) do
		redis.call('SREM', active_key, id)
	end

	return result
`)

func NewRedisSessionStore(client *redis.Client, logger *logrus.Logger, ttl time.Duration) *RedisSessionStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisSessionStore{
		client: client,
		logger: logger,
		prefix: keyPrefix,
		ttl:    ttl,
	}
}

func (r *RedisSessionStore) activeKey() string {
	return r.prefix + "active"
}

// Save writes state, keeping the original creation time of an existing record.
func (r *RedisSessionStore) Save(ctx context.Context, state scheduler.State) (err error) {
	defer func() { metrics.RecordStoreOperation("save", err) }()

	if state.SessionID == "" {
		return errors.NewValidationError("session id is required")
	}

	now := time.Now()
	rec := Record{
		SessionID: state.SessionID,
		State:     state,
		CreatedAt: now,
		UpdatedAt: now,
	}

	key := r.prefix + state.SessionID
	existing, err := r.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var prev Record
		if jsonErr := json.Unmarshal(existing, &prev); jsonErr == nil && !prev.CreatedAt.IsZero() {
			rec.CreatedAt = prev.CreatedAt
		}
	case err == redis.Nil:
	default:
		return fmt.Errorf("failed to check existing session: %w", err)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if err = saveScript.Run(ctx, r.client, []string{key, r.activeKey()},
		data, r.ttl.Milliseconds(), state.SessionID).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"session_id": state.SessionID,
		"frame":      state.Frame,
		"running":    state.Running,
	}).Debug("Session state saved")
	return nil
}

func (r *RedisSessionStore) Load(ctx context.Context, sessionID string) (_ *Record, err error) {
	defer func() { metrics.RecordStoreOperation("load", err) }()

	data, err := r.client.Get(ctx, r.prefix+sessionID).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, errors.NewNotFoundError("session " + sessionID)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &rec, nil
}

func (r *RedisSessionStore) Delete(ctx context.Context, sessionID string) (err error) {
	defer func() { metrics.RecordStoreOperation("delete", err) }()

	pipe := r.client.TxPipeline()
	del := pipe.Del(ctx, r.prefix+sessionID)
	pipe.SRem(ctx, r.activeKey(), sessionID)
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if del.Val() == 0 {
		return errors.NewNotFoundError("session " + sessionID)
	}

	r.logger.WithField("session_id", sessionID).Info("Session state deleted")
	return nil
}

// List returns every session that has not expired. Expired IDs are pruned
// from the active set as a side effect.
func (r *RedisSessionStore) List(ctx context.Context) (_ []*Record, err error) {
	defer func() { metrics.RecordStoreOperation("list", err) }()

	res, err := listScript.Run(ctx, r.client, []string{r.activeKey()}, r.prefix).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	values, ok := res.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected result type from script")
	}

	records := make([]*Record, 0, len(values))
	for _, val := range values {
		data, ok := val.(string)
		if !ok {
			r.logger.Warn("Invalid data type in result")
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			r.logger.WithError(err).Warn("Failed to unmarshal session")
			continue
		}
		records = append(records, &rec)
	}
	return records, nil
}

// Restore applies the persisted position and ranges to a scheduler. It must
// run on the scheduler's control goroutine.
func Restore(s *scheduler.Scheduler, st scheduler.State) error {
	if err := s.SetFrameRange(st.RangeStart, st.RangeEnd); err != nil {
		return err
	}
	if st.NarrowedEnd > st.NarrowedStart {
		if err := s.SetNarrowedRange(st.NarrowedStart, st.NarrowedEnd); err != nil {
			return err
		}
	}
	if st.FPS > 0 {
		if err := s.SetFPS(st.FPS); err != nil {
			return err
		}
	}
	s.SetPlayMode(st.PlayMode)
	s.SetInc(st.Inc)
	s.SetRealtime(st.Realtime)
	s.SetOutPoint(st.OutPoint)
	s.SetInPoint(st.InPoint)
	s.SetFrame(st.Frame)
	s.SetCaching(st.CacheMode)
	return nil
}
