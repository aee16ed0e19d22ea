package presence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultOnlineThreshold = 20 * time.Second
	DefaultTypingTTL       = 3 * time.Second

	// Clients heartbeat on this interval while observing an alert, plus once
	// on typing-start.
	HeartbeatInterval = 10 * time.Second

	// Index keys age out long after any alert window can still be live.
	indexTTL = 24 * time.Hour
)

// Entry is one identity's lease on an alert. Staleness is judged lazily by
// the reader at snapshot time; there is no central timer revoking entries.
type Entry struct {
	Identity    string    `json:"identity"`
	DisplayName string    `json:"display_name"`
	LastSeen    time.Time `json:"last_seen"`
	IsTyping    bool      `json:"is_typing"`
}

type Registry struct {
	client          *redis.Client
	onlineThreshold time.Duration
	typingTTL       time.Duration
}

func NewRegistry(client *redis.Client, onlineThreshold, typingTTL time.Duration) *Registry {
	if onlineThreshold <= 0 {
		onlineThreshold = DefaultOnlineThreshold
	}
	if typingTTL <= 0 {
		typingTTL = DefaultTypingTTL
	}
	return &Registry{client: client, onlineThreshold: onlineThreshold, typingTTL: typingTTL}
}

func indexKey(alertID uuid.UUID) string {
	return fmt.Sprintf("presence:index:%s", alertID)
}

func entryKey(alertID uuid.UUID, identity string) string {
	return fmt.Sprintf("presence:entry:%s:%s", alertID, identity)
}

func typingKey(alertID uuid.UUID, identity string) string {
	return fmt.Sprintf("presence:typing:%s:%s", alertID, identity)
}

// Heartbeat upserts the lease. The sorted-set score is last_seen in unix
// millis, so a snapshot is one ZRANGEBYSCORE over the freshness window.
func (r *Registry) Heartbeat(ctx context.Context, alertID uuid.UUID, identity, displayName string, isTyping bool) error {
	if identity == "" {
		return fmt.Errorf("presence: empty identity")
	}
	now := time.Now()

	pipe := r.client.Pipeline()
	pipe.ZAdd(ctx, indexKey(alertID), redis.Z{Score: float64(now.UnixMilli()), Member: identity})
	pipe.Expire(ctx, indexKey(alertID), indexTTL)

	ek := entryKey(alertID, identity)
	pipe.HSet(ctx, ek, "display_name", displayName, "last_seen", now.UnixMilli())
	pipe.Expire(ctx, ek, 3*r.onlineThreshold)

	// Typing is a self-expiring key: a lost clear event just ages out.
	tk := typingKey(alertID, identity)
	if isTyping {
		pipe.Set(ctx, tk, "1", r.typingTTL)
	} else {
		pipe.Del(ctx, tk)
	}

	_, err := pipe.Exec(ctx)
	return err
}

// MarkOffline is the best-effort clean departure. The entry is not deleted;
// its score is pushed out of the freshness window so readers stop seeing it.
// An abrupt disconnect reaches the same state by simply aging out.
func (r *Registry) MarkOffline(ctx context.Context, alertID uuid.UUID, identity string) error {
	pipe := r.client.Pipeline()
	pipe.ZAdd(ctx, indexKey(alertID), redis.Z{Score: 0, Member: identity})
	pipe.Del(ctx, typingKey(alertID, identity))
	_, err := pipe.Exec(ctx)
	return err
}

// Snapshot returns the identities currently observing the alert. "Online" is
// evaluated against the snapshot's own clock: only members whose last_seen
// falls inside the threshold window make it in.
func (r *Registry) Snapshot(ctx context.Context, alertID uuid.UUID) ([]Entry, error) {
	now := time.Now()
	min := strconv.FormatInt(now.Add(-r.onlineThreshold).UnixMilli(), 10)

	members, err := r.client.ZRangeByScoreWithScores(ctx, indexKey(alertID), &redis.ZRangeBy{
		Min: min,
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}

	pipe := r.client.Pipeline()
	nameCmds := make([]*redis.StringCmd, len(members))
	typingCmds := make([]*redis.IntCmd, len(members))
	for i, m := range members {
		identity := m.Member.(string)
		nameCmds[i] = pipe.HGet(ctx, entryKey(alertID, identity), "display_name")
		typingCmds[i] = pipe.Exists(ctx, typingKey(alertID, identity))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(members))
	for i, m := range members {
		identity := m.Member.(string)
		name, err := nameCmds[i].Result()
		if err != nil && err != redis.Nil {
			return nil, err
		}
		entries = append(entries, Entry{
			Identity:    identity,
			DisplayName: name,
			LastSeen:    time.UnixMilli(int64(m.Score)),
			IsTyping:    typingCmds[i].Val() == 1,
		})
	}
	return entries, nil
}

// OnlineThreshold exposes the configured window for callers that surface it
// to clients (poll intervals, UI countdowns).
func (r *Registry) OnlineThreshold() time.Duration {
	return r.onlineThreshold
}
