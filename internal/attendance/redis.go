package attendance

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLedger keeps one Redis set per day plus a sorted index of days.
// SADD gives the add-to-set semantics directly.
type RedisLedger struct {
	client *redis.Client
	prefix string
}

// NewRedisLedger creates a ledger under the given key prefix.
func NewRedisLedger(client *redis.Client, prefix string) *RedisLedger {
	if prefix == "" {
		prefix = "attendance"
	}
	return &RedisLedger{client: client, prefix: prefix}
}

func (l *RedisLedger) dayKey(date string) string { return l.prefix + ":day:" + date }
func (l *RedisLedger) daysKey() string           { return l.prefix + ":days" }

// Mark adds studentID to date's set and indexes the day.
func (l *RedisLedger) Mark(ctx context.Context, date, studentID string) (bool, error) {
	day, err := time.Parse(DateLayout, date)
	if err != nil {
		return false, fmt.Errorf("invalid date %q: %w", date, err)
	}
	var added *redis.IntCmd
	_, err = l.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		added = p.SAdd(ctx, l.dayKey(date), studentID)
		p.ZAddNX(ctx, l.daysKey(), redis.Z{Score: float64(day.Unix()), Member: date})
		return nil
	})
	if err != nil {
		return false, err
	}
	return added.Val() == 1, nil
}

func (l *RedisLedger) IsMarked(ctx context.Context, date, studentID string) (bool, error) {
	return l.client.SIsMember(ctx, l.dayKey(date), studentID).Result()
}

// Attendees returns date's set sorted by id; Redis sets carry no order.
func (l *RedisLedger) Attendees(ctx context.Context, date string) ([]string, error) {
	ids, err := l.client.SMembers(ctx, l.dayKey(date)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

func (l *RedisLedger) History(ctx context.Context) ([]Day, error) {
	dates, err := l.client.ZRevRange(ctx, l.daysKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(dates) == 0 {
		return []Day{}, nil
	}
	cmds := make([]*redis.StringSliceCmd, len(dates))
	_, err = l.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, date := range dates {
			cmds[i] = p.SMembers(ctx, l.dayKey(date))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	days := make([]Day, len(dates))
	for i, date := range dates {
		ids := cmds[i].Val()
		sort.Strings(ids)
		days[i] = Day{Date: date, StudentIDs: ids}
	}
	return days, nil
}
