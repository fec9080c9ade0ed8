package counter

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Sync outcomes counted per company
const (
	OutcomeSuccess   = "success"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
	OutcomeDuplicate = "duplicate"
)

// Outcomes lists every counted outcome
var Outcomes = []string{OutcomeSuccess, OutcomeSkipped, OutcomeFailed, OutcomeDuplicate}

const keyPrefix = "sync:counters:"

// Counters keeps per company sync outcome counts in redis hashes, one hash per outcome.
type Counters struct {
	client *redis.Client
}

// New creates counters on client
func New(client *redis.Client) *Counters {
	return &Counters{client: client}
}

func key(outcome string) string {
	return keyPrefix + outcome
}

// Add increments the outcome counter of companyID
func (c *Counters) Add(ctx context.Context, outcome, companyID string) error {
	if companyID == "" {
		companyID = "-"
	}
	return c.client.HIncrBy(ctx, key(outcome), companyID, 1).Err()
}

// Snapshot returns outcome -> company -> count without resetting anything.
func (c *Counters) Snapshot(ctx context.Context) (map[string]map[string]int64, error) {
	out := make(map[string]map[string]int64, len(Outcomes))
	for _, outcome := range Outcomes {
		data, err := c.client.HGetAll(ctx, key(outcome)).Result()
		if err != nil {
			return nil, err
		}
		out[outcome] = parseCounts(data)
	}
	return out, nil
}

// Drain atomically takes all counts of outcome and resets them.
// RENAME to a temporary key keeps increments that arrive meanwhile.
func (c *Counters) Drain(ctx context.Context, outcome string) (map[string]int64, error) {
	tmpKey := fmt.Sprintf("%s:tmp:%d", key(outcome), time.Now().UnixNano())
	if err := c.client.Rename(ctx, key(outcome), tmpKey).Err(); err != nil {
		// nothing counted yet
		if errors.Is(err, redis.Nil) || strings.Contains(strings.ToLower(err.Error()), "no such key") {
			return map[string]int64{}, nil
		}
		return nil, err
	}
	defer c.client.Del(ctx, tmpKey)

	data, err := c.client.HGetAll(ctx, tmpKey).Result()
	if err != nil {
		return nil, err
	}
	return parseCounts(data), nil
}

func parseCounts(data map[string]string) map[string]int64 {
	counts := make(map[string]int64, len(data))
	for company, v := range data {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n == 0 {
			continue
		}
		counts[company] = n
	}
	return counts
}
