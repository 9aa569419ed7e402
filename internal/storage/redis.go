package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/go-redis/redis/v8"

	"github.com/tos-network/poolwatch/internal/alerts"
	"github.com/tos-network/poolwatch/internal/util"
)

const (
	keyPrefix = "poolwatch:"

	// Key patterns
	keyWalletState = keyPrefix + "state:%s"
	keyNotified    = keyPrefix + "notified"
	keySnapshots   = keyPrefix + "snapshots"
	keyEvents      = keyPrefix + "events"
)

// RedisClient stores poller state in Redis
type RedisClient struct {
	client *redis.Client
	ctx    context.Context
}

// NewRedisClient creates a new Redis client
func NewRedisClient(url, password string, db int) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     url,
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	util.Info("Connected to Redis at ", url)
	return &RedisClient{client: client, ctx: ctx}, nil
}

// Close closes the Redis connection
func (r *RedisClient) Close() error {
	return r.client.Close()
}

// Ping checks the connection
func (r *RedisClient) Ping() error {
	return r.client.Ping(r.ctx).Err()
}

// GetWalletState returns the stored alert state for a wallet
func (r *RedisClient) GetWalletState(walletID string) (*alerts.WalletState, error) {
	data, err := r.client.Get(r.ctx, fmt.Sprintf(keyWalletState, walletID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var state alerts.WalletState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode wallet state %s: %w", walletID, err)
	}
	return &state, nil
}

// SaveWalletState replaces the stored alert state for a wallet
func (r *RedisClient) SaveWalletState(walletID string, state alerts.WalletState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return r.client.Set(r.ctx, fmt.Sprintf(keyWalletState, walletID), data, 0).Err()
}

// GetNotified returns the de-duplication set
func (r *RedisClient) GetNotified() (alerts.NotifiedSet, error) {
	keys, err := r.client.SMembers(r.ctx, keyNotified).Result()
	if err != nil {
		return nil, err
	}
	return alerts.NewNotifiedSet(keys...), nil
}

// SaveNotified replaces the de-duplication set atomically
func (r *RedisClient) SaveNotified(set alerts.NotifiedSet) error {
	pipe := r.client.TxPipeline()
	pipe.Del(r.ctx, keyNotified)
	if len(set) > 0 {
		members := make([]interface{}, 0, len(set))
		for _, k := range set.Keys() {
			members = append(members, k)
		}
		pipe.SAdd(r.ctx, keyNotified, members...)
	}
	_, err := pipe.Exec(r.ctx)
	return err
}

// SaveSnapshot stores the latest snapshot for a wallet
func (r *RedisClient) SaveSnapshot(snap *WalletSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return r.client.HSet(r.ctx, keySnapshots, snap.WalletID, data).Err()
}

// GetSnapshot returns the latest snapshot for a wallet
func (r *RedisClient) GetSnapshot(walletID string) (*WalletSnapshot, error) {
	data, err := r.client.HGet(r.ctx, keySnapshots, walletID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var snap WalletSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", walletID, err)
	}
	return &snap, nil
}

// GetSnapshots returns every stored snapshot ordered by wallet id
func (r *RedisClient) GetSnapshots() ([]*WalletSnapshot, error) {
	data, err := r.client.HGetAll(r.ctx, keySnapshots).Result()
	if err != nil {
		return nil, err
	}

	snaps := make([]*WalletSnapshot, 0, len(data))
	for id, raw := range data {
		var snap WalletSnapshot
		if err := json.Unmarshal([]byte(raw), &snap); err != nil {
			util.Warnf("Skipping corrupt snapshot %s: %v", id, err)
			continue
		}
		snaps = append(snaps, &snap)
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].WalletID < snaps[j].WalletID })
	return snaps, nil
}

// AddEvents prepends events to the recent list and trims it
func (r *RedisClient) AddEvents(events []alerts.Event) error {
	if len(events) == 0 {
		return nil
	}

	pipe := r.client.Pipeline()
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		pipe.LPush(r.ctx, keyEvents, data)
	}
	pipe.LTrim(r.ctx, keyEvents, 0, MaxEvents-1)
	_, err := pipe.Exec(r.ctx)
	return err
}

// GetRecentEvents returns up to limit events, newest first
func (r *RedisClient) GetRecentEvents(limit int64) ([]alerts.Event, error) {
	if limit <= 0 || limit > MaxEvents {
		limit = MaxEvents
	}
	results, err := r.client.LRange(r.ctx, keyEvents, 0, limit-1).Result()
	if err != nil {
		return nil, err
	}

	events := make([]alerts.Event, 0, len(results))
	for _, result := range results {
		var ev alerts.Event
		if err := json.Unmarshal([]byte(result), &ev); err == nil {
			events = append(events, ev)
		}
	}
	return events, nil
}
