package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/bryan-buckman/instarelay/internal/model"
	goredis "github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces all keys written by RedisStore.
const DefaultRedisPrefix = "instarelay:"

// RedisStore keeps accounts and watermarks in three Redis hashes.
type RedisStore struct {
	client goredis.UniversalClient
	prefix string
}

// Ensure RedisStore implements Store interface.
var _ Store = (*RedisStore)(nil)

// NewRedis wraps an existing client. An empty prefix uses DefaultRedisPrefix.
func NewRedis(client goredis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

// DialRedis connects to a single Redis node and verifies it answers.
func DialRedis(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := goredis.NewUniversalClient(&goredis.UniversalOptions{
		Addrs:       []string{addr},
		Password:    password,
		DB:          db,
		DialTimeout: 5 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedis(client, ""), nil
}

func (r *RedisStore) accountsKey() string { return r.prefix + "accounts" }
func (r *RedisStore) postsKey() string    { return r.prefix + "last_posts" }
func (r *RedisStore) storiesKey() string  { return r.prefix + "last_stories" }

// Close closes the client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

// DatabaseType returns the database backend name.
func (r *RedisStore) DatabaseType() string {
	return "Redis"
}

// --- Account Methods ---

func (r *RedisStore) GetAccounts(ctx context.Context) ([]model.Account, error) {
	raw, err := r.client.HGetAll(ctx, r.accountsKey()).Result()
	if err != nil {
		return nil, err
	}
	accounts := make([]model.Account, 0, len(raw))
	for username, v := range raw {
		var a model.Account
		if err := json.Unmarshal([]byte(v), &a); err != nil {
			return nil, fmt.Errorf("decode account %s: %w", username, err)
		}
		accounts = append(accounts, a)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Username < accounts[j].Username })
	return accounts, nil
}

func (r *RedisStore) GetAccount(ctx context.Context, username string) (*model.Account, error) {
	v, err := r.client.HGet(ctx, r.accountsKey(), username).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var a model.Account
	if err := json.Unmarshal([]byte(v), &a); err != nil {
		return nil, fmt.Errorf("decode account %s: %w", username, err)
	}
	return &a, nil
}

func (r *RedisStore) UpsertAccount(ctx context.Context, account model.Account) error {
	existing, err := r.GetAccount(ctx, account.Username)
	switch {
	case err == nil:
		account.CreatedAt = existing.CreatedAt
	case errors.Is(err, ErrNotFound):
		if account.CreatedAt.IsZero() {
			account.CreatedAt = time.Now().UTC()
		}
	default:
		return err
	}
	return r.putAccount(ctx, account)
}

func (r *RedisStore) putAccount(ctx context.Context, account model.Account) error {
	b, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("encode account: %w", err)
	}
	return r.client.HSet(ctx, r.accountsKey(), account.Username, b).Err()
}

func (r *RedisStore) DeleteAccount(ctx context.Context, username string) (bool, error) {
	n, err := r.client.HDel(ctx, r.accountsKey(), username).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *RedisStore) SetAccountEnabled(ctx context.Context, username string, enabled bool) (bool, error) {
	a, err := r.GetAccount(ctx, username)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	a.Enabled = enabled
	if err := r.putAccount(ctx, *a); err != nil {
		return false, err
	}
	return true, nil
}

// --- Watermark Methods ---

func (r *RedisStore) LoadLastPosts(ctx context.Context) (map[string]string, error) {
	posts, err := r.client.HGetAll(ctx, r.postsKey()).Result()
	if err != nil {
		return nil, err
	}
	return posts, nil
}

func (r *RedisStore) SaveLastPost(ctx context.Context, username, postID string) error {
	return r.client.HSet(ctx, r.postsKey(), username, postID).Err()
}

func (r *RedisStore) LoadLastStories(ctx context.Context) (map[string][]string, error) {
	raw, err := r.client.HGetAll(ctx, r.storiesKey()).Result()
	if err != nil {
		return nil, err
	}
	stories := make(map[string][]string, len(raw))
	for username, v := range raw {
		ids, err := decodeStoryIDs(v)
		if err != nil {
			return nil, fmt.Errorf("stories for %s: %w", username, err)
		}
		stories[username] = ids
	}
	return stories, nil
}

func (r *RedisStore) SaveLastStories(ctx context.Context, username string, storyIDs []string) error {
	raw, err := encodeStoryIDs(storyIDs)
	if err != nil {
		return err
	}
	return r.client.HSet(ctx, r.storiesKey(), username, raw).Err()
}
