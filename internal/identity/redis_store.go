// Package identity resolves a connection's identity from its access token
// plus the user profile records the vault API maintains in Redis.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrNoProfile = errors.New("profile not found")

// Profile is the public user record written by the vault API on login.
type Profile struct {
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ProfileStore reads user profiles from Redis.
type ProfileStore struct {
	client *redis.Client
	prefix string
}

func NewProfileStore(redisURL string) (*ProfileStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &ProfileStore{client: client, prefix: "profile:"}, nil
}

func NewProfileStoreWithClient(client *redis.Client) *ProfileStore {
	return &ProfileStore{client: client, prefix: "profile:"}
}

func (s *ProfileStore) key(userID string) string {
	return s.prefix + userID
}

func (s *ProfileStore) GetProfile(ctx context.Context, userID string) (Profile, error) {
	jsonData, err := s.client.Get(ctx, s.key(userID)).Result()
	if err == redis.Nil {
		return Profile{}, ErrNoProfile
	}
	if err != nil {
		return Profile{}, fmt.Errorf("lookup profile: %w", err)
	}

	var p Profile
	if err := json.Unmarshal([]byte(jsonData), &p); err != nil {
		return Profile{}, fmt.Errorf("unmarshal profile: %w", err)
	}
	return p, nil
}

// PutProfile exists for the vault API's writer path and for tests.
func (s *ProfileStore) PutProfile(ctx context.Context, userID string, p Profile) error {
	p.UpdatedAt = time.Now()
	jsonData, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	if err := s.client.Set(ctx, s.key(userID), jsonData, 0).Err(); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

func (s *ProfileStore) Close() error {
	return s.client.Close()
}

func (s *ProfileStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
