package content

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// BindingStore remembers which view code a student opened a content item
// with, so a later finish event can find the code to consume.
type BindingStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewBindingStore constructs BindingStore. Bindings expire after ttl.
func NewBindingStore(client *redis.Client, ttl time.Duration) *BindingStore {
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &BindingStore{client: client, ttl: ttl}
}

func bindingKey(studentID, contentID int64) string {
	return fmt.Sprintf("content:binding:%d:%d", studentID, contentID)
}

// Bind stores code for the pair, refreshing the expiry.
func (b *BindingStore) Bind(ctx context.Context, studentID, contentID int64, code string) error {
	return b.client.Set(ctx, bindingKey(studentID, contentID), code, b.ttl).Err()
}

// Lookup returns the bound code or ErrNoBinding.
func (b *BindingStore) Lookup(ctx context.Context, studentID, contentID int64) (string, error) {
	code, err := b.client.Get(ctx, bindingKey(studentID, contentID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNoBinding
	}
	return code, err
}

// Release drops the binding; releasing a missing binding is not an error.
func (b *BindingStore) Release(ctx context.Context, studentID, contentID int64) error {
	return b.client.Del(ctx, bindingKey(studentID, contentID)).Err()
}
