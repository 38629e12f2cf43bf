package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"quill/internal/middleware"
)

const (
	PublicPostsKeyPrefix = "posts:public"
	PublicPostKeyPrefix  = "post:public:%d"
)

const (
	PublicPostsTTL = 2 * time.Minute
	PublicPostTTL  = 5 * time.Minute
)

// PublicPostsKey identifies one page of the published listing.
func PublicPostsKey(page, size int) string {
	return fmt.Sprintf("%s:%d:%d", PublicPostsKeyPrefix, page, size)
}

// PublicPostKey identifies a single published post.
func PublicPostKey(postID uint) string {
	return fmt.Sprintf(PublicPostKeyPrefix, postID)
}

// Invalidate deletes key.
func Invalidate(ctx context.Context, key string) {
	if client == nil {
		return
	}
	if err := client.Del(ctx, key).Err(); err != nil {
		middleware.Logger.WarnContext(ctx, "cache invalidate failed", slog.String("key", key), slog.String("error", err.Error()))
	}
}

// InvalidatePrefix deletes every key starting with prefix using SCAN.
func InvalidatePrefix(ctx context.Context, prefix string) {
	if client == nil {
		return
	}
	iter := client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		middleware.Logger.WarnContext(ctx, "cache scan failed", slog.String("prefix", prefix), slog.String("error", err.Error()))
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := client.Del(ctx, keys...).Err(); err != nil {
		middleware.Logger.WarnContext(ctx, "cache invalidate failed", slog.String("prefix", prefix), slog.String("error", err.Error()))
	}
}

// InvalidatePosts drops cached published listings and the given posts.
func InvalidatePosts(ctx context.Context, postIDs ...uint) {
	InvalidatePrefix(ctx, PublicPostsKeyPrefix)
	for _, id := range postIDs {
		Invalidate(ctx, PublicPostKey(id))
	}
}
