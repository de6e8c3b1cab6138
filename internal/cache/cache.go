// Package cache provides the tenant-scoped read-through cache layer used by
// the routing engine.
//
// The backing store is opaque behind [Client]; production deployments use the
// Redis client in this package, tests and single-node setups use the bounded
// in-memory client. Absence of a backing store degrades to a pass-through;
// caching is always best-effort and never an error source: writes that fail
// are dropped, reads that fail or fail to decode are treated as misses.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Client is the minimal backing-store interface. All methods may fail
// silently: implementations log and swallow transport errors.
type Client interface {
	// Get returns the raw bytes stored under key, or ok=false on a miss or
	// any failure.
	Get(ctx context.Context, key string) (val []byte, ok bool)

	// Set stores val under key with the given TTL. Best-effort.
	Set(ctx context.Context, key string, val []byte, ttl time.Duration)

	// Del removes key. Best-effort.
	Del(ctx context.Context, key string)

	// IsReady reports whether the backing store is reachable. A not-ready
	// client still accepts calls; they simply become no-ops/misses.
	IsReady() bool
}

// Tenant-scoped key builders. Admin mutations invalidate by these exact keys.

// PrioritiesKey is the cache key for a tenant's priority flow config.
func PrioritiesKey(tenantID string) string {
	return fmt.Sprintf("company:%s:priorities", tenantID)
}

// KnowledgeKey is the cache key for a tenant's knowledge management config.
func KnowledgeKey(tenantID string) string {
	return fmt.Sprintf("company:%s:knowledge", tenantID)
}

// PersonalityKey is the cache key for a tenant's personality config.
func PersonalityKey(tenantID string) string {
	return fmt.Sprintf("company:%s:personality", tenantID)
}

// QuickAnswersKey is the cache key for a tenant's quick answers.
func QuickAnswersKey(tenantID string) string {
	return fmt.Sprintf("qa:%s", tenantID)
}

// RoutingKey is the cache key for a routed query result. The query must
// already be normalized; it is hashed so that arbitrary caller text cannot
// produce unbounded or malformed keys.
func RoutingKey(tenantID, normalizedQuery string) string {
	sum := sha256.Sum256([]byte(normalizedQuery))
	return fmt.Sprintf("ai-brain:%s:%s", tenantID, hex.EncodeToString(sum[:16]))
}

// Layer is the read-through cache. It JSON-encodes values on write and
// treats decode failures on read as misses.
type Layer struct {
	client Client
}

// NewLayer creates a Layer over client. Pass nil for a pass-through layer
// that never caches.
func NewLayer(client Client) *Layer {
	return &Layer{client: client}
}

// GetJSON reads key and decodes it into out. Returns false on a miss, a
// transport failure, a not-ready client, or a decode failure.
func (l *Layer) GetJSON(ctx context.Context, key string, out any) bool {
	if l == nil || l.client == nil || !l.client.IsReady() {
		return false
	}
	raw, ok := l.client.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		slog.Warn("cache: decode failure treated as miss", "key", key, "error", err)
		l.client.Del(ctx, key)
		return false
	}
	return true
}

// SetJSON encodes v and stores it under key with ttl. Best-effort: encode or
// transport failures are logged and dropped.
func (l *Layer) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) {
	if l == nil || l.client == nil || !l.client.IsReady() {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		slog.Warn("cache: encode failure, value not cached", "key", key, "error", err)
		return
	}
	l.client.Set(ctx, key, raw, ttl)
}

// Invalidate removes the given keys. Best-effort.
func (l *Layer) Invalidate(ctx context.Context, keys ...string) {
	if l == nil || l.client == nil {
		return
	}
	for _, k := range keys {
		l.client.Del(ctx, k)
	}
}

// InvalidateTenant removes all well-known keys for a tenant. Call after any
// admin mutation of tenant config, scenarios, or quick answers.
func (l *Layer) InvalidateTenant(ctx context.Context, tenantID string) {
	l.Invalidate(ctx,
		PrioritiesKey(tenantID),
		KnowledgeKey(tenantID),
		PersonalityKey(tenantID),
		QuickAnswersKey(tenantID),
	)
}
