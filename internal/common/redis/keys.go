package redis

import (
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/driftcms/revalidator/pkg/types"
)

// KeyGenerator provides the Redis key layout for job state, run history,
// schedules and the page-cache index the daemon invalidates.
type KeyGenerator struct{}

// NewKeyGenerator creates a new KeyGenerator instance
func NewKeyGenerator() *KeyGenerator {
	return &KeyGenerator{}
}

// JobStatusKey returns the key holding a job's current status snapshot.
// Format: job:{jobID}
func (kg *KeyGenerator) JobStatusKey(jobID string) string {
	return "job:" + jobID
}

// HistoryIndexKey returns the ZSET indexing run history by start time
func (kg *KeyGenerator) HistoryIndexKey() string {
	return "history:runs"
}

// HistoryEntryKey returns the key holding a single run's history blob
func (kg *KeyGenerator) HistoryEntryKey(jobID string) string {
	return "history:run:" + jobID
}

// ScheduleHashKey returns the hash holding all persisted schedule specs
func (kg *KeyGenerator) ScheduleHashKey() string {
	return "schedules"
}

// PageIndexKey returns the set of cached routes for an environment
func (kg *KeyGenerator) PageIndexKey(env types.Environment) string {
	return fmt.Sprintf("pages:%s", env)
}

// PageKey returns the key holding a cached page entry.
// Routes are hashed so arbitrary paths stay within key length limits.
// Format: page:{env}:{xxhash(route)}
func (kg *KeyGenerator) PageKey(env types.Environment, route string) string {
	return fmt.Sprintf("page:%s:%016x", env, xxhash.Sum64String(route))
}

// TagIndexKey returns the set of routes associated with a content tag
func (kg *KeyGenerator) TagIndexKey(env types.Environment, tag string) string {
	return fmt.Sprintf("tag:%s:%s", env, tag)
}

// MediaIndexKey returns the set of cached media asset paths for an environment
func (kg *KeyGenerator) MediaIndexKey(env types.Environment) string {
	return fmt.Sprintf("media:%s", env)
}

// MediaKey returns the key holding a cached media asset entry.
// Format: asset:{env}:{xxhash(path)}
func (kg *KeyGenerator) MediaKey(env types.Environment, path string) string {
	return fmt.Sprintf("asset:%s:%016x", env, xxhash.Sum64String(path))
}
