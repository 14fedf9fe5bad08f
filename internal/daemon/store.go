package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/driftcms/revalidator/internal/common/redis"
	"github.com/driftcms/revalidator/pkg/types"
)

// JobStore persists job status snapshots in Redis with a TTL so finished
// jobs stay readable for late polls without accumulating forever.
type JobStore struct {
	redis        *redis.Client
	keyGenerator *redis.KeyGenerator
	statusTTL    time.Duration
	logger       *zap.Logger
}

// NewJobStore creates a job status store
func NewJobStore(redisClient *redis.Client, keyGenerator *redis.KeyGenerator, statusTTL time.Duration, logger *zap.Logger) *JobStore {
	return &JobStore{
		redis:        redisClient,
		keyGenerator: keyGenerator,
		statusTTL:    statusTTL,
		logger:       logger,
	}
}

// SetStatus writes the current status snapshot for a job
func (s *JobStore) SetStatus(ctx context.Context, jobID string, status types.JobStatus) error {
	payload, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal job status: %w", err)
	}

	key := s.keyGenerator.JobStatusKey(jobID)
	if err := s.redis.Set(ctx, key, string(payload), s.statusTTL); err != nil {
		return fmt.Errorf("failed to store job status: %w", err)
	}
	return nil
}

// GetStatus reads the current status snapshot for a job. ok is false when
// the job is unknown or its status has expired.
func (s *JobStore) GetStatus(ctx context.Context, jobID string) (types.JobStatus, bool, error) {
	key := s.keyGenerator.JobStatusKey(jobID)
	raw, err := s.redis.Get(ctx, key)
	if err != nil {
		return types.JobStatus{}, false, fmt.Errorf("failed to read job status: %w", err)
	}
	if raw == "" {
		return types.JobStatus{}, false, nil
	}

	var status types.JobStatus
	if err := json.Unmarshal([]byte(raw), &status); err != nil {
		return types.JobStatus{}, false, fmt.Errorf("failed to decode job status: %w", err)
	}
	return status, true, nil
}

// HistoryStore persists completed run records. Entries are indexed in a ZSET
// by start time and stored as compressed JSON blobs; the index is trimmed to
// a configured maximum, oldest first.
type HistoryStore struct {
	redis        *redis.Client
	keyGenerator *redis.KeyGenerator
	maxEntries   int
	compression  string
	logger       *zap.Logger
}

// NewHistoryStore creates a run history store
func NewHistoryStore(redisClient *redis.Client, keyGenerator *redis.KeyGenerator, maxEntries int, compression string, logger *zap.Logger) *HistoryStore {
	return &HistoryStore{
		redis:        redisClient,
		keyGenerator: keyGenerator,
		maxEntries:   maxEntries,
		compression:  compression,
		logger:       logger,
	}
}

// Append records a finished run and trims history past the retention limit
func (s *HistoryStore) Append(ctx context.Context, entry types.HistoryEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal history entry: %w", err)
	}

	blob, err := encodeBlob(payload, s.compression)
	if err != nil {
		return fmt.Errorf("failed to encode history entry: %w", err)
	}

	entryKey := s.keyGenerator.HistoryEntryKey(entry.JobID)
	if err := s.redis.Set(ctx, entryKey, string(blob), 0); err != nil {
		return fmt.Errorf("failed to store history entry: %w", err)
	}

	indexKey := s.keyGenerator.HistoryIndexKey()
	score := float64(entry.StartedAt.UTC().Unix())
	if err := s.redis.ZAdd(ctx, indexKey, score, entry.JobID); err != nil {
		return fmt.Errorf("failed to index history entry: %w", err)
	}

	return s.trim(ctx)
}

// List returns up to limit entries, newest first. A non-positive limit
// returns everything retained.
func (s *HistoryStore) List(ctx context.Context, limit int) ([]types.HistoryEntry, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}

	jobIDs, err := s.redis.ZRevRange(ctx, s.keyGenerator.HistoryIndexKey(), 0, stop)
	if err != nil {
		return nil, fmt.Errorf("failed to read history index: %w", err)
	}

	entries := make([]types.HistoryEntry, 0, len(jobIDs))
	for _, jobID := range jobIDs {
		raw, err := s.redis.Get(ctx, s.keyGenerator.HistoryEntryKey(jobID))
		if err != nil {
			return nil, fmt.Errorf("failed to read history entry %s: %w", jobID, err)
		}
		if raw == "" {
			// Index can briefly reference a trimmed blob
			s.logger.Debug("History index references missing entry",
				zap.String("job_id", jobID))
			continue
		}

		payload, err := decodeBlob([]byte(raw))
		if err != nil {
			s.logger.Warn("Skipping undecodable history entry",
				zap.String("job_id", jobID),
				zap.Error(err))
			continue
		}

		var entry types.HistoryEntry
		if err := json.Unmarshal(payload, &entry); err != nil {
			s.logger.Warn("Skipping unparsable history entry",
				zap.String("job_id", jobID),
				zap.Error(err))
			continue
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

func (s *HistoryStore) trim(ctx context.Context) error {
	indexKey := s.keyGenerator.HistoryIndexKey()
	count, err := s.redis.ZCard(ctx, indexKey)
	if err != nil {
		return fmt.Errorf("failed to count history index: %w", err)
	}

	excess := count - int64(s.maxEntries)
	if excess <= 0 {
		return nil
	}

	popped, err := s.redis.ZPopMin(ctx, indexKey, excess)
	if err != nil {
		return fmt.Errorf("failed to trim history index: %w", err)
	}

	for _, z := range popped {
		jobID, ok := z.Member.(string)
		if !ok {
			continue
		}
		if err := s.redis.Del(ctx, s.keyGenerator.HistoryEntryKey(jobID)); err != nil {
			s.logger.Warn("Failed to delete trimmed history entry",
				zap.String("job_id", jobID),
				zap.Error(err))
		}
	}

	s.logger.Debug("Trimmed run history",
		zap.Int64("removed", excess),
		zap.Int("max_entries", s.maxEntries))
	return nil
}

// ScheduleStore persists schedule specs in a Redis hash keyed by schedule ID
type ScheduleStore struct {
	redis        *redis.Client
	keyGenerator *redis.KeyGenerator
	logger       *zap.Logger
}

// NewScheduleStore creates a schedule store
func NewScheduleStore(redisClient *redis.Client, keyGenerator *redis.KeyGenerator, logger *zap.Logger) *ScheduleStore {
	return &ScheduleStore{
		redis:        redisClient,
		keyGenerator: keyGenerator,
		logger:       logger,
	}
}

// SaveSchedule writes a schedule spec, replacing any previous version
func (s *ScheduleStore) SaveSchedule(ctx context.Context, spec types.ScheduleSpec) error {
	if spec.ID == "" {
		return fmt.Errorf("schedule id is required")
	}

	payload, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("failed to marshal schedule: %w", err)
	}

	if err := s.redis.HSet(ctx, s.keyGenerator.ScheduleHashKey(), spec.ID, string(payload)); err != nil {
		return fmt.Errorf("failed to store schedule: %w", err)
	}
	return nil
}

// GetSchedule reads one schedule by ID. ok is false when it does not exist.
func (s *ScheduleStore) GetSchedule(ctx context.Context, id string) (types.ScheduleSpec, bool, error) {
	raw, err := s.redis.HGet(ctx, s.keyGenerator.ScheduleHashKey(), id)
	if err != nil {
		return types.ScheduleSpec{}, false, fmt.Errorf("failed to read schedule: %w", err)
	}
	if raw == "" {
		return types.ScheduleSpec{}, false, nil
	}

	var spec types.ScheduleSpec
	if err := json.Unmarshal([]byte(raw), &spec); err != nil {
		return types.ScheduleSpec{}, false, fmt.Errorf("failed to decode schedule: %w", err)
	}
	return spec, true, nil
}

// ListSchedules returns all persisted schedules in unspecified order
func (s *ScheduleStore) ListSchedules(ctx context.Context) ([]types.ScheduleSpec, error) {
	raw, err := s.redis.HGetAll(ctx, s.keyGenerator.ScheduleHashKey())
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}

	specs := make([]types.ScheduleSpec, 0, len(raw))
	for id, value := range raw {
		var spec types.ScheduleSpec
		if err := json.Unmarshal([]byte(value), &spec); err != nil {
			s.logger.Warn("Skipping unparsable schedule",
				zap.String("schedule_id", id),
				zap.Error(err))
			continue
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// DeleteSchedule removes a schedule by ID
func (s *ScheduleStore) DeleteSchedule(ctx context.Context, id string) error {
	if err := s.redis.HDel(ctx, s.keyGenerator.ScheduleHashKey(), id); err != nil {
		return fmt.Errorf("failed to delete schedule: %w", err)
	}
	return nil
}
