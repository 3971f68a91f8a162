// Package ratelimit bounds upload pressure per device. Keys are scoped to
// device and capture type so a chatty video pipeline cannot starve photo
// uploads from the same device.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"attestd/internal/domain"
)

// UploadKey is the canonical limiter key for capture submissions.
func UploadKey(deviceID string, captureType domain.CaptureType) string {
	return "device:" + deviceID + ":" + string(captureType)
}

type memoryLimiter struct {
	mu      sync.Mutex
	now     func() time.Time
	buckets map[string]*fixedWindow
	maxKeys int
}

type fixedWindow struct {
	count int
	endAt time.Time
}

type MemoryLimiterConfig struct {
	Now     func() time.Time
	MaxKeys int
}

// NewMemoryLimiter is the single-process fallback used when Redis is not
// configured.
func NewMemoryLimiter(cfg MemoryLimiterConfig) domain.RateLimiter {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = 10000
	}
	return &memoryLimiter{
		now:     cfg.Now,
		buckets: make(map[string]*fixedWindow),
		maxKeys: cfg.MaxKeys,
	}
}

func (m *memoryLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (domain.RateLimitDecision, error) {
	if limit <= 0 {
		return domain.RateLimitDecision{Allowed: true, Limit: limit, Remaining: limit}, nil
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	bucket, ok := m.buckets[key]
	if ok && now.After(bucket.endAt) {
		delete(m.buckets, key)
		ok = false
	}
	if !ok {
		if len(m.buckets) >= m.maxKeys {
			m.evictExpired(now)
		}
		if len(m.buckets) >= m.maxKeys {
			return domain.RateLimitDecision{}, errors.New("rate limiter capacity exceeded")
		}
		bucket = &fixedWindow{endAt: now.Add(window)}
		m.buckets[key] = bucket
	}

	if bucket.count < limit {
		bucket.count++
		return domain.RateLimitDecision{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit - bucket.count,
			ResetAt:   bucket.endAt,
		}, nil
	}

	return domain.RateLimitDecision{
		Allowed:   false,
		Limit:     limit,
		Remaining: 0,
		ResetAt:   bucket.endAt,
	}, nil
}

func (m *memoryLimiter) evictExpired(now time.Time) {
	for key, bucket := range m.buckets {
		if now.After(bucket.endAt) {
			delete(m.buckets, key)
		}
	}
}
