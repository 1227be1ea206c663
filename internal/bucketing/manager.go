package bucketing

import (
	"fmt"
	"hash"
	"sync"
	"time"

	"accounts-service/internal/config"

	"github.com/google/uuid"
	"github.com/spaolacci/murmur3"
)

// BucketingManager spreads account rows over a fixed number of partition
// buckets so no single partition grows unbounded. The same account always
// maps to the same bucket.
type BucketingManager struct {
	accountBuckets int
	eventBuckets   int
	hasherPool     sync.Pool
	config         *config.Config
}

func NewBucketingManager(cfg *config.Config) *BucketingManager {
	bm := &BucketingManager{
		accountBuckets: cfg.Bucketing.UserBuckets,
		eventBuckets:   cfg.Bucketing.EventBuckets,
		config:         cfg,
	}

	// Pool of hash functions to avoid allocation overhead
	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return bm
}

// GetAccountBucket returns a consistent bucket for an account (0 to accountBuckets-1)
func (bm *BucketingManager) GetAccountBucket(accountID interface{}) int {
	var idStr string

	switch v := accountID.(type) {
	case string:
		idStr = v
	case uuid.UUID:
		idStr = v.String()
	default:
		idStr = fmt.Sprintf("%v", v)
	}

	return bm.getBucket(idStr, bm.accountBuckets)
}

// GetEventBucket returns a bucket for events and rate limiting
func (bm *BucketingManager) GetEventBucket(identifier string) int {
	return bm.getBucket(identifier, bm.eventBuckets)
}

// GetTimeBucket returns the time bucket for OTP and rate-limit windows
func (bm *BucketingManager) GetTimeBucket(windowSeconds int) int64 {
	return time.Now().Unix() / int64(windowSeconds) * int64(windowSeconds)
}

// GetDateBucket returns the UTC date bucket for audit events
func (bm *BucketingManager) GetDateBucket() string {
	return time.Now().UTC().Format("2006-01-02")
}

func (bm *BucketingManager) getBucket(key string, numBuckets int) int {
	return int(bm.getHash(key) % uint64(numBuckets))
}

func (bm *BucketingManager) getHash(key string) uint64 {
	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return hasher.Sum64()
}

func (bm *BucketingManager) GetAccountBuckets() int {
	return bm.accountBuckets
}

func (bm *BucketingManager) GetEventBuckets() int {
	return bm.eventBuckets
}
