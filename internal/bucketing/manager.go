package bucketing

import (
	"fmt"

	"github.com/spaolacci/murmur3"

	"growth-service/internal/config"
)

// Manager assigns users to fixed hash buckets. Buckets spread the user table
// across partitions; the count must never change once data exists, or
// lookups stop finding their rows.
type Manager struct {
	userBuckets uint32
}

func NewManager(cfg *config.BucketingConfig) *Manager {
	return &Manager{userBuckets: uint32(cfg.UserBuckets)}
}

// Bucket maps a telegram id onto its partition bucket.
func (m *Manager) Bucket(telegramID int64) int {
	hash := murmur3.Sum32([]byte(fmt.Sprintf("%d", telegramID)))
	return int(hash % m.userBuckets)
}
