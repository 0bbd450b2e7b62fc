package cache

import (
	"fmt"

	"github.com/google/uuid"
)

// PublishLockKey serializes publication runs for one query.
func PublishLockKey(queryID uuid.UUID) string {
	return fmt.Sprintf("publish:lock:%s", queryID)
}
