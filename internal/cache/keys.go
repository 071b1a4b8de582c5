package cache

import (
	"fmt"
	"time"
)

// RateLimitKey buckets a client into the current one-minute window.
func RateLimitKey(clientIP string, now time.Time) string {
	return fmt.Sprintf("ratelimit:%s:%d", clientIP, now.Unix()/60)
}
