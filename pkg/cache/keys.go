package cache

import (
	"fmt"
	"time"
)

// Pattern: boxoffice:{module}:{operation}:{identifier}
const keyPrefix = "boxoffice"

const (
	TTLSeatMap   = 5 * time.Second
	TTLEventInfo = 5 * time.Minute
)

func SeatMapKey(eventID string) string {
	return fmt.Sprintf("%s:seats:map:%s", keyPrefix, eventID)
}

func EventKey(eventID string) string {
	return fmt.Sprintf("%s:events:detail:%s", keyPrefix, eventID)
}

// AllKeys matches every key the service owns, rate limit windows included.
func AllKeys() string {
	return keyPrefix + ":*"
}
