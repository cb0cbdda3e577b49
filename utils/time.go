// Package utils provides utility functions for the application.
package utils

import (
	"sync"
	"time"
)

// UTCNow returns the current time in UTC
func UTCNow() time.Time {
	return time.Now().UTC()
}

// UTCNowPtr returns a pointer to the current time in UTC
func UTCNowPtr() *time.Time {
	now := UTCNow()
	return &now
}

// UTCNowAdd returns the current UTC time plus the given duration
func UTCNowAdd(d time.Duration) time.Time {
	return UTCNow().Add(d)
}

// UTCNowAddPtr returns a pointer to the current UTC time plus the given duration
func UTCNowAddPtr(d time.Duration) *time.Time {
	now := UTCNowAdd(d)
	return &now
}

// IsExpired checks if the given time is in the past (expired)
func IsExpired(t time.Time) bool {
	return UTCNow().After(t)
}

// IsExpiredPtr checks if the given time pointer is in the past (expired)
func IsExpiredPtr(t *time.Time) bool {
	if t == nil {
		return false
	}
	return IsExpired(*t)
}

// TimeToUTC converts a time to UTC if it's not already
func TimeToUTC(t time.Time) time.Time {
	return t.UTC()
}

// TimeToUTCPtr converts a time pointer to UTC if it's not already
func TimeToUTCPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := TimeToUTC(*t)
	return &utc
}

var (
	locCacheMu sync.Mutex
	locCache   = map[string]*time.Location{}
)

// LoadLocationCached resolves an IANA timezone name, caching the result.
// Calling-hour checks run on every dispatch tick, so repeated LoadLocation
// calls would hit the filesystem each time.
func LoadLocationCached(name string) (*time.Location, error) {
	if name == "" || name == "UTC" {
		return time.UTC, nil
	}
	locCacheMu.Lock()
	defer locCacheMu.Unlock()
	if loc, ok := locCache[name]; ok {
		return loc, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, err
	}
	locCache[name] = loc
	return loc, nil
}
