package utils

import "github.com/google/uuid"

// ParseUUID parses a UUID string into a uuid.UUID
func ParseUUID(s string) (uuid.UUID, error) {
	return uuid.Parse(s)
}
