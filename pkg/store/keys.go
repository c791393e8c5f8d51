package store

import (
	"strings"

	"farmassist/pkg/domain"
)

// Key layout. Listing relies on "<entity>:<ownerId>:" prefixes, so owner
// and entity IDs must never contain the separator.
const sep = ":"

func userKey(phone string) string    { return "user" + sep + phone }
func userIDKey(id string) string     { return "userId" + sep + id }
func vitalsKey(userID string) string { return "vitals" + sep + userID }

func ownedKey(entity, ownerID, id string) string {
	return entity + sep + ownerID + sep + id
}

func ownedPrefix(entity, ownerID string) string {
	return entity + sep + ownerID + sep
}

const (
	entitySensor = "sensor"
	entityAlert  = "alert"
	entityClaim  = "claim"
	entityChat   = "chat"
	entityProof  = "proof"
)

// checkKeyPart validates a caller-supplied key component.
func checkKeyPart(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return domain.Invalid(field, "%s is required", field)
	}
	if strings.Contains(value, sep) {
		return domain.Invalid(field, "%s must not contain %q", field, sep)
	}
	return nil
}
