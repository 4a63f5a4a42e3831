package push

import (
	"crypto/md5"

	"github.com/google/uuid"
)

// SessionID derives a stable UUID-shaped session identifier from a SIP
// call ID by formatting its MD5 digest as 8-4-4-4-12 hex groups. The same
// call ID always yields the same session ID, so the cancel push for a call
// matches the incoming push that preceded it.
func SessionID(callID string) string {
	sum := md5.Sum([]byte(callID))
	id, err := uuid.FromBytes(sum[:])
	if err != nil {
		// md5.Sum is always 16 bytes, FromBytes cannot fail on it.
		return ""
	}
	return id.String()
}
