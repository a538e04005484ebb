package lockmgr

import (
	"github.com/google/uuid"
)

// NewOwnerID creates a new unique owner ID for a process. Unlike a random
// per-acquire token, the owner ID is stable for the process lifetime so that
// peers can attribute lock records to servers (and clean them up when the
// server dies).
func NewOwnerID() string {
	return uuid.NewString()
}
