package security

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidSessionID is wrapped by every ValidateSessionID failure
var ErrInvalidSessionID = errors.New("invalid session id")

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidateSessionID checks that a client-supplied session id is safe to use as a file name.
//
// Returns an error if the id:
//   - Is empty
//   - Contains path traversal sequences (.., /, \)
//   - Contains anything other than letters, digits, '_' and '-', or exceeds 128 characters
//
// Call this before using any user-provided session id in file system operations.
func ValidateSessionID(sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("%w: cannot be empty", ErrInvalidSessionID)
	}

	if strings.Contains(sessionID, "..") {
		return fmt.Errorf("%w: path traversal attempt detected (..)", ErrInvalidSessionID)
	}
	if strings.Contains(sessionID, "/") {
		return fmt.Errorf("%w: path traversal attempt detected (/)", ErrInvalidSessionID)
	}
	if strings.Contains(sessionID, "\\") {
		return fmt.Errorf("%w: path traversal attempt detected (\\)", ErrInvalidSessionID)
	}

	if !sessionIDPattern.MatchString(sessionID) {
		return fmt.Errorf("%w: %q", ErrInvalidSessionID, sessionID)
	}

	return nil
}
