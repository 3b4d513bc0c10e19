package upstream

import (
	"encoding/json"
	"errors"
	"os"

	"github.com/google/renameio/v2"
	"github.com/tummerk/video-stats/internal/log"
)

// Session is the opaque credential blob persisted to disk between runs so
// the worker does not re-authenticate with a password on every restart.
type Session struct {
	Token string `json:"token"`
	CSRF  string `json:"csrf,omitempty"`
}

// LoadSession reads a previously persisted session blob. A missing file is
// not an error: it simply means no session has been persisted yet.
func LoadSession(path string) (*Session, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, false, err
	}
	return &s, true, nil
}

// SaveSession persists the session blob atomically: a crash mid-write
// leaves either the old file or the new one, never a truncated one, because
// renameio writes to a temp file in the same directory and renames it into
// place only after a successful close.
func SaveSession(path string, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}

	logger := log.WithComponent("upstream.session")
	pendingFile, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o600))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := pendingFile.Cleanup(); cerr != nil {
			logger.Debug().Err(cerr).Msg("session pending file cleanup")
		}
	}()

	if _, err := pendingFile.Write(data); err != nil {
		return err
	}
	return pendingFile.CloseAtomicallyReplace()
}
