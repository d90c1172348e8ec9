package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// StateDirEnv overrides where arenactl keeps its token and outbox.
const StateDirEnv = "ARENACTL_HOME"

var ErrNotLoggedIn = errors.New("no access token saved")

// Session is the saved login plus the last session ref per variant, so
// `act` and `resolve` can default to the session `start` opened.
type Session struct {
	AccessToken string            `json:"access_token"`
	UserID      string            `json:"user_id,omitempty"`
	Active      map[string]string `json:"active,omitempty"`
}

func (s *Session) Remember(variant, ref string) {
	if strings.TrimSpace(ref) == "" {
		s.Forget(variant)
		return
	}
	if s.Active == nil {
		s.Active = map[string]string{}
	}
	s.Active[variant] = ref
}

// Forget drops the remembered ref for variant.
func (s *Session) Forget(variant string) {
	delete(s.Active, variant)
}

func (s Session) ActiveRef(variant string) string {
	return s.Active[variant]
}

// StateDir is $ARENACTL_HOME or ~/.arenactl, created on first use.
func StateDir() (string, error) {
	dir := strings.TrimSpace(os.Getenv(StateDirEnv))
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, ".arenactl")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create state dir: %w", err)
	}
	return dir, nil
}

func sessionFile() (string, error) {
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "session.json"), nil
}

func SaveSession(s Session) error {
	path, err := sessionFile()
	if err != nil {
		return err
	}
	body, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, body, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func LoadSession() (Session, error) {
	path, err := sessionFile()
	if err != nil {
		return Session{}, err
	}
	body, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Session{}, ErrNotLoggedIn
	}
	if err != nil {
		return Session{}, err
	}
	var s Session
	if err := json.Unmarshal(body, &s); err != nil {
		return Session{}, fmt.Errorf("decode %s: %w", path, err)
	}
	if strings.TrimSpace(s.AccessToken) == "" {
		return Session{}, ErrNotLoggedIn
	}
	return s, nil
}

func ClearSession() error {
	path, err := sessionFile()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
