// Package session keeps the state of a pending browser login between two
// invocations of "auth login": the first prints the authorization URL, the
// second receives the redirect and exchanges the code. The state file is
// guarded by a lock so concurrent invocations cannot corrupt it.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// loginFile is the name of the file holding a pending login.
const loginFile = "login_session.json"

// LoginTTL is how long a pending login stays usable. Authorization codes
// expire after a few minutes, so older sessions are discarded.
const LoginTTL = 15 * time.Minute

var ErrLocked = errors.New("could not acquire file lock for login session, another instance may be running")

// Login is a pending authorization code flow.
type Login struct {
	URL       string    `json:"url"`
	State     string    `json:"state"`
	Verifier  string    `json:"verifier"`
	CreatedAt time.Time `json:"created_at"`
}

// Expired reports whether the login is older than LoginTTL at now.
func (l Login) Expired(now time.Time) bool {
	return now.Sub(l.CreatedAt) > LoginTTL
}

// Manager stores pending logins below a directory.
type Manager struct {
	dir string
	now func() time.Time
}

// NewManager stores sessions in a "sessions" folder below configDir.
func NewManager(configDir string) *Manager {
	return &Manager{dir: filepath.Join(configDir, "sessions"), now: time.Now}
}

func (m *Manager) path() string {
	return filepath.Join(m.dir, loginFile)
}

func (m *Manager) lock() (func(), error) {
	if err := os.MkdirAll(m.dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating session directory '%s': %w", m.dir, err)
	}
	lock := flock.New(m.path() + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring file lock for login session: %w", err)
	}
	if !locked {
		return nil, ErrLocked
	}
	return func() { _ = lock.Unlock() }, nil
}

// SaveLogin persists a pending login, replacing any earlier one.
func (m *Manager) SaveLogin(login Login) error {
	unlock, err := m.lock()
	if err != nil {
		return err
	}
	defer unlock()

	if login.CreatedAt.IsZero() {
		login.CreatedAt = m.now().UTC()
	}
	data, err := json.MarshalIndent(login, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling login session: %w", err)
	}
	return os.WriteFile(m.path(), data, 0o600)
}

// LoadLogin returns the pending login, or nil when there is none. An expired
// login is deleted and reported as none.
func (m *Manager) LoadLogin() (*Login, error) {
	unlock, err := m.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	data, err := os.ReadFile(m.path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading login session '%s': %w", m.path(), err)
	}

	var login Login
	if err := json.Unmarshal(data, &login); err != nil {
		return nil, fmt.Errorf("unmarshalling login session from '%s': %w", m.path(), err)
	}
	if login.Expired(m.now()) {
		_ = os.Remove(m.path())
		return nil, nil
	}
	return &login, nil
}

// DeleteLogin removes the pending login. Deleting a missing login is not an
// error.
func (m *Manager) DeleteLogin() error {
	unlock, err := m.lock()
	if err != nil {
		return err
	}
	defer unlock()

	if err := os.Remove(m.path()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting login session '%s': %w", m.path(), err)
	}
	return nil
}
