package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ssalihsrz/openclaw/src/internal/fsutil"
	"github.com/ssalihsrz/openclaw/src/internal/logging"
	"github.com/ssalihsrz/openclaw/src/internal/yamlutil"

	"gopkg.in/yaml.v3"
)

const subscriberBuffer = 4

// Overrides are runtime values layered over the settings file, such as
// command-line flags. They survive Reload and are never written by Save.
type Overrides struct {
	AttachOnly    *bool
	DashboardAddr string
}

func (o Overrides) apply(s *Settings) {
	if o.AttachOnly != nil {
		s.AttachOnly = *o.AttachOnly
	}
	if o.DashboardAddr != "" {
		s.Dashboard.Addr = o.DashboardAddr
	}
}

// Store owns the live Settings value and notifies subscribers of changes.
// The live value is the file layer with the overrides applied on top.
type Store struct {
	mu        sync.RWMutex
	path      string
	file      Settings
	overrides Overrides
	current   Settings
	subs      map[chan Settings]struct{}

	watchMu sync.Mutex
	watch   *watchState
}

// NewStore creates a store around an in-memory value.
// An empty path disables Save and Watch.
func NewStore(path string, s Settings) *Store {
	s.ApplyDefaults()
	return &Store{
		path:    path,
		file:    s.Clone(),
		current: s.Clone(),
		subs:    make(map[chan Settings]struct{}),
	}
}

// Load reads settings from path. A missing file yields defaults.
func Load(path string) (*Store, error) {
	s, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return NewStore(path, s), nil
}

func readFile(path string) (Settings, error) {
	var s Settings
	// #nosec G304 -- settings path comes from the --config flag or the user's home directory
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return Settings{}, fmt.Errorf("failed to read settings %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("failed to parse settings %s: %w", path, err)
	}
	s.ApplyDefaults()
	if err := s.Validate(); err != nil {
		return Settings{}, fmt.Errorf("invalid settings %s: %w", path, err)
	}
	return s, nil
}

// Path returns the backing file path.
func (st *Store) Path() string {
	return st.path
}

// Get returns a copy of the current settings.
func (st *Store) Get() Settings {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.current.Clone()
}

// Update applies fn to the file layer, validates the live result and
// publishes it. The change is not persisted; call Save for that.
func (st *Store) Update(fn func(*Settings)) (Settings, error) {
	st.mu.Lock()
	file := st.file.Clone()
	fn(&file)
	file.ApplyDefaults()
	return st.commitLocked(file, st.overrides)
}

// SetOverrides replaces the override layer and publishes the result.
func (st *Store) SetOverrides(o Overrides) (Settings, error) {
	st.mu.Lock()
	return st.commitLocked(st.file.Clone(), o)
}

// Overrides returns the current override layer.
func (st *Store) Overrides() Overrides {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.overrides
}

// commitLocked validates file with o applied, stores both and broadcasts the
// live value. It releases st.mu.
func (st *Store) commitLocked(file Settings, o Overrides) (Settings, error) {
	next := file.Clone()
	o.apply(&next)
	if err := next.Validate(); err != nil {
		current := st.current.Clone()
		st.mu.Unlock()
		return current, err
	}
	changed := !equal(st.current, next)
	st.file = file
	st.overrides = o
	st.current = next
	st.mu.Unlock()

	if changed {
		st.broadcast(next)
	}
	return next.Clone(), nil
}

// Save writes the file layer to disk, keeping comments and keys the user
// added to the file. Overrides are not written.
func (st *Store) Save() error {
	if st.path == "" {
		return nil
	}
	st.mu.RLock()
	file := st.file.Clone()
	st.mu.RUnlock()

	// #nosec G304 -- same path as Load
	existing, err := os.ReadFile(st.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to read settings %s: %w", st.path, err)
	}

	data, err := yamlutil.MergeDocument(existing, file)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(st.path), 0750); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}
	if err := fsutil.WriteFileAtomic(st.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write settings %s: %w", st.path, err)
	}
	return nil
}

// SetAttachOnly toggles attach-only mode and persists it. An explicit toggle
// replaces any attach-only override.
func (st *Store) SetAttachOnly(enabled bool) error {
	st.mu.Lock()
	file := st.file.Clone()
	file.AttachOnly = enabled
	o := st.overrides
	o.AttachOnly = nil
	if _, err := st.commitLocked(file, o); err != nil {
		return err
	}
	return st.Save()
}

// Reload re-reads the backing file, applies the overrides again and
// publishes the result if it changed.
func (st *Store) Reload() error {
	if st.path == "" {
		return nil
	}
	file, err := readFile(st.path)
	if err != nil {
		return err
	}

	st.mu.Lock()
	next, err := st.commitLocked(file, st.overrides)
	if err != nil {
		return err
	}
	logging.Debug("settings reloaded", "path", st.path, "attachOnly", next.AttachOnly)
	return nil
}

// Subscribe returns a channel that receives every published settings value.
// Slow subscribers only see the latest value.
func (st *Store) Subscribe() chan Settings {
	ch := make(chan Settings, subscriberBuffer)
	st.mu.Lock()
	st.subs[ch] = struct{}{}
	st.mu.Unlock()
	return ch
}

// Unsubscribe closes ch and stops delivery to it.
func (st *Store) Unsubscribe(ch chan Settings) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.subs[ch]; ok {
		delete(st.subs, ch)
		close(ch)
	}
}

func (st *Store) broadcast(s Settings) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	for ch := range st.subs {
		for {
			select {
			case ch <- s.Clone():
			default:
				// Drop the oldest pending value so the newest is delivered.
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

func equal(a, b Settings) bool {
	ya, errA := yaml.Marshal(a)
	yb, errB := yaml.Marshal(b)
	return errA == nil && errB == nil && string(ya) == string(yb)
}
