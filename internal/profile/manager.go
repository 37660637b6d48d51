package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kalambet/kgchat/internal/storage"
)

// ProfileStore defines the storage operations the Manager needs.
// Implemented by storage.Store.
type ProfileStore interface {
	PutProfile(userName, data string) error
	GetProfile(userName string) (storage.ProfileRecord, error)
	DeleteProfile(userName string) error
	ListProfileNames() ([]string, error)
	CreateProfileIfMissing(userName, data string) (bool, error)
	// UpdateProfile runs a read-modify-write of one record atomically with
	// respect to every other writer of the store, in or out of process.
	UpdateProfile(userName string, fn func(data string) (string, error)) error
	// ProfileRevision changes whenever any profile record is written.
	ProfileRevision() (int64, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type cacheEntry struct {
	profile  Profile
	rev      int64
	cachedAt time.Time
}

type loadResult struct {
	profile Profile
	rev     int64
}

// Manager owns every user profile. Writes for one user name are serialized
// by a per-user lock and by a store transaction, so other processes sharing
// the database cannot lose updates either. Reads are served from a
// short-lived cache that is only trusted while the store's profile revision
// is unchanged.
type Manager struct {
	store ProfileStore
	clock Clock
	ttl   time.Duration

	locks userLocks
	loads singleflight.Group

	mu    sync.RWMutex
	cache map[string]cacheEntry
	gen   map[string]uint64
}

// NewManager creates a Manager with a 60-second cache TTL.
func NewManager(store ProfileStore) *Manager {
	return NewManagerWithClock(store, realClock{}, 60*time.Second)
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(store ProfileStore, clock Clock, ttl time.Duration) *Manager {
	return &Manager{
		store: store,
		clock: clock,
		ttl:   ttl,
		locks: userLocks{m: make(map[string]*userLock)},
		cache: make(map[string]cacheEntry),
		gen:   make(map[string]uint64),
	}
}

// Init creates an empty profile for userName and persists it. An existing
// profile is reset to empty.
func (m *Manager) Init(userName string) (Profile, error) {
	name, err := checkUserName(userName)
	if err != nil {
		return Profile{}, err
	}

	unlock := m.locks.lock(name)
	defer unlock()

	p := New(name)
	if err := m.save(p); err != nil {
		return Profile{}, err
	}
	return deepCopyProfile(&p), nil
}

// Ensure creates an empty profile for userName unless one exists, and
// reports whether it did. Unlike Init it never touches an existing profile.
func (m *Manager) Ensure(userName string) (bool, error) {
	name, err := checkUserName(userName)
	if err != nil {
		return false, err
	}

	unlock := m.locks.lock(name)
	defer unlock()

	data, err := encode(New(name))
	if err != nil {
		return false, err
	}
	created, err := m.store.CreateProfileIfMissing(name, data)
	m.invalidate(name)
	if err != nil {
		return false, &StorageError{Op: "create", Err: err}
	}
	return created, nil
}

// Get returns the stored profile for userName.
func (m *Manager) Get(userName string) (Profile, error) {
	name, err := checkUserName(userName)
	if err != nil {
		return Profile{}, err
	}

	rev, err := m.store.ProfileRevision()
	if err != nil {
		return Profile{}, &StorageError{Op: "revision", Err: err}
	}

	m.mu.RLock()
	e, ok := m.cache[name]
	m.mu.RUnlock()
	if ok && e.rev == rev && m.clock.Now().Before(e.cachedAt.Add(m.ttl)) {
		return deepCopyProfile(&e.profile), nil
	}

	res, err := m.loadShared(name)
	if err != nil {
		return Profile{}, err
	}
	// A shared load that started before a write we already observed
	// carries older data; read again on our own.
	if res.rev < rev {
		if res, err = m.loadCached(name); err != nil {
			return Profile{}, err
		}
	}
	return deepCopyProfile(&res.profile), nil
}

func (m *Manager) loadShared(name string) (loadResult, error) {
	v, err, _ := m.loads.Do(name, func() (any, error) {
		return m.loadCached(name)
	})
	if err != nil {
		return loadResult{}, err
	}
	return v.(loadResult), nil
}

// loadCached reads the revision before the record so the cache entry is
// never tagged newer than its data.
func (m *Manager) loadCached(name string) (loadResult, error) {
	m.mu.RLock()
	gen := m.gen[name]
	m.mu.RUnlock()

	rev, err := m.store.ProfileRevision()
	if err != nil {
		return loadResult{}, &StorageError{Op: "revision", Err: err}
	}
	p, err := m.load(name)
	if err != nil {
		return loadResult{}, err
	}

	m.mu.Lock()
	if m.gen[name] == gen {
		m.cache[name] = cacheEntry{profile: p, rev: rev, cachedAt: m.clock.Now()}
	}
	m.mu.Unlock()
	return loadResult{profile: p, rev: rev}, nil
}

// Mutate loads the profile for userName, applies fn and persists the result,
// all under the user's write lock and inside one store transaction. If fn
// returns an error nothing is written.
func (m *Manager) Mutate(userName string, fn func(p *Profile) error) (Profile, error) {
	name, err := checkUserName(userName)
	if err != nil {
		return Profile{}, err
	}

	unlock := m.locks.lock(name)
	defer unlock()

	var out Profile
	var fnErr error
	m.invalidate(name)
	err = m.store.UpdateProfile(name, func(data string) (string, error) {
		p, err := decode(name, data)
		if err != nil {
			fnErr = err
			return "", err
		}
		if err := fn(&p); err != nil {
			fnErr = err
			return "", err
		}
		p.UserName = name
		b, err := encode(p)
		if err != nil {
			fnErr = err
			return "", err
		}
		out = p
		return b, nil
	})
	m.invalidate(name)

	switch {
	case fnErr != nil:
		return Profile{}, fnErr
	case errors.Is(err, storage.ErrNotFound):
		return Profile{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	case err != nil:
		return Profile{}, &StorageError{Op: "persist", Err: err}
	}
	return deepCopyProfile(&out), nil
}

// Add appends value to the list f selects. Adding a value that is already
// present is a no-op.
func (m *Manager) Add(userName string, f Field, value string) error {
	if strings.TrimSpace(value) == "" {
		return validationf("value is required")
	}
	_, err := m.Mutate(userName, func(p *Profile) error {
		p.Append(f, value)
		return nil
	})
	return err
}

// Update replaces the first occurrence of oldValue with newValue. A missing
// oldValue is a no-op.
func (m *Manager) Update(userName string, f Field, oldValue, newValue string) error {
	if strings.TrimSpace(newValue) == "" {
		return validationf("new_value is required")
	}
	_, err := m.Mutate(userName, func(p *Profile) error {
		p.Replace(f, oldValue, newValue)
		return nil
	})
	return err
}

// Delete removes every occurrence of value from the list f selects.
func (m *Manager) Delete(userName string, f Field, value string) error {
	_, err := m.Mutate(userName, func(p *Profile) error {
		p.Remove(f, value)
		return nil
	})
	return err
}

// Persist writes p as the whole current record for p.UserName.
func (m *Manager) Persist(p Profile) error {
	name, err := checkUserName(p.UserName)
	if err != nil {
		return err
	}
	unlock := m.locks.lock(name)
	defer unlock()

	p.UserName = name
	return m.save(deepCopyProfile(&p))
}

// Remove deletes the stored profile for userName.
func (m *Manager) Remove(userName string) error {
	name, err := checkUserName(userName)
	if err != nil {
		return err
	}
	unlock := m.locks.lock(name)
	defer unlock()

	m.invalidate(name)
	err = m.store.DeleteProfile(name)
	// A Get racing the delete may have cached the row it was removing.
	m.invalidate(name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		return &StorageError{Op: "delete", Err: err}
	}
	return nil
}

// List returns the names of all stored profiles.
func (m *Manager) List() ([]string, error) {
	names, err := m.store.ListProfileNames()
	if err != nil {
		return nil, &StorageError{Op: "list", Err: err}
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

// GetSummary returns a short plain-text description of what is known about
// userName, suitable for a system prompt.
func (m *Manager) GetSummary(userName string) (string, error) {
	p, err := m.Get(userName)
	if err != nil {
		return "", fmt.Errorf("getting profile for summary: %w", err)
	}
	return Summarize(p), nil
}

// Summarize renders the non-empty lists of p, one line each.
func Summarize(p Profile) string {
	lines := []string{"User profile:"}
	if len(p.Interests) > 0 {
		lines = append(lines, "- Interested in "+strings.Join(p.Interests, ", "))
	}
	if len(p.Skills) > 0 {
		lines = append(lines, "- Has skills in "+strings.Join(p.Skills, ", "))
	}
	if len(p.PersonalityTraits) > 0 {
		lines = append(lines, "- Prefers "+strings.Join(p.PersonalityTraits, ", "))
	}
	if len(p.Topics) > 0 {
		lines = append(lines, "- Talked about "+strings.Join(p.Topics, ", "))
	}
	return strings.Join(lines, "\n")
}

func (m *Manager) load(name string) (Profile, error) {
	rec, err := m.store.GetProfile(name)
	if errors.Is(err, storage.ErrNotFound) {
		return Profile{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if err != nil {
		return Profile{}, &StorageError{Op: "load", Err: err}
	}
	return decode(name, rec.Data)
}

func decode(name, data string) (Profile, error) {
	var p Profile
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return Profile{}, &StorageError{Op: "decode", Err: err}
	}
	p.UserName = name
	p.normalize()
	return p, nil
}

func encode(p Profile) (string, error) {
	p.normalize()
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshalling profile %q: %w", p.UserName, err)
	}
	return string(b), nil
}

// save must be called with the user's lock held.
func (m *Manager) save(p Profile) error {
	data, err := encode(p)
	if err != nil {
		return err
	}

	m.invalidate(p.UserName)
	if err := m.store.PutProfile(p.UserName, data); err != nil {
		return &StorageError{Op: "persist", Err: err}
	}
	m.invalidate(p.UserName)
	return nil
}

func (m *Manager) invalidate(name string) {
	m.mu.Lock()
	delete(m.cache, name)
	m.gen[name]++
	m.mu.Unlock()
}

func checkUserName(userName string) (string, error) {
	name := strings.TrimSpace(userName)
	if name == "" {
		return "", validationf("user_name is required")
	}
	return name, nil
}

// userLocks hands out one mutex per user name and forgets it once no caller
// holds or waits on it.
type userLocks struct {
	mu sync.Mutex
	m  map[string]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func (l *userLocks) lock(name string) func() {
	l.mu.Lock()
	ul, ok := l.m[name]
	if !ok {
		ul = &userLock{}
		l.m[name] = ul
	}
	ul.refs++
	l.mu.Unlock()

	ul.mu.Lock()
	return func() {
		ul.mu.Unlock()
		l.mu.Lock()
		ul.refs--
		if ul.refs == 0 {
			delete(l.m, name)
		}
		l.mu.Unlock()
	}
}
