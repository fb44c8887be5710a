package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"
)

// Profile is a named set of long-lived signing credentials.
type Profile struct {
	Name            string    `json:"name"`
	AccessKeyID     string    `json:"access_key_id"`
	SecretAccessKey string    `json:"secret_access_key"`
	SessionToken    string    `json:"session_token,omitempty"`
	Region          string    `json:"region,omitempty"`
	// Expires is set for temporary credentials.
	Expires      time.Time `json:"expires,omitzero"`
	LastModified time.Time `json:"last_modified"`
}

// Validate checks that p is complete and not already expired at now.
func (p *Profile) Validate(now time.Time) error {
	switch {
	case p == nil || p.Name == "":
		return fmt.Errorf("%w: profile name is required", ErrInvalidCredentials)
	case p.AccessKeyID == "":
		return fmt.Errorf("%w: access key ID is required", ErrInvalidCredentials)
	case p.SecretAccessKey == "":
		return fmt.Errorf("%w: secret access key is required", ErrInvalidCredentials)
	case p.Expired(now):
		return fmt.Errorf("%w: profile %s expired at %s", ErrCredentialsExpired, p.Name, p.Expires.Format(time.RFC3339))
	}
	return nil
}

// Expired reports whether p carries an expiry at or before now.
func (p *Profile) Expired(now time.Time) bool {
	return !p.Expires.IsZero() && !now.Before(p.Expires)
}

// DefaultProfile is used when no profile name is configured.
const DefaultProfile = "default"

// CredentialStore is the interface for storing and retrieving profiles
type CredentialStore interface {
	Store(profile *Profile) error
	Retrieve(name string) (*Profile, error)
	List() ([]*Profile, error)
	Delete(name string) error
	Exists(name string) bool
}

// Manager handles credential storage with fallback mechanisms
type Manager struct {
	stores []CredentialStore
}

// NewManager creates a manager over the keyring (when available), the
// vault file in the user config directory, and the environment.
func NewManager() (*Manager, error) {
	var stores []CredentialStore

	if keyringStore, err := NewKeyringStore(); err == nil {
		stores = append(stores, keyringStore)
	}

	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	passphrase, err := VaultPassphrase(configDir)
	if err != nil {
		return nil, err
	}
	vault, err := NewVaultStore(filepath.Join(configDir, "credentials.vault"), passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to open credentials vault: %w", err)
	}
	stores = append(stores, vault, NewEnvironmentStore())

	return &Manager{stores: stores}, nil
}

// NewManagerWithStores creates a Manager over the given stores, queried in
// order.
func NewManagerWithStores(stores ...CredentialStore) *Manager {
	return &Manager{stores: stores}
}

// Store saves the profile in the first store that accepts it
func (m *Manager) Store(profile *Profile) error {
	now := time.Now()
	if err := profile.Validate(now); err != nil {
		return err
	}
	profile.LastModified = now

	var lastErr error
	for _, store := range m.stores {
		err := store.Store(profile)
		if err == nil {
			return nil
		}
		lastErr = err
	}

	if lastErr != nil {
		return fmt.Errorf("failed to store credentials: %w", lastErr)
	}
	return ErrStoreUnavailable
}

// Retrieve gets the profile from the first store that has it. An expired
// profile fails with ErrCredentialsExpired rather than falling through to
// later stores.
func (m *Manager) Retrieve(name string) (*Profile, error) {
	if name == "" {
		name = DefaultProfile
	}
	for _, store := range m.stores {
		profile, err := store.Retrieve(name)
		if err != nil || profile == nil {
			continue
		}
		if profile.Expired(time.Now()) {
			return nil, fmt.Errorf("%w: profile %s expired at %s", ErrCredentialsExpired, name, profile.Expires.Format(time.RFC3339))
		}
		return profile, nil
	}
	return nil, fmt.Errorf("%w: profile %s", ErrCredentialsNotFound, name)
}

// List returns all profiles across stores, keeping the most recently
// modified copy of each name.
func (m *Manager) List() ([]*Profile, error) {
	byName := make(map[string]*Profile)

	for _, store := range m.stores {
		profiles, err := store.List()
		if err != nil {
			continue
		}
		for _, p := range profiles {
			if existing, ok := byName[p.Name]; !ok || p.LastModified.After(existing.LastModified) {
				byName[p.Name] = p
			}
		}
	}

	result := make([]*Profile, 0, len(byName))
	for _, p := range byName {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// Delete removes the profile from all stores
func (m *Manager) Delete(name string) error {
	var deleted bool
	var lastErr error

	for _, store := range m.stores {
		if err := store.Delete(name); err == nil {
			deleted = true
		} else {
			lastErr = err
		}
	}

	if deleted {
		return nil
	}
	if lastErr != nil && !errors.Is(lastErr, ErrCredentialsNotFound) && !errors.Is(lastErr, ErrStoreUnavailable) {
		return fmt.Errorf("failed to delete credentials: %w", lastErr)
	}
	return fmt.Errorf("%w: profile %s", ErrCredentialsNotFound, name)
}

// UsesKeyring reports whether profiles are written to the system keychain.
func (m *Manager) UsesKeyring() bool {
	for _, s := range m.stores {
		if _, ok := s.(*KeyringStore); ok {
			return true
		}
	}
	return false
}

// getConfigDir returns the configuration directory path
func getConfigDir() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, "Library", "Application Support", "apiflow")
	case "windows":
		configDir = filepath.Join(os.Getenv("APPDATA"), "apiflow")
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			configDir = filepath.Join(xdgConfig, "apiflow")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			configDir = filepath.Join(home, ".config", "apiflow")
		}
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return configDir, nil
}

// SanitizeProfile returns a copy of the profile with secrets masked
func SanitizeProfile(profile *Profile) *Profile {
	if profile == nil {
		return nil
	}
	out := *profile
	out.SecretAccessKey = maskString(profile.SecretAccessKey)
	if profile.SessionToken != "" {
		out.SessionToken = maskString(profile.SessionToken)
	}
	return &out
}

// maskString masks all but the first 4 and last 4 characters of a string
func maskString(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// Errors
var (
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrCredentialsExpired  = errors.New("credentials expired")
	ErrStoreUnavailable    = errors.New("credential store unavailable")
)
