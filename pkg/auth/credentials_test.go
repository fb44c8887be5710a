package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"apiflow/pkg/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProfile(name string) *Profile {
	return &Profile{
		Name:            name,
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "wJalrXUtnFEMI/K7MDENG+bPxRfiCYEXAMPLEKEY",
		SessionToken:    "session-token-value",
	}
}

func TestCredentialManager(t *testing.T) {
	manager, mockStore := NewMockManager()

	profile := testProfile("dev")
	require.NoError(t, manager.Store(profile))
	assert.False(t, profile.LastModified.IsZero())

	retrieved, err := manager.Retrieve("dev")
	require.NoError(t, err)
	assert.Equal(t, profile.AccessKeyID, retrieved.AccessKeyID)
	assert.Equal(t, profile.SecretAccessKey, retrieved.SecretAccessKey)

	profiles, err := manager.List()
	require.NoError(t, err)
	assert.Len(t, profiles, 1)

	require.NoError(t, manager.Delete("dev"))
	_, err = manager.Retrieve("dev")
	assert.ErrorIs(t, err, ErrCredentialsNotFound)
	assert.Equal(t, 0, mockStore.Count())

	err = manager.Delete("dev")
	assert.ErrorIs(t, err, ErrCredentialsNotFound)

	assert.False(t, manager.UsesKeyring())
	assert.True(t, NewManagerWithStores(&KeyringStore{}).UsesKeyring())
}

func TestManagerStoreValidation(t *testing.T) {
	manager, _ := NewMockManager()

	tests := []struct {
		name    string
		profile *Profile
	}{
		{"missing name", &Profile{AccessKeyID: "a", SecretAccessKey: "b"}},
		{"missing access key", &Profile{Name: "x", SecretAccessKey: "b"}},
		{"missing secret", &Profile{Name: "x", AccessKeyID: "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, manager.Store(tt.profile))
		})
	}
}

func TestManagerFallsBackAcrossStores(t *testing.T) {
	failing := NewMockStore()
	failing.StoreError = errors.New("keychain locked")
	backup := NewMockStore()
	manager := NewManagerWithStores(failing, backup)

	require.NoError(t, manager.Store(testProfile("ci")))
	assert.Equal(t, 0, failing.Count())
	assert.Equal(t, 1, backup.Count())

	p, err := manager.Retrieve("ci")
	require.NoError(t, err)
	assert.Equal(t, "ci", p.Name)
}

func TestSanitizeProfile(t *testing.T) {
	profile := testProfile("dev")
	sanitized := SanitizeProfile(profile)

	assert.Equal(t, "wJal...EKEY", sanitized.SecretAccessKey)
	assert.Equal(t, "sess...alue", sanitized.SessionToken)
	assert.Equal(t, profile.AccessKeyID, sanitized.AccessKeyID)
	assert.Equal(t, "********", maskString("short"))
	assert.Nil(t, SanitizeProfile(nil))
}

func TestVaultStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.vault")

	store, err := NewVaultStore(path, []byte("test_passphrase_123"))
	require.NoError(t, err)

	assert.False(t, store.Exists("encrypted"))
	_, err = store.Retrieve("encrypted")
	assert.ErrorIs(t, err, ErrCredentialsNotFound)

	profile := testProfile("encrypted")
	profile.Expires = time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	require.NoError(t, store.Store(profile))
	require.NoError(t, store.Store(testProfile("second")))

	retrieved, err := store.Retrieve("encrypted")
	require.NoError(t, err)
	assert.Equal(t, profile.SecretAccessKey, retrieved.SecretAccessKey)
	assert.True(t, profile.Expires.Equal(retrieved.Expires))
	assert.True(t, store.Exists("encrypted"))

	all, err := store.List()
	require.NoError(t, err)
	assert.Len(t, all, 2)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.False(t, bytes.Contains(content, []byte(profile.SecretAccessKey)), "file contains plaintext secret")
	assert.False(t, bytes.Contains(content, []byte(profile.SessionToken)), "file contains plaintext token")

	// A different passphrase cannot open the entries.
	other, err := NewVaultStore(path, []byte("another"))
	require.NoError(t, err)
	_, err = other.Retrieve("encrypted")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	require.NoError(t, store.Delete("encrypted"))
	assert.FileExists(t, path)
	require.NoError(t, store.Delete("second"))
	assert.NoFileExists(t, path)
	assert.ErrorIs(t, store.Delete("second"), ErrCredentialsNotFound)
}

func TestVaultStoreEntriesBoundToName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.vault")
	store, err := NewVaultStore(path, []byte("pass"))
	require.NoError(t, err)
	require.NoError(t, store.Store(testProfile("dev")))
	require.NoError(t, store.Store(testProfile("prod")))

	var f vaultFile
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(content, &f))
	f.Entries["prod"] = f.Entries["dev"]
	content, err = json.Marshal(f)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, content, 0600))

	_, err = store.Retrieve("prod")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = store.Retrieve("dev")
	assert.NoError(t, err)
}

func TestVaultStoreRejectsInvalidProfiles(t *testing.T) {
	store, err := NewVaultStore(filepath.Join(t.TempDir(), "v"), []byte("pass"))
	require.NoError(t, err)

	assert.ErrorIs(t, store.Store(&Profile{Name: "x", AccessKeyID: "a"}), ErrInvalidCredentials)

	expired := testProfile("old")
	expired.Expires = time.Now().Add(-time.Minute)
	assert.ErrorIs(t, store.Store(expired), ErrCredentialsExpired)

	_, err = NewVaultStore(filepath.Join(t.TempDir(), "v"), nil)
	assert.Error(t, err)
}

func TestVaultPassphrase(t *testing.T) {
	dir := t.TempDir()

	t.Setenv(VaultPassphraseEnv, "from-env")
	pass, err := VaultPassphrase(dir)
	require.NoError(t, err)
	assert.Equal(t, "from-env", string(pass))

	t.Setenv(VaultPassphraseEnv, "")
	first, err := VaultPassphrase(dir)
	require.NoError(t, err)
	assert.NotEmpty(t, first)
	second, err := VaultPassphrase(dir)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestManagerRejectsExpiredProfile(t *testing.T) {
	store := NewMockStore()
	manager := NewManagerWithStores(store)

	profile := testProfile("temp")
	profile.Expires = time.Now().Add(-time.Second)
	store.profiles["temp"] = profile

	_, err := manager.Retrieve("temp")
	assert.ErrorIs(t, err, ErrCredentialsExpired)
	assert.ErrorIs(t, manager.Store(testProfileExpiring("late", -time.Hour)), ErrCredentialsExpired)
}

func testProfileExpiring(name string, in time.Duration) *Profile {
	p := testProfile(name)
	p.Expires = time.Now().Add(in)
	return p
}

func TestManagerProviderReportsExpiry(t *testing.T) {
	manager, _ := NewMockManager()
	profile := testProfileExpiring("sts", time.Hour)
	require.NoError(t, manager.Store(profile))

	creds, err := (&ManagerProvider{Manager: manager, Profile: "sts"}).Retrieve(context.Background())
	require.NoError(t, err)
	assert.True(t, creds.CanExpire)
	assert.True(t, profile.Expires.Equal(creds.Expires))

	require.NoError(t, manager.Store(testProfile("static")))
	creds, err = (&ManagerProvider{Manager: manager, Profile: "static"}).Retrieve(context.Background())
	require.NoError(t, err)
	assert.False(t, creds.CanExpire)
}

func TestEnvironmentStore(t *testing.T) {
	t.Setenv(EnvAccessKeyID, "AKIDENV")
	t.Setenv(EnvSecretAccessKey, "env-secret")
	t.Setenv(EnvSessionToken, "")

	store := NewEnvironmentStore()
	profile, err := store.Retrieve("")
	require.NoError(t, err)
	assert.Equal(t, DefaultProfile, profile.Name)
	assert.Equal(t, "AKIDENV", profile.AccessKeyID)
	assert.True(t, store.Exists("anything"))

	assert.ErrorIs(t, store.Store(profile), ErrStoreUnavailable)
	assert.ErrorIs(t, store.Delete("default"), ErrStoreUnavailable)

	t.Setenv(EnvExpiration, "2030-01-02T03:04:05Z")
	profile, err = store.Retrieve("")
	require.NoError(t, err)
	assert.Equal(t, 2030, profile.Expires.Year())

	t.Setenv(EnvExpiration, "tomorrow")
	_, err = store.Retrieve("")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestMockStoreErrorInjection(t *testing.T) {
	store := NewMockStore()
	store.ListError = errors.New("injected error")

	_, err := store.List()
	assert.EqualError(t, err, "injected error")
}

func TestNewProvider(t *testing.T) {
	ctx := context.Background()

	anon := NewProvider(config.CredentialsConfig{Anonymous: true}, nil)
	assert.IsType(t, aws.AnonymousCredentials{}, anon)

	static := NewProvider(config.CredentialsConfig{AccessKeyID: "AKID", SecretAccessKey: "secret"}, nil)
	creds, err := static.Retrieve(ctx)
	require.NoError(t, err)
	assert.Equal(t, "AKID", creds.AccessKeyID)

	incomplete := NewProvider(config.CredentialsConfig{AccessKeyID: "AKID"}, nil)
	_, err = incomplete.Retrieve(ctx)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	manager, _ := NewMockManager()
	require.NoError(t, manager.Store(testProfile("prod")))
	stored := NewProvider(config.CredentialsConfig{Profile: "prod"}, manager)
	creds, err = stored.Retrieve(ctx)
	require.NoError(t, err)
	assert.Equal(t, "session-token-value", creds.SessionToken)
	assert.IsType(t, &aws.CredentialsCache{}, stored)

	missing := NewProvider(config.CredentialsConfig{Profile: "nope"}, manager)
	_, err = missing.Retrieve(ctx)
	assert.ErrorIs(t, err, ErrCredentialsNotFound)
}
