package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

// VaultPassphraseEnv overrides the passphrase generated for the vault file.
const VaultPassphraseEnv = "APIFLOW_PASSPHRASE"

const (
	vaultVersion    = 2
	vaultSaltSize   = 16
	vaultKeySize    = 32
	vaultIterations = 210000
)

// VaultStore keeps profiles in a single file. Each profile is sealed on
// its own with AES-GCM under a PBKDF2 key, using the profile name as
// additional data, so a sealed entry only opens under the name it was
// stored with.
type VaultStore struct {
	path       string
	passphrase []byte

	mu      sync.Mutex
	key     []byte
	keySalt []byte
}

type vaultFile struct {
	Version int                   `json:"version"`
	Salt    []byte                `json:"salt"`
	Entries map[string]vaultEntry `json:"entries"`
}

type vaultEntry struct {
	Nonce    []byte    `json:"nonce"`
	Sealed   []byte    `json:"sealed"`
	Modified time.Time `json:"modified"`
}

// NewVaultStore opens the vault at path. The file is created on the first
// Store.
func NewVaultStore(path string, passphrase []byte) (*VaultStore, error) {
	if len(passphrase) == 0 {
		return nil, errors.New("vault passphrase is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create vault directory: %w", err)
		}
	}
	return &VaultStore{path: path, passphrase: passphrase}, nil
}

// VaultPassphrase returns the passphrase from VaultPassphraseEnv, or the
// one kept in dir, generating it on first use.
func VaultPassphrase(dir string) ([]byte, error) {
	if pass := os.Getenv(VaultPassphraseEnv); pass != "" {
		return []byte(pass), nil
	}

	file := filepath.Join(dir, ".passphrase")
	if content, err := os.ReadFile(file); err == nil && len(content) > 0 {
		return content, nil
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generate passphrase: %w", err)
	}
	pass := []byte(base64.RawURLEncoding.EncodeToString(raw))
	if err := os.WriteFile(file, pass, 0600); err != nil {
		return nil, fmt.Errorf("save passphrase: %w", err)
	}
	return pass, nil
}

func (v *VaultStore) Store(profile *Profile) error {
	if err := profile.Validate(time.Now()); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	f, err := v.load()
	if err != nil {
		return err
	}
	entry, err := v.seal(f.Salt, profile)
	if err != nil {
		return err
	}
	f.Entries[profile.Name] = entry
	return v.save(f)
}

func (v *VaultStore) Retrieve(name string) (*Profile, error) {
	if name == "" {
		return nil, ErrInvalidCredentials
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	f, err := v.load()
	if err != nil {
		return nil, err
	}
	entry, ok := f.Entries[name]
	if !ok {
		return nil, ErrCredentialsNotFound
	}
	return v.open(f.Salt, name, entry)
}

func (v *VaultStore) List() ([]*Profile, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	f, err := v.load()
	if err != nil {
		return nil, err
	}
	profiles := make([]*Profile, 0, len(f.Entries))
	for name, entry := range f.Entries {
		p, err := v.open(f.Salt, name, entry)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}

// Delete removes name. The file itself is removed with its last entry.
func (v *VaultStore) Delete(name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	f, err := v.load()
	if err != nil {
		return err
	}
	if _, ok := f.Entries[name]; !ok {
		return ErrCredentialsNotFound
	}
	delete(f.Entries, name)

	if len(f.Entries) == 0 {
		return os.Remove(v.path)
	}
	return v.save(f)
}

func (v *VaultStore) Exists(name string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	f, err := v.load()
	if err != nil {
		return false
	}
	_, ok := f.Entries[name]
	return ok
}

// load reads the vault, returning an empty one with a fresh salt when the
// file does not exist yet.
func (v *VaultStore) load() (*vaultFile, error) {
	content, err := os.ReadFile(v.path)
	if errors.Is(err, os.ErrNotExist) {
		salt := make([]byte, vaultSaltSize)
		if _, err := rand.Read(salt); err != nil {
			return nil, fmt.Errorf("generate salt: %w", err)
		}
		return &vaultFile{Version: vaultVersion, Salt: salt, Entries: make(map[string]vaultEntry)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read vault: %w", err)
	}

	var f vaultFile
	if err := json.Unmarshal(content, &f); err != nil {
		return nil, fmt.Errorf("parse vault: %w", err)
	}
	if f.Version != vaultVersion {
		return nil, fmt.Errorf("vault version %d is not supported (expected %d)", f.Version, vaultVersion)
	}
	if len(f.Salt) == 0 {
		return nil, errors.New("vault has no salt")
	}
	if f.Entries == nil {
		f.Entries = make(map[string]vaultEntry)
	}
	return &f, nil
}

func (v *VaultStore) save(f *vaultFile) error {
	content, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encode vault: %w", err)
	}
	tmp := v.path + ".tmp"
	if err := os.WriteFile(tmp, content, 0600); err != nil {
		return fmt.Errorf("write vault: %w", err)
	}
	return os.Rename(tmp, v.path)
}

// aead returns the cipher for salt. The derived key is cached per salt.
func (v *VaultStore) aead(salt []byte) (cipher.AEAD, error) {
	if v.key == nil || string(v.keySalt) != string(salt) {
		v.key = pbkdf2.Key(v.passphrase, salt, vaultIterations, vaultKeySize, sha256.New)
		v.keySalt = append([]byte(nil), salt...)
	}
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func (v *VaultStore) seal(salt []byte, profile *Profile) (vaultEntry, error) {
	gcm, err := v.aead(salt)
	if err != nil {
		return vaultEntry{}, err
	}

	plain, err := json.Marshal(profile)
	if err != nil {
		return vaultEntry{}, fmt.Errorf("encode profile: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return vaultEntry{}, fmt.Errorf("generate nonce: %w", err)
	}
	return vaultEntry{
		Nonce:    nonce,
		Sealed:   gcm.Seal(nil, nonce, plain, []byte(profile.Name)),
		Modified: profile.LastModified,
	}, nil
}

func (v *VaultStore) open(salt []byte, name string, entry vaultEntry) (*Profile, error) {
	gcm, err := v.aead(salt)
	if err != nil {
		return nil, err
	}
	if len(entry.Nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("profile %s: malformed vault entry", name)
	}

	plain, err := gcm.Open(nil, entry.Nonce, entry.Sealed, []byte(name))
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w: cannot open vault entry", name, ErrInvalidCredentials)
	}
	var p Profile
	if err := json.Unmarshal(plain, &p); err != nil {
		return nil, fmt.Errorf("profile %s: decode: %w", name, err)
	}
	return &p, nil
}
