package auth

import (
	"fmt"
	"os"
	"time"
)

// Standard environment variables read by EnvironmentStore.
const (
	EnvAccessKeyID     = "AWS_ACCESS_KEY_ID"
	EnvSecretAccessKey = "AWS_SECRET_ACCESS_KEY"
	EnvSessionToken    = "AWS_SESSION_TOKEN"
	// EnvExpiration is an RFC 3339 timestamp for temporary credentials.
	EnvExpiration = "AWS_CREDENTIAL_EXPIRATION"
)

// EnvironmentStore implements CredentialStore over the process environment.
// It is read-only and answers for any profile name.
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based credential store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(profile *Profile) error {
	return ErrStoreUnavailable
}

// Retrieve builds a profile from the environment
func (e *EnvironmentStore) Retrieve(name string) (*Profile, error) {
	accessKey := os.Getenv(EnvAccessKeyID)
	secretKey := os.Getenv(EnvSecretAccessKey)
	if accessKey == "" || secretKey == "" {
		return nil, ErrCredentialsNotFound
	}

	if name == "" {
		name = DefaultProfile
	}
	profile := &Profile{
		Name:            name,
		AccessKeyID:     accessKey,
		SecretAccessKey: secretKey,
		SessionToken:    os.Getenv(EnvSessionToken),
		LastModified:    time.Now(),
	}
	if exp := os.Getenv(EnvExpiration); exp != "" {
		expires, err := time.Parse(time.RFC3339, exp)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidCredentials, EnvExpiration, err)
		}
		profile.Expires = expires
	}
	return profile, nil
}

// List returns a single profile if the environment carries a key pair
func (e *EnvironmentStore) List() ([]*Profile, error) {
	profile, err := e.Retrieve("env")
	if err != nil {
		return []*Profile{}, nil
	}
	return []*Profile{profile}, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(name string) error {
	return ErrStoreUnavailable
}

// Exists checks if environment credentials exist
func (e *EnvironmentStore) Exists(name string) bool {
	return os.Getenv(EnvAccessKeyID) != "" && os.Getenv(EnvSecretAccessKey) != ""
}
