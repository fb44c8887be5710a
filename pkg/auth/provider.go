package auth

import (
	"context"
	"fmt"

	"apiflow/pkg/config"

	"github.com/aws/aws-sdk-go-v2/aws"
)

// StaticProvider returns a fixed key pair.
type StaticProvider struct {
	Value aws.Credentials
}

// NewStaticProvider creates a provider for the given key pair.
func NewStaticProvider(accessKeyID, secretAccessKey, sessionToken string) StaticProvider {
	return StaticProvider{Value: aws.Credentials{
		AccessKeyID:     accessKeyID,
		SecretAccessKey: secretAccessKey,
		SessionToken:    sessionToken,
		Source:          "StaticProvider",
	}}
}

func (s StaticProvider) Retrieve(ctx context.Context) (aws.Credentials, error) {
	if !s.Value.HasKeys() {
		return aws.Credentials{}, fmt.Errorf("%w: static key pair is incomplete", ErrInvalidCredentials)
	}
	return s.Value, nil
}

// ManagerProvider resolves a named profile through a Manager. When Manager
// is nil the default store chain is opened on first use. Profiles with an
// expiry are reported as expiring so aws.CredentialsCache refreshes them.
type ManagerProvider struct {
	Manager *Manager
	Profile string
}

func (p *ManagerProvider) Retrieve(ctx context.Context) (aws.Credentials, error) {
	m := p.Manager
	if m == nil {
		var err error
		if m, err = NewManager(); err != nil {
			return aws.Credentials{}, err
		}
		p.Manager = m
	}

	profile, err := m.Retrieve(p.Profile)
	if err != nil {
		return aws.Credentials{}, err
	}
	return aws.Credentials{
		AccessKeyID:     profile.AccessKeyID,
		SecretAccessKey: profile.SecretAccessKey,
		SessionToken:    profile.SessionToken,
		Source:          "ManagerProvider:" + profile.Name,
		CanExpire:       !profile.Expires.IsZero(),
		Expires:         profile.Expires,
	}, nil
}

// NewProvider picks the credentials source for cfg: anonymous access, an
// explicit key pair, or a stored profile. Profile lookups are cached.
func NewProvider(cfg config.CredentialsConfig, m *Manager) aws.CredentialsProvider {
	switch {
	case cfg.Anonymous:
		return aws.AnonymousCredentials{}
	case cfg.AccessKeyID != "" || cfg.SecretAccessKey != "":
		return NewStaticProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)
	default:
		return aws.NewCredentialsCache(&ManagerProvider{Manager: m, Profile: cfg.Profile})
	}
}
