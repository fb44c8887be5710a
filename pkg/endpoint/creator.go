package endpoint

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	errs "apiflow/pkg/errors"
	"apiflow/pkg/logger"
	"apiflow/pkg/transport"
)

// CABundleEnv names a PEM bundle used when verification is not set
// explicitly.
const CABundleEnv = "APIFLOW_CA_BUNDLE"

// maxHostnameLength bounds the host part of an endpoint URL.
const maxHostnameLength = 255

// Endpoint is a resolved, validated destination for one service.
type Endpoint struct {
	URL           string
	Host          string
	ServiceID     string
	SigningName   string
	SigningRegion string
	Verify        bool
	CABundle      string
	Timeout       time.Duration
	Proxy         func(*http.Request) (*url.URL, error)
}

// TransportOptions returns options for a transport talking to e.
func (e *Endpoint) TransportOptions(log logger.Logger, tracing bool) transport.Options {
	return transport.Options{
		Timeout:  e.Timeout,
		Verify:   e.Verify,
		CABundle: e.CABundle,
		Proxy:    e.Proxy,
		Tracing:  tracing,
		Logger:   log,
	}
}

// Creator builds endpoints from a resolver and the caller's overrides.
type Creator struct {
	resolver Resolver
	region   string
	logger   logger.Logger

	// Insecure selects http for resolver templates.
	Insecure bool
	// Verify, when set, wins over the CA bundle environment variable.
	Verify *bool
	// CABundle is used when Verify is unset or true.
	CABundle string
	Timeout  time.Duration

	getenv func(string) string
}

// NewCreator returns a creator that falls back to configuredRegion when a
// call names no region.
func NewCreator(resolver Resolver, configuredRegion string, log logger.Logger) *Creator {
	if resolver == nil {
		resolver = DefaultResolver()
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Creator{
		resolver: resolver,
		region:   configuredRegion,
		logger:   log,
		Timeout:  transport.DefaultTimeout,
		getenv:   os.Getenv,
	}
}

// Resolve returns the endpoint for serviceID in region. An explicit URL
// wins over the resolver; if the resolver fails and explicitURL is set,
// explicitURL is used as is. A credential scope region from the resolver
// becomes the signing region.
func (c *Creator) Resolve(serviceID, region, explicitURL string) (*Endpoint, error) {
	if region == "" {
		region = c.region
	}
	scheme := "https"
	if c.Insecure {
		scheme = "http"
	}

	resolved, err := c.resolver.ConstructEndpoint(serviceID, region, scheme)
	if err != nil {
		if explicitURL == "" {
			return nil, fmt.Errorf("resolve endpoint for %s: %w", serviceID, err)
		}
		c.logger.WithError(err).WithField("service", serviceID).Debug("resolver failed, using explicit endpoint")
		resolved = &Resolved{URI: explicitURL}
	}

	finalURL := resolved.URI
	if explicitURL != "" {
		finalURL = explicitURL
	}
	if !IsValidEndpointURL(finalURL) {
		return nil, &errs.ConfigurationError{Source: serviceID, Msg: fmt.Sprintf("invalid endpoint: %q", finalURL)}
	}

	u, _ := url.Parse(finalURL)
	ep := &Endpoint{
		URL:           finalURL,
		Host:          u.Host,
		ServiceID:     serviceID,
		SigningName:   serviceID,
		SigningRegion: region,
		Timeout:       c.Timeout,
		Proxy:         http.ProxyFromEnvironment,
	}
	if resolved.CredentialScope.Region != "" {
		ep.SigningRegion = resolved.CredentialScope.Region
	}
	if resolved.CredentialScope.Service != "" {
		ep.SigningName = resolved.CredentialScope.Service
	}
	ep.Verify, ep.CABundle = c.verify()
	if ep.Timeout <= 0 {
		ep.Timeout = transport.DefaultTimeout
	}

	c.logger.DebugWithFields("resolved endpoint", map[string]interface{}{
		"service":        serviceID,
		"url":            ep.URL,
		"signing_region": ep.SigningRegion,
	})
	return ep, nil
}

// verify returns whether certificates are checked and which bundle to
// trust: an explicit setting wins, then the CA bundle variable.
func (c *Creator) verify() (bool, string) {
	if c.Verify != nil {
		if !*c.Verify {
			return false, ""
		}
		return true, c.CABundle
	}
	if c.CABundle != "" {
		return true, c.CABundle
	}
	return true, c.getenv(CABundleEnv)
}

// IsValidEndpointURL reports whether s is an absolute URL with a
// syntactically valid host.
func IsValidEndpointURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" {
		return false
	}
	host := u.Hostname()
	if host == "" || len(host) > maxHostnameLength {
		return false
	}
	if net.ParseIP(host) != nil {
		return true
	}
	host = strings.TrimSuffix(host, ".")
	for _, label := range strings.Split(host, ".") {
		if !validLabel(label) {
			return false
		}
	}
	return true
}

func validLabel(label string) bool {
	if len(label) == 0 || len(label) > 63 {
		return false
	}
	if label[0] == '-' || label[len(label)-1] == '-' {
		return false
	}
	for _, r := range label {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
		default:
			return false
		}
	}
	return true
}
