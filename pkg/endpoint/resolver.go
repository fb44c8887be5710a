// Package endpoint turns a service and region into a validated base URL.
package endpoint

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	errs "apiflow/pkg/errors"

	"gopkg.in/yaml.v3"
)

//go:embed endpoints.yaml
var defaultRules []byte

// DefaultService is the rule set consulted when a service has no matching
// rule of its own.
const DefaultService = "_default"

// ErrNoRegion is returned when a lookup is attempted without a region.
var ErrNoRegion = errors.New("no region specified")

// UnknownEndpointError is returned when no rule matches.
type UnknownEndpointError struct {
	Service string
	Region  string
}

func (e *UnknownEndpointError) Error() string {
	return fmt.Sprintf("unable to construct an endpoint for %s in region %s", e.Service, e.Region)
}

// CredentialScope overrides signing properties for an endpoint.
type CredentialScope struct {
	Region  string `yaml:"region"`
	Service string `yaml:"service"`
}

// Rule maps region patterns to a URI template. The template may use
// {scheme}, {service} and {region}.
type Rule struct {
	Regions         []string         `yaml:"regions"`
	URI             string           `yaml:"uri"`
	CredentialScope *CredentialScope `yaml:"credentialScope,omitempty"`
}

// Resolved is a resolver's answer before validation and overrides.
type Resolved struct {
	URI             string
	CredentialScope CredentialScope
}

// Resolver constructs endpoints for services.
type Resolver interface {
	ConstructEndpoint(service, region, scheme string) (*Resolved, error)
}

// RuleResolver resolves endpoints from a rule table. It is safe for
// concurrent use once built.
type RuleResolver struct {
	rules map[string][]Rule
}

// DefaultResolver returns a resolver over the built-in rule table.
func DefaultResolver() *RuleResolver {
	r, err := ParseRules(defaultRules)
	if err != nil {
		panic(fmt.Sprintf("endpoint: built-in rules: %v", err))
	}
	return r
}

// LoadRules reads a YAML rule table from path.
func LoadRules(filename string) (*RuleResolver, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, &errs.ConfigurationError{Source: filename, Msg: "read endpoint rules", Err: err}
	}
	r, err := ParseRules(data)
	if err != nil {
		var cfgErr *errs.ConfigurationError
		if errors.As(err, &cfgErr) {
			cfgErr.Source = filename
		}
		return nil, err
	}
	return r, nil
}

// ParseRules decodes and validates a YAML rule table.
func ParseRules(data []byte) (*RuleResolver, error) {
	var rules map[string][]Rule
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, &errs.ConfigurationError{Msg: "parse endpoint rules", Err: err}
	}
	for service, list := range rules {
		for i, rule := range list {
			if rule.URI == "" {
				return nil, &errs.ConfigurationError{Msg: fmt.Sprintf("%s rule %d has no uri", service, i)}
			}
			for _, pattern := range rule.Regions {
				if _, err := path.Match(pattern, ""); err != nil {
					return nil, &errs.ConfigurationError{Msg: fmt.Sprintf("%s rule %d region pattern %q", service, i, pattern), Err: err}
				}
			}
		}
	}
	return &RuleResolver{rules: rules}, nil
}

// ConstructEndpoint returns the first rule for service matching region,
// falling back to the default rules.
func (r *RuleResolver) ConstructEndpoint(service, region, scheme string) (*Resolved, error) {
	if region == "" {
		return nil, ErrNoRegion
	}
	if scheme == "" {
		scheme = "https"
	}
	for _, key := range []string{service, DefaultService} {
		for _, rule := range r.rules[key] {
			if !rule.matches(region) {
				continue
			}
			res := &Resolved{URI: expand(rule.URI, scheme, service, region)}
			if rule.CredentialScope != nil {
				res.CredentialScope = *rule.CredentialScope
			}
			return res, nil
		}
	}
	return nil, &UnknownEndpointError{Service: service, Region: region}
}

// Services lists the services with explicit rules.
func (r *RuleResolver) Services() []string {
	out := make([]string, 0, len(r.rules))
	for s := range r.rules {
		if s != DefaultService {
			out = append(out, s)
		}
	}
	return out
}

func (rule Rule) matches(region string) bool {
	if len(rule.Regions) == 0 {
		return true
	}
	for _, pattern := range rule.Regions {
		if ok, _ := path.Match(pattern, region); ok {
			return true
		}
	}
	return false
}

func expand(template, scheme, service, region string) string {
	return strings.NewReplacer(
		"{scheme}", scheme,
		"{service}", service,
		"{region}", region,
	).Replace(template)
}
