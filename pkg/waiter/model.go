package waiter

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	errs "apiflow/pkg/errors"

	"gopkg.in/yaml.v3"
)

// SupportedVersion is the only waiter model version accepted.
const SupportedVersion = 2

// Config is one named waiter: the operation it polls, how often, and the
// acceptors that decide when to stop. Configs may be built in code; New
// validates them the same way ParseModel does.
type Config struct {
	Name        string
	Description string
	Operation   string
	Delay       time.Duration
	MaxAttempts int
	Acceptors   []AcceptorConfig
}

// compile validates c and compiles its acceptors.
func (c *Config) compile() ([]*acceptor, error) {
	invalid := func(msg string, err error) error {
		return &errs.ConfigurationError{Msg: fmt.Sprintf("waiter %s: %s", c.Name, msg), Err: err}
	}

	switch {
	case c.Operation == "":
		return nil, invalid("operation is required", nil)
	case c.Delay < 0:
		return nil, invalid("delay must be a non-negative number of seconds", nil)
	case c.MaxAttempts < 1:
		return nil, invalid("maxAttempts must be at least 1", nil)
	}

	acceptors := make([]*acceptor, 0, len(c.Acceptors))
	for i, ac := range c.Acceptors {
		a, err := compile(ac)
		if err != nil {
			return nil, invalid(fmt.Sprintf("acceptor %d", i), err)
		}
		acceptors = append(acceptors, a)
	}
	return acceptors, nil
}

// AcceptorConfig is an acceptor as written in a model document.
type AcceptorConfig struct {
	State    State  `yaml:"state" json:"state"`
	Matcher  string `yaml:"matcher" json:"matcher"`
	Argument string `yaml:"argument,omitempty" json:"argument,omitempty"`
	Expected any    `yaml:"expected" json:"expected"`
}

type configDoc struct {
	Description string           `yaml:"description"`
	Operation   string           `yaml:"operation"`
	Delay       *float64         `yaml:"delay"`
	MaxAttempts *int             `yaml:"maxAttempts"`
	Acceptors   []AcceptorConfig `yaml:"acceptors"`
}

type modelDoc struct {
	Version any                  `yaml:"version"`
	Waiters map[string]configDoc `yaml:"waiters"`
}

// Model is a loaded set of waiters. Acceptors are compiled at load time;
// a Model is read-only afterwards and safe to share.
type Model struct {
	Version int
	waiters map[string]*Config
	names   []string
}

// LoadModel reads a waiter model from a YAML or JSON file.
func LoadModel(filename string) (*Model, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, &errs.ConfigurationError{Source: filename, Msg: "read waiter model", Err: err}
	}
	m, err := ParseModel(data)
	if err != nil {
		var cfgErr *errs.ConfigurationError
		if errors.As(err, &cfgErr) && cfgErr.Source == "" {
			cfgErr.Source = filename
		}
		return nil, err
	}
	return m, nil
}

// ParseModel decodes and validates a waiter model. Unknown matchers,
// invalid expressions and unsupported versions fail here rather than
// during a wait.
func ParseModel(data []byte) (*Model, error) {
	var doc modelDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &errs.ConfigurationError{Msg: "parse waiter model", Err: err}
	}

	version, ok := doc.Version.(int)
	if !ok || version != SupportedVersion {
		v := doc.Version
		if v == nil {
			v = "unknown"
		}
		return nil, &errs.ConfigurationError{Msg: fmt.Sprintf(
			"unsupported waiter version, supported version must be: %d, but version of waiter config is: %v",
			SupportedVersion, v)}
	}

	m := &Model{Version: version, waiters: make(map[string]*Config, len(doc.Waiters))}
	for name, wd := range doc.Waiters {
		cfg, err := buildConfig(name, wd)
		if err != nil {
			return nil, err
		}
		m.waiters[name] = cfg
		m.names = append(m.names, name)
	}
	sort.Strings(m.names)
	return m, nil
}

func buildConfig(name string, wd configDoc) (*Config, error) {
	invalid := func(msg string, err error) error {
		return &errs.ConfigurationError{Msg: fmt.Sprintf("waiter %s: %s", name, msg), Err: err}
	}

	switch {
	case wd.Delay == nil:
		return nil, invalid("delay is required", nil)
	case wd.MaxAttempts == nil:
		return nil, invalid("maxAttempts is required", nil)
	}

	cfg := &Config{
		Name:        name,
		Description: wd.Description,
		Operation:   wd.Operation,
		Delay:       time.Duration(*wd.Delay * float64(time.Second)),
		MaxAttempts: *wd.MaxAttempts,
		Acceptors:   wd.Acceptors,
	}
	if _, err := cfg.compile(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// WaiterNames returns the waiter names in sorted order.
func (m *Model) WaiterNames() []string {
	return append([]string(nil), m.names...)
}

// Config returns the named waiter's configuration.
func (m *Model) Config(name string) (*Config, error) {
	cfg, ok := m.waiters[name]
	if !ok {
		return nil, fmt.Errorf("waiter does not exist: %s", name)
	}
	return cfg, nil
}

// Waiter binds the named waiter to op.
func (m *Model) Waiter(name string, op Operation, opts ...Option) (*Waiter, error) {
	cfg, err := m.Config(name)
	if err != nil {
		return nil, err
	}
	return New(cfg, op, opts...)
}
