package retry

import (
	"strings"
	"sync"
)

type registration struct {
	key    string
	policy Policy
}

// Registry holds retry policies keyed by scope. A key is "" for every
// operation, a service name such as "dynamodb", or "service.Operation".
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries []registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends p under key. Registration order is evaluation order.
func (r *Registry) Register(key string, p Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, registration{key: key, policy: p})
}

// Unregister removes every registration of the policy with the given name
// under key and reports whether any was removed.
func (r *Registry) Unregister(key, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.entries[:0]
	removed := false
	for _, e := range r.entries {
		if e.key == key && e.policy.Name() == name {
			removed = true
			continue
		}
		kept = append(kept, e)
	}
	r.entries = kept
	return removed
}

// Policies returns the policies applying to service and operation, in
// registration order. The returned slice is owned by the caller.
func (r *Registry) Policies(service, operation string) []Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Policy
	for _, e := range r.entries {
		if matchKey(e.key, service, operation) {
			out = append(out, e.policy)
		}
	}
	return out
}

// Len returns the number of registrations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func matchKey(key, service, operation string) bool {
	if key == "" {
		return true
	}
	svc, op, scoped := strings.Cut(key, ".")
	if !strings.EqualFold(svc, service) {
		return false
	}
	return !scoped || op == operation
}
