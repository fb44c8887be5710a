package retry

import (
	"context"
	"net/http"
	"time"
)

// Response is the view of an attempt's HTTP response handed to policies.
type Response struct {
	StatusCode int
	Header     http.Header
	// Parsed is the parser output. Error responses carry an "Error" map with
	// "Code" and "Message" keys.
	Parsed map[string]any
}

// ErrorCode returns Parsed["Error"]["Code"], or "" when absent.
func (r *Response) ErrorCode() string {
	if r == nil || r.Parsed == nil {
		return ""
	}
	section, ok := r.Parsed["Error"].(map[string]any)
	if !ok {
		return ""
	}
	code, _ := section["Code"].(string)
	return code
}

// Outcome is the result of one attempt. Exactly one of Response and Err is
// set.
type Outcome struct {
	Attempt   int
	Service   string
	Operation string
	Response  *Response
	Err       error
}

// Decision is a policy's verdict on one attempt. The zero Decision abstains.
type Decision struct {
	Retry  bool
	Delay  time.Duration
	Policy string
}

// Abstain is the decision of a policy with no opinion.
var Abstain = Decision{}

// After returns a decision to retry after d.
func After(d time.Duration) Decision {
	if d < 0 {
		d = 0
	}
	return Decision{Retry: true, Delay: d}
}

// Policy decides whether an attempt should be retried.
type Policy interface {
	Name() string
	Decide(ctx context.Context, out Outcome) Decision
}

// PolicyFunc adapts a function into a Policy.
type PolicyFunc struct {
	ID string
	Fn func(ctx context.Context, out Outcome) Decision
}

func (p PolicyFunc) Name() string { return p.ID }

func (p PolicyFunc) Decide(ctx context.Context, out Outcome) Decision {
	return p.Fn(ctx, out)
}

// Func returns a named Policy backed by fn.
func Func(name string, fn func(ctx context.Context, out Outcome) Decision) Policy {
	return PolicyFunc{ID: name, Fn: fn}
}

// First returns the first decision that retries, or Abstain.
func First(decisions []Decision) Decision {
	for _, d := range decisions {
		if d.Retry {
			return d
		}
	}
	return Abstain
}

// Evaluate invokes every policy once, in order, and reduces their decisions
// with First. All policies run even after one has decided, so observers
// registered late still see every attempt.
func Evaluate(ctx context.Context, policies []Policy, out Outcome) Decision {
	decisions := make([]Decision, len(policies))
	for i, p := range policies {
		d := p.Decide(ctx, out)
		if d.Retry && d.Policy == "" {
			d.Policy = p.Name()
		}
		decisions[i] = d
	}
	return First(decisions)
}
