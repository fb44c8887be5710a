package waiter

import (
	"fmt"
	"reflect"

	"github.com/jmespath/go-jmespath"
)

// State is a waiter's position in its state machine.
type State string

const (
	StateWaiting State = "waiting"
	StateSuccess State = "success"
	StateFailure State = "failure"
	StateRetry   State = "retry"
)

// Matcher kinds.
const (
	MatchPath    = "path"
	MatchPathAll = "pathAll"
	MatchPathAny = "pathAny"
	MatchStatus  = "status"
	MatchError   = "error"
)

type acceptor struct {
	state   State
	matcher string
	matches func(doc map[string]any) bool
}

func compile(ac AcceptorConfig) (*acceptor, error) {
	switch ac.State {
	case StateSuccess, StateFailure, StateRetry:
	default:
		return nil, fmt.Errorf("unknown state: %q", ac.State)
	}

	expected := normalize(ac.Expected)
	a := &acceptor{state: ac.State, matcher: ac.Matcher}

	switch ac.Matcher {
	case MatchPath, MatchPathAll, MatchPathAny:
		expr, err := jmespath.Compile(ac.Argument)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", ac.Argument, err)
		}
		a.matches = pathMatcher(ac.Matcher, expr, expected)
	case MatchStatus:
		a.matches = func(doc map[string]any) bool {
			md, _ := doc["ResponseMetadata"].(map[string]any)
			status, ok := md["HTTPStatusCode"]
			return ok && equal(status, expected)
		}
	case MatchError:
		a.matches = func(doc map[string]any) bool {
			section, ok := doc["Error"].(map[string]any)
			if !ok {
				return false
			}
			code, _ := section["Code"].(string)
			return equal(code, expected)
		}
	default:
		return nil, fmt.Errorf("unknown acceptor: %s", ac.Matcher)
	}
	return a, nil
}

func pathMatcher(kind string, expr *jmespath.JMESPath, expected any) func(map[string]any) bool {
	return func(doc map[string]any) bool {
		result, err := expr.Search(doc)
		if err != nil {
			return false
		}
		if kind == MatchPath {
			return equal(result, expected)
		}

		list, ok := result.([]any)
		if !ok || len(list) == 0 {
			return false
		}
		for _, el := range list {
			match := equal(el, expected)
			if kind == MatchPathAny && match {
				return true
			}
			if kind == MatchPathAll && !match {
				return false
			}
		}
		return kind == MatchPathAll
	}
}

// equal compares decoded values with every number treated as float64, so
// that a YAML integer matches a JSON number.
func equal(a, b any) bool {
	return reflect.DeepEqual(normalize(a), normalize(b))
}

func normalize(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int8:
		return float64(n)
	case int16:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint:
		return float64(n)
	case uint8:
		return float64(n)
	case uint16:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	case float32:
		return float64(n)
	case []any:
		out := make([]any, len(n))
		for i, el := range n {
			out[i] = normalize(el)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(n))
		for k, el := range n {
			out[k] = normalize(el)
		}
		return out
	default:
		return v
	}
}
