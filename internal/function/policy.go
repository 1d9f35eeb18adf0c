package function

import (
	"fmt"
	"strings"
)

// Policy names one of the objective conventions.
type Policy string

const (
	PolicyEvaluator    Policy = "evaluator"
	PolicyFunction     Policy = "function"
	PolicyDecomposable Policy = "decomposable"
	PolicySparse       Policy = "sparse"
	PolicyResolvable   Policy = "resolvable"
)

// AllPolicies lists every policy from least to most specialised.
var AllPolicies = []Policy{
	PolicyEvaluator,
	PolicyFunction,
	PolicyDecomposable,
	PolicySparse,
	PolicyResolvable,
}

// Satisfies reports whether f implements policy p.
func Satisfies(f any, p Policy) bool {
	switch p {
	case PolicyEvaluator:
		_, ok := f.(Evaluator)
		return ok
	case PolicyFunction:
		_, ok := f.(Function)
		return ok
	case PolicyDecomposable:
		_, ok := f.(Decomposable)
		return ok
	case PolicySparse:
		_, ok := f.(Sparse)
		return ok
	case PolicyResolvable:
		_, ok := f.(Resolvable)
		return ok
	default:
		return false
	}
}

// Policies returns the policies f implements, in AllPolicies order.
func Policies(f any) []Policy {
	var out []Policy
	for _, p := range AllPolicies {
		if Satisfies(f, p) {
			out = append(out, p)
		}
	}
	return out
}

// PolicyError is returned when an optimizer is handed an objective that
// lacks the policy it requires.
type PolicyError struct {
	Optimizer string
	Required  Policy
	Have      []Policy
}

func (e *PolicyError) Error() string {
	have := make([]string, len(e.Have))
	for i, p := range e.Have {
		have[i] = string(p)
	}
	if len(have) == 0 {
		have = []string{"none"}
	}
	return fmt.Sprintf("optimizer %s requires a %s function (objective implements: %s)",
		e.Optimizer, e.Required, strings.Join(have, ", "))
}

// Is matches any *PolicyError.
func (e *PolicyError) Is(target error) bool {
	_, ok := target.(*PolicyError)
	return ok
}

// Require returns a *PolicyError when f does not implement p.
func Require(optimizer string, f any, p Policy) error {
	if Satisfies(f, p) {
		return nil
	}
	return &PolicyError{Optimizer: optimizer, Required: p, Have: Policies(f)}
}
