package ratelimiter

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Well-known action names.
const (
	ActionFetchURL = "fetch-url"
	ActionEmail    = "email"
)

// AIAction returns the action name for calls to the given AI model.
func AIAction(model string) string {
	return "ai:" + model
}

// AdminAction returns the action name for a privileged admin operation.
func AdminAction(name string) string {
	return "admin:" + name
}

// Policy binds an action name to its fixed window.
type Policy struct {
	Action string
	Limit  int64
	Window time.Duration
}

func (p Policy) validate() error {
	if strings.TrimSpace(p.Action) == "" {
		return fmt.Errorf("ratelimiter: policy with empty action")
	}
	if p.Limit <= 0 {
		return fmt.Errorf("ratelimiter: policy %q: limit must be positive", p.Action)
	}
	if p.Window <= 0 {
		return fmt.Errorf("ratelimiter: policy %q: window must be positive", p.Action)
	}
	return nil
}

// DefaultPolicies returns the built-in action set.
func DefaultPolicies() []Policy {
	return []Policy{
		{Action: ActionFetchURL, Limit: 10, Window: time.Minute},
		{Action: AIAction("vision"), Limit: 20, Window: time.Minute},
		{Action: AIAction("vision:daily"), Limit: 200, Window: 24 * time.Hour},
		{Action: ActionEmail, Limit: 10, Window: time.Hour},
		{Action: AdminAction("grant-role"), Limit: 5, Window: time.Hour},
		{Action: AdminAction("revoke-role"), Limit: 5, Window: time.Hour},
		{Action: AdminAction("delete-user"), Limit: 5, Window: time.Hour},
	}
}

// Registry is an immutable set of policies keyed by action name.
type Registry struct {
	policies map[string]Policy
}

// NewRegistry validates policies and builds a Registry. Duplicate action
// names are an error.
func NewRegistry(policies ...Policy) (*Registry, error) {
	r := &Registry{policies: make(map[string]Policy, len(policies))}
	for _, p := range policies {
		if err := p.validate(); err != nil {
			return nil, err
		}
		if _, dup := r.policies[p.Action]; dup {
			return nil, fmt.Errorf("ratelimiter: duplicate policy %q", p.Action)
		}
		r.policies[p.Action] = p
	}
	return r, nil
}

// MustRegistry is like NewRegistry but panics on error.
func MustRegistry(policies ...Policy) *Registry {
	r, err := NewRegistry(policies...)
	if err != nil {
		panic(err)
	}
	return r
}

// Lookup returns the policy registered for action.
func (r *Registry) Lookup(action string) (Policy, bool) {
	if r == nil {
		return Policy{}, false
	}
	p, ok := r.policies[action]
	return p, ok
}

// Actions returns the registered action names in sorted order.
func (r *Registry) Actions() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.policies))
	for name := range r.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
