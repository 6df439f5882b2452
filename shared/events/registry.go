package events

import (
	"fmt"
	"sort"
	"strings"
)

// Policy is the per-entity-type publishing configuration. An empty Actions
// list means every transition.
type Policy struct {
	EntityType string
	Attributes []string
	Actions    []Transition
	Topic      string
}

type compiledPolicy struct {
	attributes map[string]struct{}
	actions    map[Transition]struct{}
	topic      string
}

// Registry maps entity types to their policies. It is built once and never
// changes afterwards, so lookups need no locking.
type Registry struct {
	policies map[string]compiledPolicy
}

func NewRegistry(policies ...Policy) (*Registry, error) {
	r := &Registry{policies: make(map[string]compiledPolicy, len(policies))}
	for _, p := range policies {
		entityType := strings.TrimSpace(p.EntityType)
		if entityType == "" {
			return nil, fmt.Errorf("%w: policy entity type is required", ErrConfiguration)
		}
		if _, dup := r.policies[entityType]; dup {
			return nil, fmt.Errorf("%w: duplicate policy for %s", ErrConfiguration, entityType)
		}

		compiled := compiledPolicy{
			attributes: make(map[string]struct{}, len(p.Attributes)),
			actions:    make(map[Transition]struct{}, 3),
			topic:      strings.TrimSpace(p.Topic),
		}
		for _, attr := range p.Attributes {
			if attr = normalizeAttr(attr); attr != "" {
				compiled.attributes[attr] = struct{}{}
			}
		}
		actions := p.Actions
		if len(actions) == 0 {
			actions = AllTransitions()
		}
		for _, action := range actions {
			t, ok := ParseTransition(string(action))
			if !ok {
				return nil, fmt.Errorf("%w: unknown action %q for %s", ErrConfiguration, action, entityType)
			}
			compiled.actions[t] = struct{}{}
		}
		r.policies[entityType] = compiled
	}
	return r, nil
}

// Types lists the registered entity types in sorted order.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.policies))
	for t := range r.policies {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) lookup(entityType string) (compiledPolicy, bool) {
	if r == nil || r.policies == nil {
		return compiledPolicy{}, false
	}
	p, ok := r.policies[strings.TrimSpace(entityType)]
	return p, ok
}

func normalizeAttr(attr string) string {
	return strings.ToLower(strings.TrimSpace(attr))
}
