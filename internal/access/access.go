// Package access is the pre-execution authorization gate. Checks run
// before any connection is checked out, so a denied request costs
// nothing but the lookup.
package access

import (
	"context"
	"strings"

	sberrors "github.com/switchboard-data/switchboard/internal/errors"
)

// Checker decides whether a principal may perform an action on a
// resource. A nil return means allow; denials are AccessDenied errors.
type Checker interface {
	Check(ctx context.Context, principal, resource, action string) error
}

// AllowAll permits everything. Used when access control is disabled in
// configuration.
type AllowAll struct{}

func (AllowAll) Check(context.Context, string, string, string) error { return nil }

// Rule grants one principal a set of actions on one resource. Resource
// and principal accept "*" as a wildcard.
type Rule struct {
	Principal string   `mapstructure:"principal" yaml:"principal"`
	Resource  string   `mapstructure:"resource" yaml:"resource"`
	Actions   []string `mapstructure:"actions" yaml:"actions"`
}

// StaticChecker evaluates a fixed rule list, deny-by-default. No rule
// matching the triple means the request is refused.
type StaticChecker struct {
	rules []Rule
}

// NewStaticChecker builds a checker over the given rules.
func NewStaticChecker(rules []Rule) *StaticChecker {
	return &StaticChecker{rules: rules}
}

func (c *StaticChecker) Check(_ context.Context, principal, resource, action string) error {
	for _, rule := range c.rules {
		if !match(rule.Principal, principal) {
			continue
		}
		if !match(rule.Resource, resource) {
			continue
		}
		for _, allowed := range rule.Actions {
			if match(allowed, action) {
				return nil
			}
		}
	}
	return sberrors.NewAccessDenied(principal, resource, action)
}

func match(pattern, candidate string) bool {
	return pattern == "*" || strings.EqualFold(pattern, candidate)
}
