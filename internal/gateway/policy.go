package gateway

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/nerrad567/chargegate/internal/auth"
	"github.com/nerrad567/chargegate/internal/infrastructure/config"
)

// CatchAll is the pattern matching every path.
const CatchAll = "/**"

// Chain names.
const (
	ChainProgrammatic = "programmatic"
	ChainInteractive  = "interactive"
)

// Access is what a rule demands of the caller.
type Access int

const (
	// Public admits everyone without looking at credentials.
	Public Access = iota
	// Authenticated admits any resolved principal.
	Authenticated
	// Capability admits principals holding Rule.Capability.
	Capability
	// DenyAll admits nobody.
	DenyAll
)

func (a Access) String() string {
	switch a {
	case Public:
		return "public"
	case Authenticated:
		return "authenticated"
	case Capability:
		return "capability"
	case DenyAll:
		return "deny_all"
	default:
		return fmt.Sprintf("access(%d)", int(a))
	}
}

// Decision is the outcome of applying a rule to a principal.
type Decision int

const (
	// Allow lets the request through.
	Allow Decision = iota
	// Challenge asks an anonymous caller to authenticate.
	Challenge
	// Deny refuses an authenticated caller.
	Deny
)

// Rule pairs a path pattern with an access requirement.
type Rule struct {
	Pattern    string
	Access     Access
	Capability auth.Role
}

// Decide applies the rule to p, which is nil for anonymous callers.
func (r Rule) Decide(p *auth.Principal) Decision {
	switch r.Access {
	case Public:
		return Allow
	case Authenticated:
		if p == nil {
			return Challenge
		}
		return Allow
	case Capability:
		if p == nil {
			return Challenge
		}
		if p.HasRole(r.Capability) {
			return Allow
		}
		return Deny
	default:
		if p == nil {
			return Challenge
		}
		return Deny
	}
}

// Chain is one security regime: which paths it governs and how.
type Chain struct {
	Name      string
	Matcher   string
	Stateless bool
	// CSRF enables the double-submit token check for unsafe methods.
	CSRF bool
	// CSRFIgnore lists patterns exempt from the token check.
	CSRFIgnore []string
	Rules      []Rule
}

// Rule returns the first rule matching the cleaned path.
func (c *Chain) Rule(cleaned string) Rule {
	for _, r := range c.Rules {
		if Match(r.Pattern, cleaned) {
			return r
		}
	}
	// Unreachable for chains built by NewPolicy.
	return Rule{Pattern: CatchAll, Access: DenyAll}
}

// CSRFExempt reports whether the cleaned path skips the token check.
func (c *Chain) CSRFExempt(cleaned string) bool {
	if !c.CSRF {
		return true
	}
	for _, p := range c.CSRFIgnore {
		if Match(p, cleaned) {
			return true
		}
	}
	return false
}

// ErrNoCatchAll is returned when the last chain does not match every path.
var ErrNoCatchAll = errors.New("last chain must match " + CatchAll)

// Policy is the immutable, ordered list of chains.
type Policy struct {
	chains []*Chain
}

// NewPolicy validates and freezes the chain list. The last chain must use
// the catch-all matcher so that every request is governed. A terminal
// deny-all rule is appended to every chain.
func NewPolicy(chains ...Chain) (*Policy, error) {
	if len(chains) == 0 || chains[len(chains)-1].Matcher != CatchAll {
		return nil, ErrNoCatchAll
	}

	p := &Policy{chains: make([]*Chain, 0, len(chains))}
	seen := make(map[string]bool, len(chains))
	for i := range chains {
		c := chains[i]
		if c.Name == "" {
			return nil, fmt.Errorf("chain %d has no name", i)
		}
		if seen[c.Name] {
			return nil, fmt.Errorf("duplicate chain name %q", c.Name)
		}
		seen[c.Name] = true
		if err := validPattern(c.Matcher); err != nil {
			return nil, fmt.Errorf("chain %s matcher: %w", c.Name, err)
		}

		rules := make([]Rule, 0, len(c.Rules)+1)
		for _, r := range c.Rules {
			if err := validPattern(r.Pattern); err != nil {
				return nil, fmt.Errorf("chain %s rule: %w", c.Name, err)
			}
			if r.Access == Capability && r.Capability == "" {
				return nil, fmt.Errorf("chain %s rule %s: capability rule without capability", c.Name, r.Pattern)
			}
			rules = append(rules, r)
		}
		c.Rules = append(rules, Rule{Pattern: CatchAll, Access: DenyAll})
		c.CSRFIgnore = append([]string(nil), c.CSRFIgnore...)
		p.chains = append(p.chains, &c)
	}
	return p, nil
}

// Classify returns the chain governing the request path, the rule within it
// and the cleaned path both were matched against.
func (p *Policy) Classify(rawPath string) (*Chain, Rule, string) {
	cleaned := CleanPath(rawPath)
	for _, c := range p.chains {
		if Match(c.Matcher, cleaned) {
			return c, c.Rule(cleaned), cleaned
		}
	}
	// The last chain matches everything.
	last := p.chains[len(p.chains)-1]
	return last, last.Rule(cleaned), cleaned
}

// Chains returns the chains in evaluation order.
func (p *Policy) Chains() []*Chain {
	return p.chains
}

// CleanPath normalises a request path so dot segments and duplicate slashes
// cannot move a request into another chain.
func CleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if p[0] != '/' {
		p = "/" + p
	}
	return path.Clean(p)
}

// Match reports whether a cleaned path matches an ant-style pattern.
func Match(pattern, cleaned string) bool {
	if pattern == CatchAll {
		return true
	}
	if base, ok := strings.CutSuffix(pattern, "/**"); ok {
		return cleaned == base || strings.HasPrefix(cleaned, base+"/")
	}
	return cleaned == pattern
}

func validPattern(p string) error {
	if !strings.HasPrefix(p, "/") {
		return fmt.Errorf("pattern %q must start with /", p)
	}
	if strings.Contains(strings.TrimSuffix(p, "/**"), "*") {
		return fmt.Errorf("pattern %q: only a trailing /** wildcard is supported", p)
	}
	return nil
}

// DefaultPolicy builds the two-chain policy from the configured prefixes.
func DefaultPolicy(g config.GatewayConfig) (*Policy, error) {
	admin := auth.Role(g.AdminRole)
	all := func(prefix string) string { return prefix + "/**" }

	programmatic := Chain{
		Name:      ChainProgrammatic,
		Matcher:   all(g.APIPrefix),
		Stateless: true,
		Rules: []Rule{
			{Pattern: all(g.ExternalPrefix), Access: Public},
			{Pattern: all(g.APIPrefix), Access: Authenticated},
		},
	}

	interactive := Chain{
		Name:       ChainInteractive,
		Matcher:    CatchAll,
		CSRF:       true,
		CSRFIgnore: []string{all(g.LegacyPrefix)},
		Rules: []Rule{
			{Pattern: "/", Access: Public},
			{Pattern: all(g.StaticPrefix), Access: Public},
			{Pattern: all(g.LegacyPrefix), Access: Public},
			{Pattern: all(g.StreamingPrefix), Access: Public},
			{Pattern: all(g.ViewsPrefix), Access: Public},
			{Pattern: g.SignInPath(), Access: Public},
			{Pattern: g.SignOutPath(), Access: Authenticated},
			{Pattern: all(g.ManagerPrefix), Access: Capability, Capability: admin},
		},
	}

	return NewPolicy(programmatic, interactive)
}
