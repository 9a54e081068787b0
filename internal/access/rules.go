package access

import (
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/Upreak/Upjobv1-sub001/pkg/roles"

	"gopkg.in/yaml.v3"
)

// RuleConfig is one entry of the rules file.
type RuleConfig struct {
	Prefix        string   `yaml:"prefix"`
	Roles         []string `yaml:"roles"`
	Authenticated bool     `yaml:"authenticated"`
}

type rulesFile struct {
	Rules []RuleConfig `yaml:"rules"`
}

// Rule maps a path prefix to the roles allowed behind it. A rule with
// AnyRole set admits every valid session regardless of role.
type Rule struct {
	Prefix  string
	Roles   []roles.Role
	AnyRole bool
}

// Permits reports whether role may pass this rule.
func (r Rule) Permits(role roles.Role) bool {
	if !roles.IsValid(role) {
		return false
	}
	if r.AnyRole {
		return true
	}
	for _, allowed := range r.Roles {
		if allowed == role {
			return true
		}
	}
	return false
}

// ConfigError is returned for a malformed rule table. It is only ever
// produced at load time.
type ConfigError struct {
	Prefix string
	Msg    string
}

func (e *ConfigError) Error() string {
	if e.Prefix == "" {
		return "access rules: " + e.Msg
	}
	return fmt.Sprintf("access rules: %s: %s", e.Prefix, e.Msg)
}

// Table is an immutable set of rules, safe for concurrent use.
// Rules are kept longest prefix first so the first match is the most specific.
type Table struct {
	rules []Rule
}

// LoadRules reads and validates the rules file at file.
func LoadRules(file string) (*Table, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("open rules: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	var rf rulesFile
	if err := dec.Decode(&rf); err != nil {
		return nil, &ConfigError{Msg: err.Error()}
	}
	return NewTable(rf.Rules)
}

func NewTable(cfgs []RuleConfig) (*Table, error) {
	seen := map[string]struct{}{}
	rules := make([]Rule, 0, len(cfgs))
	for _, c := range cfgs {
		prefix := normalizePrefix(c.Prefix)
		if !strings.HasPrefix(prefix, "/") {
			return nil, &ConfigError{Prefix: c.Prefix, Msg: "prefix must start with /"}
		}
		if _, dup := seen[prefix]; dup {
			return nil, &ConfigError{Prefix: prefix, Msg: "duplicate prefix"}
		}
		seen[prefix] = struct{}{}

		if c.Authenticated && len(c.Roles) > 0 {
			return nil, &ConfigError{Prefix: prefix, Msg: "set either roles or authenticated, not both"}
		}
		if !c.Authenticated && len(c.Roles) == 0 {
			return nil, &ConfigError{Prefix: prefix, Msg: "no roles allowed; use authenticated: true for any signed-in user"}
		}

		rule := Rule{Prefix: prefix, AnyRole: c.Authenticated}
		for _, name := range c.Roles {
			role, ok := roles.Parse(name)
			if !ok {
				return nil, &ConfigError{Prefix: prefix, Msg: fmt.Sprintf("unknown role %q", name)}
			}
			rule.Roles = append(rule.Roles, role)
		}
		rules = append(rules, rule)
	}

	sort.SliceStable(rules, func(i, j int) bool {
		return len(rules[i].Prefix) > len(rules[j].Prefix)
	})
	return &Table{rules: rules}, nil
}

// Match returns the most specific rule covering path. Prefixes only match
// on segment boundaries: /admin covers /admin and /admin/stats but not
// /administrator.
func (t *Table) Match(p string) (Rule, bool) {
	if t == nil {
		return Rule{}, false
	}
	p = CleanPath(p)
	for _, r := range t.rules {
		if covers(r.Prefix, p) {
			return r, true
		}
	}
	return Rule{}, false
}

// Lookup returns the rule registered for exactly prefix.
func (t *Table) Lookup(prefix string) (Rule, bool) {
	if t == nil {
		return Rule{}, false
	}
	prefix = normalizePrefix(prefix)
	for _, r := range t.rules {
		if r.Prefix == prefix {
			return r, true
		}
	}
	return Rule{}, false
}

// MustCover returns a ConfigError for the first prefix with no matching rule.
// Handler groups call this at startup so a protected area can never be
// mounted without a rule in front of it.
func (t *Table) MustCover(prefixes ...string) error {
	for _, p := range prefixes {
		if _, ok := t.Match(p); !ok {
			return &ConfigError{Prefix: p, Msg: "protected handlers mounted without a rule"}
		}
	}
	return nil
}

// Rules returns a copy of the table, most specific first.
func (t *Table) Rules() []Rule {
	out := make([]Rule, len(t.rules))
	copy(out, t.rules)
	return out
}

func covers(prefix, p string) bool {
	if prefix == "/" {
		return true
	}
	if !strings.HasPrefix(p, prefix) {
		return false
	}
	return len(p) == len(prefix) || p[len(prefix)] == '/'
}

func normalizePrefix(p string) string {
	p = strings.TrimSpace(p)
	p = strings.TrimSuffix(p, "/*")
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	return p
}

// CleanPath is the canonical form paths are matched in. //admin and
// /jobs/../admin both match as /admin.
func CleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if p[0] != '/' {
		p = "/" + p
	}
	return path.Clean(p)
}
