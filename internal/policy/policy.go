// Package policy implements the role-based command authorization engine
// (C7), grounded on original_source/src/policy.py's users/roles mapping and
// default-policy fallback, loaded from YAML via go.yaml.in/yaml/v2 — the
// indirect teacher dependency promoted to direct use here, the natural Go
// analogue of the original's PyYAML-loaded policy.yaml.
package policy

import (
	"os"

	"github.com/vaultline/backup/internal/engerr"
	"go.yaml.in/yaml/v2"
)

// Config is the raw shape loaded from a policy YAML file: users mapped to a
// single role, and roles mapped to the set of commands they may invoke.
type Config struct {
	Users map[string]string   `yaml:"users"`
	Roles map[string][]string `yaml:"roles"`
}

// Policy is the authorization engine built from a validated Config.
type Policy struct {
	users map[string]string
	roles map[string]map[string]bool
}

// DefaultConfig mirrors the original engine's hardcoded fallback policy
// (original_source/src/policy.py's _get_default_policy): three roles —
// admin (every command), operator (every command except init), and auditor
// (read-only commands).
func DefaultConfig() *Config {
	return &Config{
		Users: map[string]string{
			"root":  "admin",
			"admin": "admin",
		},
		Roles: map[string][]string{
			"admin":    {"init", "backup", "list", "verify", "restore", "audit-verify"},
			"operator": {"backup", "list", "verify", "restore", "audit-verify"},
			"auditor":  {"list", "verify", "audit-verify"},
		},
	}
}

// Load reads and validates a policy YAML file. A missing file is not an
// error: it yields DefaultConfig(), matching the original's behavior of
// falling back silently rather than refusing to start.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return nil, engerr.Wrap(engerr.ConfigInvalid, err, "read policy file %s", path)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, engerr.Wrap(engerr.ConfigInvalid, err, "parse policy YAML")
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validate mirrors original_source/src/policy.py's _validate_policy: both
// sections must be present, and every role a user is assigned to must
// exist.
func validate(cfg *Config) error {
	if cfg.Users == nil || cfg.Roles == nil {
		return engerr.New(engerr.ConfigInvalid, "policy must define both users and roles")
	}
	for _, required := range []string{"admin", "operator", "auditor"} {
		if _, ok := cfg.Roles[required]; !ok {
			return engerr.New(engerr.ConfigInvalid, "policy must define role %q", required)
		}
	}
	for user, role := range cfg.Users {
		if _, ok := cfg.Roles[role]; !ok {
			return engerr.New(engerr.ConfigInvalid, "user %q assigned to undefined role %q", user, role)
		}
	}
	return nil
}

// New builds a Policy from a validated Config.
func New(cfg *Config) *Policy {
	roles := make(map[string]map[string]bool, len(cfg.Roles))
	for role, cmds := range cfg.Roles {
		set := make(map[string]bool, len(cmds))
		for _, c := range cmds {
			set[c] = true
		}
		roles[role] = set
	}
	users := make(map[string]string, len(cfg.Users))
	for u, r := range cfg.Users {
		users[u] = r
	}
	return &Policy{users: users, roles: roles}
}

// Check returns true iff user is present and their role permits command.
func (p *Policy) Check(command, user string) bool {
	role, ok := p.users[user]
	if !ok {
		return false
	}
	cmds, ok := p.roles[role]
	if !ok {
		return false
	}
	return cmds[command]
}

// Enforce returns a PolicyDenied error when Check fails; callers must still
// write the audit DENY entry themselves before propagating this error.
// Enforce only decides, it never audits, so the control plane stays the
// single place that orders check-then-audit.
func (p *Policy) Enforce(command, user string) error {
	if p.Check(command, user) {
		return nil
	}
	return engerr.New(engerr.PolicyDenied, "user %q is not permitted to run %q", user, command)
}
