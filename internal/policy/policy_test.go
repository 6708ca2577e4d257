package policy

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigGrantsAdminEverything(t *testing.T) {
	p := New(DefaultConfig())
	for _, cmd := range []string{"init", "backup", "list", "verify", "restore", "audit-verify"} {
		if !p.Check(cmd, "root") {
			t.Fatalf("root should be permitted %q by default policy", cmd)
		}
	}
}

func TestUnknownUserDenied(t *testing.T) {
	p := New(DefaultConfig())
	if p.Check("backup", "nobody") {
		t.Fatal("unknown user should be denied")
	}
	if err := p.Enforce("backup", "nobody"); err == nil {
		t.Fatal("expected Enforce to return an error for unknown user")
	}
}

func TestAuditorCannotBackup(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Users["carol"] = "auditor"
	p := New(cfg)
	if p.Check("backup", "carol") {
		t.Fatal("auditor should not be permitted to backup")
	}
	if p.Check("audit-verify", "carol") == false {
		t.Fatal("auditor should be permitted audit-verify")
	}
}

func TestLoadMissingFileFallsBackToDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := cfg.Roles["admin"]; !ok {
		t.Fatal("expected default policy to include admin role")
	}
}

func TestLoadMissingRoleSectionRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte("users:\n  root: admin\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for policy missing roles section")
	}
}

func TestLoadUndefinedRoleRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	content := "users:\n  root: superuser\nroles:\n  admin: [init]\n  operator: [backup]\n  auditor: [list]\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for user assigned to undefined role")
	}
}

func TestLoadValidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	content := "users:\n  alice: operator\nroles:\n  admin: [init, backup, list, verify, restore, audit-verify]\n  operator: [backup, list, verify, restore, audit-verify]\n  auditor: [list, verify, audit-verify]\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	p := New(cfg)
	if !p.Check("backup", "alice") {
		t.Fatal("alice should be permitted to backup as operator")
	}
	if p.Check("init", "alice") {
		t.Fatal("alice should not be permitted to init as operator")
	}
}
