package control

import (
	"path/filepath"
	"testing"

	"github.com/vaultline/backup/internal/audit"
	"github.com/vaultline/backup/internal/engerr"
)

func TestOpenCloseRoundTrip(t *testing.T) {
	root := filepath.Join(t.TempDir(), "store")
	eng, err := Open(root, filepath.Join(root, "policy.yaml"), nil, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := eng.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestSecondOpenFailsWhileFirstHoldsLock(t *testing.T) {
	root := filepath.Join(t.TempDir(), "store")
	eng1, err := Open(root, filepath.Join(root, "policy.yaml"), nil, nil)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	defer eng1.Close()

	_, err = Open(root, filepath.Join(root, "policy.yaml"), nil, nil)
	if !engerr.Is(err, engerr.LockHeld) {
		t.Fatalf("second Open err = %v, want LockHeld", err)
	}
}

func TestRunDeniesUnknownUser(t *testing.T) {
	root := filepath.Join(t.TempDir(), "store")
	eng, err := Open(root, filepath.Join(root, "policy.yaml"), nil, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer eng.Close()

	called := false
	err = eng.Run("backup", "nobody", []string{"src"}, func() error {
		called = true
		return nil
	})
	if called {
		t.Fatal("body ran despite policy denial")
	}
	if !engerr.Is(err, engerr.PolicyDenied) {
		t.Fatalf("err = %v, want PolicyDenied", err)
	}

	res, verr := audit.Verify(filepath.Join(root, "audit.log"))
	if verr != nil {
		t.Fatalf("audit verify: %v", verr)
	}
	if !res.OK {
		t.Fatalf("audit log did not chain cleanly after a DENY entry: %s", res.Reason)
	}
}

func TestRunAllowsAdminAndAuditsOK(t *testing.T) {
	root := filepath.Join(t.TempDir(), "store")
	eng, err := Open(root, filepath.Join(root, "policy.yaml"), nil, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer eng.Close()

	ranCount := 0
	err = eng.Run("list", "root", nil, func() error {
		ranCount++
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ranCount != 1 {
		t.Fatalf("body ran %d times, want 1", ranCount)
	}

	entries, aerr := audit.Recent(filepath.Join(root, "audit.log"), 1)
	if aerr != nil {
		t.Fatalf("audit read: %v", aerr)
	}
	if len(entries) != 1 || entries[0].Status != audit.StatusOK || entries[0].Command != "list" {
		t.Fatalf("last audit entry = %+v, want an OK entry for list", entries)
	}
}

