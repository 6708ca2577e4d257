// Package control implements the control plane (C8): the single place
// that opens a store, recovers its WAL, determines the acting OS user,
// checks policy, and wraps every operation in an audit-then-enforce, execute,
// audit-outcome sequence; WAL transactions are opened and closed by the
// operation itself (snapshot.Manager.Create), not here. Grounded on
// original_source/src/cli.py's main dispatch loop (determine user, check
// permission, audit, run, audit result). Signal handling lives in
// cmd/backupctl, which calls Engine.Close to release the store lock.
package control

import (
	"os"
	"path/filepath"

	"github.com/vaultline/backup/internal/audit"
	"github.com/vaultline/backup/internal/casstore"
	"github.com/vaultline/backup/internal/engerr"
	"github.com/vaultline/backup/internal/index"
	"github.com/vaultline/backup/internal/observability"
	"github.com/vaultline/backup/internal/policy"
	"github.com/vaultline/backup/internal/snapshot"
	"github.com/vaultline/backup/internal/storelock"
	"github.com/vaultline/backup/internal/wal"
)

// Engine bundles every durable component a backupctl invocation needs,
// opened once per process and closed on exit.
type Engine struct {
	StoreRoot string
	Store     *casstore.Store
	Journal   *wal.Log
	Audit     *audit.Log
	Policy    *policy.Policy
	Snapshots *snapshot.Manager
	Index     *index.Index
	Metrics   *observability.Metrics
	Log       *observability.Logger

	lock *storelock.Lock
}

// Open initializes (or attaches to) a store root: acquires the exclusive
// store lock, opens the chunk store/WAL/audit log/index, loads policy (or
// falls back to the default), recovers any incomplete transaction left by
// a prior crash, and rebuilds the SQLite index from metadata.json. Mutating
// commands and read-only commands alike go through Open: the single-
// process-per-store model does not distinguish them at this layer.
func Open(storeRoot, policyPath string, logger *observability.Logger, metrics *observability.Metrics) (*Engine, error) {
	if err := os.MkdirAll(storeRoot, 0o755); err != nil {
		return nil, engerr.Wrap(engerr.IoError, err, "create store root")
	}

	lock, err := storelock.Acquire(storeRoot)
	if err != nil {
		return nil, err
	}

	store, err := casstore.Open(storeRoot)
	if err != nil {
		lock.Release()
		return nil, err
	}
	if metrics != nil {
		store.SetRecorder(metrics)
	}

	journal, err := wal.Open(filepath.Join(storeRoot, "journal.wal"))
	if err != nil {
		store.Close()
		lock.Release()
		return nil, err
	}

	mgr := snapshot.Open(storeRoot, store, journal)

	if recovered, err := wal.Recover(filepath.Join(storeRoot, "journal.wal"), mgr.RecoveryCleanup); err != nil {
		journal.Close()
		store.Close()
		lock.Release()
		return nil, err
	} else if len(recovered) > 0 && metrics != nil {
		metrics.RecordWALRecovery()
	}

	auditLog, err := audit.Open(filepath.Join(storeRoot, "audit.log"))
	if err != nil {
		journal.Close()
		store.Close()
		lock.Release()
		return nil, err
	}

	cfg, err := policy.Load(policyPath)
	if err != nil {
		auditLog.Close()
		journal.Close()
		store.Close()
		lock.Release()
		return nil, err
	}

	idx, err := index.Open(filepath.Join(storeRoot, "index.sqlite"))
	if err != nil {
		auditLog.Close()
		journal.Close()
		store.Close()
		lock.Release()
		return nil, err
	}
	if md, err := mgr.Metadata(); err == nil {
		_ = idx.Rebuild(md.SortedBySequence())

		if records, rerr := wal.ReadAll(filepath.Join(storeRoot, "journal.wal")); rerr == nil {
			if sid, ok := wal.LastCommitted(records); ok {
				if _, serr := idx.LastCommittedSequence(); serr == nil {
					if latest, ok := md.Latest(); ok && latest.ID != sid && logger != nil {
						logger.Warn("index's latest snapshot disagrees with WAL's last committed transaction after recovery")
					}
				}
			}
		}
	}

	return &Engine{
		StoreRoot: storeRoot,
		Store:     store,
		Journal:   journal,
		Audit:     auditLog,
		Policy:    policy.New(cfg),
		Snapshots: mgr,
		Index:     idx,
		Metrics:   metrics,
		Log:       logger,
		lock:      lock,
	}, nil
}

// Close releases every durable handle, in reverse acquisition order.
func (e *Engine) Close() error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if e.Metrics != nil {
		if size, err := dirSize(filepath.Join(e.StoreRoot, "chunks")); err == nil {
			e.Metrics.SetStoreSizeBytes(size)
		}
	}
	record(e.Index.Close())
	record(e.Audit.Close())
	record(e.Journal.Close())
	record(e.Store.Close())
	record(e.lock.Release())
	return firstErr
}

// dirSize sums the apparent size of every regular file under root, used to
// report the chunk store's on-disk footprint via the store-size gauge at
// Close time.
func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.Walk(root, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}

// CurrentUser determines the acting OS user for policy and audit purposes,
// preferring SUDO_USER so an operator running backupctl under sudo is
// attributed correctly rather than logged as root — matching
// original_source/src/cli.py's get_os_user.
func CurrentUser() string {
	if u := os.Getenv("SUDO_USER"); u != "" {
		return u
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "unknown"
}

// Run executes command (args recorded into the audit entry's args_hash)
// under an audit-then-enforce discipline: policy is checked first, a DENY
// is audited and returned without running body; otherwise
// body runs and its outcome is audited as OK or FAIL. body itself decides
// whether the operation is mutating by calling e.Journal directly when it
// needs WAL protection (snapshot.Manager.Create already does this
// internally) — Run's job is the audit envelope, not transaction framing.
func (e *Engine) Run(command, user string, args []string, body func() error) error {
	if err := e.Policy.Enforce(command, user); err != nil {
		_ = e.Audit.Append(user, command, args, audit.StatusDeny, "")
		if e.Metrics != nil {
			e.Metrics.RecordPolicyDenied(command, user)
			e.Metrics.RecordCommand(command, false)
		}
		if e.Log != nil {
			e.Log.PolicyDenied(user, command)
		}
		return err
	}

	err := body()
	if err != nil {
		_ = e.Audit.Append(user, command, args, audit.StatusFail, err.Error())
		if e.Metrics != nil {
			e.Metrics.RecordCommand(command, false)
		}
		return err
	}

	if err := e.Audit.Append(user, command, args, audit.StatusOK, ""); err != nil {
		return err
	}
	if e.Metrics != nil {
		e.Metrics.RecordCommand(command, true)
	}
	return nil
}
