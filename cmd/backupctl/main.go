// Command backupctl is the control-plane CLI for the backup engine:
// init, backup, list, verify, restore, and audit-verify, each routed
// through internal/control's audit-then-enforce envelope. Subcommand
// dispatch follows cmd/keygen's os.Args[1] switch with a per-command
// flag.FlagSet; graceful shutdown on SIGINT/SIGTERM follows
// bootstrap/main.go's signal.Notify idiom, releasing the store lock
// cleanly instead of leaving it held by a killed process.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"

	"github.com/vaultline/backup/internal/audit"
	"github.com/vaultline/backup/internal/control"
	"github.com/vaultline/backup/internal/engerr"
	"github.com/vaultline/backup/internal/observability"
	"github.com/vaultline/backup/internal/snapshot"
	"github.com/vaultline/backup/internal/validation"
)

func newFlagSet(name string) *flag.FlagSet {
	return flag.NewFlagSet(name, flag.ExitOnError)
}

// logOutput picks a human-readable console writer when stderr is an
// interactive terminal and plain JSON lines otherwise, matching zerolog's
// usual CLI-tool wiring pattern.
func logOutput() io.Writer {
	if isatty.IsTerminal(os.Stderr.Fd()) {
		return zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	}
	return os.Stderr
}

func defaultStoreRoot() string {
	if root := os.Getenv("VAULTLINE_STORE"); root != "" {
		return root
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".vaultline"
	}
	return filepath.Join(home, ".vaultline", "store")
}

func defaultPolicyPath(storeRoot string) string {
	if p := os.Getenv("VAULTLINE_POLICY"); p != "" {
		return p
	}
	return filepath.Join(storeRoot, "policy.yaml")
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	var err error
	switch command {
	case "init":
		err = initCmd(args)
	case "backup":
		err = backupCmd(args)
	case "list":
		err = listCmd(args)
	case "verify":
		err = verifyCmd(args)
	case "restore":
		err = restoreCmd(args)
	case "audit-verify":
		err = auditVerifyCmd(args)
	case "metrics":
		err = metricsCmd(args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("backupctl - content-addressed deduplicating backup engine")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  backupctl init [flags]                       - initialize a store")
	fmt.Println("  backupctl backup <source> [flags]            - create a snapshot")
	fmt.Println("  backupctl list [flags]                       - list snapshots")
	fmt.Println("  backupctl verify <snapshot-id>                - verify a snapshot")
	fmt.Println("  backupctl restore <snapshot-id> <target>     - restore a snapshot")
	fmt.Println("  backupctl audit-verify [flags]                - verify the audit log chain")
	fmt.Println("  backupctl metrics [flags]                     - serve Prometheus metrics")
	fmt.Println()
	fmt.Println("Set VAULTLINE_STORE to override the default store location.")
}

// withEngine opens the control plane's Engine, runs fn, and always closes
// it, releasing the store lock even when fn fails or the process is
// interrupted.
func withEngine(storeFlag string, fn func(*control.Engine) error) error {
	storeRoot := storeFlag
	if storeRoot == "" {
		storeRoot = defaultStoreRoot()
	}
	logger := observability.NewLogger("backupctl", "1.0.0", logOutput())
	metrics := observability.NewMetrics()

	ctx := context.Background()
	shutdownTracing, err := observability.InitTracing(ctx, "backupctl")
	if err != nil {
		logger.Warn("tracing initialization failed, continuing without it")
		shutdownTracing = func(context.Context) error { return nil }
	}
	defer shutdownTracing(ctx)

	eng, err := control.Open(storeRoot, defaultPolicyPath(storeRoot), logger, metrics)
	if err != nil {
		return err
	}

	done := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			logger.Warn("interrupted, releasing store lock")
			eng.Close()
			os.Exit(130)
		case <-done:
		}
	}()

	err = fn(eng)
	close(done)
	signal.Stop(sigCh)
	if cerr := eng.Close(); err == nil {
		err = cerr
	}
	return err
}

func initCmd(args []string) error {
	fs := newFlagSet("init")
	storeFlag := fs.String("store", "", "store root directory")
	fs.Parse(args)

	return withEngine(*storeFlag, func(eng *control.Engine) error {
		return eng.Run("init", control.CurrentUser(), nil, func() error {
			fmt.Printf("store initialized at %s\n", eng.StoreRoot)
			return nil
		})
	})
}

func backupCmd(args []string) error {
	fs := newFlagSet("backup")
	storeFlag := fs.String("store", "", "store root directory")
	label := fs.String("label", "", "optional snapshot label")
	fs.Parse(args)

	rest := fs.Args()
	if len(rest) < 1 {
		return fmt.Errorf("usage: backupctl backup <source> [--label=...]")
	}
	source := rest[0]
	if err := validation.ValidateFilePath(source, true); err != nil {
		return err
	}
	if err := validation.ValidateLabel(*label); err != nil {
		return err
	}

	return withEngine(*storeFlag, func(eng *control.Engine) error {
		user := control.CurrentUser()
		start := time.Now()
		return eng.Run("backup", user, []string{source, *label}, func() error {
			rec, err := eng.Snapshots.Create(source, *label)
			if eng.Metrics != nil {
				eng.Metrics.RecordSnapshot(err == nil, time.Since(start).Seconds())
			}
			if err != nil {
				return err
			}
			if eng.Log != nil {
				eng.Log.SnapshotCompleted(rec.ID, rec.TotalFiles, rec.TotalChunks, time.Since(start), rec.MerkleRoot)
			}
			if md, mdErr := eng.Snapshots.Metadata(); mdErr == nil {
				eng.Index.Rebuild(md.SortedBySequence())
			}
			size := uint64(0)
			if man, merr := eng.Snapshots.ReadManifest(rec.ID); merr == nil {
				for _, f := range man.Files {
					size += uint64(f.Size)
				}
			}
			fmt.Printf("created snapshot %s (%d files, %d chunks, %s)\n", rec.ID, rec.TotalFiles, rec.TotalChunks, humanize.Bytes(size))
			return nil
		})
	})
}

func listCmd(args []string) error {
	fs := newFlagSet("list")
	storeFlag := fs.String("store", "", "store root directory")
	limit := fs.Int("limit", 0, "maximum snapshots to list (0 = unlimited)")
	fs.Parse(args)

	if err := validation.ValidateRangeInt(*limit, 0, 1_000_000); err != nil {
		return err
	}

	return withEngine(*storeFlag, func(eng *control.Engine) error {
		return eng.Run("list", control.CurrentUser(), nil, func() error {
			records, err := eng.Index.List(*limit, 0)
			if err != nil {
				return err
			}
			for _, r := range records {
				size := uint64(0)
				if man, merr := eng.Snapshots.ReadManifest(r.ID); merr == nil {
					for _, f := range man.Files {
						size += uint64(f.Size)
					}
				}
				fmt.Printf("%s\tseq=%d\t%s\t%s\t%s\n", r.ID, r.Sequence, r.CreatedAt, humanize.Bytes(size), r.Label)
			}
			return nil
		})
	})
}

func verifyCmd(args []string) error {
	fs := newFlagSet("verify")
	storeFlag := fs.String("store", "", "store root directory")
	fs.Parse(args)

	rest := fs.Args()
	if len(rest) < 1 {
		return fmt.Errorf("usage: backupctl verify <snapshot-id>")
	}
	id := rest[0]
	if err := validation.ValidateStringNonEmpty(id); err != nil {
		return err
	}

	return withEngine(*storeFlag, func(eng *control.Engine) error {
		return eng.Run("verify", control.CurrentUser(), []string{id}, func() error {
			res, err := eng.Snapshots.Verify(id)
			if err != nil {
				return err
			}
			if eng.Metrics != nil {
				eng.Metrics.RecordVerify(string(res.Kind))
			}
			if eng.Log != nil {
				eng.Log.VerifyResult(id, res.OK, string(res.Kind), res.Reason)
			}
			if !res.OK {
				fmt.Printf("INVALID: %s (%s)\n", res.Reason, res.Kind)
				return engerr.New(res.Kind, "%s", res.Reason)
			}
			size := uint64(0)
			if man, merr := eng.Snapshots.ReadManifest(id); merr == nil {
				for _, f := range man.Files {
					size += uint64(f.Size)
				}
			}
			fmt.Printf("OK (%s)\n", humanize.Bytes(size))
			return nil
		})
	})
}

func restoreCmd(args []string) error {
	fs := newFlagSet("restore")
	storeFlag := fs.String("store", "", "store root directory")
	force := fs.Bool("force", false, "restore into a non-empty target without confirmation")
	fs.Parse(args)

	rest := fs.Args()
	if len(rest) < 2 {
		return fmt.Errorf("usage: backupctl restore <snapshot-id> <target> [--force]")
	}
	id, target := rest[0], rest[1]
	if err := validation.ValidateStringNonEmpty(id); err != nil {
		return err
	}
	if err := validation.ValidateFilePath(target, false); err != nil {
		return err
	}

	return withEngine(*storeFlag, func(eng *control.Engine) error {
		return eng.Run("restore", control.CurrentUser(), []string{id, target}, func() error {
			start := time.Now()
			err := eng.Snapshots.Restore(id, target, *force)
			if errors.Is(err, snapshot.ErrTargetNotEmpty) {
				if !confirmOverwrite(target) {
					return fmt.Errorf("restore aborted: target not empty")
				}
				err = eng.Snapshots.Restore(id, target, true)
			}
			if eng.Metrics != nil {
				eng.Metrics.RecordRestore(err == nil)
			}
			if err != nil {
				return err
			}
			if rec, getErr := eng.Snapshots.Get(id); getErr == nil && eng.Log != nil {
				eng.Log.RestoreCompleted(id, target, rec.TotalFiles, time.Since(start))
			}
			fmt.Printf("restored %s into %s\n", id, target)
			return nil
		})
	})
}

func confirmOverwrite(target string) bool {
	fmt.Printf("%s is not empty. Restore anyway? [y/N]: ", target)
	var resp string
	fmt.Scanln(&resp)
	return resp == "y" || resp == "Y"
}

func auditVerifyCmd(args []string) error {
	fs := newFlagSet("audit-verify")
	storeFlag := fs.String("store", "", "store root directory")
	recent := fs.Int("recent", 0, "print the last N audit entries")
	fs.Parse(args)

	if err := validation.ValidateRangeInt(*recent, 0, 1_000_000); err != nil {
		return err
	}

	return withEngine(*storeFlag, func(eng *control.Engine) error {
		return eng.Run("audit-verify", control.CurrentUser(), nil, func() error {
			logPath := filepath.Join(eng.StoreRoot, "audit.log")
			res, err := audit.Verify(logPath)
			if err != nil {
				return err
			}
			if !res.OK {
				fmt.Printf("AUDIT CORRUPTED line %d: %s\n", res.LineNo, res.Reason)
				return engerr.New(engerr.AuditCorrupt, "audit log tampered at line %d: %s", res.LineNo, res.Reason)
			}
			fmt.Println("AUDIT OK")
			if *recent > 0 {
				entries, err := audit.Recent(logPath, *recent)
				if err != nil {
					return err
				}
				for _, e := range entries {
					fmt.Printf("%d\t%s\t%s\t%s\n", e.TSMillis, e.User, e.Command, e.Status)
				}
			}
			return nil
		})
	})
}

func metricsCmd(args []string) error {
	fs := newFlagSet("metrics")
	addr := fs.String("listen", ":9090", "metrics HTTP listen address")
	fs.Parse(args)

	metrics := observability.NewMetrics()
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	fmt.Printf("serving metrics on %s/metrics\n", *addr)
	return http.ListenAndServe(*addr, mux)
}
