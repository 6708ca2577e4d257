// Package audit implements the hash-chained, append-only audit log (C6),
// grounded on original_source/src/audit.py's entry format and chaining
// formula, using the same durable-append-then-update-in-memory-prev_hash
// idiom as internal/wal.
package audit

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vaultline/backup/internal/engerr"
	"github.com/vaultline/backup/internal/hashutil"
)

// Status is one of the three terminal audit outcomes.
type Status string

const (
	StatusOK   Status = "OK"
	StatusDeny Status = "DENY"
	StatusFail Status = "FAIL"
)

// Entry is one parsed audit log line.
type Entry struct {
	EntryHash string
	PrevHash  string
	TSMillis  int64
	User      string
	Command   string
	ArgsHash  string
	Status    Status
	ErrorMsg  string
}

// Log is an append-only, hash-chained audit log file.
type Log struct {
	path     string
	f        *os.File
	prevHash string
}

// Open opens (creating if absent) the audit log for durable appends, and
// seeds prevHash from the last existing entry (or the zero hash for an
// empty/new log).
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, engerr.Wrap(engerr.IoError, err, "open audit log %s", path)
	}

	entries, _, err := parseFile(path)
	if err != nil {
		// A corrupt log can still be opened for append; verify() is the
		// caller's explicit tool for detecting and reporting that.
		entries = nil
	}
	prev := hashutil.ZeroHex
	if len(entries) > 0 {
		prev = entries[len(entries)-1].EntryHash
	}
	return &Log{path: path, f: f, prevHash: prev}, nil
}

// Close releases the audit log file handle.
func (l *Log) Close() error {
	return l.f.Close()
}

func escapeMsg(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\n", "\\n")
	s = strings.ReplaceAll(s, "\t", "\\t")
	return s
}

func unescapeMsg(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case 'n':
				b.WriteByte('\n')
				i++
				continue
			case 't':
				b.WriteByte('\t')
				i++
				continue
			case '\\':
				b.WriteByte('\\')
				i++
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// entryHash computes H(prev_hash || " " || ts_ms || " " || user || " " ||
// command || " " || args_hash || " " || status [|| " " || error_msg]).
func entryHash(prevHash string, tsMillis int64, user, command, argsHash string, status Status, errorMsg string) string {
	s := fmt.Sprintf("%s %d %s %s %s %s", prevHash, tsMillis, user, command, argsHash, status)
	if errorMsg != "" {
		s += " " + errorMsg
	}
	return hashutil.HString(s)
}

// Append computes and writes one audit entry, flushes it durably, and
// advances the in-memory prev_hash. Appends are totally ordered by virtue
// of this process being single-threaded against one store.
func (l *Log) Append(user, command string, args []string, status Status, errMsg string) error {
	ts := time.Now().UnixMilli()
	argsHash := hashutil.HString(strings.Join(args, " "))
	escaped := escapeMsg(errMsg)
	eh := entryHash(l.prevHash, ts, user, command, argsHash, status, escaped)

	line := fmt.Sprintf("%s %s %d %s %s %s %s", eh, l.prevHash, ts, user, command, argsHash, status)
	if escaped != "" {
		line += " " + escaped
	}

	if _, err := l.f.WriteString(line + "\n"); err != nil {
		return engerr.Wrap(engerr.IoError, err, "append audit entry")
	}
	if err := l.f.Sync(); err != nil {
		return engerr.Wrap(engerr.IoError, err, "fsync audit log")
	}
	l.prevHash = eh
	return nil
}

func parseLine(line string) (Entry, error) {
	fields := strings.Fields(line)
	if len(fields) < 7 {
		return Entry{}, engerr.New(engerr.AuditCorrupt, "malformed audit line: fewer than 7 tokens")
	}
	ts, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return Entry{}, engerr.Wrap(engerr.AuditCorrupt, err, "malformed timestamp token")
	}
	e := Entry{
		EntryHash: fields[0],
		PrevHash:  fields[1],
		TSMillis:  ts,
		User:      fields[3],
		Command:   fields[4],
		ArgsHash:  fields[5],
		Status:    Status(fields[6]),
	}
	if len(fields) > 7 {
		e.ErrorMsg = unescapeMsg(strings.Join(fields[7:], " "))
	}
	return e, nil
}

func parseFile(path string) ([]Entry, []string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, engerr.Wrap(engerr.IoError, err, "open audit log for read")
	}
	defer f.Close()

	var entries []Entry
	var rawLines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		rawLines = append(rawLines, line)
		e, err := parseLine(line)
		if err != nil {
			// Keep raw lines for verify()'s line-numbered report; entries
			// list stays short of rawLines when a line fails to parse.
			continue
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, nil, engerr.Wrap(engerr.IoError, err, "scan audit log")
	}
	return entries, rawLines, nil
}

// VerifyResult is the non-raising outcome of Verify.
type VerifyResult struct {
	OK       bool
	Reason   string
	LineNo   int // 1-based; 0 if OK
}

// Verify replays the audit log from the beginning with prev_hash = 0^64,
// checking at every line that the prev_hash token matches the running
// value and that entry_hash recomputes correctly. It never mutates state
// and never raises for a corrupted log — corruption is reported as a
// structured result instead.
func Verify(path string) (VerifyResult, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return VerifyResult{OK: true}, nil
	}
	if err != nil {
		return VerifyResult{}, engerr.Wrap(engerr.IoError, err, "open audit log for verify")
	}
	defer f.Close()

	running := hashutil.ZeroHex
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 7 {
			return VerifyResult{OK: false, Reason: "malformed line: fewer than 7 tokens", LineNo: lineNo}, nil
		}
		prevTok := fields[1]
		if prevTok != running {
			return VerifyResult{OK: false, Reason: "prev_hash does not match running chain", LineNo: lineNo}, nil
		}
		ts, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return VerifyResult{OK: false, Reason: "malformed timestamp", LineNo: lineNo}, nil
		}
		user, command, argsHash, status := fields[3], fields[4], fields[5], Status(fields[6])
		errMsg := ""
		if len(fields) > 7 {
			errMsg = strings.Join(fields[7:], " ")
		}
		want := entryHash(running, ts, user, command, argsHash, status, errMsg)
		if want != fields[0] {
			return VerifyResult{OK: false, Reason: "entry_hash mismatch", LineNo: lineNo}, nil
		}
		running = fields[0]
	}
	if err := sc.Err(); err != nil {
		return VerifyResult{}, engerr.Wrap(engerr.IoError, err, "scan audit log")
	}
	return VerifyResult{OK: true}, nil
}

// Recent returns the last n successfully-parsed entries, newest last,
// supplementing the original engine's get_log_entries tail-read helper for
// human triage via `audit-verify --recent N`.
func Recent(path string, n int) ([]Entry, error) {
	entries, _, err := parseFile(path)
	if err != nil {
		return nil, err
	}
	if n <= 0 || n >= len(entries) {
		return entries, nil
	}
	return entries[len(entries)-n:], nil
}
