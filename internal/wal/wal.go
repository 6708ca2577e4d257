// Package wal implements the write-ahead log (C5): an append-only,
// newline-terminated intent log whose sole purpose is undoing in-flight
// mutations after a crash, grounded on the original engine's journal.py
// record format: every append in this package is followed by an explicit
// fsync before the caller proceeds, so a transaction is never reported
// durable until it actually is.
package wal

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/vaultline/backup/internal/engerr"
)

// Kind enumerates the five WAL record kinds.
type Kind string

const (
	KindBegin    Kind = "BEGIN"
	KindManifest Kind = "MANIFEST"
	KindMetadata Kind = "METADATA"
	KindCommit   Kind = "COMMIT"
	KindAbort    Kind = "ABORT"
)

// Record is one parsed line of the WAL.
type Record struct {
	Kind    Kind
	SID     string
	Payload []byte // decoded base64 for MANIFEST/METADATA, nil otherwise
}

// Log is an append-only WAL file kept open for the duration of the process.
type Log struct {
	path string
	f    *os.File
}

// Open creates the WAL file if absent and opens it for durable appends.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, engerr.Wrap(engerr.IoError, err, "open WAL %s", path)
	}
	return &Log{path: path, f: f}, nil
}

// Close releases the WAL file handle without truncating or modifying it.
func (l *Log) Close() error {
	return l.f.Close()
}

func (l *Log) appendLine(line string) error {
	if _, err := l.f.WriteString(line + "\n"); err != nil {
		return engerr.Wrap(engerr.IoError, err, "append WAL record")
	}
	return l.f.Sync()
}

// Begin appends BEGIN:<sid>.
func (l *Log) Begin(sid string) error {
	return l.appendLine(fmt.Sprintf("%s:%s", KindBegin, sid))
}

// Manifest appends MANIFEST:<sid>:<b64(canonicalManifestBytes)>.
func (l *Log) Manifest(sid string, canonicalManifestBytes []byte) error {
	return l.appendLine(fmt.Sprintf("%s:%s:%s", KindManifest, sid, base64.StdEncoding.EncodeToString(canonicalManifestBytes)))
}

// Metadata appends METADATA:<sid>:<b64(canonicalRecordBytes)>.
func (l *Log) Metadata(sid string, canonicalRecordBytes []byte) error {
	return l.appendLine(fmt.Sprintf("%s:%s:%s", KindMetadata, sid, base64.StdEncoding.EncodeToString(canonicalRecordBytes)))
}

// Commit appends COMMIT:<sid>.
func (l *Log) Commit(sid string) error {
	return l.appendLine(fmt.Sprintf("%s:%s", KindCommit, sid))
}

// Abort appends ABORT:<sid>.
func (l *Log) Abort(sid string) error {
	return l.appendLine(fmt.Sprintf("%s:%s", KindAbort, sid))
}

// parseLine parses one WAL line into a Record.
func parseLine(line string) (Record, error) {
	parts := strings.SplitN(line, ":", 3)
	if len(parts) < 2 {
		return Record{}, engerr.New(engerr.IoError, "malformed WAL line: %q", line)
	}
	kind := Kind(parts[0])
	sid := parts[1]
	rec := Record{Kind: kind, SID: sid}
	switch kind {
	case KindBegin, KindCommit, KindAbort:
		return rec, nil
	case KindManifest, KindMetadata:
		if len(parts) != 3 {
			return Record{}, engerr.New(engerr.IoError, "malformed WAL payload line: %q", line)
		}
		payload, err := base64.StdEncoding.DecodeString(parts[2])
		if err != nil {
			return Record{}, engerr.Wrap(engerr.IoError, err, "decode WAL payload")
		}
		rec.Payload = payload
		return rec, nil
	default:
		return Record{}, engerr.New(engerr.IoError, "unknown WAL record kind: %q", kind)
	}
}

// ReadAll parses every record in the WAL file at path, in order. A missing
// file is treated as an empty WAL.
func ReadAll(path string) ([]Record, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, engerr.Wrap(engerr.IoError, err, "open WAL for read")
	}
	defer f.Close()

	var records []Record
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		rec, err := parseLine(line)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, engerr.Wrap(engerr.IoError, err, "scan WAL")
	}
	return records, nil
}

// OpenTxn is a transaction that had a BEGIN but no matching COMMIT/ABORT by
// EOF — an incomplete, in-flight transaction per R3.
type OpenTxn struct {
	SID         string
	ManifestCAN []byte
	MetadataCAN []byte
}

// FindIncomplete replays records (R1/R2) and returns every transaction left
// open at EOF (R3), in BEGIN order.
func FindIncomplete(records []Record) []OpenTxn {
	open := map[string]*OpenTxn{}
	var order []string
	for _, r := range records {
		switch r.Kind {
		case KindBegin:
			if _, exists := open[r.SID]; !exists {
				order = append(order, r.SID)
			}
			open[r.SID] = &OpenTxn{SID: r.SID}
		case KindManifest:
			if t, ok := open[r.SID]; ok {
				t.ManifestCAN = r.Payload
			}
		case KindMetadata:
			if t, ok := open[r.SID]; ok {
				t.MetadataCAN = r.Payload
			}
		case KindCommit, KindAbort:
			delete(open, r.SID)
		}
	}
	var out []OpenTxn
	for _, sid := range order {
		if t, ok := open[sid]; ok {
			out = append(out, *t)
		}
	}
	return out
}

// LastCommitted returns the sid of the most recently committed transaction,
// if any, by scanning in record order.
func LastCommitted(records []Record) (string, bool) {
	last, found := "", false
	for _, r := range records {
		if r.Kind == KindCommit {
			last, found = r.SID, true
		}
	}
	return last, found
}

// Rewrite atomically replaces the WAL file with records, eliding the
// transactions named in excludeSIDs entirely (R3d). Used at the end of
// recovery to compact away incomplete transactions.
func Rewrite(path string, records []Record, excludeSIDs map[string]bool) error {
	dir := dirOf(path)
	tmp, err := os.CreateTemp(dir, "wal.tmp-*")
	if err != nil {
		return engerr.Wrap(engerr.IoError, err, "create temp WAL")
	}
	tmpPath := tmp.Name()

	w := bufio.NewWriter(tmp)
	for _, r := range records {
		if excludeSIDs[r.SID] {
			continue
		}
		line, err := encodeRecord(r)
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return err
		}
		if _, err := w.WriteString(line + "\n"); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return engerr.Wrap(engerr.IoError, err, "write compacted WAL")
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return engerr.Wrap(engerr.IoError, err, "flush compacted WAL")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return engerr.Wrap(engerr.IoError, err, "fsync compacted WAL")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return engerr.Wrap(engerr.IoError, err, "close compacted WAL")
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return engerr.Wrap(engerr.IoError, err, "rename compacted WAL into place")
	}
	return nil
}

func encodeRecord(r Record) (string, error) {
	switch r.Kind {
	case KindBegin, KindCommit, KindAbort:
		return fmt.Sprintf("%s:%s", r.Kind, r.SID), nil
	case KindManifest, KindMetadata:
		return fmt.Sprintf("%s:%s:%s", r.Kind, r.SID, base64.StdEncoding.EncodeToString(r.Payload)), nil
	default:
		return "", engerr.New(engerr.IoError, "cannot encode unknown WAL record kind %q", r.Kind)
	}
}

func dirOf(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return "."
	}
	return path[:idx]
}
