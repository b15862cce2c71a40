// Package audit appends operation records to the project's audit log.
//
// The log is JSON Lines at .envault/audit.jsonl. It records which
// operations touched which documents and identifiers. Names and counts
// only, never secret values or key material. Logging failures never fail
// the operation being logged.
package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Entry is a single audit record.
type Entry struct {
	Timestamp string `json:"ts"`
	Operation string `json:"op"`

	// Optional fields depending on operation.
	Documents  []string `json:"documents,omitempty"`
	Identifier string   `json:"identifier,omitempty"` // public identifier only
	Custody    string   `json:"custody,omitempty"`
	Backend    string   `json:"backend,omitempty"`
	VarCount   int      `json:"var_count,omitempty"`
	State      string   `json:"state,omitempty"` // for halted setup flows
}

// LogPath returns the audit log location under the project root.
func LogPath(root string) string {
	return filepath.Join(root, ".envault", "audit.jsonl")
}

// Log appends an entry to the project's audit log. A missing project or an
// unwritable log is silently ignored; operations must not fail because the
// audit trail did.
func Log(root string, entry Entry) {
	if root == "" {
		return
	}
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format("2006-01-02T15:04:05.000000Z")
	}

	// #nosec G306 -- the audit log holds no secret material.
	f, err := os.OpenFile(LogPath(root), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	defer f.Close()

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	_, _ = f.Write(append(data, '\n'))
}

// ReadEntries reads every entry from the project's audit log. A missing log
// yields an empty slice. Malformed lines are skipped.
func ReadEntries(root string) ([]Entry, error) {
	data, err := os.ReadFile(LogPath(root))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entries []Entry
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, scanner.Err()
}
