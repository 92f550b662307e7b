package procbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/renameio/v2"
)

// StateRecord is the on-disk form of a process state change
type StateRecord struct {
	Name     string    `json:"name"`
	ID       int       `json:"id"`
	Command  string    `json:"command,omitempty"`
	PID      int       `json:"pid,omitempty"`
	State    State     `json:"state"`
	Since    time.Time `json:"since"`
	ExitCode int       `json:"exit_code"`
}

// StateFileName returns the file name used for a record named name
func StateFileName(name string) string {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, name)
	clean = strings.TrimLeft(clean, ".")
	if clean == "" {
		clean = "unnamed"
	}
	return clean + StateFileExt
}

// writeStateRecord atomically replaces the record file for rec.Name
func writeStateRecord(dir string, rec StateRecord) error {
	if err := os.MkdirAll(dir, DirMode); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state record: %w", err)
	}
	data = append(data, '\n')
	return renameio.WriteFile(filepath.Join(dir, StateFileName(rec.Name)), data, FileMode)
}

// ReadStateFile reads one state record
func ReadStateFile(path string) (StateRecord, error) {
	var rec StateRecord
	data, err := os.ReadFile(path)
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("decode %s: %w", path, err)
	}
	return rec, nil
}

// ReadStateDir reads every state record in dir, sorted by name. A missing
// directory holds no records.
func ReadStateDir(dir string) ([]StateRecord, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var records []StateRecord
	for _, entry := range entries {
		if !isStateFile(entry.Name()) || entry.IsDir() {
			continue
		}
		rec, err := ReadStateFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return records, err
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Name < records[j].Name
	})
	return records, nil
}

// isStateFile skips renameio temp files, which are hidden
func isStateFile(name string) bool {
	return filepath.Ext(name) == StateFileExt && !strings.HasPrefix(name, ".")
}
