package state

import (
	"encoding/json" // For JSON encoding and decoding of the run record
	"fmt"
	"os"
	"path/filepath"
	"time"

	"setup-wsl/internal/logger"
)

// FileState records a configuration file written by a run.
type FileState struct {
	SHA256 string `json:"sha256"`         // Hex digest of the rendered content
	Owner  string `json:"owner,omitempty"` // Owner applied with chown, if any
	Mode   string `json:"mode,omitempty"`  // Octal mode applied with chmod, if any
}

// PackageState summarises one package group of a run.
type PackageState struct {
	Installed []string `json:"installed"`
	Failed    []string `json:"failed"`
}

// Record is the saved outcome of the last provisioning run. It is written
// for reference and troubleshooting; nothing in a run is skipped because of
// it, since every step is idempotent on its own.
type Record struct {
	RunID      string                  `json:"run_id"`
	User       string                  `json:"user"`
	StartedAt  time.Time               `json:"started_at"`
	FinishedAt time.Time               `json:"finished_at"`
	ExitCode   int                     `json:"exit_code"`
	Vendor     string                  `json:"vendor,omitempty"`
	Steps      []string                `json:"completed_steps"`
	AbortedAt  string                  `json:"aborted_at,omitempty"`
	Packages   map[string]PackageState `json:"packages"`
	Files      map[string]FileState    `json:"files"` // Keyed by destination path
	LogFile    string                  `json:"log_file,omitempty"`
}

// NewRecord returns an empty record with initialized maps.
func NewRecord(runID, user string, started time.Time) *Record {
	return &Record{
		RunID:     runID,
		User:      user,
		StartedAt: started,
		Steps:     []string{},
		Packages:  make(map[string]PackageState),
		Files:     make(map[string]FileState),
	}
}

// Load reads the record at path. It returns nil, without error, when no
// record exists yet.
func Load(path string) (*Record, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file %s: %w", path, err)
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse state file %s: %w", path, err)
	}

	// A hand-edited file may carry null maps.
	if rec.Packages == nil {
		rec.Packages = make(map[string]PackageState)
	}
	if rec.Files == nil {
		rec.Files = make(map[string]FileState)
	}
	return &rec, nil
}

// Save writes rec to path as indented JSON with mode 0644, creating the
// parent directory if needed.
func Save(path string, rec *Record, log *logger.Logger) error {
	raw, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	log.Debug("Writing state to %s:\n%s", path, raw)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	if err := os.WriteFile(path, append(raw, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write state file %s: %w", path, err)
	}
	return nil
}
