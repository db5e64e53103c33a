package installer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/tickerdesk/tickerdesk/util"
)

const resultFile = "update-result.json"

// Result is the UpdateOutcome marker the agent leaves behind for the client
// to read once at its next startup.
type Result struct {
	Outcome    Outcome   `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	ExecutedAt time.Time `json:"executedAt"`
}

// ResultHandler reads and writes the update marker in the installation's
// state directory.
type ResultHandler struct {
	resultFile string
}

// NewResultHandler creates a handler rooted at the given state directory.
func NewResultHandler(stateDir string) *ResultHandler {
	// do not care if already exists
	_ = os.MkdirAll(stateDir, 0o700)

	return &ResultHandler{
		resultFile: filepath.Join(stateDir, resultFile),
	}
}

// Write persists the marker. The file is written to a temporary name first
// and renamed so the reader never observes a half-written marker.
func (rh *ResultHandler) Write(result Result) error {
	log.Infof("writing update result to %s: %s", rh.resultFile, result.Outcome)

	data, err := json.Marshal(result)
	if err != nil {
		return err
	}

	tmpPath := rh.resultFile + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to create temp result file: %w", err)
	}

	if err := os.Rename(tmpPath, rh.resultFile); err != nil {
		if cleanupErr := os.Remove(tmpPath); cleanupErr != nil {
			log.Warnf("failed to remove temp result file: %v", cleanupErr)
		}
		return err
	}

	return nil
}

// Consume reads the marker and deletes it, so an outcome is reported exactly
// once. The second return value is false when no marker exists.
func (rh *ResultHandler) Consume() (Result, bool, error) {
	data, err := os.ReadFile(rh.resultFile)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{}, false, nil
		}
		return Result{}, false, err
	}

	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		// an unreadable marker is deleted too, it would never become readable
		_ = util.RemoveJson(rh.resultFile)
		return Result{}, false, fmt.Errorf("invalid result format: %w", err)
	}

	if err := util.RemoveJson(rh.resultFile); err != nil {
		log.Warnf("failed to delete result file %s: %v", rh.resultFile, err)
	}

	return result, true, nil
}
