package parlance

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileSnapshotSink writes one JSON snapshot file per session into a
// directory, named by correlation ID.
type FileSnapshotSink struct {
	dir    string
	logger *Logger
}

func NewFileSnapshotSink(dir string) (*FileSnapshotSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating snapshot dir: %w", err)
	}
	return &FileSnapshotSink{dir: dir, logger: GetGlobalLogger().WithComponent("snapshot")}, nil
}

func (f *FileSnapshotSink) SaveSnapshot(snap SessionSnapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	path := filepath.Join(f.dir, snap.CorrelationID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	f.logger.WithField("path", path).Info("session snapshot saved")
	return nil
}

// FunctionCallAudit appends each assembled function call as a JSON line
// to an audit file, one file per day.
type FunctionCallAudit struct {
	dir    string
	logger *Logger
	mu     sync.Mutex
}

func NewFunctionCallAudit(dir string) (*FunctionCallAudit, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating audit dir: %w", err)
	}
	return &FunctionCallAudit{dir: dir, logger: GetGlobalLogger().WithComponent("audit")}, nil
}

type auditRecord struct {
	Timestamp    time.Time `json:"timestamp"`
	CallID       string    `json:"call_id"`
	Name         string    `json:"name"`
	Explanation  string    `json:"explanation,omitempty"`
	Code         string    `json:"code,omitempty"`
	RawArguments string    `json:"raw_arguments"`
}

// Record appends the call to today's audit file. Failures are logged and
// swallowed so auditing never disturbs the session.
func (a *FunctionCallAudit) Record(call FunctionCallResult) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rec := auditRecord{
		Timestamp:    time.Now(),
		CallID:       call.CallID,
		Name:         call.Name,
		Explanation:  call.Explanation,
		Code:         call.Code,
		RawArguments: call.RawArguments,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		a.logger.WithError(err).Warn("audit encode failed")
		return
	}

	path := filepath.Join(a.dir, time.Now().Format("2006-01-02")+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		a.logger.WithError(err).Warn("audit open failed")
		return
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		a.logger.WithError(err).Warn("audit write failed")
	}
}
