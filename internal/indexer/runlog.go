package indexer

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"sort"
	"time"
)

// RunRecord is the outcome of the most recent run for one set of coordinates.
type RunRecord struct {
	Coordinates Coordinates `json:"coordinates"`
	ArchivePath string      `json:"archive_path"`
	Size        int64       `json:"size"`
	ModTime     time.Time   `json:"mod_time"`
	State       string      `json:"state"`
	Entries     int         `json:"entries"`
	Classes     int         `json:"classes"`
	Methods     int         `json:"methods"`
	Calls       int         `json:"calls"`
	Error       string      `json:"error,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

// RunLog tracks the last run per coordinates so status reporting and watch
// mode can tell what the store currently holds.
type RunLog struct {
	Runs map[string]*RunRecord `json:"runs,omitempty"`
	// LastReset is when a run last wiped the store.
	LastReset time.Time `json:"last_reset,omitempty"`
}

// Get returns the record for c, or nil if no run has been recorded.
func (l *RunLog) Get(c Coordinates) *RunRecord {
	if l.Runs == nil {
		return nil
	}
	return l.Runs[c.String()]
}

// Record stores the outcome of a run. A run that got past its reset clears
// every earlier record, since the store no longer holds those archives.
func (l *RunLog) Record(req Request, res *Result, runErr error) {
	now := time.Now()
	if req.Reset && slices.Contains(res.Transitions, Scanning) {
		l.Runs = nil
		l.LastReset = now
	}
	if l.Runs == nil {
		l.Runs = make(map[string]*RunRecord)
	}
	rec := &RunRecord{
		Coordinates: req.Coordinates,
		ArchivePath: req.ArchivePath,
		State:       res.State.String(),
		Entries:     res.Entries,
		Classes:     res.Counts.Classes,
		Methods:     res.Counts.Methods,
		Calls:       res.Counts.Calls,
		Timestamp:   now,
	}
	if info, err := os.Stat(req.ArchivePath); err == nil {
		rec.Size = info.Size()
		rec.ModTime = info.ModTime()
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	l.Runs[req.Coordinates.String()] = rec
}

// Unchanged reports whether the last run for c completed from the same
// archive file, with the same size and modification time it has now.
func (l *RunLog) Unchanged(c Coordinates, path string) bool {
	rec := l.Get(c)
	if rec == nil || rec.State != Done.String() || rec.ArchivePath != path {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Size() == rec.Size && info.ModTime().Equal(rec.ModTime)
}

// Records returns all records ordered by coordinates.
func (l *RunLog) Records() []*RunRecord {
	keys := make([]string, 0, len(l.Runs))
	for k := range l.Runs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*RunRecord, 0, len(keys))
	for _, k := range keys {
		out = append(out, l.Runs[k])
	}
	return out
}

// LoadRunLog reads the run log from the given file path.
// Returns an empty log (no error) if the file does not exist.
func LoadRunLog(path string) (*RunLog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &RunLog{}, nil
		}
		return nil, fmt.Errorf("read run log: %w", err)
	}
	var l RunLog
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("unmarshal run log: %w", err)
	}
	return &l, nil
}

// Save writes the run log to the given file path.
func (l *RunLog) Save(path string) error {
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run log: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write run log: %w", err)
	}
	return nil
}
