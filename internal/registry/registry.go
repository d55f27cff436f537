// Package registry keeps a local history of training and evaluation runs in a
// BoltDB file. Each run is one JSON record keyed by its id, with a second
// bucket indexing runs by start time.
package registry

import (
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/fraudlab/fraudforest/metrics"
	"github.com/fraudlab/fraudforest/pkg/errors"
)

const (
	runsBucket   = "runs"         // id -> RunRecord
	byTimeBucket = "runs_by_time" // start time + id -> id
)

// ErrRunNotFound is returned by Get for an unknown id.
var ErrRunNotFound = errors.New("run not found")

// ClassSummary holds the per-class test metrics of a run.
type ClassSummary struct {
	Label     string  `json:"label"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// RunRecord describes one workflow run.
type RunRecord struct {
	ID          string                    `json:"id"`
	Command     string                    `json:"command"`
	StartedAt   time.Time                 `json:"started_at"`
	DurationMs  int64                     `json:"duration_ms"`
	DataPath    string                    `json:"data_path"`
	ModelPath   string                    `json:"model_path"`
	Pipeline    string                    `json:"pipeline_path,omitempty"`
	ReportDir   string                    `json:"report_dir,omitempty"`
	Params      map[string]string         `json:"params"`
	Cutoff      float64                   `json:"cutoff"`
	TrainRows   int                       `json:"train_rows"`
	TestRows    int                       `json:"test_rows"`
	Accuracy    float64                   `json:"accuracy"`
	Scores      metrics.ProbabilityScores `json:"scores"`
	Drifts      int                       `json:"drifts"`
	Classes     []ClassSummary            `json:"classes"`
	TopFeatures []string                  `json:"top_features,omitempty"`
}

// Store is a BoltDB-backed run registry. It is safe for concurrent use.
type Store struct {
	db *bbolt.DB
}

// Open opens or creates the registry file at path, creating parent
// directories as needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "create registry directory %s", dir)
		}
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "open registry %s", path)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{runsBucket, byTimeBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return errors.Wrapf(err, "create %s bucket", name)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the database file. Calling it more than once is safe.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Record stores rec, replacing any earlier record with the same id.
func (s *Store) Record(rec RunRecord) error {
	if rec.ID == "" {
		return errors.NewValidationError("id", "run id is required", rec.ID)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "marshal run record")
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		runs := tx.Bucket([]byte(runsBucket))
		idx := tx.Bucket([]byte(byTimeBucket))
		if prev := runs.Get([]byte(rec.ID)); prev != nil {
			var old RunRecord
			if err := json.Unmarshal(prev, &old); err == nil {
				if err := idx.Delete(timeKey(old.StartedAt, old.ID)); err != nil {
					return err
				}
			}
		}
		if err := runs.Put([]byte(rec.ID), data); err != nil {
			return errors.Wrap(err, "put run record")
		}
		return idx.Put(timeKey(rec.StartedAt, rec.ID), []byte(rec.ID))
	})
}

// Get returns the run with the given id.
func (s *Store) Get(id string) (RunRecord, error) {
	var rec RunRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(runsBucket)).Get([]byte(id))
		if data == nil {
			return errors.Wrapf(ErrRunNotFound, "run %s", id)
		}
		return json.Unmarshal(data, &rec)
	})
	return rec, err
}

// List returns up to limit runs, most recent first. limit <= 0 returns all.
func (s *Store) List(limit int) ([]RunRecord, error) {
	var out []RunRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		runs := tx.Bucket([]byte(runsBucket))
		c := tx.Bucket([]byte(byTimeBucket)).Cursor()
		for k, id := c.Last(); k != nil; k, id = c.Prev() {
			if limit > 0 && len(out) == limit {
				break
			}
			data := runs.Get(id)
			if data == nil {
				continue
			}
			var rec RunRecord
			if err := json.Unmarshal(data, &rec); err != nil {
				return errors.Wrapf(err, "decode run %s", id)
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

// timeKey sorts by start time, then id. Times before the epoch clamp to zero.
func timeKey(t time.Time, id string) []byte {
	ns := t.UnixNano()
	if ns < 0 {
		ns = 0
	}
	key := make([]byte, 8, 8+len(id))
	binary.BigEndian.PutUint64(key, uint64(ns))
	return append(key, id...)
}
