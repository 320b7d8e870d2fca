// Package table loads and stores whole datasets. A dataset lives either in a local
// file or in an object store bucket, and is serialized as CSV, a JSON array or JSON
// lines depending on its extension. Stores always overwrite the target entirely.
package table

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/smirnovkirilll/micro-dwh/internal/domain"
	"github.com/smirnovkirilll/micro-dwh/internal/objectstore"
)

// Table is an ordered set of rows sharing one header.
type Table struct {
	Columns []string
	Rows    []map[string]string
}

// Location addresses a dataset. An empty Bucket means Key is a local file path.
type Location struct {
	Bucket string
	Key    string
}

// Local returns the location of a local file.
func Local(path string) Location { return Location{Key: path} }

// Remote returns the location of an object in bucket.
func Remote(bucket, key string) Location { return Location{Bucket: bucket, Key: key} }

// IsRemote reports whether the location is an object store key.
func (l Location) IsRemote() bool { return l.Bucket != "" }

func (l Location) String() string {
	if l.IsRemote() {
		return l.Bucket + "/" + l.Key
	}
	return l.Key
}

// Store reads and writes tables. Remote locations go through the object store client.
type Store struct {
	objects objectstore.Client
	log     logrus.FieldLogger
}

// NewStore creates a Store. objects may be nil when only local files are used.
func NewStore(objects objectstore.Client, logger logrus.FieldLogger) *Store {
	if objects == nil {
		objects = objectstore.Disabled{}
	}
	return &Store{
		objects: objects,
		log:     logger.WithField("component", "table_store"),
	}
}

// Load reads the whole table at loc.
func (s *Store) Load(ctx context.Context, loc Location) (*Table, error) {
	if loc.Key == "" {
		return nil, fmt.Errorf("load: empty location")
	}
	data, err := s.read(ctx, loc)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", loc, err)
	}
	t, err := Decode(FormatFor(loc.Key), data)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", loc, err)
	}
	s.log.WithFields(logrus.Fields{
		"location": loc.String(),
		"rows":     len(t.Rows),
	}).Debug("Table loaded")
	return t, nil
}

// Save overwrites loc with t.
func (s *Store) Save(ctx context.Context, loc Location, t *Table) error {
	if loc.Key == "" {
		return fmt.Errorf("save: empty location")
	}
	data, err := Encode(FormatFor(loc.Key), t)
	if err != nil {
		return fmt.Errorf("save %s: %w", loc, err)
	}
	if err := s.write(ctx, loc, data); err != nil {
		return fmt.Errorf("save %s: %w", loc, err)
	}
	s.log.WithFields(logrus.Fields{
		"location": loc.String(),
		"rows":     len(t.Rows),
		"bytes":    len(data),
	}).Debug("Table saved")
	return nil
}

// LoadRecords loads loc and maps every row onto a bookmark record. A row that fits
// neither schema fails the whole load.
func (s *Store) LoadRecords(ctx context.Context, loc Location) ([]domain.Record, error) {
	t, err := s.Load(ctx, loc)
	if err != nil {
		return nil, err
	}
	recs := make([]domain.Record, 0, len(t.Rows))
	for i, row := range t.Rows {
		rec, err := domain.RecordFromRow(row)
		if err != nil {
			return nil, fmt.Errorf("load %s: row %d: %w", loc, i, err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// SaveRecords overwrites loc with recs, using a header wide enough for every record.
func (s *Store) SaveRecords(ctx context.Context, loc Location, recs []domain.Record) error {
	t := &Table{
		Columns: domain.ColumnsFor(recs),
		Rows:    make([]map[string]string, 0, len(recs)),
	}
	for _, rec := range recs {
		t.Rows = append(t.Rows, rec.Row())
	}
	return s.Save(ctx, loc, t)
}

func (s *Store) read(ctx context.Context, loc Location) ([]byte, error) {
	if !loc.IsRemote() {
		return os.ReadFile(loc.Key)
	}
	rc, err := s.objects.Get(ctx, loc.Bucket, loc.Key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (s *Store) write(ctx context.Context, loc Location, data []byte) error {
	if loc.IsRemote() {
		return s.objects.Put(ctx, loc.Bucket, loc.Key, bytes.NewReader(data), int64(len(data)), objectstore.ContentTypeForKey(loc.Key))
	}
	return writeFileAtomic(loc.Key, data)
}

// writeFileAtomic replaces path via a temporary file in the same directory, so a
// failed write leaves the previous content in place.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
