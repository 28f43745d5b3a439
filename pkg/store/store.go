package store

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"k8s.io/utils/clock"

	_ "modernc.org/sqlite"

	"golang.org/x/xerrors"
)

const storeFileName = "fetch-cache.db"

// Store records completed artifact fetches in a sqlite database so that
// later runs can skip downloads whose bytes are already on disk.
type Store struct {
	client *sql.DB
	dir    string
	clock  clock.Clock
}

// Fetch is one completed download.
type Fetch struct {
	Name      string
	Source    string
	URI       string
	Size      int64
	SHA256    []byte
	FetchedAt time.Time
}

func Path(cacheDir string) string {
	return filepath.Join(cacheDir, storeFileName)
}

func New(cacheDir string) (*Store, error) {
	dbPath := Path(cacheDir)
	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0700); err != nil {
		return nil, xerrors.Errorf("failed to mkdir: %w", err)
	}

	client, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, xerrors.Errorf("can't open store: %w", err)
	}

	return &Store{
		client: client,
		dir:    dbDir,
		clock:  clock.RealClock{},
	}, nil
}

func (s *Store) Init() error {
	if _, err := s.client.Exec(`CREATE TABLE IF NOT EXISTS fetches(
		name TEXT PRIMARY KEY, source TEXT, uri TEXT, size INTEGER, sha256 BLOB, fetched_at TEXT)`); err != nil {
		return xerrors.Errorf("unable to create 'fetches' table: %w", err)
	}
	if _, err := s.client.Exec("CREATE INDEX IF NOT EXISTS fetches_source_idx ON fetches(source)"); err != nil {
		return xerrors.Errorf("unable to create 'fetches_source_idx' index: %w", err)
	}
	return nil
}

func (s *Store) Dir() string {
	return s.dir
}

// Record upserts one completed fetch. FetchedAt is stamped here.
func (s *Store) Record(f Fetch) error {
	_, err := s.client.Exec(`INSERT INTO fetches(name, source, uri, size, sha256, fetched_at) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET source=excluded.source, uri=excluded.uri, size=excluded.size, sha256=excluded.sha256, fetched_at=excluded.fetched_at`,
		f.Name, f.Source, f.URI, f.Size, f.SHA256, s.clock.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return xerrors.Errorf("unable to insert to 'fetches' table: %w", err)
	}
	return nil
}

// RecordAll upserts a batch of fetches in one transaction.
func (s *Store) RecordAll(fetches []Fetch) error {
	tx, err := s.client.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, f := range fetches {
		if _, err = tx.Exec(`INSERT INTO fetches(name, source, uri, size, sha256, fetched_at) VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET source=excluded.source, uri=excluded.uri, size=excluded.size, sha256=excluded.sha256, fetched_at=excluded.fetched_at`,
			f.Name, f.Source, f.URI, f.Size, f.SHA256, s.clock.Now().UTC().Format(time.RFC3339Nano)); err != nil {
			return xerrors.Errorf("unable to insert to 'fetches' table: %w", err)
		}
	}
	return tx.Commit()
}

// Get returns the recorded fetch for a package name, if any.
func (s *Store) Get(name string) (Fetch, bool, error) {
	var f Fetch
	var fetchedAt string
	row := s.client.QueryRow(`SELECT name, source, uri, size, sha256, fetched_at FROM fetches WHERE name = ?`, name)
	err := row.Scan(&f.Name, &f.Source, &f.URI, &f.Size, &f.SHA256, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Fetch{}, false, nil
	}
	if err != nil {
		return Fetch{}, false, xerrors.Errorf("select fetch error: %w", err)
	}
	f.FetchedAt, _ = time.Parse(time.RFC3339Nano, fetchedAt)
	return f, true, nil
}

// SelectBySource returns all recorded fetches belonging to a source package.
func (s *Store) SelectBySource(source string) ([]Fetch, error) {
	rows, err := s.client.Query(`SELECT name, source, uri, size, sha256, fetched_at FROM fetches WHERE source = ? ORDER BY name`, source)
	if err != nil {
		return nil, xerrors.Errorf("select fetches error: %w", err)
	}
	defer rows.Close()

	var fetches []Fetch
	for rows.Next() {
		var f Fetch
		var fetchedAt string
		if err = rows.Scan(&f.Name, &f.Source, &f.URI, &f.Size, &f.SHA256, &fetchedAt); err != nil {
			return nil, xerrors.Errorf("scan row error: %w", err)
		}
		f.FetchedAt, _ = time.Parse(time.RFC3339Nano, fetchedAt)
		fetches = append(fetches, f)
	}
	return fetches, rows.Err()
}

func (s *Store) Count() (int, error) {
	var count int
	if err := s.client.QueryRow(`SELECT COUNT(*) FROM fetches`).Scan(&count); err != nil {
		return 0, xerrors.Errorf("count fetches error: %w", err)
	}
	return count, nil
}

func (s *Store) Vacuum() error {
	if _, err := s.client.Exec("VACUUM"); err != nil {
		return xerrors.Errorf("vacuum store error: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
