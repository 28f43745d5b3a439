package metadata

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/xerrors"
)

const metadataFile = "metadata.json"

type Client struct {
	path string
}

// Metadata describes the last conversion run.
type Metadata struct {
	Distribution string `json:",omitempty"`
	PackageCount int
	FailureCount int
	UpdatedAt    time.Time
}

// Path returns the metadata file path
func Path(cacheDir string) string {
	return filepath.Join(cacheDir, metadataFile)
}

func New(cacheDir string) Client {
	return Client{
		path: Path(cacheDir),
	}
}

// Get returns the recorded run metadata
func (c *Client) Get() (Metadata, error) {
	f, err := os.Open(c.path)
	if err != nil {
		return Metadata{}, xerrors.Errorf("unable to open a file: %w", err)
	}
	defer f.Close()

	var meta Metadata
	if err = json.NewDecoder(f).Decode(&meta); err != nil {
		return Metadata{}, xerrors.Errorf("unable to decode metadata: %w", err)
	}
	return meta, nil
}

func (c *Client) Update(meta Metadata) error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0744); err != nil {
		return xerrors.Errorf("mkdir error: %w", err)
	}

	f, err := os.Create(c.path)
	if err != nil {
		return xerrors.Errorf("unable to open a file: %w", err)
	}
	defer f.Close()

	if err = json.NewEncoder(f).Encode(&meta); err != nil {
		return xerrors.Errorf("unable to encode metadata: %w", err)
	}
	return nil
}

// Delete removes the metadata file
func (c *Client) Delete() error {
	if err := os.Remove(c.path); err != nil {
		return xerrors.Errorf("unable to remove the metadata file: %w", err)
	}
	return nil
}
