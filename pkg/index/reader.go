package index

import (
	"bufio"
	"encoding/xml"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/ulikunitz/xz"
	"golang.org/x/net/html/charset"
	"golang.org/x/xerrors"
)

// Parse decodes an uncompressed eopkg index document.
func Parse(r io.Reader) (*Index, error) {
	decoder := xml.NewDecoder(r)
	decoder.CharsetReader = charset.NewReaderLabel

	var idx Index
	if err := decoder.Decode(&idx); err != nil {
		return nil, xerrors.Errorf("unable to decode index document: %w", err)
	}
	return &idx, nil
}

// ParseXZ decodes an xz-compressed eopkg index document.
func ParseXZ(r io.Reader) (*Index, error) {
	xr, err := xz.NewReader(bufio.NewReader(r))
	if err != nil {
		return nil, xerrors.Errorf("unable to open xz stream: %w", err)
	}
	return Parse(xr)
}

// Open reads an index from disk, decompressing when the path carries
// an .xz suffix.
func Open(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrors.Errorf("unable to open index %s: %w", path, err)
	}
	defer f.Close()

	slog.Info("Loading index", slog.String("path", path))

	if strings.HasSuffix(path, ".xz") {
		return ParseXZ(f)
	}
	return Parse(f)
}
