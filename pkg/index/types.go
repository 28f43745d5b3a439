package index

import "path"

// Index is a decoded eopkg repository index (the PISI document root).
type Index struct {
	Distribution Distribution `xml:"Distribution"`
	Packages     []Package    `xml:"Package"`
}

type Distribution struct {
	SourceName string   `xml:"SourceName"`
	Version    string   `xml:"Version"`
	Type       string   `xml:"Type"`
	Obsoletes  []string `xml:"Obsoletes>Package"`
}

// Package is a single installable binary entry in the index.
type Package struct {
	Name        string `xml:"Name"`
	Summary     string `xml:"Summary"`
	Description string `xml:"Description"`

	// PartOf is the component the package belongs to, e.g. "system.base".
	PartOf string `xml:"PartOf"`

	Licenses []string `xml:"License"`

	// PackageURI is relative to the repository origin.
	PackageURI  string `xml:"PackageURI"`
	PackageSize uint64 `xml:"PackageSize"`
	PackageHash string `xml:"PackageHash"`

	// RuntimeDependencies lists the names of packages required at runtime.
	// All listed names are treated as hard requirements.
	RuntimeDependencies []string `xml:"RuntimeDependencies>Dependency"`

	Source  Source   `xml:"Source"`
	History []Update `xml:"History>Update"`
}

// Source identifies the source package a binary was built from.
type Source struct {
	Name     string `xml:"Name"`
	Homepage string `xml:"Homepage"`
}

type Update struct {
	Release uint64 `xml:"release,attr"`
	Date    string `xml:"Date"`
	Version string `xml:"Version"`
}

// FileName returns the artifact file name portion of PackageURI.
func (p Package) FileName() string {
	return path.Base(p.PackageURI)
}

// NewestUpdate returns the most recent history entry.
// The index lists updates newest first.
func (p Package) NewestUpdate() (Update, bool) {
	if len(p.History) == 0 {
		return Update{}, false
	}
	return p.History[0], true
}
