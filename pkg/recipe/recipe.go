package recipe

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/samber/lo"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"

	"github.com/getsolus/eopkg2stone/pkg/fetcher"
)

// ErrNoArtifacts reports emission over an empty source group. Grouping never
// produces one, so hitting it means a defect upstream.
var ErrNoArtifacts = errors.New("source group has no artifacts")

// GroupBySource partitions fetched artifacts by their owning source package.
// Within each group the artifacts keep their fetch-sequence order, so the
// representative member (the first) is stable across runs.
func GroupBySource(artifacts []fetcher.Artifact) map[string][]fetcher.Artifact {
	return lo.GroupBy(artifacts, func(a fetcher.Artifact) string {
		return a.Package.Source.Name
	})
}

// Document is the marshalling shape of a stone.yml recipe.
type Document struct {
	Name        string                `yaml:"name"`
	Version     string                `yaml:"version"`
	Release     uint64                `yaml:"release"`
	Homepage    string                `yaml:"homepage"`
	Upstreams   []map[string]Upstream `yaml:"upstreams"`
	Summary     string                `yaml:"summary"`
	Description string                `yaml:"description"`
	Strip       bool                  `yaml:"strip"`
	License     []string              `yaml:"license"`
	Install     string                `yaml:"install"`
}

// Upstream declares one artifact to be fetched at build time.
type Upstream struct {
	Unpack bool   `yaml:"unpack"`
	Hash   string `yaml:"hash"`
}

// Convert renders the recipe for one source group. Descriptive fields come
// from the group's first member; every member contributes an upstream entry
// and an install-script step.
func Convert(group []fetcher.Artifact, origin string) (string, error) {
	if len(group) == 0 {
		return "", ErrNoArtifacts
	}
	rep := group[0]

	upstreams := make([]map[string]Upstream, 0, len(group))
	for _, a := range group {
		uri, err := url.JoinPath(origin, a.Package.PackageURI)
		if err != nil {
			return "", xerrors.Errorf("unable to join upstream uri: %w", err)
		}
		upstreams = append(upstreams, map[string]Upstream{
			uri: {Unpack: false, Hash: a.SHA256.Hex()},
		})
	}

	doc := Document{
		Name:        rep.Package.Source.Name,
		Homepage:    rep.Package.Source.Homepage,
		Upstreams:   upstreams,
		Summary:     rep.Package.Summary,
		Description: strings.ReplaceAll(rep.Package.Description, "\n", " "),
		Strip:       false,
		License:     rep.Package.Licenses,
		Install:     installScript(group),
	}
	if doc.Homepage == "" {
		doc.Homepage = "no-homepage-set"
	}
	if update, ok := rep.Package.NewestUpdate(); ok {
		doc.Version = update.Version
		doc.Release = update.Release
	}

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return "", xerrors.Errorf("unable to marshal recipe: %w", err)
	}
	return string(out), nil
}

// installScript yields an unpack-and-merge step per artifact. Each eopkg is
// a zip holding an install.tar.xz with the actual payload.
func installScript(group []fetcher.Artifact) string {
	lines := []string{"%install_dir %(installroot)"}
	for _, a := range group {
		lines = append(lines,
			fmt.Sprintf("unzip -o %%(sourcedir)/%s", a.Package.FileName()),
			"tar xf install.tar.xz -C %(installroot)",
		)
	}
	return strings.Join(lines, "\n") + "\n"
}
