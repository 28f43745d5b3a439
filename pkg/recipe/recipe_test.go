package recipe_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/getsolus/eopkg2stone/pkg/fetcher"
	"github.com/getsolus/eopkg2stone/pkg/index"
	"github.com/getsolus/eopkg2stone/pkg/recipe"
)

const origin = "https://packages.getsol.us/unstable/"

func artifact(name, source string, b byte) fetcher.Artifact {
	var sum fetcher.Digest
	for i := range sum {
		sum[i] = b
	}
	return fetcher.Artifact{
		Package: index.Package{
			Name:        name,
			Summary:     name + " summary",
			Description: "Long description\nspanning lines.",
			PackageURI:  "x/" + name + "-1.0-1-x86_64.eopkg",
			Licenses:    []string{"MIT"},
			History:     []index.Update{{Release: 3, Version: "1.0"}},
			Source:      index.Source{Name: source, Homepage: "https://example.org"},
		},
		SHA256: sum,
	}
}

func TestGroupBySource(t *testing.T) {
	groups := recipe.GroupBySource([]fetcher.Artifact{
		artifact("zlib", "zlib", 0x01),
		artifact("zlib-devel", "zlib", 0x02),
		artifact("nano", "nano", 0x03),
	})

	require.Len(t, groups, 2)
	require.Len(t, groups["zlib"], 2)
	require.Len(t, groups["nano"], 1)

	// First member in fetch order is the representative.
	assert.Equal(t, "zlib", groups["zlib"][0].Package.Name)
	assert.Equal(t, "zlib-devel", groups["zlib"][1].Package.Name)
}

func TestConvert(t *testing.T) {
	group := []fetcher.Artifact{
		artifact("zlib", "zlib", 0x01),
		artifact("zlib-devel", "zlib", 0x02),
	}

	text, err := recipe.Convert(group, origin)
	require.NoError(t, err)

	var doc recipe.Document
	require.NoError(t, yaml.Unmarshal([]byte(text), &doc))

	assert.Equal(t, "zlib", doc.Name)
	assert.Equal(t, "1.0", doc.Version)
	assert.Equal(t, uint64(3), doc.Release)
	assert.Equal(t, "https://example.org", doc.Homepage)
	assert.Equal(t, "zlib summary", doc.Summary)
	assert.Equal(t, "Long description spanning lines.", doc.Description)
	assert.False(t, doc.Strip)
	assert.Equal(t, []string{"MIT"}, doc.License)

	require.Len(t, doc.Upstreams, 2)
	first := doc.Upstreams[0][origin+"x/zlib-1.0-1-x86_64.eopkg"]
	assert.False(t, first.Unpack)
	assert.Equal(t, strings.Repeat("01", 32), first.Hash)

	assert.Contains(t, doc.Install, "%install_dir %(installroot)")
	assert.Contains(t, doc.Install, "unzip -o %(sourcedir)/zlib-1.0-1-x86_64.eopkg")
	assert.Contains(t, doc.Install, "unzip -o %(sourcedir)/zlib-devel-1.0-1-x86_64.eopkg")
	assert.Contains(t, doc.Install, "tar xf install.tar.xz -C %(installroot)")
}

func TestConvert_defaults(t *testing.T) {
	a := artifact("mystery", "mystery", 0x04)
	a.Package.Source.Homepage = ""
	a.Package.History = nil

	text, err := recipe.Convert([]fetcher.Artifact{a}, origin)
	require.NoError(t, err)

	var doc recipe.Document
	require.NoError(t, yaml.Unmarshal([]byte(text), &doc))
	assert.Equal(t, "no-homepage-set", doc.Homepage)
	assert.Empty(t, doc.Version)
}

func TestConvert_emptyGroup(t *testing.T) {
	_, err := recipe.Convert(nil, origin)
	require.ErrorIs(t, err, recipe.ErrNoArtifacts)
}

func TestWriter_WriteAll(t *testing.T) {
	dir := t.TempDir()
	w := recipe.NewWriter(dir, origin)

	groups := recipe.GroupBySource([]fetcher.Artifact{
		artifact("zlib", "zlib", 0x01),
		artifact("zlib-devel", "zlib", 0x02),
		artifact("nano", "nano", 0x03),
	})

	written, errs := w.WriteAll(groups)
	assert.Empty(t, errs)
	assert.Equal(t, 2, written)

	for _, source := range []string{"zlib", "nano"} {
		b, err := os.ReadFile(filepath.Join(dir, source, "stone.yml"))
		require.NoError(t, err)

		var doc recipe.Document
		require.NoError(t, yaml.Unmarshal(b, &doc))
		assert.Equal(t, source, doc.Name)
	}
}

func TestWriter_emptyGroupDoesNotAbortOthers(t *testing.T) {
	dir := t.TempDir()
	w := recipe.NewWriter(dir, origin)

	groups := map[string][]fetcher.Artifact{
		"broken": nil,
		"nano":   {artifact("nano", "nano", 0x03)},
	}

	written, errs := w.WriteAll(groups)
	assert.Equal(t, 1, written)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], recipe.ErrNoArtifacts)

	_, err := os.Stat(filepath.Join(dir, "nano", "stone.yml"))
	require.NoError(t, err)
}
