package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/getsolus/eopkg2stone/pkg/metadata"
	"github.com/getsolus/eopkg2stone/pkg/recipe"
)

func TestEnvOr(t *testing.T) {
	t.Setenv("EOPKG2STONE_ORIGIN", "https://mirror.example.org/")
	assert.Equal(t, "https://mirror.example.org/", envOr("EOPKG2STONE_ORIGIN", "fallback"))
	assert.Equal(t, "fallback", envOr("EOPKG2STONE_UNSET", "fallback"))
}

func TestNewRootCmd_flags(t *testing.T) {
	t.Setenv("EOPKG2STONE_ORIGIN", "")
	cmd := newRootCmd()

	origin, err := cmd.Flags().GetString("origin")
	require.NoError(t, err)
	assert.Equal(t, "https://packages.getsol.us/unstable/", origin)

	concurrency, err := cmd.Flags().GetInt64("concurrency")
	require.NoError(t, err)
	assert.Equal(t, int64(8), concurrency)

	components, err := cmd.Flags().GetStringSlice("components")
	require.NoError(t, err)
	assert.Equal(t, []string{"system.base", "system.devel"}, components)
}

const indexTemplate = `<?xml version="1.0" encoding="utf-8"?>
<PISI>
    <Distribution>
        <SourceName>Solus</SourceName>
        <Version>1</Version>
        <Type>main</Type>
    </Distribution>
    <Package>
        <Name>app</Name>
        <Summary>An application</Summary>
        <Description>Does things.</Description>
        <License>MIT</License>
        <RuntimeDependencies>
            <Dependency>libfoo</Dependency>
        </RuntimeDependencies>
        <History>
            <Update release="2"><Date>2023-01-02</Date><Version>1.1</Version></Update>
        </History>
        <PackageURI>a/app-1.1-2-1-x86_64.eopkg</PackageURI>
        <PackageSize>%d</PackageSize>
        <Source><Name>app</Name><Homepage>https://example.org/app</Homepage></Source>
    </Package>
    <Package>
        <Name>libfoo</Name>
        <Summary>A library</Summary>
        <Description>Provides foo.</Description>
        <License>MIT</License>
        <History>
            <Update release="1"><Date>2023-01-01</Date><Version>0.9</Version></Update>
        </History>
        <PackageURI>l/libfoo-0.9-1-1-x86_64.eopkg</PackageURI>
        <PackageSize>%d</PackageSize>
        <Source><Name>libfoo</Name><Homepage>https://example.org/libfoo</Homepage></Source>
    </Package>
</PISI>`

func writeIndex(t *testing.T, appBody, libBody string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "eopkg-index.xml")
	doc := fmt.Sprintf(indexTemplate, len(appBody), len(libBody))
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))
	return path
}

func TestRun_endToEnd(t *testing.T) {
	bodies := map[string]string{
		"/a/app-1.1-2-1-x86_64.eopkg":    "app artifact bytes",
		"/l/libfoo-0.9-1-1-x86_64.eopkg": "libfoo artifact bytes",
	}
	var requests atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := bodies[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		requests.Add(1)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(ts.Close)

	cacheDir := t.TempDir()
	outputDir := filepath.Join(t.TempDir(), "out")
	opts := options{
		indexPath:   writeIndex(t, bodies["/a/app-1.1-2-1-x86_64.eopkg"], bodies["/l/libfoo-0.9-1-1-x86_64.eopkg"]),
		origin:      ts.URL,
		cacheDir:    cacheDir,
		outputDir:   outputDir,
		concurrency: 4,
		extras:      []string{"app"},
	}

	require.NoError(t, run(context.Background(), opts))
	assert.Equal(t, int64(2), requests.Load())

	for _, source := range []string{"app", "libfoo"} {
		b, err := os.ReadFile(filepath.Join(outputDir, source, "stone.yml"))
		require.NoError(t, err)

		var doc recipe.Document
		require.NoError(t, yaml.Unmarshal(b, &doc))
		assert.Equal(t, source, doc.Name)
		require.Len(t, doc.Upstreams, 1)
	}

	metaClient := metadata.New(cacheDir)
	meta, err := metaClient.Get()
	require.NoError(t, err)
	assert.Equal(t, "Solus", meta.Distribution)
	assert.Equal(t, 2, meta.PackageCount)
	assert.Zero(t, meta.FailureCount)

	// A second run reuses the cached artifacts.
	require.NoError(t, run(context.Background(), opts))
	assert.Equal(t, int64(2), requests.Load())
}

func TestRun_fetchFailurePolicy(t *testing.T) {
	appBody := "app artifact bytes"
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/a/app-1.1-2-1-x86_64.eopkg" {
			_, _ = w.Write([]byte(appBody))
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(ts.Close)

	newOpts := func() options {
		return options{
			indexPath:   writeIndex(t, appBody, "libfoo artifact bytes"),
			origin:      ts.URL,
			cacheDir:    t.TempDir(),
			outputDir:   filepath.Join(t.TempDir(), "out"),
			concurrency: 2,
			extras:      []string{"app"},
		}
	}

	t.Run("abort by default", func(t *testing.T) {
		opts := newOpts()
		err := run(context.Background(), opts)
		require.ErrorContains(t, err, "fetches failed")

		_, statErr := os.Stat(filepath.Join(opts.outputDir, "app", "stone.yml"))
		assert.True(t, os.IsNotExist(statErr))
	})

	t.Run("keep going emits the successful subset", func(t *testing.T) {
		opts := newOpts()
		opts.keepGoing = true
		require.NoError(t, run(context.Background(), opts))

		_, err := os.Stat(filepath.Join(opts.outputDir, "app", "stone.yml"))
		require.NoError(t, err)
		_, err = os.Stat(filepath.Join(opts.outputDir, "libfoo", "stone.yml"))
		assert.True(t, os.IsNotExist(err))

		_, err = os.Stat(filepath.Join(opts.cacheDir, "report.json"))
		require.NoError(t, err)
	})
}
