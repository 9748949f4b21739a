package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/indexkeeper/internal/config"
	"github.com/Aman-CERP/indexkeeper/internal/engine"
	"github.com/Aman-CERP/indexkeeper/internal/index"
	"github.com/Aman-CERP/indexkeeper/pkg/version"
)

// withDataDir points the CLI at a temp data directory for one test.
func withDataDir(t *testing.T, dir string) {
	t.Helper()
	prev := dataDir
	dataDir = dir
	t.Cleanup(func() { dataDir = prev })
}

func createTestIndex(t *testing.T, root, name string) {
	t.Helper()
	e := engine.New(root, false)
	d, err := e.OpenOrCreate(&index.Definition{Name: name, Kind: index.KindPlain}, true)
	require.NoError(t, err)
	require.NoError(t, d.Close())
}

func TestLoadConfig_ReadsFileFromDataDir(t *testing.T) {
	root := t.TempDir()
	withDataDir(t, root)

	file := "storage:\n  max_commit_points: 9\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, config.ConfigFileName), []byte(file), 0644))

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Storage.MaxCommitPoints)
	assert.Equal(t, root, cfg.Storage.DataDir)
}

func TestLoadConfig_DefaultsToHomeDataDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	withDataDir(t, "")

	dir := filepath.Join(home, ".indexkeeper")
	require.NoError(t, os.MkdirAll(dir, 0755))
	file := "storage:\n  max_commit_points: 9\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.ConfigFileName), []byte(file), 0644))

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Storage.MaxCommitPoints,
		"a config in the default data dir must be found without --data-dir")
}

func TestConfigInit_WritesWhereRunReads(t *testing.T) {
	root := t.TempDir()
	withDataDir(t, root)

	cmd := newConfigInitCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())

	_, err := os.Stat(filepath.Join(root, config.ConfigFileName))
	require.NoError(t, err, "init must write into the config discovery directory")

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, root, cfg.Storage.DataDir)
}

func TestRootCmd_ReportsErrorsToStderr(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	withDataDir(t, "")

	root := NewRootCmd()
	errBuf := &bytes.Buffer{}
	root.SetOut(&bytes.Buffer{})
	root.SetErr(errBuf)
	root.SetArgs([]string{"--data-dir", t.TempDir(), "reset", "nope"})

	require.Error(t, root.Execute())
	assert.Contains(t, errBuf.String(), "nope", "failures must be reported, not swallowed")
}

func TestVersionCmd_DefaultOutput(t *testing.T) {
	// Given: a version command
	cmd := newVersionCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{})

	// When: executing without flags
	err := cmd.Execute()

	// Then: it should output version string
	require.NoError(t, err)
	output := buf.String()
	assert.Contains(t, output, "indexkeeper", "Output should contain program name")
	assert.Contains(t, output, version.Version, "Output should contain version")
}

func TestVersionCmd_ShortOutput(t *testing.T) {
	cmd := newVersionCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--short"})

	err := cmd.Execute()

	require.NoError(t, err)
	output := strings.TrimSpace(buf.String())
	assert.Equal(t, version.Version, output, "Short output should be just version")
}

func TestIndexesCmd_EmptyDataDir(t *testing.T) {
	withDataDir(t, t.TempDir())

	cmd := newIndexesCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "no indexes found")
}

func TestIndexesCmd_ListsIndexes(t *testing.T) {
	root := t.TempDir()
	withDataDir(t, root)
	createTestIndex(t, root, "orders")

	cmd := newIndexesCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--json"})

	require.NoError(t, cmd.Execute())

	var listings []indexListing
	require.NoError(t, json.Unmarshal(buf.Bytes(), &listings))
	require.Len(t, listings, 1)
	assert.Equal(t, "orders", listings[0].Name)
	assert.Equal(t, "plain", listings[0].Kind)
}

func TestResetCmd_RemovesIndexData(t *testing.T) {
	root := t.TempDir()
	withDataDir(t, root)
	createTestIndex(t, root, "orders")

	cmd := newResetCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"orders"})

	require.NoError(t, cmd.Execute())
	assert.False(t, engine.New(root, false).Exists("orders"))
}

func TestResetCmd_MissingIndexFails(t *testing.T) {
	withDataDir(t, t.TempDir())

	cmd := newResetCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"nope"})

	assert.Error(t, cmd.Execute())
}

func TestDoctorCmd_HealthyTree(t *testing.T) {
	root := t.TempDir()
	withDataDir(t, root)
	createTestIndex(t, root, "orders")

	cmd := newDoctorCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--json"})

	require.NoError(t, cmd.Execute())

	var report diagnosis
	require.NoError(t, json.Unmarshal(buf.Bytes(), &report))
	assert.True(t, report.Healthy)
	assert.NotEmpty(t, report.HeapInUse)
	require.Len(t, report.Indexes, 1)
	assert.Empty(t, report.Indexes[0].Problems)
}

func TestDoctorCmd_ReportsUncleanWrite(t *testing.T) {
	root := t.TempDir()
	withDataDir(t, root)
	createTestIndex(t, root, "orders")

	// Leave an interrupted-write marker behind.
	e := engine.New(root, false)
	marker := filepath.Join(e.IndexPath("orders"), engine.UncleanWriteMarkerFile)
	require.NoError(t, os.WriteFile(marker, nil, 0644))

	cmd := newDoctorCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--json"})

	err := cmd.Execute()
	require.Error(t, err, "doctor should fail on an unhealthy tree")

	var report diagnosis
	require.NoError(t, json.Unmarshal(buf.Bytes(), &report))
	assert.False(t, report.Healthy)
}
