package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/logreduce/api"
)

func ptr[T any](v T) *T { return &v }

func TestReadList(t *testing.T) {
	p := filepath.Join(t.TempDir(), "keywords.txt")
	require.NoError(t, os.WriteFile(p, []byte("ERROR\n  WARN  \n\n# comment\r\nfail(ed)?\r\n"), 0o644))

	list, err := ReadList(p)
	require.NoError(t, err)
	assert.Equal(t, []string{"ERROR", "WARN", "fail(ed)?"}, list)

	_, err = ReadList(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestLoad_HCL(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ips.txt"), []byte("8\\.8\\.8\\.8\n"), 0o644))
	path := filepath.Join(dir, "run.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`
input_root    = "/var/log"
output_root   = "/tmp/out"
keywords      = ["ERROR", "fail(ed|ure)"]
ip_file       = "ips.txt"
skip_reserved = true
workers       = 4
include       = ["**/*.log"]
`), 0o644))

	f, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/log", f.InputRoot)
	assert.Equal(t, []string{"ERROR", "fail(ed|ure)"}, f.Keywords)
	assert.Equal(t, filepath.Join(dir, "ips.txt"), f.IPFile)
	require.NotNil(t, f.SkipReserved)
	assert.True(t, *f.SkipReserved)
	require.NotNil(t, f.Workers)
	assert.Equal(t, 4, *f.Workers)
	assert.Nil(t, f.SkipBinary)

	cfg, err := Resolve(f, Overrides{})
	require.NoError(t, err)
	assert.Equal(t, []string{`8\.8\.8\.8`}, cfg.IPPatterns)
	assert.True(t, cfg.SkipReserved)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, []string{"**/*.log"}, cfg.Include)
}

func TestLoad_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"output_root": "out", "keywords": ["timeout"], "skip_binary": true}`), 0o644))

	f, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "out", f.OutputRoot)
	assert.Equal(t, []string{"timeout"}, f.Keywords)
	require.NotNil(t, f.SkipBinary)
	assert.True(t, *f.SkipBinary)
}

func TestLoad_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`unknown_attr = 1`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, api.IsConfigError(err))
}

func TestResolve_FlagsOverrideFile(t *testing.T) {
	file := &File{
		InputRoot:    "/from/file",
		OutputRoot:   "/out/file",
		Keywords:     []string{"FILE"},
		SkipReserved: ptr(true),
		Workers:      ptr(8),
	}
	cfg, err := Resolve(file, Overrides{
		InputRoot:    ptr("/from/flag"),
		Keywords:     []string{"FLAG"},
		SkipReserved: ptr(false),
	})
	require.NoError(t, err)
	assert.Equal(t, "/from/flag", cfg.InputRoot)
	assert.Equal(t, "/out/file", cfg.OutputRoot)
	assert.Equal(t, []string{"FLAG"}, cfg.Keywords)
	assert.False(t, cfg.SkipReserved)
	assert.Equal(t, 8, cfg.Workers)
}

func TestResolve_SideFileWins(t *testing.T) {
	dir := t.TempDir()
	kf := filepath.Join(dir, "kw.txt")
	require.NoError(t, os.WriteFile(kf, []byte("FROM_FILE\n"), 0o644))

	cfg, err := Resolve(nil, Overrides{
		InputRoot:   ptr("in"),
		OutputRoot:  ptr("out"),
		Keywords:    []string{"INLINE"},
		KeywordFile: ptr(kf),
		IPPatterns:  []string{"1\\.2\\.3\\.4"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"FROM_FILE"}, cfg.Keywords)
	assert.Equal(t, []string{"1\\.2\\.3\\.4"}, cfg.IPPatterns)
}

func TestResolve_Errors(t *testing.T) {
	_, err := Resolve(nil, Overrides{OutputRoot: ptr("out")})
	require.Error(t, err)
	assert.True(t, api.IsConfigError(err))

	_, err = Resolve(nil, Overrides{
		InputRoot:  ptr("in"),
		OutputRoot: ptr("out"),
		IPFile:     ptr(filepath.Join(t.TempDir(), "absent.txt")),
	})
	var ce *api.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "ip_file", ce.Field)
}
