// Package config resolves an api.Config from an optional run file, command
// line overrides and newline-delimited side files.
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2/hclsimple"

	"github.com/agentic-research/logreduce/api"
)

// File is the run file schema. It is decoded from HCL (.hcl) or JSON (.json).
// Every attribute is optional; relative side-file paths resolve against the
// run file's directory.
//
//	input_root    = "/var/log"
//	output_root   = "./reduced"
//	keywords      = ["ERROR", "fail(ed|ure)"]
//	ip_file       = "watchlist.txt"
//	skip_reserved = true
type File struct {
	InputRoot    string   `hcl:"input_root,optional"`
	OutputRoot   string   `hcl:"output_root,optional"`
	Keywords     []string `hcl:"keywords,optional"`
	KeywordFile  string   `hcl:"keyword_file,optional"`
	IPPatterns   []string `hcl:"ip_patterns,optional"`
	IPFile       string   `hcl:"ip_file,optional"`
	SkipReserved *bool    `hcl:"skip_reserved,optional"`
	Include      []string `hcl:"include,optional"`
	Exclude      []string `hcl:"exclude,optional"`
	SkipBinary   *bool    `hcl:"skip_binary,optional"`
	Workers      *int     `hcl:"workers,optional"`
	Index        string   `hcl:"index,optional"`
	IndexDriver  string   `hcl:"index_driver,optional"`
	LogFile      string   `hcl:"log_file,optional"`
}

// Load decodes the run file at path.
func Load(path string) (*File, error) {
	var f File
	if err := hclsimple.DecodeFile(path, nil, &f); err != nil {
		return nil, &api.ConfigError{Field: "config", Err: err}
	}
	dir := filepath.Dir(path)
	f.KeywordFile = relativeTo(dir, f.KeywordFile)
	f.IPFile = relativeTo(dir, f.IPFile)
	return &f, nil
}

func relativeTo(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

// ReadList reads one entry per line. Entries are trimmed; blank lines and
// lines starting with '#' are dropped.
func ReadList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var out []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for sc.Scan() {
		s := strings.TrimSpace(sc.Text())
		if s == "" || strings.HasPrefix(s, "#") {
			continue
		}
		out = append(out, s)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return out, nil
}

// Overrides carries command line values. A nil pointer or nil slice means
// the flag was not given.
type Overrides struct {
	InputRoot    *string
	OutputRoot   *string
	Keywords     []string
	KeywordFile  *string
	IPPatterns   []string
	IPFile       *string
	SkipReserved *bool
	Include      []string
	Exclude      []string
	SkipBinary   *bool
	Workers      *int
	Index        *string
	IndexDriver  *string
	LogFile      *string
	Verbose      bool
}

// Resolve layers the run file (may be nil) under the overrides, then reads
// the side files. A keyword file replaces any inline keyword list and an IP
// file replaces any inline IP pattern list.
func Resolve(file *File, ov Overrides) (*api.Config, error) {
	if file == nil {
		file = &File{}
	}
	cfg := &api.Config{
		InputRoot:   pick(ov.InputRoot, file.InputRoot),
		OutputRoot:  pick(ov.OutputRoot, file.OutputRoot),
		Keywords:    pickList(ov.Keywords, file.Keywords),
		IPPatterns:  pickList(ov.IPPatterns, file.IPPatterns),
		Include:     pickList(ov.Include, file.Include),
		Exclude:     pickList(ov.Exclude, file.Exclude),
		Index:       pick(ov.Index, file.Index),
		IndexDriver: pick(ov.IndexDriver, file.IndexDriver),
		LogFile:     pick(ov.LogFile, file.LogFile),
		Verbose:     ov.Verbose,
	}
	cfg.SkipReserved = pickBool(ov.SkipReserved, file.SkipReserved)
	cfg.SkipBinary = pickBool(ov.SkipBinary, file.SkipBinary)
	if ov.Workers != nil {
		cfg.Workers = *ov.Workers
	} else if file.Workers != nil {
		cfg.Workers = *file.Workers
	}

	if kf := pick(ov.KeywordFile, file.KeywordFile); kf != "" {
		list, err := ReadList(kf)
		if err != nil {
			return nil, &api.ConfigError{Field: "keyword_file", Err: err}
		}
		cfg.Keywords = list
	}
	if ipf := pick(ov.IPFile, file.IPFile); ipf != "" {
		list, err := ReadList(ipf)
		if err != nil {
			return nil, &api.ConfigError{Field: "ip_file", Err: err}
		}
		cfg.IPPatterns = list
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func pick(ov *string, base string) string {
	if ov != nil {
		return *ov
	}
	return base
}

func pickList(ov, base []string) []string {
	if ov != nil {
		return ov
	}
	return base
}

func pickBool(ov, base *bool) bool {
	if ov != nil {
		return *ov
	}
	return base != nil && *base
}
