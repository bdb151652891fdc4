package api

import (
	"errors"
	"fmt"
)

// DefaultIPPattern matches any dotted quad of 1-3 digit groups. It is lenient
// on purpose: 999.999.999.999 matches and is treated as an address candidate.
const DefaultIPPattern = `\b(?:[0-9]{1,3}\.){3}[0-9]{1,3}\b`

// Output layout, relative to the output root.
const (
	IPDir             = "by_ip"
	KeywordDir        = "by_keyword"
	IPGlobalFile      = "ip_global.txt"
	KeywordGlobalFile = "keyword_global.txt"
)

// Config is the resolved configuration of a single reduction run.
// It is not modified after the engine is built.
type Config struct {
	// InputRoot is the directory tree scanned for log files.
	InputRoot string `json:"input_root"`
	// OutputRoot receives by_ip/, by_keyword/ and the two global files.
	OutputRoot string `json:"output_root"`
	// Keywords are regular expressions; the pattern text is the output key.
	Keywords []string `json:"keywords,omitempty"`
	// IPPatterns are regular expressions; the matched text is the output key.
	// Empty means DefaultIPPattern.
	IPPatterns []string `json:"ip_patterns,omitempty"`
	// SkipReserved suppresses IP matches in private and reserved ranges.
	SkipReserved bool `json:"skip_reserved"`

	// Include and Exclude are doublestar globs over slash-separated relative paths.
	Include []string `json:"include,omitempty"`
	Exclude []string `json:"exclude,omitempty"`
	// SkipBinary skips files whose first block contains a NUL byte.
	SkipBinary bool `json:"skip_binary"`
	// Workers is the number of files processed concurrently. 0 and 1 are sequential.
	Workers int `json:"workers,omitempty"`

	// Index is an optional match index DSN (sqlite path or postgres URL).
	Index       string `json:"index,omitempty"`
	IndexDriver string `json:"index_driver,omitempty"`

	// LogFile mirrors diagnostics to a file in addition to stderr.
	LogFile string `json:"log_file,omitempty"`
	Verbose bool   `json:"verbose"`
}

// EffectiveIPPatterns returns the configured IP patterns, or the default
// pattern when none were given.
func (c *Config) EffectiveIPPatterns() []string {
	if len(c.IPPatterns) == 0 {
		return []string{DefaultIPPattern}
	}
	return c.IPPatterns
}

// Validate checks the fields every run needs. Filesystem checks happen in
// the walker, after the input filesystem has been opened.
func (c *Config) Validate() error {
	if c.InputRoot == "" {
		return &ConfigError{Field: "input_root", Err: errors.New("required")}
	}
	if c.OutputRoot == "" {
		return &ConfigError{Field: "output_root", Err: errors.New("required")}
	}
	if c.Workers < 0 {
		return &ConfigError{Field: "workers", Err: fmt.Errorf("must be >= 0, got %d", c.Workers)}
	}
	switch c.IndexDriver {
	case "", "sqlite", "postgres":
	default:
		return &ConfigError{Field: "index_driver", Err: fmt.Errorf("unsupported driver %q", c.IndexDriver)}
	}
	return nil
}

// ConfigError is fatal and is raised before any file is processed.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error: %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// IsConfigError reports whether err is, or wraps, a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
