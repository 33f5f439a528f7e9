// Package config loads and validates a keysweep job.
//
// A job starts from Defaults, is overlaid with an optional YAML file and then
// with KEYSWEEP_* environment variables; command-line flags are applied last
// by the caller. Validate must pass before any participant starts: a bad job
// is rejected with every problem listed at once, and no work is done.
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dreamware/keysweep/internal/keyspace"
)

// ErrConfiguration is matched by every validation failure. It is the same
// sentinel the keyspace package uses for invalid ranges.
var ErrConfiguration = keyspace.ErrInvalid

// Strategy selects how the keyspace is split among participants.
type Strategy string

const (
	// Static splits the keyspace into one block per participant up front.
	Static Strategy = "static"
	// Dynamic hands out fixed-size chunks from a coordinator on demand.
	Dynamic Strategy = "dynamic"
)

// Environment variables read by Load.
const (
	EnvKeyspaceStart = "KEYSWEEP_KEYSPACE_START"
	EnvKeyspaceEnd   = "KEYSWEEP_KEYSPACE_END"
	EnvChunkSize     = "KEYSWEEP_CHUNK_SIZE"
	EnvRepetitions   = "KEYSWEEP_REPETITIONS"
	EnvStrategy      = "KEYSWEEP_STRATEGY"
	EnvParticipants  = "KEYSWEEP_PARTICIPANTS"
	EnvCiphertext    = "KEYSWEEP_CIPHERTEXT"
	EnvKeyword       = "KEYSWEEP_KEYWORD"
)

// JobConfig is one search job.
type JobConfig struct {
	KeyspaceStart uint64   `yaml:"keyspace_start"`
	KeyspaceEnd   uint64   `yaml:"keyspace_end"`
	ChunkSize     uint64   `yaml:"chunk_size"`
	Repetitions   int      `yaml:"repetitions"`
	Strategy      Strategy `yaml:"strategy"`
	Participants  int      `yaml:"participants"`

	// Payload files for the DES keyword oracle.
	Ciphertext string `yaml:"ciphertext"`
	Keyword    string `yaml:"keyword"`
}

// Defaults returns the job used when nothing is configured: the 56-bit DES
// keyspace, chunks of 10000, one static trial, one participant per CPU.
func Defaults() JobConfig {
	return JobConfig{
		KeyspaceStart: 0,
		KeyspaceEnd:   keyspace.MaxKey56,
		ChunkSize:     10000,
		Repetitions:   1,
		Strategy:      Static,
		Participants:  runtime.NumCPU(),
	}
}

// Keyspace returns the configured range.
func (c JobConfig) Keyspace() keyspace.Keyspace {
	return keyspace.Keyspace{Start: c.KeyspaceStart, End: c.KeyspaceEnd}
}

// Load builds a job from Defaults, the YAML file at path (skipped when path
// is empty) and the process environment. The result is not validated.
func Load(path string) (JobConfig, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overlays the KEYSWEEP_* variables found by lookup.
func (c *JobConfig) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	uintVar := func(name, field string, dst *uint64) {
		if v, ok := lookup(name); ok && v != "" {
			n, err := strconv.ParseUint(strings.TrimSpace(v), 0, 64)
			if err != nil {
				errs = append(errs, invalid(field, fmt.Sprintf("%s=%q is not an unsigned integer", name, v)))
				return
			}
			*dst = n
		}
	}
	intVar := func(name, field string, dst *int) {
		if v, ok := lookup(name); ok && v != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, invalid(field, fmt.Sprintf("%s=%q is not an integer", name, v)))
				return
			}
			*dst = n
		}
	}
	strVar := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}

	uintVar(EnvKeyspaceStart, "keyspace_start", &c.KeyspaceStart)
	uintVar(EnvKeyspaceEnd, "keyspace_end", &c.KeyspaceEnd)
	uintVar(EnvChunkSize, "chunk_size", &c.ChunkSize)
	intVar(EnvRepetitions, "repetitions", &c.Repetitions)
	intVar(EnvParticipants, "participants", &c.Participants)
	if v, ok := lookup(EnvStrategy); ok && v != "" {
		c.Strategy = Strategy(strings.ToLower(strings.TrimSpace(v)))
	}
	strVar(EnvCiphertext, &c.Ciphertext)
	strVar(EnvKeyword, &c.Keyword)

	return errors.Join(errs...)
}

// Validate reports every problem with the job. Each problem is a
// *ValidationError; all of them match ErrConfiguration.
func (c JobConfig) Validate() error {
	var errs []error

	if c.KeyspaceEnd < c.KeyspaceStart {
		errs = append(errs, invalid("keyspace_end",
			fmt.Sprintf("end %d is before start %d (empty keyspace)", c.KeyspaceEnd, c.KeyspaceStart)))
	} else if err := c.Keyspace().Validate(); err != nil {
		errs = append(errs, invalid("keyspace", err.Error()))
	}
	if c.Participants <= 0 {
		errs = append(errs, invalid("participants", fmt.Sprintf("must be positive, got %d", c.Participants)))
	}
	switch c.Strategy {
	case Static:
		if c.Repetitions <= 0 {
			errs = append(errs, invalid("repetitions", fmt.Sprintf("must be positive, got %d", c.Repetitions)))
		}
	case Dynamic:
		if c.ChunkSize == 0 {
			errs = append(errs, invalid("chunk_size", "must be positive for the dynamic strategy"))
		}
	default:
		errs = append(errs, invalid("strategy", fmt.Sprintf("unknown strategy %q (want static or dynamic)", c.Strategy)))
	}

	return errors.Join(errs...)
}

// ValidationError describes one invalid field.
type ValidationError struct {
	Field  string
	Reason string
}

func invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Reason)
}

// Unwrap lets errors.Is match ErrConfiguration.
func (e *ValidationError) Unwrap() error { return ErrConfiguration }
