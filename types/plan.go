package types

import (
	"fmt"
	"time"
)

// UnitKind identifies how a declared unit is executed
type UnitKind string

// String implements the Stringer interface for UnitKind
func (k UnitKind) String() string {
	return string(k)
}

// UnitKind enum values
const (
	UnitKindCommand UnitKind = "command"
	UnitKindHTTP    UnitKind = "http"
	UnitKindSleep   UnitKind = "sleep"
	UnitKindFunc    UnitKind = "func"
)

// RetryOn names a failure class a command unit may be retried on
type RetryOn string

const (
	RetryOnExit    RetryOn = "exit"
	RetryOnTimeout RetryOn = "timeout"
)

// PlanConfig represents a complete plan file
type PlanConfig struct {
	Version     string        `yaml:"version"`
	Root        string        `yaml:"root,omitempty"`
	Environment string        `yaml:"environment,omitempty"`
	Suites      []SuiteConfig `yaml:"suites"`
	Units       []UnitConfig  `yaml:"units,omitempty"`
}

// SuiteConfig represents a group of members executed in a given mode
type SuiteConfig struct {
	ID          string         `yaml:"id"`
	Description string         `yaml:"description,omitempty"`
	Mode        Mode           `yaml:"mode,omitempty"`
	FailFast    bool           `yaml:"fail_fast,omitempty"`
	Members     []MemberConfig `yaml:"members"`
}

// MemberConfig references either a suite or a unit by id
type MemberConfig struct {
	Suite string `yaml:"suite,omitempty"`
	Unit  string `yaml:"unit,omitempty"`
}

// Ref returns a printable reference for the member.
func (m MemberConfig) Ref() string {
	if m.Suite != "" {
		return "suite:" + m.Suite
	}
	return "unit:" + m.Unit
}

// Validate ensures exactly one of suite or unit is set.
func (m MemberConfig) Validate() error {
	if (m.Suite == "") == (m.Unit == "") {
		return fmt.Errorf("member must reference exactly one of suite or unit (got suite=%q unit=%q)", m.Suite, m.Unit)
	}
	return nil
}

// UnitConfig represents a single runnable unit declaration
type UnitConfig struct {
	ID          string   `yaml:"id"`
	Description string   `yaml:"description,omitempty"`
	Kind        UnitKind `yaml:"kind"`

	// command
	Command []string          `yaml:"command,omitempty"`
	Dir     string            `yaml:"dir,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`

	// http
	URL          string        `yaml:"url,omitempty"`
	ExpectStatus int           `yaml:"expect_status,omitempty"`
	Interval     time.Duration `yaml:"interval,omitempty"`
	Attempt      time.Duration `yaml:"attempt_timeout,omitempty"`
	Fallback     string        `yaml:"fallback,omitempty"` // fail | skip

	// sleep
	Duration time.Duration `yaml:"duration,omitempty"`

	// func
	Func string `yaml:"func,omitempty"`

	Timeout time.Duration `yaml:"timeout,omitempty"`
	Retries int           `yaml:"retries,omitempty"`
	RetryOn []RetryOn     `yaml:"retry_on,omitempty"`
	Skip    bool          `yaml:"skip,omitempty"`
}

// RetriesOn reports whether the unit declares the given retry class.
func (u UnitConfig) RetriesOn(class RetryOn) bool {
	for _, r := range u.RetryOn {
		if r == class {
			return true
		}
	}
	return false
}

// Validate checks the unit declaration for kind-specific required fields.
func (u UnitConfig) Validate() error {
	if u.ID == "" {
		return fmt.Errorf("unit has no id")
	}
	if u.Timeout < 0 {
		return fmt.Errorf("unit %q: timeout must not be negative", u.ID)
	}
	if u.Retries < 0 {
		return fmt.Errorf("unit %q: retries must not be negative", u.ID)
	}
	for _, r := range u.RetryOn {
		if r != RetryOnExit && r != RetryOnTimeout {
			return fmt.Errorf("unit %q: unknown retry_on value %q", u.ID, r)
		}
	}

	switch u.Kind {
	case UnitKindCommand:
		if len(u.Command) == 0 {
			return fmt.Errorf("unit %q: command unit requires a command", u.ID)
		}
	case UnitKindHTTP:
		if u.URL == "" {
			return fmt.Errorf("unit %q: http unit requires a url", u.ID)
		}
		if u.Fallback != "" && u.Fallback != "fail" && u.Fallback != "skip" {
			return fmt.Errorf("unit %q: unknown fallback %q", u.ID, u.Fallback)
		}
	case UnitKindSleep:
		if u.Duration < 0 {
			return fmt.Errorf("unit %q: duration must not be negative", u.ID)
		}
	case UnitKindFunc:
		if u.Func == "" {
			return fmt.Errorf("unit %q: func unit requires a func name", u.ID)
		}
	default:
		return fmt.Errorf("unit %q: unknown kind %q", u.ID, u.Kind)
	}
	return nil
}
