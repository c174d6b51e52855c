// Package plan loads suite declarations from YAML and turns them into an
// execution tree.
package plan

import (
	"fmt"
	"os"
	"sync"

	"github.com/ethereum-optimism/infra/op-harness/types"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

// SupportedMajor is the plan file major version this loader understands
const SupportedMajor = "v1"

// UnitFactory turns a unit declaration into a runnable unit body
type UnitFactory interface {
	Build(unit types.UnitConfig) (types.UnitFunc, error)
}

// UnitFactoryFunc adapts a function to a UnitFactory
type UnitFactoryFunc func(unit types.UnitConfig) (types.UnitFunc, error)

func (f UnitFactoryFunc) Build(unit types.UnitConfig) (types.UnitFunc, error) {
	return f(unit)
}

// Plan holds a loaded and validated plan file
type Plan struct {
	config Config
	plan   *types.PlanConfig
	suites map[string]types.SuiteConfig
	units  map[string]types.UnitConfig
	mu     sync.RWMutex
}

// Config contains plan loading configuration
type Config struct {
	Log      log.Logger
	PlanFile string
}

// New loads and validates the plan file
func New(cfg Config) (*Plan, error) {
	if cfg.PlanFile == "" {
		return nil, fmt.Errorf("plan file is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}

	planCfg, err := Load(cfg.PlanFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load plan: %w", err)
	}

	p, err := FromConfig(planCfg)
	if err != nil {
		return nil, err
	}
	p.config = cfg

	cfg.Log.Debug("Plan loaded", "suites", len(p.suites), "units", len(p.units), "root", planCfg.Root)
	return p, nil
}

// FromConfig validates an in-memory plan
func FromConfig(planCfg *types.PlanConfig) (*Plan, error) {
	if err := Validate(planCfg); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}

	p := &Plan{
		plan:   planCfg,
		suites: make(map[string]types.SuiteConfig, len(planCfg.Suites)),
		units:  make(map[string]types.UnitConfig, len(planCfg.Units)),
	}
	for _, s := range planCfg.Suites {
		p.suites[s.ID] = s
	}
	for _, u := range planCfg.Units {
		p.units[u.ID] = u
	}
	return p, nil
}

// Load reads a plan file without validating it
func Load(path string) (*types.PlanConfig, error) {
	log.Debug("Reading plan file", "path", path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan file: %w", err)
	}

	var cfg types.PlanConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing plan file: %w", err)
	}

	return &cfg, nil
}

// Validate checks the version, id uniqueness, references and suite cycles
func Validate(cfg *types.PlanConfig) error {
	if cfg == nil {
		return fmt.Errorf("plan is empty")
	}
	if !semver.IsValid(cfg.Version) {
		return fmt.Errorf("plan version %q is not a valid semantic version", cfg.Version)
	}
	if major := semver.Major(cfg.Version); major != SupportedMajor {
		return fmt.Errorf("plan version %s is not supported (want %s.x)", cfg.Version, SupportedMajor)
	}
	if len(cfg.Suites) == 0 {
		return fmt.Errorf("plan declares no suites")
	}

	suites := make(map[string]types.SuiteConfig)
	units := make(map[string]types.UnitConfig)
	for _, s := range cfg.Suites {
		if s.ID == "" {
			return fmt.Errorf("suite has no id")
		}
		if _, dup := suites[s.ID]; dup {
			return fmt.Errorf("duplicate suite id %q", s.ID)
		}
		if !s.Mode.IsValid() {
			return fmt.Errorf("suite %q has invalid mode %q", s.ID, s.Mode)
		}
		if len(s.Members) == 0 {
			return fmt.Errorf("suite %q has no members", s.ID)
		}
		suites[s.ID] = s
	}
	for _, u := range cfg.Units {
		if err := u.Validate(); err != nil {
			return err
		}
		if _, dup := units[u.ID]; dup {
			return fmt.Errorf("duplicate unit id %q", u.ID)
		}
		units[u.ID] = u
	}

	for _, s := range cfg.Suites {
		for _, m := range s.Members {
			if err := m.Validate(); err != nil {
				return fmt.Errorf("suite %q: %w", s.ID, err)
			}
			if m.Suite != "" {
				if _, ok := suites[m.Suite]; !ok {
					return fmt.Errorf("suite %q references non-existent suite %q", s.ID, m.Suite)
				}
			} else if _, ok := units[m.Unit]; !ok {
				return fmt.Errorf("suite %q references non-existent unit %q", s.ID, m.Unit)
			}
		}
	}

	for _, s := range cfg.Suites {
		if err := checkCircularReference(s.ID, suites, make(map[string]bool)); err != nil {
			return err
		}
	}

	if cfg.Root != "" {
		if _, ok := suites[cfg.Root]; !ok {
			return fmt.Errorf("root suite %q does not exist", cfg.Root)
		}
	}

	return nil
}

// checkCircularReference detects suites that contain themselves
func checkCircularReference(currentID string, suites map[string]types.SuiteConfig, visited map[string]bool) error {
	if visited[currentID] {
		return fmt.Errorf("circular suite reference detected at suite %s", currentID)
	}

	visited[currentID] = true
	defer delete(visited, currentID) // Clean up after checking this branch

	for _, m := range suites[currentID].Members {
		if m.Suite == "" {
			continue
		}
		if err := checkCircularReference(m.Suite, suites, visited); err != nil {
			return err
		}
	}

	return nil
}

// Config returns the underlying plan declaration
func (p *Plan) Config() *types.PlanConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.plan
}

// RootID resolves which suite to run: the override when set, then the
// plan's declared root, then the only suite if there is exactly one.
func (p *Plan) RootID(override string) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	switch {
	case override != "":
		if _, ok := p.suites[override]; !ok {
			return "", fmt.Errorf("suite %q does not exist", override)
		}
		return override, nil
	case p.plan.Root != "":
		return p.plan.Root, nil
	case len(p.plan.Suites) == 1:
		return p.plan.Suites[0].ID, nil
	}
	return "", fmt.Errorf("plan declares %d suites and no root; select one", len(p.plan.Suites))
}

// Build creates the execution tree rooted at the given suite. Every
// reference produces its own node, so a unit listed in two suites runs twice.
func (p *Plan) Build(rootID string, factory UnitFactory) (*types.Node, error) {
	id, err := p.RootID(rootID)
	if err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	root, err := p.buildSuite(id, factory)
	if err != nil {
		return nil, err
	}
	if err := root.Validate(); err != nil {
		return nil, fmt.Errorf("invalid execution tree: %w", err)
	}
	return root, nil
}

func (p *Plan) buildSuite(id string, factory UnitFactory) (*types.Node, error) {
	suite := p.suites[id]
	node := types.NewGroup(suite.ID, suite.Mode.Normalize())
	node.FailFast = suite.FailFast

	for _, m := range suite.Members {
		if m.Suite != "" {
			child, err := p.buildSuite(m.Suite, factory)
			if err != nil {
				return nil, err
			}
			node.Children = append(node.Children, child)
			continue
		}

		unit := p.units[m.Unit]
		fn, err := factory.Build(unit)
		if err != nil {
			return nil, fmt.Errorf("building unit %q: %w", unit.ID, err)
		}
		node.Children = append(node.Children, types.NewUnit(unit.ID, fn))
	}
	return node, nil
}

// Build validates cfg and builds the tree rooted at rootID
func Build(cfg *types.PlanConfig, rootID string, factory UnitFactory) (*types.Node, error) {
	p, err := FromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return p.Build(rootID, factory)
}
