package plan

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum-optimism/infra/op-harness/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validPlan = `
version: v1.0.0
root: nightly
environment: staging
suites:
  - id: nightly
    mode: sequential
    fail_fast: true
    members:
      - suite: checks
      - unit: teardown
  - id: checks
    mode: parallel
    members:
      - unit: smoke
      - unit: wait
units:
  - id: smoke
    kind: command
    command: ["sh", "-c", "echo ok"]
    timeout: 30s
    retries: 1
    retry_on: [exit, timeout]
  - id: wait
    kind: sleep
    duration: 10ms
  - id: teardown
    kind: func
    func: noop
`

func writePlan(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func noopFactory() UnitFactory {
	return UnitFactoryFunc(func(unit types.UnitConfig) (types.UnitFunc, error) {
		return func(ctx context.Context) error { return nil }, nil
	})
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writePlan(t, validPlan))
	require.NoError(t, err)

	assert.Equal(t, "v1.0.0", cfg.Version)
	assert.Equal(t, "nightly", cfg.Root)
	assert.Equal(t, "staging", cfg.Environment)
	require.Len(t, cfg.Suites, 2)
	assert.Equal(t, types.ModeParallel, cfg.Suites[1].Mode)
	assert.True(t, cfg.Suites[0].FailFast)

	require.Len(t, cfg.Units, 3)
	smoke := cfg.Units[0]
	assert.Equal(t, types.UnitKindCommand, smoke.Kind)
	assert.Equal(t, []string{"sh", "-c", "echo ok"}, smoke.Command)
	assert.Equal(t, 30*time.Second, smoke.Timeout)
	assert.True(t, smoke.RetriesOn(types.RetryOnTimeout))
	assert.Equal(t, 10*time.Millisecond, cfg.Units[1].Duration)

	_, err = Load("nonexistent.yaml")
	assert.Error(t, err)

	_, err = Load(writePlan(t, "suites: [unclosed"))
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	logger := log.NewLogger(log.DiscardHandler())

	p, err := New(Config{Log: logger, PlanFile: writePlan(t, validPlan)})
	require.NoError(t, err)
	assert.Equal(t, "staging", p.Config().Environment)

	_, err = New(Config{Log: logger})
	assert.Error(t, err)

	_, err = New(Config{Log: logger, PlanFile: "nonexistent.yaml"})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	unit := types.UnitConfig{ID: "u", Kind: types.UnitKindSleep}
	suite := func(id string, members ...types.MemberConfig) types.SuiteConfig {
		return types.SuiteConfig{ID: id, Members: members}
	}

	tests := []struct {
		name    string
		cfg     *types.PlanConfig
		wantErr string
	}{
		{
			name: "valid",
			cfg: &types.PlanConfig{
				Version: "v1",
				Suites:  []types.SuiteConfig{suite("a", types.MemberConfig{Unit: "u"})},
				Units:   []types.UnitConfig{unit},
			},
		},
		{
			name:    "nil plan",
			wantErr: "empty",
		},
		{
			name:    "invalid version",
			cfg:     &types.PlanConfig{Version: "1.0"},
			wantErr: "not a valid semantic version",
		},
		{
			name:    "unsupported major",
			cfg:     &types.PlanConfig{Version: "v2.1.0"},
			wantErr: "not supported",
		},
		{
			name:    "no suites",
			cfg:     &types.PlanConfig{Version: "v1"},
			wantErr: "no suites",
		},
		{
			name: "duplicate suite",
			cfg: &types.PlanConfig{
				Version: "v1",
				Suites:  []types.SuiteConfig{suite("a", types.MemberConfig{Unit: "u"}), suite("a", types.MemberConfig{Unit: "u"})},
				Units:   []types.UnitConfig{unit},
			},
			wantErr: "duplicate suite",
		},
		{
			name: "duplicate unit",
			cfg: &types.PlanConfig{
				Version: "v1",
				Suites:  []types.SuiteConfig{suite("a", types.MemberConfig{Unit: "u"})},
				Units:   []types.UnitConfig{unit, unit},
			},
			wantErr: "duplicate unit",
		},
		{
			name: "unknown unit",
			cfg: &types.PlanConfig{
				Version: "v1",
				Suites:  []types.SuiteConfig{suite("a", types.MemberConfig{Unit: "missing"})},
			},
			wantErr: "non-existent unit",
		},
		{
			name: "unknown suite",
			cfg: &types.PlanConfig{
				Version: "v1",
				Suites:  []types.SuiteConfig{suite("a", types.MemberConfig{Suite: "missing"})},
			},
			wantErr: "non-existent suite",
		},
		{
			name: "circular reference",
			cfg: &types.PlanConfig{
				Version: "v1",
				Suites: []types.SuiteConfig{
					suite("a", types.MemberConfig{Suite: "b"}),
					suite("b", types.MemberConfig{Suite: "c"}),
					suite("c", types.MemberConfig{Suite: "a"}),
				},
			},
			wantErr: "circular",
		},
		{
			name: "self reference",
			cfg: &types.PlanConfig{
				Version: "v1",
				Suites:  []types.SuiteConfig{suite("a", types.MemberConfig{Suite: "a"})},
			},
			wantErr: "circular",
		},
		{
			name: "bad mode",
			cfg: &types.PlanConfig{
				Version: "v1",
				Suites:  []types.SuiteConfig{{ID: "a", Mode: "random", Members: []types.MemberConfig{{Unit: "u"}}}},
				Units:   []types.UnitConfig{unit},
			},
			wantErr: "invalid mode",
		},
		{
			name: "member with both references",
			cfg: &types.PlanConfig{
				Version: "v1",
				Suites:  []types.SuiteConfig{suite("a", types.MemberConfig{Unit: "u", Suite: "a"})},
				Units:   []types.UnitConfig{unit},
			},
			wantErr: "exactly one",
		},
		{
			name: "unknown root",
			cfg: &types.PlanConfig{
				Version: "v1",
				Root:    "nope",
				Suites:  []types.SuiteConfig{suite("a", types.MemberConfig{Unit: "u"})},
				Units:   []types.UnitConfig{unit},
			},
			wantErr: "root suite",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.cfg)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestBuild(t *testing.T) {
	cfg, err := Load(writePlan(t, validPlan))
	require.NoError(t, err)

	root, err := Build(cfg, "", noopFactory())
	require.NoError(t, err)

	assert.Equal(t, "nightly", root.Name)
	assert.Equal(t, types.ModeSequential, root.Mode)
	assert.True(t, root.FailFast)
	require.Len(t, root.Children, 2)

	checks := root.Children[0]
	assert.Equal(t, "checks", checks.Name)
	assert.Equal(t, types.ModeParallel, checks.Mode)
	require.Len(t, checks.Children, 2)
	assert.Equal(t, "smoke", checks.Children[0].Name)
	assert.True(t, checks.Children[0].IsUnit())

	assert.Equal(t, "teardown", root.Children[1].Name)
	assert.Equal(t, 3, root.CountUnits())
}

func TestBuildSelectsRoot(t *testing.T) {
	cfg, err := Load(writePlan(t, validPlan))
	require.NoError(t, err)

	root, err := Build(cfg, "checks", noopFactory())
	require.NoError(t, err)
	assert.Equal(t, "checks", root.Name)

	_, err = Build(cfg, "missing", noopFactory())
	assert.Error(t, err)

	cfg.Root = ""
	_, err = Build(cfg, "", noopFactory())
	assert.ErrorContains(t, err, "no root")
}

func TestBuildSharedReferencesGetDistinctNodes(t *testing.T) {
	cfg := &types.PlanConfig{
		Version: "v1",
		Suites: []types.SuiteConfig{
			{ID: "root", Mode: types.ModeParallel, Members: []types.MemberConfig{{Suite: "leaf"}, {Suite: "leaf"}, {Unit: "u"}}},
			{ID: "leaf", Members: []types.MemberConfig{{Unit: "u"}}},
		},
		Units: []types.UnitConfig{{ID: "u", Kind: types.UnitKindSleep}},
	}

	// "root" is not declared as root and there are two suites.
	_, err := Build(cfg, "", noopFactory())
	require.Error(t, err)

	root, err := Build(cfg, "root", noopFactory())
	require.NoError(t, err)
	assert.Equal(t, 3, root.CountUnits())
	assert.NotSame(t, root.Children[0], root.Children[1])
}

func TestBuildFactoryError(t *testing.T) {
	cfg, err := Load(writePlan(t, validPlan))
	require.NoError(t, err)

	_, err = Build(cfg, "", UnitFactoryFunc(func(unit types.UnitConfig) (types.UnitFunc, error) {
		if unit.ID == "wait" {
			return nil, assert.AnError
		}
		return func(ctx context.Context) error { return nil }, nil
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `building unit "wait"`)
	assert.ErrorIs(t, err, assert.AnError)
}
