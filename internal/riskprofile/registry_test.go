package riskprofile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

const profilesYAML = `profiles:
  default:
    description: balanced
    limits:
      max_positions: 5
      max_risk_per_trade: 10000
      max_daily_loss: 5000
      stop_loss_pct: 0.05
      take_profit_pct: 0.10
      max_drawdown_pct: 0.15
  conservative:
    limits:
      max_positions: 3
      max_risk_per_trade: 2500
      max_daily_loss: 1500
      stop_loss_pct: 0.03
      take_profit_pct: 0.06
      max_drawdown_pct: 0.08
`

func writeProfiles(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "risk_profiles.yaml")
	assert.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestNewRegistryLoadsProfiles(t *testing.T) {
	r, err := NewRegistry(writeProfiles(t, profilesYAML))
	assert.NoError(t, err)

	snap := r.Snapshot()
	assert.Equal(t, int64(1), snap.Version)
	assert.Len(t, snap.Profiles, 2)

	p, ok := r.Profile("default")
	assert.True(t, ok)
	assert.Equal(t, "default", p.Name)
	assert.Equal(t, "balanced", p.Description)
	assert.Equal(t, 5, p.Limits.MaxPositions)
	assert.InDelta(t, 0.05, p.Limits.StopLossPct, 1e-9)
}

func TestRegistryLimitsLookup(t *testing.T) {
	r, err := NewRegistry(writeProfiles(t, profilesYAML))
	assert.NoError(t, err)

	limits, err := r.Limits("conservative")
	assert.NoError(t, err)
	assert.Equal(t, 3, limits.MaxPositions)
	assert.InDelta(t, 1500, limits.MaxDailyLoss, 1e-9)

	_, err = r.Limits("nope")
	assert.Error(t, err)
}

func TestNewRegistryRejectsBadInput(t *testing.T) {
	t.Run("empty path", func(t *testing.T) {
		_, err := NewRegistry("  ")
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := NewRegistry(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("no profiles", func(t *testing.T) {
		_, err := NewRegistry(writeProfiles(t, "profiles: {}\n"))
		assert.Error(t, err)
	})

	t.Run("unknown top-level keys", func(t *testing.T) {
		_, err := NewRegistry(writeProfiles(t, "porfiles:\n  a: {}\n"))
		assert.Error(t, err)
	})

	t.Run("schema violation", func(t *testing.T) {
		_, err := NewRegistry(writeProfiles(t, `profiles:
  broken:
    limits:
      max_positions: 0
      max_risk_per_trade: 100
      max_daily_loss: 100
      stop_loss_pct: 0.05
      take_profit_pct: 0.10
      max_drawdown_pct: 0.15
`))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "broken")
	})

	t.Run("stop loss out of bounds", func(t *testing.T) {
		_, err := NewRegistry(writeProfiles(t, `profiles:
  broken:
    limits:
      max_positions: 2
      max_risk_per_trade: 100
      max_daily_loss: 100
      stop_loss_pct: 1.5
      take_profit_pct: 0.10
      max_drawdown_pct: 0.15
`))
		assert.Error(t, err)
	})
}

func TestRegistryReloadKeepsPreviousSetOnFailure(t *testing.T) {
	path := writeProfiles(t, profilesYAML)
	r, err := NewRegistry(path)
	assert.NoError(t, err)

	assert.NoError(t, os.WriteFile(path, []byte("profiles: {}\n"), 0o644))
	assert.Error(t, r.reload())

	// The previous snapshot is still served.
	limits, err := r.Limits("default")
	assert.NoError(t, err)
	assert.Equal(t, 5, limits.MaxPositions)
	assert.Equal(t, int64(1), r.Snapshot().Version)
}

func TestRegistryReloadBumpsVersion(t *testing.T) {
	path := writeProfiles(t, profilesYAML)
	r, err := NewRegistry(path)
	assert.NoError(t, err)

	updated := `profiles:
  default:
    limits:
      max_positions: 9
      max_risk_per_trade: 10000
      max_daily_loss: 5000
      stop_loss_pct: 0.05
      take_profit_pct: 0.10
      max_drawdown_pct: 0.15
`
	assert.NoError(t, os.WriteFile(path, []byte(updated), 0o644))
	assert.NoError(t, r.reload())

	snap := r.Snapshot()
	assert.Equal(t, int64(2), snap.Version)
	assert.Len(t, snap.Profiles, 1)
	assert.Equal(t, 9, snap.Profiles["default"].Limits.MaxPositions)
}

func TestRegistrySnapshotIsACopy(t *testing.T) {
	r, err := NewRegistry(writeProfiles(t, profilesYAML))
	assert.NoError(t, err)

	snap := r.Snapshot()
	delete(snap.Profiles, "default")

	_, ok := r.Profile("default")
	assert.True(t, ok)
}
