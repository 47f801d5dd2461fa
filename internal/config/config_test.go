package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromDefaults(t *testing.T) {
	cfg, err := LoadConfigFrom(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, time.Hour, cfg.Game.DepositCooldown)
	assert.EqualValues(t, 48, cfg.Game.MaxDepositsPerGame)
	assert.Equal(t, "relative", cfg.Game.Multiplier.Policy)
	assert.Equal(t, 5.0, cfg.Game.Multiplier.High)
	assert.EqualValues(t, 6, cfg.Chain.TokenDecimals)
	assert.Equal(t, 5, cfg.Chain.VerifyAttempts)
}

func TestLoadConfigFromFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := `
game:
  deposit_cooldown: 1m
  max_deposits_per_game: 10
  multiplier:
    policy: tiered
    tiers:
      - { max_length: 3, multiplier: 4 }
database:
  dsn: "postgres://from-file/db"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))
	t.Setenv("DATABASE_DSN", "postgres://from-env/db")

	cfg, err := LoadConfigFrom(dir)
	require.NoError(t, err)

	assert.Equal(t, time.Minute, cfg.Game.DepositCooldown)
	assert.EqualValues(t, 10, cfg.Game.MaxDepositsPerGame)
	assert.Equal(t, "tiered", cfg.Game.Multiplier.Policy)
	require.Len(t, cfg.Game.Multiplier.Tiers, 1)
	assert.Equal(t, 4.0, cfg.Game.Multiplier.Tiers[0].Multiplier)
	assert.Equal(t, "postgres://from-env/db", cfg.Database.DSN)
}

func TestValidateRejectsUnknownPolicy(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("game:\n  multiplier:\n    policy: linear\n"), 0o600))

	_, err := LoadConfigFrom(dir)
	require.Error(t, err)
}
