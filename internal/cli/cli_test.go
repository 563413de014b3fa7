package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"compensation-engine/internal/apperr"
	"compensation-engine/internal/rewards"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func useSQLite(t *testing.T) {
	t.Helper()
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_NAME", "file:"+t.Name()+"?mode=memory&cache=shared")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("PLAN_PATH", "")
}

func TestPeriodDefaultsToPreviousMonth(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.Flags().Int(monthFlagName, 0, "")
	cmd.Flags().Int(yearFlagName, 0, "")

	p, err := period(cmd, time.Date(2025, time.January, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, rewards.Period{Month: 12, Year: 2024}, p)

	require.NoError(t, cmd.Flags().Set(monthFlagName, "13"))
	_, err = period(cmd, time.Now())
	assert.Error(t, err)
}

func TestPlanValidatePrintsDefault(t *testing.T) {
	t.Setenv("PLAN_PATH", "")
	out, err := run(t, "plan", "validate")
	require.NoError(t, err)

	var printed map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &printed))
	assert.NotEmpty(t, printed["version"])
}

func TestPlanValidateRejectsBrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: \"\"\nlevels: []\n"), 0o600))

	_, err := run(t, "plan", "validate", path)
	assert.Error(t, err)
}

func TestShowWalletOfUnknownUser(t *testing.T) {
	useSQLite(t)
	_, err := run(t, "show", "wallet", "42")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRankAssignNeedsActor(t *testing.T) {
	useSQLite(t)
	_, err := run(t, "ranks", "assign", "1", "GOLD")
	assert.Error(t, err)
}

func TestInvalidIDIsRejected(t *testing.T) {
	_, err := run(t, "income", "approve", "abc")
	assert.Error(t, err)
}
