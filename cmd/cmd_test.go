package cmd

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunReplaysReport(t *testing.T) {
	report, err := filepath.Abs(filepath.Join("..", "report", "testdata", "nightly.yml"))
	require.NoError(t, err)

	t.Setenv("PASSLOG_STORAGE_PATH", filepath.Join(t.TempDir(), "data", "passlog.db"))
	t.Chdir(t.TempDir())

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"run", report})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, Execute())
	assert.Contains(t, out.String(), "→ checkout")
	assert.Contains(t, out.String(), "Status: finished | Result: failed")
	assert.Contains(t, out.String(), "Cases: 3 | Log lines: 3")
}

func TestRunRequiresReport(t *testing.T) {
	rootCmd.SetArgs([]string{"run"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	assert.Error(t, Execute())
}
