package manifest

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *Manifest {
	t.Helper()
	m, err := Open(filepath.Join(t.TempDir(), "data", "manifest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestRunLifecycle(t *testing.T) {
	m := openTest(t)

	id, err := m.BeginRun("viewsheds")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	status, err := m.RunStatus(id)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, status)

	require.NoError(t, m.FinishRun(id, StatusCompleted))
	status, err = m.RunStatus(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, status)
}

func TestRecordUnitOutcomes(t *testing.T) {
	m := openTest(t)

	id, err := m.BeginRun("viewsheds")
	require.NoError(t, err)

	require.NoError(t, m.RecordUnit(id, "gid_1", nil))
	require.NoError(t, m.RecordUnit(id, "gid_2", fmt.Errorf("viewshed command failed")))
	require.NoError(t, m.RecordUnit(id, "gid_3", nil))

	failed, err := m.FailedUnits(id)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "gid_2", failed[0].Unit)
	assert.Equal(t, StatusFailed, failed[0].Status)
	assert.Contains(t, failed[0].Error, "viewshed command failed")
}

func TestRecordUnitReplacesOnRetry(t *testing.T) {
	m := openTest(t)

	id, err := m.BeginRun("merge")
	require.NoError(t, err)

	require.NoError(t, m.RecordUnit(id, "block_0_0", fmt.Errorf("transient")))
	require.NoError(t, m.RecordUnit(id, "block_0_0", nil))

	failed, err := m.FailedUnits(id)
	require.NoError(t, err)
	assert.Empty(t, failed)
}

func TestRunsAreIsolated(t *testing.T) {
	m := openTest(t)

	first, err := m.BeginRun("viewsheds")
	require.NoError(t, err)
	second, err := m.BeginRun("viewsheds")
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	require.NoError(t, m.RecordUnit(first, "gid_1", fmt.Errorf("boom")))

	failed, err := m.FailedUnits(second)
	require.NoError(t, err)
	assert.Empty(t, failed)
}
