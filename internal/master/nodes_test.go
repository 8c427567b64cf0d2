package master

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyConfigPreservesState(t *testing.T) {
	ns := newNodeSet([]NodeConfig{{"a", 2}, {"b", 2}})
	ns.addLoad("a", 1)
	ns.recordOutcome("a", ResultOK)
	ns.recordOutcome("a", ResultDataError)

	ns.applyConfig([]NodeConfig{{"a", 8}, {"c", 1}})

	a := ns.get("a")
	require.NotNil(t, a)
	assert.Equal(t, 8, a.capacity)
	assert.Equal(t, 1, a.load)
	assert.Equal(t, uint64(1), a.okCount)
	assert.Equal(t, uint64(1), a.dataCount)

	assert.Nil(t, ns.get("b"), "idle removed node should be gone")
	c := ns.get("c")
	require.NotNil(t, c)
	assert.Equal(t, 0, c.load)
}

func TestRemovedNodeDrainsBeforeDisappearing(t *testing.T) {
	ns := newNodeSet([]NodeConfig{{"a", 2}})
	ns.addLoad("a", 2)

	ns.applyConfig([]NodeConfig{})

	// Still addressable for termination bookkeeping, not selectable.
	a := ns.get("a")
	require.NotNil(t, a)
	assert.False(t, a.configured)
	assert.Empty(t, ns.configuredNames())

	ns.addLoad("a", -1)
	require.NotNil(t, ns.get("a"))
	ns.addLoad("a", -1)
	assert.Nil(t, ns.get("a"), "fully drained removed node should be reaped")
}

func TestOutcomesOnUnknownNodeIgnored(t *testing.T) {
	ns := newNodeSet([]NodeConfig{{"a", 2}})
	ns.recordOutcome("zz", ResultOK)
	ns.addLoad("zz", 1)
	assert.Zero(t, ns.snapshot()[0].OkCount)
	assert.Zero(t, ns.snapshot()[0].Load)
}

func TestConfiguredNamesSorted(t *testing.T) {
	ns := newNodeSet([]NodeConfig{{"c", 1}, {"a", 1}, {"b", 1}})
	assert.Equal(t, []string{"a", "b", "c"}, ns.configuredNames())
}

func TestSnapshotSortedAndDetached(t *testing.T) {
	ns := newNodeSet([]NodeConfig{{"b", 1}, {"a", 1}})
	snap := ns.snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "a", snap[0].Name)
	assert.Equal(t, "b", snap[1].Name)

	snap[0].Load = 99
	assert.Equal(t, 0, ns.get("a").load)
}

func TestUnknownResultKindLeavesCountersAlone(t *testing.T) {
	ns := newNodeSet([]NodeConfig{{"a", 1}})
	ns.recordOutcome("a", ResultKind("weird"))
	a := ns.get("a")
	assert.Zero(t, a.okCount)
	assert.Zero(t, a.dataCount)
	assert.Zero(t, a.crashCount)
}
