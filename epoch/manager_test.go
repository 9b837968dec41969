package epoch

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"

	"github.com/weirflow/weir/types"
)

func nullLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testManager(numSources int) *Manager {
	return NewManager(numSources, 0, 1, nil, Options{
		MaxRecordsBeforePersist:  1000,
		MaxIntervalBeforePersist: time.Hour,
	}, nullLogger())
}

func TestFirstCommittedEpochHasID1(t *testing.T) {
	m := testManager(1)
	h := types.NewNodeHandle(0, "src")

	ce, err := m.WaitForEpochClose(context.Background(), h, nil, false, true)
	assert.NoError(t, err)
	assert.False(t, ce.ShouldTerminate)
	assert.NotZero(t, ce.Epoch)
	assert.Equal(t, uint64(1), ce.Epoch.ID)
}

func TestEpochIDsAreStrictlyIncreasing(t *testing.T) {
	m := testManager(1)
	h := types.NewNodeHandle(0, "src")
	ctx := context.Background()

	for want := uint64(1); want <= 3; want++ {
		ce, err := m.WaitForEpochClose(ctx, h, nil, false, true)
		assert.NoError(t, err)
		assert.Equal(t, want, ce.Epoch.ID)
	}
}

func TestNonCommittingCloseKeepsEpochID(t *testing.T) {
	m := testManager(1)
	h := types.NewNodeHandle(0, "src")
	ctx := context.Background()

	ce, err := m.WaitForEpochClose(ctx, h, nil, false, false)
	assert.NoError(t, err)
	assert.Zero(t, ce.Epoch)

	ce, err = m.WaitForEpochClose(ctx, h, nil, false, true)
	assert.NoError(t, err)
	assert.Equal(t, uint64(1), ce.Epoch.ID)
}

func TestCommitRequiresOnlyOneSource(t *testing.T) {
	m := testManager(2)
	a := types.NewNodeHandle(0, "a")
	b := types.NewNodeHandle(0, "b")
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]*ClosedEpoch, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		results[0], _ = m.WaitForEpochClose(ctx, a, nil, false, true)
	}()
	go func() {
		defer wg.Done()
		results[1], _ = m.WaitForEpochClose(ctx, b, nil, false, false)
	}()
	wg.Wait()

	for _, ce := range results {
		assert.NotZero(t, ce.Epoch)
		assert.Equal(t, uint64(1), ce.Epoch.ID)
		assert.False(t, ce.ShouldTerminate)
	}
}

func TestTerminationRequiresAllSources(t *testing.T) {
	m := testManager(2)
	a := types.NewNodeHandle(0, "a")
	b := types.NewNodeHandle(0, "b")
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]*ClosedEpoch, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		results[0], _ = m.WaitForEpochClose(ctx, a, nil, true, false)
	}()
	go func() {
		defer wg.Done()
		results[1], _ = m.WaitForEpochClose(ctx, b, nil, false, false)
	}()
	wg.Wait()

	assert.False(t, results[0].ShouldTerminate)
	assert.False(t, results[1].ShouldTerminate)

	// Once both request it, the epoch terminates and commits.
	wg.Add(2)
	go func() {
		defer wg.Done()
		results[0], _ = m.WaitForEpochClose(ctx, a, nil, true, false)
	}()
	go func() {
		defer wg.Done()
		results[1], _ = m.WaitForEpochClose(ctx, b, nil, true, false)
	}()
	wg.Wait()

	assert.True(t, results[0].ShouldTerminate)
	assert.True(t, results[1].ShouldTerminate)
	assert.NotZero(t, results[0].Epoch)
	assert.Equal(t, results[0].Epoch.ID, results[1].Epoch.ID)
}

func TestSourceStatesCollectedAtClose(t *testing.T) {
	m := testManager(2)
	a := types.NewNodeHandle(0, "a")
	b := types.NewNodeHandle(0, "b")
	ctx := context.Background()
	tokenA := types.NewOpIdentifier(1, 10)
	tokenB := types.NewOpIdentifier(2, 20)

	var wg sync.WaitGroup
	var ce *ClosedEpoch
	wg.Add(2)
	go func() {
		defer wg.Done()
		ce, _ = m.WaitForEpochClose(ctx, a, &tokenA, false, true)
	}()
	go func() {
		defer wg.Done()
		_, _ = m.WaitForEpochClose(ctx, b, &tokenB, false, false)
	}()
	wg.Wait()

	assert.Equal(t, tokenA, ce.Epoch.SourceStates[a])
	assert.Equal(t, tokenB, ce.Epoch.SourceStates[b])
}

func TestWaitForEpochCloseHonorsContext(t *testing.T) {
	m := testManager(2)
	h := types.NewNodeHandle(0, "a")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		// The second source never arrives; the barrier can only be
		// left through cancellation.
		_, err := m.WaitForEpochClose(ctx, h, nil, false, true)
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("WaitForEpochClose did not return after cancellation")
	}
}
