package tradelog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/0x5487/matching-core/protocol"
	"github.com/0x5487/matching-core/wait"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execution(i int) protocol.Execution {
	sym := protocol.MustSymbol("GOOG")
	if i%2 == 1 {
		sym = protocol.MustSymbol("AAPL")
	}
	return protocol.Execution{
		ID:       uint64(i + 1),
		Buyer:    uint64(100 + i),
		Seller:   uint64(200 + i),
		Symbol:   sym,
		Quantity: protocol.Quantity(i + 1),
		Price:    protocol.Price(1000 + i),
	}
}

func readAll(t *testing.T, dir string) []protocol.Execution {
	t.Helper()
	var got []protocol.Execution
	err := Replay(dir, func(e *protocol.Execution) error {
		got = append(got, *e)
		return nil
	})
	require.NoError(t, err)
	return got
}

func TestManager_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir, WithRecordCapacity(64))
	require.NoError(t, err)

	want := make([]protocol.Execution, 0, 20)
	for i := 0; i < 20; i++ {
		e := execution(i)
		require.NoError(t, m.Append(&e))
		want = append(want, e)
	}
	require.NoError(t, m.Close())

	assert.Equal(t, want, readAll(t, dir))

	info, err := os.Stat(filepath.Join(dir, "trades_00000000.log"))
	require.NoError(t, err)
	assert.Equal(t, int64(64*protocol.RecordSize), info.Size())
}

func TestManager_Rotation(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir, WithRecordCapacity(4), WithStrategy(wait.NewPark(time.Millisecond)))
	require.NoError(t, err)

	want := make([]protocol.Execution, 0, 10)
	for i := 0; i < 10; i++ {
		e := execution(i)
		require.NoError(t, m.Append(&e))
		want = append(want, e)
	}

	// two file boundaries crossed: after record 4 and after record 8
	assert.Eventually(t, func() bool {
		return m.Rotations() == 2
	}, time.Second, time.Millisecond)
	require.NoError(t, m.Close())
	assert.Equal(t, uint64(2), m.Rotations())

	files, err := listFiles(dir)
	require.NoError(t, err)
	require.Len(t, files, 4)
	for i, f := range files {
		assert.Equal(t, uint64(i), f.seq)
	}

	assert.Equal(t, want, readAll(t, dir))
}

func TestManager_ExactBoundary(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir, WithRecordCapacity(4))
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		e := execution(i)
		require.NoError(t, m.Append(&e))
	}
	// a full file is only handed off when the next append needs room
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, uint64(0), m.Rotations())

	e := execution(4)
	require.NoError(t, m.Append(&e))
	assert.Eventually(t, func() bool {
		return m.Rotations() == 1
	}, time.Second, time.Millisecond)
	require.NoError(t, m.Close())

	assert.Len(t, readAll(t, dir), 5)
}

func TestManager_ContinuesNumbering(t *testing.T) {
	dir := t.TempDir()

	m, err := Open(dir, WithRecordCapacity(8))
	require.NoError(t, err)
	var want []protocol.Execution
	for i := 0; i < 3; i++ {
		e := execution(i)
		require.NoError(t, m.Append(&e))
		want = append(want, e)
	}
	require.NoError(t, m.Close())

	m, err = Open(dir, WithRecordCapacity(8))
	require.NoError(t, err)
	for i := 3; i < 5; i++ {
		e := execution(i)
		require.NoError(t, m.Append(&e))
		want = append(want, e)
	}
	require.NoError(t, m.Close())

	files, err := listFiles(dir)
	require.NoError(t, err)
	require.Len(t, files, 4)
	assert.Equal(t, uint64(3), files[3].seq)

	assert.Equal(t, want, readAll(t, dir))
}

func TestManager_Closed(t *testing.T) {
	m, err := Open(t.TempDir(), WithRecordCapacity(4))
	require.NoError(t, err)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	e := execution(0)
	assert.ErrorIs(t, m.Append(&e), ErrClosed)
}

func TestManager_InvalidCapacity(t *testing.T) {
	_, err := Open(t.TempDir(), WithRecordCapacity(0))
	assert.ErrorIs(t, err, ErrInvalidCapacity)
}

func TestManager_PeriodicSync(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir, WithRecordCapacity(16), WithSyncInterval(2*time.Millisecond))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		e := execution(i)
		require.NoError(t, m.Append(&e))
		time.Sleep(time.Millisecond)
	}
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, m.Close())

	assert.Len(t, readAll(t, dir), 5)
}

func TestManager_RotationRetry(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "log")
	m, err := Open(dir, WithRecordCapacity(1), WithRetryDelay(5*time.Millisecond))
	require.NoError(t, err)

	failures := testutil.ToFloat64(rotationFailuresTotal)

	// the mapped files survive the unlink, creating the next one does not
	require.NoError(t, os.RemoveAll(dir))
	for i := 0; i < 2; i++ {
		e := execution(i)
		require.NoError(t, m.Append(&e))
	}
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(rotationFailuresTotal) > failures
	}, time.Second, time.Millisecond)
	assert.Equal(t, uint64(0), m.Rotations())

	require.NoError(t, os.MkdirAll(dir, 0o755))
	assert.Eventually(t, func() bool {
		return m.Rotations() == 1
	}, time.Second, time.Millisecond)

	e := execution(2)
	require.NoError(t, m.Append(&e))
	require.NoError(t, m.Close())

	assert.Equal(t, []protocol.Execution{e}, readAll(t, dir))
}

func TestIterator_IgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "trades_00000009.log"), nil, 0o644))

	it, err := NewIterator(dir)
	require.NoError(t, err)
	defer it.Close()

	assert.False(t, it.Next())
	assert.NoError(t, it.Err())
}

func BenchmarkManager_Append(b *testing.B) {
	m, err := Open(b.TempDir(), WithRecordCapacity(1<<16))
	require.NoError(b, err)
	defer m.Close()

	e := execution(1)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e.ID = uint64(i + 1)
		if err := m.Append(&e); err != nil {
			b.Fatal(err)
		}
	}
}
