package wait

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPark_SignalBeforeWait(t *testing.T) {
	p := NewPark(time.Hour)
	p.Signal()
	p.Signal()

	done := make(chan struct{})
	go func() {
		p.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stored signal was lost")
	}
}

func TestPark_Timeout(t *testing.T) {
	p := NewPark(5 * time.Millisecond)
	start := time.Now()
	p.Wait()
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
}

func TestPark_WakeWaiter(t *testing.T) {
	p := NewPark(time.Hour)
	done := make(chan struct{})
	go func() {
		p.Wait()
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	p.Signal()

	assert.Eventually(t, func() bool {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, time.Second, time.Millisecond)
}

func TestByName(t *testing.T) {
	s, err := ByName("")
	require.NoError(t, err)
	assert.IsType(t, Spin{}, s)

	s, err = ByName("park")
	require.NoError(t, err)
	assert.IsType(t, &Park{}, s)

	_, err = ByName("sleep")
	assert.Error(t, err)
}
