package testutil

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

// StepClock is a mock clock announcing every After call, so a test advances
// time only once the code under test is actually waiting
type StepClock struct {
	*clock.Mock
	waits chan time.Duration
}

func NewStepClock() *StepClock {
	return &StepClock{Mock: clock.NewMock(), waits: make(chan time.Duration, 64)}
}

func (c *StepClock) After(d time.Duration) <-chan time.Time {
	ch := c.Mock.After(d)
	c.waits <- d
	return ch
}

// AwaitWait blocks until something waits for exactly d, skipping waits of
// any other length
func (c *StepClock) AwaitWait(t testing.TB, d time.Duration) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case got := <-c.waits:
			if got == d {
				return
			}
		case <-deadline:
			t.Fatalf("nothing waited for %s", d)
		}
	}
}
