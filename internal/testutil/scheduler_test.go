package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeScheduler_StartsAtGivenTime(t *testing.T) {
	s := NewFakeScheduler(epoch)
	assert.Equal(t, epoch, s.Now())
}

func TestFakeScheduler_AdvanceRunsDueCallbacksInOrder(t *testing.T) {
	s := NewFakeScheduler(epoch)
	var order []string

	s.AfterFunc(3*time.Second, func() { order = append(order, "c") })
	s.AfterFunc(time.Second, func() { order = append(order, "a") })
	s.AfterFunc(time.Second, func() { order = append(order, "b") })

	s.Advance(2 * time.Second)
	assert.Equal(t, []string{"a", "b"}, order)
	assert.Equal(t, epoch.Add(2*time.Second), s.Now())
	assert.Equal(t, 1, s.Pending())

	s.Advance(time.Second)
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, 0, s.Pending())
}

func TestFakeScheduler_CallbackSeesDueTime(t *testing.T) {
	s := NewFakeScheduler(epoch)
	var seen time.Time

	s.AfterFunc(1500*time.Millisecond, func() { seen = s.Now() })
	s.Advance(10 * time.Second)

	assert.Equal(t, epoch.Add(1500*time.Millisecond), seen)
	assert.Equal(t, epoch.Add(10*time.Second), s.Now())
}

func TestFakeScheduler_NestedTimersWithinOneAdvance(t *testing.T) {
	s := NewFakeScheduler(epoch)
	var fired []time.Duration

	s.AfterFunc(time.Second, func() {
		fired = append(fired, s.Now().Sub(epoch))
		s.AfterFunc(time.Second, func() {
			fired = append(fired, s.Now().Sub(epoch))
		})
	})

	s.Advance(5 * time.Second)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, fired)
}

func TestFakeScheduler_Stop(t *testing.T) {
	s := NewFakeScheduler(epoch)
	ran := false

	timer := s.AfterFunc(time.Second, func() { ran = true })
	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())

	s.Advance(time.Minute)
	assert.False(t, ran)
}

func TestFakeScheduler_NextDue(t *testing.T) {
	s := NewFakeScheduler(epoch)

	_, ok := s.NextDue()
	assert.False(t, ok)

	s.AfterFunc(5*time.Second, func() {})
	s.AfterFunc(2*time.Second, func() {})

	due, ok := s.NextDue()
	assert.True(t, ok)
	assert.Equal(t, epoch.Add(2*time.Second), due)
}
