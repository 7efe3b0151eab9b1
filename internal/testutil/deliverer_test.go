package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/habitsync/internal/mutation"
)

func TestScriptedDeliverer(t *testing.T) {
	s := NewFakeScheduler(epoch)
	d := NewScriptedDeliverer(s).FailTimes("b", 1).AlwaysFail("c")
	ctx := context.Background()

	assert.NoError(t, d.Deliver(ctx, mutation.QueuedMutation{ID: "a"}))
	assert.ErrorIs(t, d.Deliver(ctx, mutation.QueuedMutation{ID: "b"}), ErrScriptedFailure)
	s.Advance(time.Second)
	assert.NoError(t, d.Deliver(ctx, mutation.QueuedMutation{ID: "b", RetryCount: 1}))
	assert.ErrorIs(t, d.Deliver(ctx, mutation.QueuedMutation{ID: "c"}), ErrScriptedFailure)
	assert.ErrorIs(t, d.Deliver(ctx, mutation.QueuedMutation{ID: "c"}), ErrScriptedFailure)

	assert.Equal(t, []string{"a", "b", "b", "c", "c"}, d.AttemptIDs())

	attempts := d.Attempts()
	assert.Equal(t, epoch.Add(time.Second), attempts[2].At)
	assert.Equal(t, 1, attempts[2].RetryCount)
}
