package transport

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/soulmesh/core"
)

func TestChannelDeliversInOrder(t *testing.T) {
	ch := NewChannel(8)
	for i := 0; i < 3; i++ {
		require.NoError(t, ch.Send(core.NewDialogue(fmt.Sprintf("m%d", i))))
	}
	ch.Close()

	var got []string
	for msg := range ch.Outbound() {
		got = append(got, msg.Text)
	}
	assert.Equal(t, []string{"m0", "m1", "m2"}, got)
}

func TestChannelDropsOldestWhenFull(t *testing.T) {
	ch := NewChannel(2)
	require.NoError(t, ch.Send(core.NewDialogue("old")))
	require.NoError(t, ch.Send(core.NewDialogue("mid")))
	// Buffer full: this evicts "old" instead of blocking.
	require.NoError(t, ch.Send(core.NewDialogue("new")))
	ch.Close()

	var got []string
	for msg := range ch.Outbound() {
		got = append(got, msg.Text)
	}
	assert.Equal(t, []string{"mid", "new"}, got)
}

func TestChannelSendAfterClose(t *testing.T) {
	ch := NewChannel(2)
	require.NoError(t, ch.Close())
	assert.ErrorIs(t, ch.Send(core.NewDialogue("late")), ErrClosed)

	// Closing twice is harmless.
	require.NoError(t, ch.Close())
}

func TestFuncAdapter(t *testing.T) {
	var seen []core.OutgoingMessage
	f := Func(func(msg core.OutgoingMessage) error {
		seen = append(seen, msg)
		return nil
	})

	require.NoError(t, f.Send(core.NewDialogue("hi")))
	require.Len(t, seen, 1)
	assert.Equal(t, "hi", seen[0].Text)
}

func TestDiscard(t *testing.T) {
	assert.NoError(t, Discard.Send(core.NewDialogue("gone")))
}
