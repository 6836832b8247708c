package core

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepliesFIFO(t *testing.T) {
	pc := NewPipelineContext(NewTextInputEvent("default", "hi"), nil)
	pc.AddReply(NewDialogue("first"))
	pc.AddReply(NewControl("blink", nil))
	pc.AddReply(NewDialogue("last"))

	replies := pc.FlushReplies()
	require.Len(t, replies, 3)
	assert.Equal(t, "first", replies[0].Text)
	assert.Equal(t, OutControl, replies[1].Kind)
	assert.Equal(t, "last", replies[2].Text)

	// Flush empties the buffer.
	assert.Empty(t, pc.FlushReplies())
}

func TestRepliesCopyIsolation(t *testing.T) {
	pc := NewPipelineContext(NewTextInputEvent("default", "hi"), nil)
	pc.AddReply(NewDialogue("one"))

	snapshot := pc.Replies()
	pc.AddReply(NewDialogue("two"))
	assert.Len(t, snapshot, 1)
	assert.Len(t, pc.Replies(), 2)
}

func TestScratch(t *testing.T) {
	pc := NewPipelineContext(NewTextInputEvent("default", "hi"), nil)

	_, ok := pc.Get("missing")
	assert.False(t, ok)

	pc.Set("mood", "curious")
	v, ok := pc.Get("mood")
	require.True(t, ok)
	assert.Equal(t, "curious", v)
}

func TestAbortFlag(t *testing.T) {
	pc := NewPipelineContext(NewTextInputEvent("default", "hi"), nil)
	assert.False(t, pc.Aborted())
	pc.Abort()
	assert.True(t, pc.Aborted())
}

func TestSendNow(t *testing.T) {
	var sent []OutgoingMessage
	pc := NewPipelineContext(NewTextInputEvent("default", "hi"), func(msg OutgoingMessage) error {
		sent = append(sent, msg)
		return nil
	})

	require.NoError(t, pc.SendNow(NewStreamBegin("s1")))
	require.Len(t, sent, 1)
	assert.Equal(t, OutStreamBegin, sent[0].Kind)

	// Nil send path is a no-op, not a panic.
	bare := NewPipelineContext(NewTextInputEvent("default", "hi"), nil)
	assert.NoError(t, bare.SendNow(NewDialogue("x")))
}

func TestConcurrentReplies(t *testing.T) {
	pc := NewPipelineContext(NewTextInputEvent("default", "hi"), nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pc.AddReply(NewDialogue(fmt.Sprintf("r%d", i)))
			pc.Set(fmt.Sprintf("k%d", i), i)
		}(i)
	}
	wg.Wait()

	assert.Len(t, pc.Replies(), 20)
}
