package parlance

import (
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []map[string]interface{}
	err  error
}

func (r *recordingSender) sendEvent(msg map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recordingSender) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.sent))
	for i, m := range r.sent {
		out[i], _ = m["type"].(string)
	}
	return out
}

func (r *recordingSender) message(i int) map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent[i]
}

func TestFinalizeTurnNoAudioIsNoop(t *testing.T) {
	sender := &recordingSender{}
	tc := newTurnCoordinator(sender, 3200, newTestLogger())

	require.NoError(t, tc.FinalizeTurn())
	assert.Empty(t, sender.types())
}

func TestFinalizeTurnPadsShortAudio(t *testing.T) {
	sender := &recordingSender{}
	tc := newTurnCoordinator(sender, 3200, newTestLogger())

	tc.NoteAudioAppended(600)
	require.NoError(t, tc.FinalizeTurn())

	types := sender.types()
	require.Equal(t, []string{
		eventTypeInputAudioBufferAppend,
		eventTypeInputAudioBufferCommit,
		eventTypeInputAudioBufferClear,
		eventTypeResponseCreate,
	}, types)

	// The padding append carries exactly the missing bytes of silence.
	encoded, ok := sender.message(0)["audio"].(string)
	require.True(t, ok)
	pcm, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	assert.Len(t, pcm, 2600)
	for _, b := range pcm {
		require.Zero(t, b)
	}
}

func TestFinalizeTurnSkipsPaddingWhenEnoughAudio(t *testing.T) {
	sender := &recordingSender{}
	tc := newTurnCoordinator(sender, 3200, newTestLogger())

	tc.NoteAudioAppended(4000)
	require.NoError(t, tc.FinalizeTurn())

	assert.Equal(t, []string{
		eventTypeInputAudioBufferCommit,
		eventTypeInputAudioBufferClear,
		eventTypeResponseCreate,
	}, sender.types())
	assert.Zero(t, tc.PendingBytes())
}

func TestRequestResponseAtMostOneInFlight(t *testing.T) {
	sender := &recordingSender{}
	tc := newTurnCoordinator(sender, 3200, newTestLogger())

	tc.RequestResponse()
	assert.True(t, tc.ResponseActive())

	// Requests while a response streams stay pending; no duplicate send.
	tc.RequestResponse()
	tc.RequestResponse()
	assert.Equal(t, []string{eventTypeResponseCreate}, sender.types())

	// Completion issues the coalesced pending request exactly once.
	tc.CompleteResponse()
	assert.Equal(t, []string{eventTypeResponseCreate, eventTypeResponseCreate}, sender.types())

	tc.CompleteResponse()
	assert.Equal(t, []string{eventTypeResponseCreate, eventTypeResponseCreate}, sender.types())
	assert.False(t, tc.ResponseActive())
}

func TestRequestResponseSendFailureClearsActive(t *testing.T) {
	sender := &recordingSender{err: ErrNotConnected}
	tc := newTurnCoordinator(sender, 3200, newTestLogger())

	tc.RequestResponse()
	assert.False(t, tc.ResponseActive())
}

func TestFinalizeTurnResetsCounters(t *testing.T) {
	sender := &recordingSender{}
	tc := newTurnCoordinator(sender, 100, newTestLogger())

	tc.NoteAudioAppended(150)
	assert.Equal(t, int64(150), tc.PendingBytes())

	require.NoError(t, tc.FinalizeTurn())
	assert.Zero(t, tc.PendingBytes())

	// A second finalize with no new audio sends nothing further.
	before := len(sender.types())
	require.NoError(t, tc.FinalizeTurn())
	assert.Len(t, sender.types(), before)
}

func TestCompleteResponseIssuesPendingUnderContention(t *testing.T) {
	sender := &recordingSender{}
	tc := newTurnCoordinator(sender, 3200, newTestLogger())

	// A request made while a response streams stays pending.
	tc.responseActive.Store(true)
	tc.RequestResponse()
	require.Empty(t, sender.types())

	// A concurrent caller holds the gate when the response completes;
	// completion must still issue the pending request once the gate is
	// released.
	tc.gate.Lock()
	done := make(chan struct{})
	go func() {
		tc.CompleteResponse()
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	tc.gate.Unlock()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("CompleteResponse never finished")
	}
	assert.Equal(t, []string{eventTypeResponseCreate}, sender.types())
	assert.True(t, tc.ResponseActive())
}
