package source

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veldra-pool/reservegrid/internal/protocol"
)

// TestStreamingSourceNoBridgeBlocksUntilContextDone exercises the reconnect
// loop against an address nothing listens on: NextTemplate blocks (it is
// event-driven, not polling) until the caller's context expires, at which
// point it returns the context's error rather than hanging forever.
func TestStreamingSourceNoBridgeBlocksUntilContextDone(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	s := NewStreamingSource(ctx, "127.0.0.1:1")
	tpl, err := s.NextTemplate(ctx)
	require.Error(t, err)
	assert.Nil(t, tpl)
}

// TestStreamingSourceDedupBySeenCache exercises the LRU guard directly:
// pushing the same id twice into the seen cache must only admit it once.
func TestStreamingSourceDedupBySeenCache(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewStreamingSource(ctx, "127.0.0.1:1")
	var tpl protocol.TemplatePropose
	tpl.ID = 42

	admitted := !s.seen.Contains(tpl.ID)
	s.seen.Add(tpl.ID)
	admittedAgain := !s.seen.Contains(tpl.ID)

	assert.True(t, admitted)
	assert.False(t, admittedAgain)
}
