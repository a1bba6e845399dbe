package source

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/decred/dcrd/lru"

	"github.com/veldra-pool/reservegrid/internal/protocol"
)

// StreamingChannelCapacity is the bounded buffer between the background
// reconnect/reader goroutine and NextTemplate's caller (spec.md §4.1, §5:
// "bounded channel capacity 16").
const StreamingChannelCapacity = 16

// ReconnectBackoff is how long the background reader waits before
// retrying a dropped or failed bridge connection (spec.md §4.1, §5:
// "3s reconnect backoff").
const ReconnectBackoff = 3 * time.Second

// seenCacheSize bounds the LRU guarding against a reconnecting bridge
// resending templates it already sent before the drop (spec.md §4.1).
const seenCacheSize = 256

// StreamingSource receives TemplatePropose values pushed by a bridge
// process over a persistent TCP connection, reconnecting in the
// background on any failure (spec.md §4.1's StratumTemplateSource
// equivalent).
type StreamingSource struct {
	addr string
	ch   chan protocol.TemplatePropose
	seen lru.Cache
	done chan struct{}
}

// NewStreamingSource starts the background connect/read loop against addr
// and returns immediately; the loop runs until ctx is canceled.
func NewStreamingSource(ctx context.Context, addr string) *StreamingSource {
	s := &StreamingSource{
		addr: addr,
		ch:   make(chan protocol.TemplatePropose, StreamingChannelCapacity),
		seen: lru.NewCache(seenCacheSize),
		done: make(chan struct{}),
	}
	go s.run(ctx)
	return s
}

// NextTemplate blocks until the bridge pushes a template or ctx is
// canceled (spec.md §4.1: "event-driven, no artificial sleep" — the
// manager loop simply calls this in a tight loop rather than polling on a
// timer).
func (s *StreamingSource) NextTemplate(ctx context.Context) (*protocol.TemplatePropose, error) {
	select {
	case tpl, ok := <-s.ch:
		if !ok {
			return nil, fmt.Errorf("streaming source: bridge channel closed")
		}
		return &tpl, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *StreamingSource) run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, err := net.Dial("tcp", s.addr)
		if err != nil {
			log.Warnf("streaming source: failed to connect to bridge at %s: %v", s.addr, err)
			if !sleepOrDone(ctx, ReconnectBackoff) {
				return
			}
			continue
		}
		log.Infof("streaming source: connected to bridge at %s", s.addr)
		s.readLoop(ctx, conn)
		conn.Close()

		if !sleepOrDone(ctx, ReconnectBackoff) {
			return
		}
	}
}

func (s *StreamingSource) readLoop(ctx context.Context, conn net.Conn) {
	reader := bufio.NewReader(conn)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			var tpl protocol.TemplatePropose
			if err := json.Unmarshal(line, &tpl); err != nil {
				log.Warnf("streaming source: failed to parse template from bridge: %v", err)
			} else if !s.seen.Contains(tpl.ID) {
				select {
				case s.ch <- tpl:
					s.seen.Add(tpl.ID)
				default:
					log.Warnf("streaming source: channel full, dropping template id=%d (bridge will be re-read on reconnect)", tpl.ID)
				}
			}
		}
		if err != nil {
			log.Warnf("streaming source: bridge connection ended: %v", err)
			return
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
