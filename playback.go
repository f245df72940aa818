package realtime

import (
	"context"
	"errors"
	"sync"

	"github.com/bt-bridge/realtime-voice/shared"
	"go.uber.org/zap"
)

// Player plays one PCM16 buffer and returns when it has finished.
type Player interface {
	Play(ctx context.Context, pcm []byte) error
}

// PlaybackQueue plays buffers strictly in arrival order, one at a time. A
// drain goroutine runs while the queue is non-empty and exits when it runs
// dry; the next Push starts a new one.
type PlaybackQueue struct {
	logger shared.LoggerAdapter
	player Player

	mu      sync.Mutex
	items   [][]byte
	playing bool
	closed  bool
	wg      sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

func NewPlaybackQueue(logger shared.LoggerAdapter, player Player) *PlaybackQueue {
	ctx, cancel := context.WithCancel(context.Background())
	return &PlaybackQueue{
		logger: logger,
		player: player,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (q *PlaybackQueue) Push(pcm []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, pcm)
	if q.playing {
		return
	}
	q.playing = true
	q.wg.Add(1)
	go q.drain()
}

func (q *PlaybackQueue) drain() {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		if len(q.items) == 0 || q.closed {
			q.playing = false
			q.mu.Unlock()
			return
		}
		buf := q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]
		q.mu.Unlock()

		if err := q.player.Play(q.ctx, buf); err != nil {
			if errors.Is(err, context.Canceled) {
				continue
			}
			// Unplayable buffers count as played.
			q.logger.Error("playing audio buffer", err, zap.Int("bytes", len(buf)))
		}
	}
}

// Len is the number of buffers waiting, excluding the one playing.
func (q *PlaybackQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *PlaybackQueue) Playing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playing
}

// Close drops pending buffers, interrupts the current one and waits for the
// drain goroutine to exit.
func (q *PlaybackQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.mu.Unlock()
	q.cancel()
	q.wg.Wait()
}
