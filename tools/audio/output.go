package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ebitengine/oto/v3"
)

var ErrOddPCM = errors.New("pcm16 payload has an odd number of bytes")

// Output owns the process-wide oto context. oto allows only one context per
// process, so every speaker in the program must share this value.
type Output struct {
	ctx        *oto.Context
	sampleRate int
	channels   int
	poll       time.Duration
}

func NewOutput(sampleRate, channels int, bufferSize time.Duration) (*Output, error) {
	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   bufferSize,
	})
	if err != nil {
		return nil, fmt.Errorf("creating oto context: %w", err)
	}
	<-ready
	return &Output{
		ctx:        otoCtx,
		sampleRate: sampleRate,
		channels:   channels,
		poll:       10 * time.Millisecond,
	}, nil
}

func (o *Output) SampleRate() int { return o.sampleRate }

func (o *Output) Channels() int { return o.channels }

// Stream starts playing r and returns the player. It keeps playing until r
// returns io.EOF or the player is closed.
func (o *Output) Stream(r io.Reader) *oto.Player {
	player := o.ctx.NewPlayer(r)
	player.Play()
	return player
}

// Play plays one PCM16 buffer to completion. Cancelling ctx stops playback
// early.
func (o *Output) Play(ctx context.Context, pcm []byte) error {
	if len(pcm)%2 != 0 {
		return ErrOddPCM
	}
	if len(pcm) == 0 {
		return nil
	}
	player := o.ctx.NewPlayer(bytes.NewReader(pcm))
	defer func() { _ = player.Close() }()
	player.Play()

	ticker := time.NewTicker(o.poll)
	defer ticker.Stop()
	for player.IsPlaying() {
		select {
		case <-ctx.Done():
			player.Pause()
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return player.Err()
}
