package audio

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/bt-bridge/realtime-voice/shared"
	"github.com/bt-bridge/realtime-voice/tools"
	"github.com/hraban/opus"
	"github.com/pion/mediadevices"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"go.uber.org/zap"
)

func StreamLocalAudio(ctx context.Context, logger shared.LoggerAdapter, track *webrtc.TrackLocalStaticSample, mediaTrack mediadevices.Track, frameDuration time.Duration) {
	reader, err := mediaTrack.NewEncodedReader(track.Codec().MimeType)
	if err != nil {
		logger.Error("creating media track reader", err)
		return
	}
	defer func() { _ = reader.Close() }()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		buf, release, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			logger.Error("reading from media track", err)
			continue
		}
		if buf.Samples == 0 {
			release()
			continue
		}
		err = track.WriteSample(media.Sample{
			Data:     buf.Data,
			Duration: frameDuration,
		})
		release()
		if err != nil {
			if errors.Is(err, io.ErrClosedPipe) {
				return
			}
			logger.Error("writing sample to track", err)
		}
	}
}

// PlayRemoteAudio decodes the assistant's opus track and streams it to out
// until the track ends or ctx is done.
func PlayRemoteAudio(ctx context.Context, logger shared.LoggerAdapter, track *webrtc.TrackRemote, out *Output, ringBufferSeconds int) {
	codec := track.Codec()
	logger.Info("playing remote audio",
		zap.String("codec", codec.MimeType),
		zap.Uint32("clockRate", codec.ClockRate),
		zap.Int("sampleRate", out.SampleRate()),
		zap.Int("channels", out.Channels()),
	)
	decoder, err := opus.NewDecoder(out.SampleRate(), out.Channels())
	if err != nil {
		logger.Error("creating Opus decoder", err)
		return
	}

	audioBuffer := tools.NewAudioBuffer(ringBufferSeconds * out.SampleRate() * out.Channels() * 2)
	defer func() { _ = audioBuffer.Close() }()
	// 120ms is the longest opus frame.
	pcm := make([]int16, tools.FrameSamples(120*time.Millisecond, out.SampleRate(), out.Channels()))
	var pcmBytes []byte

	player := out.Stream(audioBuffer)
	defer func() { _ = player.Close() }()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		rtp, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Error("reading RTP packet", err)
			}
			return
		}
		if len(rtp.Payload) == 0 {
			continue
		}
		n, err := decoder.Decode(rtp.Payload, pcm)
		if err != nil {
			logger.Error("decoding Opus", err)
			continue
		}
		pcmBytes = tools.PCM16Bytes(pcmBytes, pcm[:n*out.Channels()])
		if dropped := audioBuffer.Write(pcmBytes); dropped > 0 {
			logger.Warn("audio buffer dropped data", zap.Int("droppedBytes", dropped))
		}
	}
}
