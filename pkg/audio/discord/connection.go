package discord

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/ElKroko/DISCORD-SUBTITLES/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Source = (*source)(nil)

const (
	frameChannelBuffer = 64

	// maxPendingFrames bounds the per-speaker backlog waiting for the mix
	// clock. Older audio is discarded first.
	maxPendingFrames = 10
)

type decoder interface {
	decode(opus []byte) ([]byte, error)
}

// source mixes every speaker of a voice connection into one mono stream.
//
// source is safe for concurrent use.
type source struct {
	vc      *discordgo.VoiceConnection
	packets <-chan *discordgo.Packet
	guildID string

	newDecoder func() (decoder, error)
	mixEvery   time.Duration

	conv    audio.FormatConverter
	rechunk *audio.Rechunker
	frames  chan audio.AudioFrame

	mu       sync.Mutex
	pending  map[uint32][]byte // 48 kHz stereo PCM per SSRC
	speakers map[uint32]bool

	done      chan struct{}
	ended     chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	removeHandler func()

	// disconnectVC leaves the voice channel. Defaults to vc.Disconnect;
	// overridden in tests.
	disconnectVC func() error
}

func newSource(vc *discordgo.VoiceConnection, guildID string, sampleRate, frameSize int) *source {
	return &source{
		vc:           vc,
		packets:      vc.OpusRecv,
		guildID:      guildID,
		newDecoder:   func() (decoder, error) { return newOpusDecoder() },
		mixEvery:     opusFrameSizeMs * time.Millisecond,
		conv:         audio.FormatConverter{Target: audio.Format{SampleRate: sampleRate, Channels: 1}},
		rechunk:      audio.NewRechunker(frameSize, sampleRate),
		frames:       make(chan audio.AudioFrame, frameChannelBuffer),
		pending:      make(map[uint32][]byte),
		speakers:     make(map[uint32]bool),
		done:         make(chan struct{}),
		ended:        make(chan struct{}),
		disconnectVC: vc.Disconnect,
	}
}

func (s *source) start() {
	s.wg.Add(2)
	go s.recvLoop()
	go s.mixLoop()
}

// Read returns the next mixed frame. It returns io.EOF once the voice
// connection stopped delivering packets and audio.ErrClosed after Close.
func (s *source) Read(ctx context.Context) (audio.AudioFrame, error) {
	select {
	case f, ok := <-s.frames:
		if !ok {
			select {
			case <-s.done:
				return audio.AudioFrame{}, audio.ErrClosed
			default:
				return audio.AudioFrame{}, io.EOF
			}
		}
		return f, nil
	case <-s.done:
		return audio.AudioFrame{}, audio.ErrClosed
	case <-ctx.Done():
		return audio.AudioFrame{}, ctx.Err()
	}
}

// Close leaves the voice channel and stops the background goroutines. It is
// safe to call more than once; later calls return nil.
func (s *source) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if s.removeHandler != nil {
			s.removeHandler()
		}
		if s.disconnectVC != nil {
			err = s.disconnectVC()
		}
		s.wg.Wait()
	})
	return err
}

// recvLoop decodes packets per SSRC into the pending buffers.
func (s *source) recvLoop() {
	defer s.wg.Done()
	defer close(s.ended)

	decoders := make(map[uint32]decoder)
	for {
		select {
		case <-s.done:
			return
		case pkt, ok := <-s.packets:
			if !ok {
				return
			}
			if pkt == nil {
				continue
			}

			dec, exists := decoders[pkt.SSRC]
			if !exists {
				var err error
				dec, err = s.newDecoder()
				if err != nil {
					slog.Error("discord: failed to create opus decoder", "ssrc", pkt.SSRC, "err", err)
					continue
				}
				decoders[pkt.SSRC] = dec
				slog.Debug("discord: new speaker", "guild", s.guildID, "ssrc", pkt.SSRC)
			}

			pcm, err := dec.decode(pkt.Opus)
			if err != nil {
				slog.Warn("discord: opus decode error", "ssrc", pkt.SSRC, "err", err)
				continue
			}
			s.enqueue(pkt.SSRC, pcm)
		}
	}
}

func (s *source) enqueue(ssrc uint32, pcm []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := append(s.pending[ssrc], pcm...)
	if limit := maxPendingFrames * opusFrameBytes; len(buf) > limit {
		buf = buf[len(buf)-limit:]
	}
	s.pending[ssrc] = buf
	s.speakers[ssrc] = true
}

// mixLoop takes one 20 ms frame from every speaker per tick, sums them and
// emits the result as pipeline frames. Ticks without speakers emit silence.
func (s *source) mixLoop() {
	defer s.wg.Done()
	defer close(s.frames)

	ticker := time.NewTicker(s.mixEvery)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-s.ended:
			return
		case <-ticker.C:
		}

		mixed := s.mix()
		out := s.conv.Convert(audio.AudioFrame{Data: mixed, SampleRate: opusSampleRate, Channels: opusChannels})
		for _, f := range s.rechunk.Push(out.Data) {
			select {
			case s.frames <- f:
			case <-s.done:
				return
			default:
				slog.Debug("discord: reader too slow, dropping frame", "guild", s.guildID)
			}
		}
	}
}

func (s *source) mix() []byte {
	out := make([]byte, opusFrameBytes)
	s.mu.Lock()
	defer s.mu.Unlock()
	for ssrc, buf := range s.pending {
		if len(buf) < opusFrameBytes {
			continue
		}
		audio.MixInto(out, buf[:opusFrameBytes])
		s.pending[ssrc] = buf[opusFrameBytes:]
	}
	return out
}

// Speakers returns how many distinct SSRCs have sent audio.
func (s *source) Speakers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.speakers)
}

// handleVoiceStateUpdate logs users joining and leaving the channel.
func (s *source) handleVoiceStateUpdate(_ *discordgo.Session, vsu *discordgo.VoiceStateUpdate) {
	if vsu.GuildID != s.guildID {
		return
	}
	channelID := s.vc.ChannelID

	username := ""
	if vsu.Member != nil && vsu.Member.User != nil {
		username = vsu.Member.User.Username
	}

	switch {
	case vsu.BeforeUpdate != nil && vsu.BeforeUpdate.ChannelID == channelID && vsu.ChannelID != channelID:
		slog.Info("discord: participant left", "guild", s.guildID, "user", vsu.UserID, "username", username)
	case vsu.ChannelID == channelID && (vsu.BeforeUpdate == nil || vsu.BeforeUpdate.ChannelID != channelID):
		slog.Info("discord: participant joined", "guild", s.guildID, "user", vsu.UserID, "username", username)
	}
}
