// Package discord provides an [audio.Device] that listens to a Discord voice
// channel through the bwmarrin/discordgo library.
//
// The bot joins muted. Incoming Opus packets are demuxed by SSRC, decoded
// per speaker, mixed on a 20 ms clock and converted to the pipeline's mono
// 16 kHz frames, so the channel looks like one more microphone to the
// capture worker. The mix clock keeps running while nobody talks, which
// keeps window timing and silence detection intact.
package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/ElKroko/DISCORD-SUBTITLES/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Device = (*Device)(nil)

// Option configures a Device.
type Option func(*Device)

// WithFormat sets the frame format handed to the capture worker. Defaults
// to 16000 Hz and 1024 samples.
func WithFormat(sampleRate, frameSize int) Option {
	return func(d *Device) {
		d.sampleRate = sampleRate
		d.frameSize = frameSize
	}
}

// Device is one voice channel of one guild. It requires an open
// *discordgo.Session owned by the caller.
//
// Device is safe for concurrent use.
type Device struct {
	session    *discordgo.Session
	guildID    string
	channelID  string
	sampleRate int
	frameSize  int
}

// New returns a Device for the given voice channel.
func New(session *discordgo.Session, guildID, channelID string, opts ...Option) *Device {
	d := &Device{
		session:    session,
		guildID:    guildID,
		channelID:  channelID,
		sampleRate: audio.DefaultSampleRate,
		frameSize:  audio.DefaultFrameSize,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Name implements [audio.Device].
func (d *Device) Name() string { return d.guildID + "/" + d.channelID }

// Open joins the voice channel. The ctx governs the join only; the returned
// source lives until Close or until the voice connection drops.
func (d *Device) Open(ctx context.Context) (audio.Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// mute=true: the bot only listens. deaf=false: it must receive audio.
	vc, err := d.session.ChannelVoiceJoin(d.guildID, d.channelID, true, false)
	if err != nil {
		return nil, &audio.DeviceError{Device: d.Name(), Op: "join", Err: fmt.Errorf("discord: %w", err)}
	}

	src := newSource(vc, d.guildID, d.sampleRate, d.frameSize)
	src.removeHandler = d.session.AddHandler(src.handleVoiceStateUpdate)
	src.start()
	return src, nil
}
