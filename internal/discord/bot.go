// Package discord provides the Discord bot layer of the subtitles service.
// It owns the discordgo.Session lifecycle shared by every voice channel
// source on the same token, hands out voice capture devices, and routes the
// /subtitles slash command.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	discordaudio "github.com/ElKroko/DISCORD-SUBTITLES/pkg/audio/discord"
)

// Config holds Discord bot configuration.
type Config struct {
	// Token is the bot token without the "Bot " prefix.
	Token string

	// OperatorRoleID is the role allowed to run state-changing commands.
	// Empty allows every guild member.
	OperatorRoleID string
}

// Bot owns the Discord gateway connection and routes interactions
// to registered command handlers.
type Bot struct {
	mu       sync.Mutex
	session  *discordgo.Session
	router   *CommandRouter
	perms    *PermissionChecker
	guilds   map[string]struct{}
	commands map[string][]*discordgo.ApplicationCommand // guild → registered

	removeHandler func()
	closeOnce     sync.Once
}

// New creates a Bot, connects to Discord, and registers the interaction handler.
func New(_ context.Context, cfg Config) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates

	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("discord: open session: %w", err)
	}

	b := &Bot{
		session:  session,
		router:   NewCommandRouter(),
		perms:    NewPermissionChecker(cfg.OperatorRoleID),
		guilds:   make(map[string]struct{}),
		commands: make(map[string][]*discordgo.ApplicationCommand),
	}
	b.removeHandler = session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		b.router.Handle(s, i)
	})
	return b, nil
}

// Device returns a capture device for a voice channel of guildID. Commands
// are registered in every guild a device was requested for.
func (b *Bot) Device(guildID, channelID string, opts ...discordaudio.Option) *discordaudio.Device {
	b.mu.Lock()
	b.guilds[guildID] = struct{}{}
	b.mu.Unlock()
	return discordaudio.New(b.session, guildID, channelID, opts...)
}

// Session returns the underlying discordgo session.
func (b *Bot) Session() *discordgo.Session {
	return b.session
}

// Router returns the command router for registering handlers.
func (b *Bot) Router() *CommandRouter {
	return b.router
}

// Permissions returns the permission checker.
func (b *Bot) Permissions() *PermissionChecker {
	return b.perms
}

// Healthy reports whether the gateway connection is up.
func (b *Bot) Healthy() bool {
	return b.session.DataReady
}

// Run registers slash commands in every known guild and blocks until ctx is
// cancelled. A failed registration is logged; capture keeps working without
// commands.
func (b *Bot) Run(ctx context.Context) error {
	appID := b.session.State.User.ID
	cmds := b.router.ApplicationCommands()

	b.mu.Lock()
	guilds := make([]string, 0, len(b.guilds))
	for g := range b.guilds {
		guilds = append(guilds, g)
	}
	b.mu.Unlock()

	if len(cmds) > 0 {
		for _, guildID := range guilds {
			registered, err := b.session.ApplicationCommandBulkOverwrite(appID, guildID, cmds)
			if err != nil {
				slog.Warn("discord: failed to register commands", "guild", guildID, "err", err)
				continue
			}
			b.mu.Lock()
			b.commands[guildID] = registered
			b.mu.Unlock()
			slog.Info("discord commands registered", "guild", guildID, "count", len(registered))
		}
	}

	<-ctx.Done()
	return nil
}

// Close unregisters commands and disconnects from Discord. Voice devices
// must be closed first.
func (b *Bot) Close() error {
	var closeErr error
	b.closeOnce.Do(func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		if b.removeHandler != nil {
			b.removeHandler()
		}
		if b.session.State != nil && b.session.State.User != nil {
			appID := b.session.State.User.ID
			for guildID, cmds := range b.commands {
				for _, cmd := range cmds {
					if err := b.session.ApplicationCommandDelete(appID, guildID, cmd.ID); err != nil {
						slog.Warn("discord: failed to delete command", "name", cmd.Name, "err", err)
					}
				}
			}
		}

		if err := b.session.Close(); err != nil {
			closeErr = fmt.Errorf("discord: close session: %w", err)
		}
		slog.Info("discord bot closed")
	})
	return closeErr
}
