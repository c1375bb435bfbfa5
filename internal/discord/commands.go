package discord

import (
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/ElKroko/DISCORD-SUBTITLES/internal/transcribe"
)

// Controller is the pipeline surface the /subtitles command drives.
// *transcribe.Pipeline satisfies it.
type Controller interface {
	Status() []transcribe.SourceStatus
	ResetContext(source string) int
}

var subtitlesCommand = &discordgo.ApplicationCommand{
	Name:        "subtitles",
	Description: "Live subtitles",
	Options: []*discordgo.ApplicationCommandOption{
		{
			Type:        discordgo.ApplicationCommandOptionSubCommand,
			Name:        "status",
			Description: "Show per-source statistics",
		},
		{
			Type:        discordgo.ApplicationCommandOptionSubCommand,
			Name:        "reset",
			Description: "Clear the transcription context",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "source",
					Description: "Source name; every source when omitted",
				},
			},
		},
	},
}

// RegisterSubtitlesCommands wires /subtitles status and /subtitles reset to c.
// Reset is limited to operators.
func RegisterSubtitlesCommands(r *CommandRouter, c Controller, perms *PermissionChecker) {
	r.RegisterCommand("subtitles/status", subtitlesCommand, func(resp Responder, i *discordgo.InteractionCreate) {
		RespondEmbed(resp, i, StatusEmbed(c.Status()))
	})
	r.RegisterHandler("subtitles/reset", func(resp Responder, i *discordgo.InteractionCreate) {
		if !perms.IsOperator(i) {
			RespondEphemeral(resp, i, "You need the operator role to reset the context.")
			return
		}
		source := subcommandString(i, "source")
		n := c.ResetContext(source)
		switch {
		case n == 0:
			RespondError(resp, i, fmt.Errorf("no source named %q", source))
		case source == "":
			RespondEphemeral(resp, i, fmt.Sprintf("Context cleared for %d sources.", n))
		default:
			RespondEphemeral(resp, i, fmt.Sprintf("Context cleared for %s.", source))
		}
	})
}

// StatusEmbed renders one field per source.
func StatusEmbed(status []transcribe.SourceStatus) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{Title: "Subtitles"}
	if len(status) == 0 {
		embed.Description = "No sources."
		return embed
	}
	for _, s := range status {
		st := s.Stats
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name: fmt.Sprintf("%s (%s)", s.Name, s.Capture),
			Value: fmt.Sprintf("windows %d, accepted %d, skipped %d, failed %d\nsilences %d, context resets %d, dropped frames %d",
				st.Windows, st.Accepted, st.Skipped, st.Failed,
				st.SilencePeriods, st.ContextResets, st.Queue.Dropped),
		})
	}
	return embed
}

// subcommandString returns the string option name of the invoked
// subcommand, or "".
func subcommandString(i *discordgo.InteractionCreate, name string) string {
	data := i.ApplicationCommandData()
	if len(data.Options) == 0 {
		return ""
	}
	for _, opt := range data.Options[0].Options {
		if opt.Name == name && opt.Type == discordgo.ApplicationCommandOptionString {
			return opt.StringValue()
		}
	}
	return ""
}
