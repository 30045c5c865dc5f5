package handler

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// DiscordBot owns the gateway session that feeds LookupHandler.
type DiscordBot struct {
	session *discordgo.Session
	handler *LookupHandler
	guildID string
	logger  *zap.Logger
}

// NewDiscordBot prepares a session for token. An empty guildID registers the
// commands globally.
func NewDiscordBot(token, guildID string, handler *LookupHandler, logger *zap.Logger) (*DiscordBot, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds

	return &DiscordBot{
		session: session,
		handler: handler,
		guildID: guildID,
		logger:  logger.Named("DiscordBot"),
	}, nil
}

// Start opens the gateway connection and overwrites the registered commands.
func (b *DiscordBot) Start() error {
	b.session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		b.logger.Info("discord session ready", zap.String("user", r.User.Username))
	})
	b.session.AddHandler(b.handler.HandleInteraction)

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}

	registered, err := b.session.ApplicationCommandBulkOverwrite(b.session.State.User.ID, b.guildID, Commands())
	if err != nil {
		b.session.Close()
		return fmt.Errorf("failed to register commands: %w", err)
	}

	b.logger.Info("slash commands registered", zap.Int("count", len(registered)), zap.String("guild_id", b.guildID))
	return nil
}

func (b *DiscordBot) Stop() error {
	return b.session.Close()
}
