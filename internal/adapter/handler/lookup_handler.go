package handler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/rl1809/loadout/internal/core/domain"
	"github.com/rl1809/loadout/internal/core/service"
	"github.com/rl1809/loadout/internal/port"
)

const (
	commandBuild    = "build"
	commandAddBuild = "add_build"
	selectBuildID   = "select_build"

	maxSelectOptions   = 25
	maxOptionLabel     = 25
	maxOptionDesc      = 50
	maxEmbedTitle       = 256
	maxEmbedDescription = 4096
	maxEmbedFields      = 25
	maxEmbedFieldValue  = 1024
	maxEmbedTotal       = 6000

	embedColor         = 0x0099FF
	interactionTimeout = 3 * time.Second
)

var lookupTypes = []string{
	domain.BuildTypeFarming,
	domain.BuildTypeSoloPvP,
	domain.BuildTypeGroupPvP,
	domain.BuildTypeAvalon,
	domain.BuildTypeGanking,
	domain.BuildTypeGathering,
}

var lookupTypeNames = map[string]string{
	domain.BuildTypeFarming:   "Farming",
	domain.BuildTypeSoloPvP:   "Solo PvP",
	domain.BuildTypeGroupPvP:  "Group PvP",
	domain.BuildTypeAvalon:    "Avalon",
	domain.BuildTypeGanking:   "Ganking",
	domain.BuildTypeGathering: "Gathering",
}

// Commands returns the slash commands served by LookupHandler.
func Commands() []*discordgo.ApplicationCommand {
	typeChoices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(lookupTypes))
	for _, t := range lookupTypes {
		typeChoices = append(typeChoices, &discordgo.ApplicationCommandOptionChoice{Name: lookupTypeNames[t], Value: t})
	}

	tierChoices := make([]*discordgo.ApplicationCommandOptionChoice, 0, 5)
	for tier := 4; tier <= 8; tier++ {
		tierChoices = append(tierChoices, &discordgo.ApplicationCommandOptionChoice{Name: fmt.Sprintf("T%d", tier), Value: tier})
	}

	adminOnly := int64(discordgo.PermissionAdministrator)

	return []*discordgo.ApplicationCommand{
		{
			Name:        commandBuild,
			Description: "Get a build for an activity",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "type",
					Description: "Activity type",
					Required:    true,
					Choices:     typeChoices,
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "tier",
					Description: "Equipment tier",
					Choices:     tierChoices,
				},
			},
		},
		{
			Name:                     commandAddBuild,
			Description:              "Add a new build (administrators only)",
			DefaultMemberPermissions: &adminOnly,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "name",
					Description: "Build name",
					Required:    true,
				},
			},
		},
	}
}

// LookupHandler answers the chat commands and the build selection menu.
type LookupHandler struct {
	builds      *service.BuildService
	guard       port.InteractionGuard
	editBaseURL string
	logger      *zap.Logger
}

// NewLookupHandler creates the handler. guard may be nil, in which case
// interactions are neither deduplicated nor rate limited.
func NewLookupHandler(builds *service.BuildService, guard port.InteractionGuard, publicBaseURL string, logger *zap.Logger) *LookupHandler {
	return &LookupHandler{
		builds:      builds,
		guard:       guard,
		editBaseURL: strings.TrimRight(publicBaseURL, "/"),
		logger:      logger.Named("LookupHandler"),
	}
}

// HandleInteraction is registered on the discordgo session.
func (h *LookupHandler) HandleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), interactionTimeout)
	defer cancel()

	resp := h.Respond(ctx, i)
	if resp == nil {
		return
	}

	if err := s.InteractionRespond(i.Interaction, resp); err != nil {
		h.logger.Error("failed to respond to interaction",
			zap.String("interaction_id", i.ID),
			zap.Error(err),
		)
	}
}

// Respond computes the reply for an interaction, or nil when it must be ignored.
func (h *LookupHandler) Respond(ctx context.Context, i *discordgo.InteractionCreate) *discordgo.InteractionResponse {
	if !h.claim(ctx, i.ID) {
		return nil
	}

	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		data := i.ApplicationCommandData()
		if !h.allow(ctx, interactionUserID(i)) {
			return ephemeral("You are sending commands too fast, try again in a moment.")
		}

		switch data.Name {
		case commandBuild:
			return h.buildCommand(ctx, data)
		case commandAddBuild:
			return h.addBuildCommand(ctx, i, data)
		}

	case discordgo.InteractionMessageComponent:
		data := i.MessageComponentData()
		if data.CustomID == selectBuildID {
			return h.selectBuild(ctx, data)
		}
	}

	return nil
}

func (h *LookupHandler) buildCommand(ctx context.Context, data discordgo.ApplicationCommandInteractionData) *discordgo.InteractionResponse {
	opts := commandOptions(data.Options)

	buildType := optionString(opts["type"])
	var tier *int
	if v, ok := optionInt(opts["tier"]); ok {
		tier = &v
	}

	builds, err := h.builds.ListBuilds(ctx, domain.BuildFilter{Type: buildType, Tier: tier, NewestFirst: true})
	if err != nil {
		return ephemeral("Something went wrong while running the command.")
	}

	label := buildType + tierSuffix(tier)
	if len(builds) == 0 {
		return ephemeral(fmt.Sprintf("No builds found for %s.", label))
	}

	resp := ephemeral(fmt.Sprintf("Available builds for %s:", label))
	resp.Data.Components = []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.SelectMenu{
					MenuType:    discordgo.StringSelectMenu,
					CustomID:    selectBuildID,
					Placeholder: "Choose a build",
					Options:     selectOptions(builds),
				},
			},
		},
	}
	return resp
}

func (h *LookupHandler) addBuildCommand(ctx context.Context, i *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) *discordgo.InteractionResponse {
	if !isAdministrator(i) {
		return ephemeral("Administrator permission is required.")
	}

	name := strings.TrimSpace(optionString(commandOptions(data.Options)["name"]))
	id, err := h.builds.CreateBuild(ctx, domain.BuildFields{Name: name, Type: domain.BuildTypeCustom})
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			return ephemeral("A build needs a name.")
		}
		return ephemeral("Something went wrong while running the command.")
	}

	return ephemeral(fmt.Sprintf("Build %q created! Edit it here: %s/edit-build/%d", name, h.editBaseURL, id))
}

func (h *LookupHandler) selectBuild(ctx context.Context, data discordgo.MessageComponentInteractionData) *discordgo.InteractionResponse {
	if len(data.Values) == 0 {
		return updateMessage("Build not found.", nil)
	}

	id, err := strconv.ParseInt(data.Values[0], 10, 64)
	if err != nil {
		return updateMessage("Build not found.", nil)
	}

	snapshot, err := h.builds.LoadBuild(ctx, id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return updateMessage("Build not found.", nil)
	case err != nil:
		return updateMessage("Something went wrong while loading the build.", nil)
	}

	content := fmt.Sprintf("Build for %s%s:", snapshot.Build.Type, tierSuffix(snapshot.Build.Tier))
	return updateMessage(content, buildEmbed(snapshot, time.Now()))
}

// claim fails open when the guard is unavailable.
func (h *LookupHandler) claim(ctx context.Context, interactionID string) bool {
	if h.guard == nil {
		return true
	}

	ok, err := h.guard.ClaimInteraction(ctx, interactionID)
	if err != nil {
		h.logger.Warn("interaction guard unavailable", zap.String("interaction_id", interactionID), zap.Error(err))
		return true
	}
	if !ok {
		h.logger.Debug("duplicate interaction ignored", zap.String("interaction_id", interactionID))
	}
	return ok
}

func (h *LookupHandler) allow(ctx context.Context, userID string) bool {
	if h.guard == nil || userID == "" {
		return true
	}

	ok, err := h.guard.AllowCommand(ctx, userID)
	if err != nil {
		h.logger.Warn("rate limiter unavailable", zap.String("user_id", userID), zap.Error(err))
		return true
	}
	if !ok {
		h.logger.Info("command rate limited", zap.String("user_id", userID))
	}
	return ok
}

// --- response builders ---

func ephemeral(content string) *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	}
}

func updateMessage(content string, embed *discordgo.MessageEmbed) *discordgo.InteractionResponse {
	data := &discordgo.InteractionResponseData{
		Content:    content,
		Components: []discordgo.MessageComponent{},
	}
	if embed != nil {
		data.Embeds = []*discordgo.MessageEmbed{embed}
	}
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: data,
	}
}

func selectOptions(builds []domain.Build) []discordgo.SelectMenuOption {
	if len(builds) > maxSelectOptions {
		builds = builds[:maxSelectOptions]
	}

	options := make([]discordgo.SelectMenuOption, 0, len(builds))
	for _, b := range builds {
		desc := "No description"
		if strings.TrimSpace(b.Description) != "" {
			desc = truncate(b.Description, maxOptionDesc)
		}
		options = append(options, discordgo.SelectMenuOption{
			Label:       truncate(b.Name, maxOptionLabel),
			Value:       strconv.FormatInt(b.ID, 10),
			Description: desc,
		})
	}
	return options
}

// buildEmbed renders a build within the embed limits. Slots that no longer
// fit in the total are dropped, the last one kept is cut short.
func buildEmbed(snapshot *domain.BuildWithItems, now time.Time) *discordgo.MessageEmbed {
	b := snapshot.Build
	embed := &discordgo.MessageEmbed{
		Title:       truncate(b.Name+tierTitle(b.Tier), maxEmbedTitle),
		Description: truncate(b.Description, maxEmbedDescription),
		Color:       embedColor,
		Footer:      &discordgo.MessageEmbedFooter{Text: "Type: " + b.Type},
		Timestamp:   now.UTC().Format(time.RFC3339),
	}

	used := utf8.RuneCountInString(embed.Title) +
		utf8.RuneCountInString(embed.Description) +
		utf8.RuneCountInString(embed.Footer.Text)

	for _, slot := range domain.SortedSlots(snapshot.Items) {
		if len(embed.Fields) == maxEmbedFields {
			break
		}

		lines := make([]string, 0, len(snapshot.Items[slot]))
		for _, item := range snapshot.Items[slot] {
			lines = append(lines, itemLine(item))
		}

		name := truncate(strings.ToUpper(slot), maxEmbedTitle)
		value := truncate(strings.Join(lines, "\n"), maxEmbedFieldValue)
		if value == "" {
			value = "Not specified"
		}

		room := maxEmbedTotal - used - utf8.RuneCountInString(name)
		if room < len(truncationMark)+1 {
			break
		}
		full := utf8.RuneCountInString(value) > room
		if full {
			value = truncate(value, room)
		}

		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   name,
			Value:  value,
			Inline: true,
		})
		used += utf8.RuneCountInString(name) + utf8.RuneCountInString(value)
		if full {
			break
		}
	}

	return embed
}

func itemLine(item domain.BuildItem) string {
	var sb strings.Builder
	if item.ItemImage != "" {
		// zero-width link text keeps the image URL out of the visible line
		fmt.Fprintf(&sb, "[\u200b](%s) ", item.ItemImage)
	}
	sb.WriteString("• ")
	sb.WriteString(item.ItemName)
	if item.ItemDescription != "" {
		sb.WriteString(" - ")
		sb.WriteString(item.ItemDescription)
	}
	if item.IsAlternative {
		sb.WriteString(" (alt)")
	}
	return sb.String()
}

func tierSuffix(tier *int) string {
	if tier == nil {
		return ""
	}
	return fmt.Sprintf(" T%d", *tier)
}

func tierTitle(tier *int) string {
	if tier == nil {
		return ""
	}
	return fmt.Sprintf(" (T%d)", *tier)
}

const truncationMark = "..."

// truncate shortens s to at most limit runes, ending with "..." when cut.
func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-len(truncationMark)]) + truncationMark
}

// --- interaction helpers ---

func commandOptions(options []*discordgo.ApplicationCommandInteractionDataOption) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	m := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(options))
	for _, opt := range options {
		m[opt.Name] = opt
	}
	return m
}

func optionString(opt *discordgo.ApplicationCommandInteractionDataOption) string {
	if opt == nil {
		return ""
	}
	s, _ := opt.Value.(string)
	return s
}

// optionInt accepts the float64 the gateway decodes plus plain ints.
func optionInt(opt *discordgo.ApplicationCommandInteractionDataOption) (int, bool) {
	if opt == nil {
		return 0, false
	}
	switch v := opt.Value.(type) {
	case float64:
		return int(v), true
	case int64:
		return int(v), true
	case int:
		return v, true
	case string:
		n, err := strconv.Atoi(v)
		return n, err == nil
	}
	return 0, false
}

func interactionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

func isAdministrator(i *discordgo.InteractionCreate) bool {
	return i.Member != nil && i.Member.Permissions&discordgo.PermissionAdministrator != 0
}
