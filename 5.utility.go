package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/rest"
)

// ============================================================================
// V2 Components
// ============================================================================

const (
	ComponentTypeSection     discord.ComponentType = 9
	ComponentTypeTextDisplay discord.ComponentType = 10
	ComponentTypeThumbnail   discord.ComponentType = 11
	ComponentTypeSeparator   discord.ComponentType = 14
	ComponentTypeContainer   discord.ComponentType = 17

	MessageFlagsIsComponentsV2 discord.MessageFlags = 1 << 15
)

// UnfurledMediaItem represents an unfurled media item.
type UnfurledMediaItem struct {
	URL string `json:"url"`
}

// Thumbnail is a section accessory that displays a single image.
type Thumbnail struct {
	Media       UnfurledMediaItem `json:"media"`
	Description *string           `json:"description,omitempty"`
}

func (t Thumbnail) MarshalJSON() ([]byte, error) {
	type thumbnail Thumbnail
	return json.Marshal(struct {
		thumbnail
		Type discord.ComponentType `json:"type"`
	}{thumbnail(t), ComponentTypeThumbnail})
}

// SeparatorSpacing defines the spacing size for a separator.
type SeparatorSpacing int

const (
	SeparatorSpacingSmall SeparatorSpacing = 1
	SeparatorSpacingLarge SeparatorSpacing = 2
)

// Separator renders a divider or vertical padding.
type Separator struct {
	Divider bool             `json:"divider"`
	Spacing SeparatorSpacing `json:"spacing,omitempty"`
}

func (s Separator) MarshalJSON() ([]byte, error) {
	type separator Separator
	return json.Marshal(struct {
		separator
		Type discord.ComponentType `json:"type"`
	}{separator(s), ComponentTypeSeparator})
}

// TextDisplay is markdown text.
type TextDisplay struct {
	Content string `json:"content"`
}

func (t TextDisplay) MarshalJSON() ([]byte, error) {
	type textDisplay TextDisplay
	return json.Marshal(struct {
		textDisplay
		Type discord.ComponentType `json:"type"`
	}{textDisplay(t), ComponentTypeTextDisplay})
}

// Section groups up to three text displays with an accessory.
type Section struct {
	Components []any `json:"components"`
	Accessory  any   `json:"accessory,omitempty"`
}

func (s Section) MarshalJSON() ([]byte, error) {
	type section Section
	return json.Marshal(struct {
		section
		Type discord.ComponentType `json:"type"`
	}{section(s), ComponentTypeSection})
}

// Container is the top-level V2 component.
type Container struct {
	AccentColor int   `json:"accent_color,omitempty"`
	Components  []any `json:"components"`
}

func (c Container) MarshalJSON() ([]byte, error) {
	type container Container
	return json.Marshal(struct {
		container
		Type discord.ComponentType `json:"type"`
	}{container(c), ComponentTypeContainer})
}

func NewV2Container(components ...any) Container {
	return Container{Components: components}
}

func NewTextDisplay(content string) TextDisplay {
	return TextDisplay{Content: content}
}

func NewSeparator(divider bool) Separator {
	return Separator{Divider: divider}
}

// NewSection creates a text section, with a thumbnail when thumbURL is set.
func NewSection(content, thumbURL string) any {
	if thumbURL == "" {
		return NewTextDisplay(content)
	}
	return Section{
		Components: []any{NewTextDisplay(content)},
		Accessory:  Thumbnail{Media: UnfurledMediaItem{URL: thumbURL}},
	}
}

type v2Message struct {
	Components []any                `json:"components"`
	Flags      discord.MessageFlags `json:"flags"`
}

func v2Body(container Container, ephemeral bool) v2Message {
	flags := MessageFlagsIsComponentsV2
	if ephemeral {
		flags |= discord.MessageFlagEphemeral
	}
	return v2Message{Components: []any{container}, Flags: flags}
}

// callbackV2 answers an interaction with a V2 message of the given response type.
func callbackV2(client *bot.Client, interaction discord.Interaction, kind discord.InteractionResponseType, body v2Message) error {
	route := rest.NewEndpoint(http.MethodPost, "/interactions/{interaction.id}/{interaction.token}/callback")
	data := struct {
		Type discord.InteractionResponseType `json:"type"`
		Data v2Message                       `json:"data"`
	}{kind, body}
	return client.Rest.Do(route.Compile(nil, interaction.ID().String(), interaction.Token()), data, nil)
}

// RespondInteractionV2 responds to an interaction with ComponentsV2.
func RespondInteractionV2(client *bot.Client, interaction discord.Interaction, container Container, ephemeral bool) error {
	return callbackV2(client, interaction, discord.InteractionResponseTypeCreateMessage, v2Body(container, ephemeral))
}

// UpdateInteractionV2 replaces the message a component interaction came from.
func UpdateInteractionV2(client *bot.Client, interaction discord.Interaction, container Container) error {
	return callbackV2(client, interaction, discord.InteractionResponseTypeUpdateMessage, v2Body(container, false))
}

// EditInteractionV2 edits the original response of a deferred interaction.
func EditInteractionV2(client *bot.Client, interaction discord.Interaction, container Container) error {
	route := rest.NewEndpoint(http.MethodPatch, "/webhooks/{application.id}/{interaction.token}/messages/@original")
	compiled := route.Compile(nil, client.ApplicationID.String(), interaction.Token())
	return client.Rest.Do(compiled, v2Body(container, false), nil)
}

// ============================================================================
// String Utilities
// ============================================================================

// Truncate truncates a string to maxLen runes with an ellipsis at the end.
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

// TruncateCenter truncates a string keeping both the start and end.
func TruncateCenter(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	k := (maxLen - 3) / 2
	return string(r[:k]) + "..." + string(r[len(r)-k:])
}

// TruncateWithPreserve truncates text while preserving a prefix and suffix.
func TruncateWithPreserve(text string, maxLen int, prefix, suffix string) string {
	fixedLen := len([]rune(prefix)) + len([]rune(suffix))
	if fixedLen >= maxLen-10 {
		return TruncateCenter(prefix+text+suffix, maxLen)
	}
	return prefix + TruncateCenter(text, maxLen-fixedLen) + suffix
}

// EscapeMarkdown neutralizes the characters that break masked links and emphasis.
func EscapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`, "*", `\*`, "_", `\_`, "~", `\~`, "`", "\\`",
	"|", `\|`, "[", `\[`, "]", `\]`, ">", `\>`,
)

// ============================================================================
// Time Utilities
// ============================================================================

// FormatDuration renders a track length as m:ss or h:mm:ss. Unknown lengths are "live".
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return "live"
	}
	total := int(d.Round(time.Second).Seconds())
	h, m, s := total/3600, (total/60)%60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
