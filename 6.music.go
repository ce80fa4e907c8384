package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/omit"
	"github.com/sho0pi/naturaltime"

	"github.com/leeineian/jukebox/proc"
)

const (
	requestTimeout      = 2 * time.Minute
	autocompleteTimeout = 2500 * time.Millisecond
	autocompleteHistory = 10
	maxChoiceLen        = 100
)

func init() {
	connectPerm := discord.PermissionConnect

	RegisterModule(Module{Command: discord.SlashCommandCreate{
		Name:                     "music",
		Description:              "Music player",
		DefaultMemberPermissions: omit.New(&connectPerm),
		Contexts: []discord.InteractionContextType{
			discord.InteractionContextTypeGuild,
		},
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionSubCommand{
				Name:        "play",
				Description: "Play a song or playlist, or resume when no query is given",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:         "query",
						Description:  "A link or search terms",
						Required:     false,
						Autocomplete: true,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "queue",
				Description: "Show the queue",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "shuffle",
				Description: "Shuffle the queue",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "pause",
				Description: "Pause playback",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "skip",
				Description: "Skip the current song",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "stop",
				Description: "Stop playback, clear the queue and leave",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "remove",
				Description: "Remove a song from the queue",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionInt{
						Name:        "index",
						Description: "Position shown by /music queue",
						Required:    true,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "history",
				Description: "Show recently played songs",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:        "since",
						Description: "e.g. \"2 hours ago\", \"yesterday\", 30m",
						Required:    false,
					},
				},
			},
		},
	},
		Handle:       handleMusic,
		Autocomplete: handleMusicAutocomplete,
		Buttons: map[string]func(*events.ComponentInteractionCreate){
			queueButtonID: handleQueueButton,
		},
	})
}

// handleMusic routes music subcommands to their respective handlers
func handleMusic(event *events.ApplicationCommandInteractionCreate) {
	data := event.SlashCommandInteractionData()
	if data.SubCommandName == nil {
		return
	}
	if event.GuildID() == nil {
		replyMusic(event, ErrMusicGuildOnly, true)
		return
	}

	switch *data.SubCommandName {
	case "play":
		handleMusicPlay(event, data)
	case "queue":
		handleMusicQueue(event)
	case "shuffle":
		handleMusicShuffle(event)
	case "pause":
		handleMusicPause(event)
	case "skip":
		handleMusicSkip(event)
	case "stop":
		handleMusicStop(event)
	case "remove":
		handleMusicRemove(event, data)
	case "history":
		handleMusicHistory(event, data)
	}
}

func replyMusic(event *events.ApplicationCommandInteractionCreate, content string, ephemeral bool) {
	_ = RespondInteractionV2(event.Client(), event, NewV2Container(NewTextDisplay(content)), ephemeral)
}

func editMusic(event *events.ApplicationCommandInteractionCreate, content string) {
	if err := EditInteractionV2(event.Client(), event, NewV2Container(NewTextDisplay(content))); err != nil {
		LogMusic(MsgMusicProgressFail, err)
	}
}

func session(event *events.ApplicationCommandInteractionCreate) *VoiceSession {
	return GetVoiceManager().GetSession(*event.GuildID())
}

func requesterName(event *events.ApplicationCommandInteractionCreate) string {
	if m := event.Member(); m != nil && m.Nick != nil && *m.Nick != "" {
		return *m.Nick
	}
	return event.User().EffectiveName()
}

// --- Subcommands ---

func handleMusicPlay(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	guildID := *event.GuildID()
	query, _ := data.OptString("query")
	query = strings.TrimSpace(query)

	if query == "" {
		s := session(event)
		if s == nil || !s.Player.Resume() {
			replyMusic(event, ErrMusicNothingResume, true)
			return
		}
		replyMusic(event, MsgMusicResumed, false)
		return
	}

	user := event.User()
	vs, ok := event.Client().Caches.VoiceState(guildID, user.ID)
	if !ok || vs.ChannelID == nil {
		replyMusic(event, ErrMusicNoVoice, true)
		return
	}

	LogMusic(MsgMusicRequested, user.Username, user.ID, query)
	_ = event.DeferCreateMessage(false)

	ctx, cancel := context.WithTimeout(appContext(), requestTimeout)
	defer cancel()

	s := GetVoiceManager().Session(event.Client(), guildID)
	if err := s.Join(ctx, *vs.ChannelID); err != nil {
		editMusic(event, fmt.Sprintf(ErrMusicFailed, err))
		return
	}

	reporter := newProgressReporter(event.Client(), event)
	job, err := s.Player.Request(ctx, query, requesterName(event), reporter.Report)
	if err != nil {
		if errors.Is(err, proc.ErrNoResults) {
			WarnMusic(MsgMusicSearchFail, query, err)
			editMusic(event, ErrMusicNoResults)
			return
		}
		editMusic(event, fmt.Sprintf(ErrMusicFailed, err))
		return
	}
	if job.Parked {
		// the player left voice while the request was resolving
		if err := s.Join(ctx, *vs.ChannelID); err != nil {
			editMusic(event, fmt.Sprintf(ErrMusicFailed, err))
			return
		}
		s.Player.Start()
	}
	reporter.Accepted(job)
}

func handleMusicQueue(event *events.ApplicationCommandInteractionCreate) {
	view := renderQueue(nil, proc.Progress{}, 0)
	if s := session(event); s != nil {
		view = renderQueue(s.Player.Show(), s.Player.Progress(), 0)
	}
	_ = RespondInteractionV2(event.Client(), event, view, false)
}

func handleMusicShuffle(event *events.ApplicationCommandInteractionCreate) {
	s := session(event)
	if s == nil || s.Player.Shuffle() == proc.ShuffleEmpty {
		replyMusic(event, ErrMusicNothingShuffle, true)
		return
	}
	replyMusic(event, MsgMusicShuffled, false)
}

func handleMusicPause(event *events.ApplicationCommandInteractionCreate) {
	s := session(event)
	if s == nil || !s.Player.IsPlaying() || !s.Player.Pause() {
		replyMusic(event, ErrMusicNothingPlaying, true)
		return
	}
	replyMusic(event, MsgMusicPaused, false)
}

func handleMusicSkip(event *events.ApplicationCommandInteractionCreate) {
	s := session(event)
	if s == nil || !s.Player.Skip() {
		replyMusic(event, ErrMusicNothingPlaying, true)
		return
	}
	replyMusic(event, MsgMusicSkipped, false)
}

func handleMusicStop(event *events.ApplicationCommandInteractionCreate) {
	s := session(event)
	if s == nil {
		replyMusic(event, ErrMusicNothingPlaying, true)
		return
	}
	user := event.User()
	LogMusic(MsgMusicStopped, user.Username, user.ID, *event.GuildID())
	_ = event.DeferCreateMessage(false)

	ctx, cancel := context.WithTimeout(appContext(), 10*time.Second)
	defer cancel()
	if err := s.Player.Stop(ctx); err != nil {
		editMusic(event, fmt.Sprintf(ErrMusicFailed, err))
		return
	}
	editMusic(event, MsgMusicStoppedDisp)
}

func handleMusicRemove(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	index, _ := data.OptInt("index")
	s := session(event)
	if s == nil {
		replyMusic(event, fmt.Sprintf(ErrMusicInvalidIndex, index), true)
		return
	}
	song, err := s.Player.Remove(index)
	if err != nil {
		if errors.Is(err, proc.ErrInvalidIndex) {
			replyMusic(event, fmt.Sprintf(ErrMusicInvalidIndex, index), true)
			return
		}
		replyMusic(event, fmt.Sprintf(ErrMusicFailed, err), true)
		return
	}
	replyMusic(event, fmt.Sprintf(MsgMusicRemoved, EscapeMarkdown(song.Title)), false)
}

func handleMusicHistory(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	guildID := *event.GuildID()
	ctx, cancel := context.WithTimeout(appContext(), 5*time.Second)
	defer cancel()

	var (
		since   time.Time
		entries []*HistoryEntry
		err     error
	)
	if raw, ok := data.OptString("since"); ok && strings.TrimSpace(raw) != "" {
		since, err = parseSince(raw, time.Now().UTC())
		if err != nil {
			replyMusic(event, fmt.Sprintf(ErrMusicBadTime, raw), true)
			return
		}
		entries, err = GetHistorySince(ctx, guildID, since, historyPageSize)
	} else {
		entries, err = GetRecentHistory(ctx, guildID, historyPageSize)
	}
	if err != nil {
		replyMusic(event, fmt.Sprintf(ErrMusicFailed, err), true)
		return
	}
	_ = RespondInteractionV2(event.Client(), event, renderHistory(entries, since), true)
}

// --- Time parsing ---

var (
	sinceParser     *naturaltime.Parser
	sinceParserOnce sync.Once
)

// parseSince turns "2 hours ago", "yesterday" or a Go duration into a point
// in the past.
func parseSince(input string, now time.Time) (time.Time, error) {
	input = strings.TrimSpace(input)

	if d, err := time.ParseDuration(input); err == nil && d > 0 {
		return now.Add(-d), nil
	}

	sinceParserOnce.Do(func() {
		p, err := naturaltime.New()
		if err != nil {
			LogError("Failed to initialize natural time parser: %v", err)
			return
		}
		sinceParser = p
	})
	if sinceParser != nil {
		if t, err := sinceParser.ParseDate(input, now); err == nil && t != nil && !t.After(now) {
			return *t, nil
		}
	}
	return time.Time{}, fmt.Errorf("could not parse time: %s", input)
}

// --- Autocomplete ---

func handleMusicAutocomplete(event *events.AutocompleteInteractionCreate) {
	f := event.Data.Focused()
	if f.Name != "query" {
		return
	}
	q := strings.TrimSpace(f.String())

	ctx, cancel := context.WithTimeout(appContext(), autocompleteTimeout)
	defer cancel()

	var choices []discord.AutocompleteChoice
	switch {
	case q == "":
		if guildID := event.GuildID(); guildID != nil && DB != nil {
			recent, err := GetRecentHistory(ctx, *guildID, autocompleteHistory)
			if err != nil {
				WarnMusic(MsgMusicHistoryFail, err)
			}
			for _, e := range recent {
				choices = append(choices, choice("🕘 "+e.Title, e.URL))
			}
		}
	case isLink(q):
		choices = append(choices, choice(q, q))
	default:
		results, err := GetVoiceManager().Search(ctx, q)
		if err != nil {
			WarnMusic(MsgMusicSearchFail, q, err)
		}
		for _, r := range results {
			choices = append(choices, choice(r.Title, r.URL))
		}
	}
	_ = event.AutocompleteResult(choices)
}

// choice builds an autocomplete entry. Values longer than Discord allows fall
// back to the title, which is then searched again on submit.
func choice(name, value string) discord.AutocompleteChoice {
	if len(value) > maxChoiceLen {
		value = Truncate(name, maxChoiceLen)
	}
	return discord.AutocompleteChoiceString{Name: Truncate(name, maxChoiceLen), Value: value}
}
