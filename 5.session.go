package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"runtime"
	"strings"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/gateway"
	"github.com/disgoorg/omit"
	"github.com/disgoorg/snowflake/v2"
	"github.com/samber/lo"
)

// ===========================
// Command Registration
// ===========================

func init() {
	adminPerm := discord.PermissionAdministrator

	RegisterDaemon(Daemon{Name: "presence rotator", Start: StartPresenceRotator})

	RegisterModule(Module{Command: discord.SlashCommandCreate{
		Name:                     "session",
		Description:              "Session utilities (Admin Only)",
		DefaultMemberPermissions: omit.New(&adminPerm),
		Contexts: []discord.InteractionContextType{
			discord.InteractionContextTypeGuild,
		},
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionSubCommand{
				Name:        "stats",
				Description: "Show process and player statistics",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "presence",
				Description: "Toggle the rotating presence",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionBool{
						Name:        "visible",
						Description: "Whether the presence rotates",
						Required:    true,
					},
				},
			},
		},
	}, Handle: handleSession})
}

const (
	configKeyPresence = "presence_visible"

	statsAnsiPink     = "\u001b[35m"
	statsAnsiPinkBold = "\u001b[1;35m"
	statsAnsiReset    = "\u001b[0m"
)

// ===========================
// Presence Rotator
// ===========================

type presenceFunc func(ctx context.Context, client *bot.Client) string

var presenceList = []presenceFunc{
	func(context.Context, *bot.Client) string { return "/music play" },
	GetPlayersPresence,
	GetUptimePresence,
}

func presenceInterval() time.Duration {
	return time.Duration(30+rand.IntN(31)) * time.Second
}

// StartPresenceRotator rotates the listening activity between the presence
// generators that currently have something to say.
func StartPresenceRotator(ctx context.Context, client *bot.Client) (func(), func()) {
	run := func() {
		last := ""
		for {
			last = updatePresence(ctx, client, last)
			select {
			case <-time.After(presenceInterval()):
			case <-ctx.Done():
				return
			}
		}
	}
	return run, nil
}

func updatePresence(ctx context.Context, client *bot.Client, last string) string {
	if v, err := GetBotConfig(ctx, configKeyPresence); err == nil && v == "false" {
		_ = client.SetPresence(ctx, gateway.WithOnlineStatus(discord.OnlineStatusOnline))
		return ""
	}

	texts := lo.Filter(lo.Map(presenceList, func(f presenceFunc, _ int) string { return f(ctx, client) }),
		func(s string, _ int) bool { return s != "" && s != last })
	if len(texts) == 0 {
		return last
	}
	text := lo.Sample(texts)

	err := client.SetPresence(ctx,
		gateway.WithOnlineStatus(discord.OnlineStatusOnline),
		gateway.WithListeningActivity(text),
	)
	if err != nil {
		WarnSession(MsgPresenceUpdateFail, err)
		return last
	}
	LogDebug(MsgPresenceRotated, text)
	return text
}

// GetPlayersPresence reports how many guilds are listening, or "" when none are.
func GetPlayersPresence(context.Context, *bot.Client) string {
	st := GetVoiceManager().Stats()
	if st.Connected == 0 {
		return ""
	}
	if st.Connected == 1 {
		return fmt.Sprintf("%d songs in 1 server", st.Queued)
	}
	return fmt.Sprintf("%d songs in %d servers", st.Queued, st.Connected)
}

func GetUptimePresence(context.Context, *bot.Client) string {
	uptime := time.Since(startedAt)
	return fmt.Sprintf("Uptime: %dh %dm", int(uptime.Hours()), int(uptime.Minutes())%60)
}

// ===========================
// Command Handlers
// ===========================

func handleSession(event *events.ApplicationCommandInteractionCreate) {
	data := event.SlashCommandInteractionData()
	if data.SubCommandName == nil {
		return
	}
	switch *data.SubCommandName {
	case "stats":
		handleSessionStats(event)
	case "presence":
		handleSessionPresence(event, data)
	}
}

func handleSessionStats(event *events.ApplicationCommandInteractionCreate) {
	roundTrip := time.Since(snowflake.ID(event.ID()).Time()).Milliseconds()

	start := time.Now()
	_, _ = GetBotConfig(appContext(), "ping_test")
	dbLatency := float64(time.Since(start).Microseconds()) / 1000.0

	content := fmt.Sprintf("```ansi\n%s\n\n%s\n\n%s\n```",
		systemStats(),
		appStats(event.Client().Gateway.Latency().Milliseconds(), roundTrip, dbLatency),
		playerStats(GetVoiceManager().Stats()),
	)
	_ = RespondInteractionV2(event.Client(), event, NewV2Container(NewTextDisplay(content)), true)
}

func handleSessionPresence(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	visible := data.Bool("visible")
	if err := SetBotConfig(appContext(), configKeyPresence, fmt.Sprintf("%t", visible)); err != nil {
		_ = RespondInteractionV2(event.Client(), event, NewV2Container(NewTextDisplay(fmt.Sprintf(MsgGenericError, err))), true)
		return
	}
	go updatePresence(appContext(), event.Client(), "")
	_ = RespondInteractionV2(event.Client(), event, NewV2Container(NewTextDisplay(fmt.Sprintf(MsgPresenceToggled, visible))), true)
}

// ===========================
// Stats Helpers
// ===========================

func systemStats() string {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return strings.Join([]string{
		statsTitle("System"),
		statsLine("Platform", runtime.GOOS+" "+runtime.GOARCH),
		statsLine("Go Version", runtime.Version()),
		statsLine("Memory", fmt.Sprintf("%.2f MB / %.2f MB (Sys)", float64(m.HeapAlloc)/1024/1024, float64(m.Sys)/1024/1024)),
		statsLine("Goroutines", fmt.Sprintf("%d", runtime.NumGoroutine())),
	}, "\n")
}

func appStats(gatewayPing, apiPing int64, dbLatency float64) string {
	uptime := time.Since(startedAt)
	lines := []string{
		statsTitle("App"),
		statsLine("Library", "Disgo"),
		statsLine("Uptime", fmt.Sprintf("%dd %dh %dm", int(uptime.Hours())/24, int(uptime.Hours())%24, int(uptime.Minutes())%60)),
	}
	if gatewayPing > 0 {
		lines = append(lines, statsLine("Gateway", fmt.Sprintf("%dms", gatewayPing)))
	}
	if apiPing > 0 {
		lines = append(lines, statsLine("API Latency", fmt.Sprintf("%dms", apiPing)))
	}
	lines = append(lines, statsLine("Database", fmt.Sprintf("%.2fms", dbLatency)))
	return strings.Join(lines, "\n")
}

func playerStats(st PlayerStats) string {
	return strings.Join([]string{
		statsTitle("Players"),
		statsLine("Sessions", fmt.Sprintf("%d", st.Sessions)),
		statsLine("Connected", fmt.Sprintf("%d", st.Connected)),
		statsLine("Playing", fmt.Sprintf("%d", st.Playing)),
		statsLine("Queued", fmt.Sprintf("%d", st.Queued)),
	}, "\n")
}

func statsTitle(t string) string { return statsAnsiPink + t + statsAnsiReset }

func statsLine(k, v string) string {
	return statsAnsiPink + "> " + k + ":" + statsAnsiReset + " " + statsAnsiPinkBold + v + statsAnsiReset
}
