package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/disgoorg/disgo"
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/cache"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/gateway"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/disgo/voice"
	"github.com/disgoorg/godave/golibdave"
	"github.com/disgoorg/snowflake/v2"
	"github.com/samber/lo"
)

const (
	restTimeout = 60 * time.Second

	configKeyCommandHash   = "command_hash"
	configKeyCommandTarget = "command_target"
	configKeyBotName       = "bot_name"
)

var (
	startedAt = time.Now()
	appCtx    = context.Background()
)

// appContext is cancelled on shutdown. Before run starts it is Background.
func appContext() context.Context { return appCtx }

// safeGo runs f on its own goroutine and logs a panic instead of crashing.
func safeGo(name string, f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				LogError(MsgLoaderPanicRecovered, name, r, debug.Stack())
			}
		}()
		f()
	}()
}

// ===========================
// Modules
// ===========================

// Module is one slash command with the interactions it owns.
type Module struct {
	Command      discord.SlashCommandCreate
	Handle       func(*events.ApplicationCommandInteractionCreate)
	Autocomplete func(*events.AutocompleteInteractionCreate)
	// Buttons maps a custom id prefix such as "queue:" to its handler.
	Buttons map[string]func(*events.ComponentInteractionCreate)
}

type registry struct {
	modules []*Module
	byName  map[string]*Module
	buttons map[string]func(*events.ComponentInteractionCreate)
}

var modules = &registry{
	byName:  map[string]*Module{},
	buttons: map[string]func(*events.ComponentInteractionCreate){},
}

// RegisterModule adds a command. Duplicate names or button prefixes are a
// programming error.
func RegisterModule(m Module) {
	modules.add(&m)
}

func (r *registry) add(m *Module) {
	name := m.Command.Name
	if _, dup := r.byName[name]; dup {
		panic("duplicate command /" + name)
	}
	for prefix, h := range m.Buttons {
		if !strings.HasSuffix(prefix, ":") {
			panic(fmt.Sprintf("button prefix %q of /%s must end with ':'", prefix, name))
		}
		if _, dup := r.buttons[prefix]; dup {
			panic(fmt.Sprintf("duplicate button prefix %q", prefix))
		}
		r.buttons[prefix] = h
	}
	r.modules = append(r.modules, m)
	r.byName[name] = m
}

func (r *registry) commands() []discord.ApplicationCommandCreate {
	return lo.Map(r.modules, func(m *Module, _ int) discord.ApplicationCommandCreate { return m.Command })
}

// button finds the handler for a custom id by its leading "<prefix>:".
func (r *registry) button(customID string) (func(*events.ComponentInteractionCreate), bool) {
	prefix, _, ok := strings.Cut(customID, ":")
	if !ok {
		return nil, false
	}
	h, ok := r.buttons[prefix+":"]
	return h, ok
}

// ===========================
// Client
// ===========================

func CreateClient(cfg *Config) (*bot.Client, error) {
	return disgo.New(cfg.Token,
		bot.WithGatewayConfigOpts(
			gateway.WithIntents(
				gateway.IntentGuilds,
				gateway.IntentGuildMembers,
				gateway.IntentGuildVoiceStates,
			),
			gateway.WithPresenceOpts(
				gateway.WithListeningActivity("/music play"),
				gateway.WithOnlineStatus(discord.OnlineStatusOnline),
			),
		),
		bot.WithCacheConfigOpts(
			cache.WithCaches(cache.FlagGuilds, cache.FlagMembers, cache.FlagChannels, cache.FlagVoiceStates),
		),
		bot.WithVoiceManagerConfigOpts(
			voice.WithDaveSessionCreateFunc(golibdave.NewSession),
		),
		bot.WithRestClientConfigOpts(
			rest.WithHTTPClient(&http.Client{Timeout: restTimeout}),
		),
		bot.WithLogger(slog.Default()),
		bot.WithEventListenerFunc(onReady),
		bot.WithEventListenerFunc(onCommand),
		bot.WithEventListenerFunc(onAutocomplete),
		bot.WithEventListenerFunc(onComponent),
		bot.WithEventListenerFunc(func(e *events.GuildVoiceStateUpdate) {
			GetVoiceManager().onVoiceStateUpdate(e)
		}),
	)
}

// cachedBotName is the username seen on the last Ready, or the binary name.
func cachedBotName(ctx context.Context) string {
	if name, err := GetBotConfig(ctx, configKeyBotName); err == nil && name != "" {
		return name
	}
	return GetProjectName()
}

func onReady(event *events.Ready) {
	u := event.User
	LogInfo(MsgBotReady, u.Username, u.ID, os.Getpid(), time.Since(startedAt).Milliseconds())
	_ = SetBotConfig(appContext(), configKeyBotName, u.Username)
	startDaemons(appContext(), event.Client())
}

func onCommand(event *events.ApplicationCommandInteractionCreate) {
	name := event.Data.CommandName()
	if m, ok := modules.byName[name]; ok && m.Handle != nil {
		safeGo("/"+name, func() { m.Handle(event) })
	}
}

func onAutocomplete(event *events.AutocompleteInteractionCreate) {
	name := event.Data.CommandName
	if m, ok := modules.byName[name]; ok && m.Autocomplete != nil {
		safeGo("/"+name+" autocomplete", func() { m.Autocomplete(event) })
	}
}

func onComponent(event *events.ComponentInteractionCreate) {
	id := event.Data.CustomID()
	if h, ok := modules.button(id); ok {
		safeGo("button "+id, func() { h(event) })
	}
}

// ===========================
// Command sync
// ===========================

// commandTarget is where commands are registered: globally, or to one guild
// while developing.
type commandTarget struct {
	guild snowflake.ID
}

func (t commandTarget) String() string {
	if t.guild == 0 {
		return "global"
	}
	return "guild " + t.guild.String()
}

func (t commandTarget) key() string {
	if t.guild == 0 {
		return "global"
	}
	return t.guild.String()
}

func parseCommandTarget(key string) (commandTarget, bool) {
	switch key {
	case "":
		return commandTarget{}, false
	case "global":
		return commandTarget{}, true
	}
	id, err := snowflake.Parse(key)
	if err != nil {
		return commandTarget{}, false
	}
	return commandTarget{guild: id}, true
}

func (t commandTarget) set(client *bot.Client, cmds []discord.ApplicationCommandCreate) ([]discord.ApplicationCommand, error) {
	if t.guild == 0 {
		return client.Rest.SetGlobalCommands(client.ApplicationID, cmds)
	}
	return client.Rest.SetGuildCommands(client.ApplicationID, t.guild, cmds)
}

// calculateCommandHash generates a SHA256 hash of the command definitions.
func calculateCommandHash(cmds []discord.ApplicationCommandCreate) string {
	data, err := json.Marshal(cmds)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// syncPlan decides whether commands must be pushed and which previously used
// target, if any, still holds stale commands.
func syncPlan(hash, lastHash, lastTarget string, target commandTarget, force bool) (register bool, stale commandTarget, clearStale bool) {
	prev, known := parseCommandTarget(lastTarget)
	clearStale = known && prev != target
	register = force || clearStale || hash == "" || hash != lastHash || !known
	return register, prev, clearStale
}

// SyncCommands pushes /music and /session to target when their definitions
// changed since the last run, then clears whatever target was used before.
func SyncCommands(ctx context.Context, client *bot.Client, target commandTarget, force bool) error {
	cmds := modules.commands()
	hash := calculateCommandHash(cmds)
	lastHash, _ := GetBotConfig(ctx, configKeyCommandHash)
	lastTarget, _ := GetBotConfig(ctx, configKeyCommandTarget)

	register, stale, clearStale := syncPlan(hash, lastHash, lastTarget, target, force)
	if !register {
		LogLoader(MsgLoaderUpToDate, target, hash[:8])
		return nil
	}

	LogLoader(MsgLoaderRegistering, len(cmds), target)
	created, err := target.set(client, cmds)
	if err != nil {
		return fmt.Errorf("register commands for %s: %w", target, err)
	}
	names := lo.Map(created, func(c discord.ApplicationCommand, _ int) string { return "/" + c.Name() })
	LogLoader(MsgLoaderRegistered, strings.Join(names, ", "), target)

	if clearStale {
		if _, err := stale.set(client, []discord.ApplicationCommandCreate{}); err != nil {
			WarnLoader(MsgLoaderClearFail, stale, err)
		} else {
			LogLoader(MsgLoaderCleared, stale)
		}
	}

	_ = SetBotConfig(ctx, configKeyCommandTarget, target.key())
	_ = SetBotConfig(ctx, configKeyCommandHash, hash)
	return nil
}

// ===========================
// Daemons
// ===========================

// Daemon is a background loop started once the gateway is ready. Start may
// return a nil run to stay off; stop, when set, runs on shutdown.
type Daemon struct {
	Name  string
	Start func(ctx context.Context, client *bot.Client) (run func(), stop func())
}

var daemons struct {
	mu         sync.Mutex
	registered []Daemon
	stops      map[string]func()
	once       sync.Once
}

func RegisterDaemon(d Daemon) {
	daemons.mu.Lock()
	defer daemons.mu.Unlock()
	daemons.registered = append(daemons.registered, d)
}

// startDaemons runs on the first Ready only; reconnects keep the running loops.
func startDaemons(ctx context.Context, client *bot.Client) {
	daemons.once.Do(func() {
		daemons.mu.Lock()
		defer daemons.mu.Unlock()
		daemons.stops = map[string]func(){}

		for _, d := range daemons.registered {
			run, stop := d.Start(ctx, client)
			if stop != nil {
				daemons.stops[d.Name] = stop
			}
			if run != nil {
				LogLoader(MsgLoaderDaemonStarting, d.Name)
				safeGo(d.Name, run)
			}
		}
	})
}

// stopDaemons runs every stop hook concurrently and waits for them.
func stopDaemons() {
	daemons.mu.Lock()
	defer daemons.mu.Unlock()

	var wg sync.WaitGroup
	for name, stop := range daemons.stops {
		LogLoader(MsgLoaderDaemonStopping, name)
		wg.Go(stop)
	}
	wg.Wait()
	daemons.stops = nil
}
