package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

const (
	logTimeFormat = "15:04:05"
	levelFatal    = slog.LevelError + 4
	componentKey  = "component"
)

type levelStyle struct {
	min   slog.Level
	name  string
	color *color.Color
}

// ordered from most to least severe
var levelStyles = []levelStyle{
	{levelFatal, "FATAL", color.New(color.FgRed, color.Bold)},
	{slog.LevelError, "ERROR", color.New(color.FgRed)},
	{slog.LevelWarn, "WARN", color.New(color.FgYellow)},
	{slog.LevelInfo, "INFO", color.New()},
	{slog.LevelDebug - 100, "DEBUG", color.New(color.FgHiBlack)},
}

var componentColors = map[string]*color.Color{
	"DATABASE": color.New(),
	"LOADER":   color.New(color.FgCyan),
	"SESSION":  color.New(color.FgCyan),
	"VOICE":    color.New(color.FgMagenta),
	"MUSIC":    color.New(color.FgMagenta),
	"QUEUE":    color.New(color.FgBlue),
	"PLAYER":   color.New(color.FgGreen),
}

var fallbackComponentColor = color.New(color.FgCyan)

func styleFor(level slog.Level) levelStyle {
	for _, s := range levelStyles {
		if level >= s.min {
			return s
		}
	}
	return levelStyles[len(levelStyles)-1]
}

// LogOptions configures the process-wide logger.
type LogOptions struct {
	Silent bool
	Debug  bool
	// ToFile mirrors output, without colors, into <binary>.log.
	ToFile bool
}

var (
	logMu   sync.Mutex
	logFile *os.File
)

func init() {
	InitLogger(LogOptions{})
}

// InitLogger installs the bot handler as the default slog logger. Calling it
// again replaces the previous handler and closes its log file.
func InitLogger(opts LogOptions) {
	logMu.Lock()
	defer logMu.Unlock()

	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}

	var w io.Writer = os.Stdout
	if opts.ToFile && !opts.Silent {
		name := logFileName()
		f, err := os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open %s: %v\n", name, err)
		} else {
			logFile = f
			w = io.MultiWriter(os.Stdout, NewStripANSIWriter(f))
		}
	}

	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(NewBotLogHandler(w, &BotLogHandlerOptions{Silent: opts.Silent, Level: level})))
}

func logFileName() string {
	if exe, err := os.Executable(); err == nil {
		return filepath.Base(exe) + ".log"
	}
	return GetProjectName() + ".log"
}

func LogInfo(format string, v ...any)  { slog.Info(fmt.Sprintf(format, v...)) }
func LogWarn(format string, v ...any)  { slog.Warn(fmt.Sprintf(format, v...)) }
func LogError(format string, v ...any) { slog.Error(fmt.Sprintf(format, v...)) }
func LogDebug(format string, v ...any) { slog.Debug(fmt.Sprintf(format, v...)) }

// LogFatal logs and panics so deferred cleanup in main still runs.
func LogFatal(format string, v ...any) {
	msg := fmt.Sprintf(format, v...)
	slog.Log(context.Background(), levelFatal, msg)
	panic(msg)
}

func componentLogger(name string, level slog.Level) func(format string, v ...any) {
	attr := slog.String(componentKey, name)
	return func(format string, v ...any) {
		slog.Log(context.Background(), level, fmt.Sprintf(format, v...), attr)
	}
}

var (
	LogDatabase = componentLogger("database", slog.LevelInfo)
	LogLoader   = componentLogger("loader", slog.LevelInfo)
	WarnLoader  = componentLogger("loader", slog.LevelWarn)
	WarnSession = componentLogger("session", slog.LevelWarn)
	LogVoice    = componentLogger("voice", slog.LevelInfo)
	LogMusic    = componentLogger("music", slog.LevelInfo)
	WarnMusic   = componentLogger("music", slog.LevelWarn)
)

// --- Handler ---

type BotLogHandlerOptions struct {
	Silent bool
	Level  slog.Leveler
}

// BotLogHandler writes "15:04:05 [LEVEL] [COMPONENT] message" lines. The level
// tag is dropped for INFO lines that carry a component.
type BotLogHandler struct {
	w         io.Writer
	opts      BotLogHandlerOptions
	mu        *sync.Mutex
	component string
}

func NewBotLogHandler(w io.Writer, opts *BotLogHandlerOptions) *BotLogHandler {
	h := &BotLogHandler{w: w, mu: &sync.Mutex{}}
	if opts != nil {
		h.opts = *opts
	}
	if h.opts.Level == nil {
		h.opts.Level = slog.LevelInfo
	}
	return h
}

func (h *BotLogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return !h.opts.Silent && level >= h.opts.Level.Level()
}

func (h *BotLogHandler) Handle(_ context.Context, r slog.Record) error {
	if h.opts.Silent {
		return nil
	}

	component := h.component
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == componentKey {
			component = strings.ToUpper(a.Value.String())
			return false
		}
		return true
	})

	style := styleFor(r.Level)
	var line bytes.Buffer
	line.WriteString(time.Now().Format(logTimeFormat))
	if component == "" {
		line.WriteString(" " + style.color.Sprintf("[%s] %s", style.name, r.Message))
	} else {
		if style.name != "INFO" {
			line.WriteString(" " + style.color.Sprintf("[%s]", style.name))
		}
		c, ok := componentColors[component]
		if !ok {
			c = fallbackComponentColor
		}
		line.WriteString(" " + c.Sprintf("[%s] %s", component, r.Message))
	}
	line.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(line.Bytes())
	return err
}

// WithAttrs keeps a component attr so slog.With("component", ...) loggers tag
// their lines. Other attrs are not rendered.
func (h *BotLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := *h
	for _, a := range attrs {
		if a.Key == componentKey {
			out.component = strings.ToUpper(a.Value.String())
		}
	}
	return &out
}

func (h *BotLogHandler) WithGroup(string) slog.Handler { return h }

// --- ANSI stripping for the log file ---

var ansiSequence = regexp.MustCompile(`\x1b\[[0-9;]*m`)

type StripANSIWriter struct {
	w io.Writer
}

func NewStripANSIWriter(w io.Writer) *StripANSIWriter {
	return &StripANSIWriter{w: w}
}

// Write reports the unstripped length.
func (s *StripANSIWriter) Write(p []byte) (int, error) {
	if _, err := s.w.Write(ansiSequence.ReplaceAll(p, nil)); err != nil {
		return 0, err
	}
	return len(p), nil
}

// --- Message Constants ---

const (
	// --- Infrastructure & Lifecycle ---
	MsgConfigFailedToLoad  = "Failed to load config: %v"
	MsgConfigMissingToken  = "DISCORD_TOKEN is not set in .env file"
	MsgConfigInvalidNumber = "invalid %s: %q is not a positive number"
	MsgDatabaseInitSuccess = "Database initialized successfully"
	MsgDatabaseTableError  = "Failed to create table: %w"
	MsgDatabasePragmaError = "Failed to set pragma %s: %w"
	MsgBotStarting         = "Starting %s..."
	MsgBotReady            = "%s is ready! (ID: %s) (PID: %d) (Took: %dms)"
	MsgBotShutdown         = "Shutting down %s..."
	MsgBotKillingOld       = "Killing running instance... (PID: %d)"
	MsgBotStubborn         = "Old process %d is stubborn. Sending SIGKILL..."
	MsgBotOldTerminated    = "Old instance terminated."
	MsgBotSyncFail         = "Command sync failed: %v"
	MsgBotSyncSkipped      = "Skipping command sync as requested."
	MsgGenericError        = "%v"

	// --- Session ---
	MsgPresenceUpdateFail = "Failed to update presence: %v"
	MsgPresenceRotated    = "Presence: %s"
	MsgPresenceToggled    = "Presence rotation visible: **%t**"

	// --- Loader ---
	MsgLoaderUpToDate       = "Commands up to date for %s (hash %s)"
	MsgLoaderRegistering    = "Registering %d commands for %s..."
	MsgLoaderRegistered     = "Registered %s for %s"
	MsgLoaderCleared        = "Cleared stale commands from %s"
	MsgLoaderClearFail      = "Could not clear stale commands from %s: %v"
	MsgLoaderDaemonStarting = "Starting %s..."
	MsgLoaderDaemonStopping = "Stopping %s..."
	MsgLoaderPanicRecovered = "Panic recovered in %s: %v\n%s"

	// --- Voice ---
	MsgVoiceJoining        = "Joining channel %s in guild %s"
	MsgVoiceJoinFail       = "Failed to connect to voice in guild %s: %v"
	MsgVoiceLeaving        = "Leaving voice in guild %s"
	MsgVoiceExternalLeave  = "Bot disconnected by external event in guild %s"
	MsgVoiceMoved          = "Bot moved from %s to %s in guild %s"
	MsgVoiceAutoPause      = "Pausing playback in guild %s (No humans)"
	MsgVoiceAutoResume     = "Resuming playback in guild %s"
	MsgVoiceStatusFail     = "Failed to update status for %s: %v (retrying...)"
	MsgVoiceTranscoderFail = "Transcoder %s failed: %v"
	MsgVoiceStreamEnded    = "Stream ended: %s"
	MsgVoiceShuttingDown   = "Shutting down voice manager..."

	// --- Music ---
	MsgMusicRequested      = "User %s (%s) requested: %s"
	MsgMusicStopped        = "User %s (%s) stopped playback in guild %s"
	MsgMusicHistoryFail    = "Failed to record history: %v"
	MsgMusicSearchFail     = "Search failed for %q: %v"
	MsgMusicProgressFail   = "Failed to update progress message: %v"
	MsgMusicNowPlaying     = "🎶 Now playing: [%s](<%s>)"
	MsgMusicAdded          = "✅ Added to queue: [%s](<%s>)"
	MsgMusicAddingMore     = "\n⏳ Adding the rest of the playlist..."
	MsgMusicProgress       = "✅ Added **%d** songs (%d failed, %d remaining)..."
	MsgMusicProgressDone   = "✅ Finished adding **%d** songs (%d failed)."
	MsgMusicResumed        = "▶️ Resumed."
	MsgMusicPaused         = "⏸️ Paused."
	MsgMusicSkipped        = "⏭️ Skipped."
	MsgMusicStoppedDisp    = "🛑 Stopped and disconnected."
	MsgMusicShuffled       = "🔀 Shuffled the queue."
	MsgMusicRemoved        = "🗑️ Removed **%s** from the queue."
	MsgMusicQueueHeader    = "**Queue**"
	MsgMusicQueueEmpty     = "_The queue is empty._"
	MsgMusicQueueFooter    = "Page %d/%d · %d songs"
	MsgMusicQueueAdding    = " · still adding %d items"
	MsgMusicQueueStreaming = " · still adding"
	MsgMusicHistoryEmpty   = "_Nothing has been played yet._"
	ErrMusicGuildOnly      = "This command can only be used in a server."
	ErrMusicNoVoice        = "You need to be in a voice channel."
	ErrMusicNothingPlaying = "Nothing is playing."
	ErrMusicNothingResume  = "Nothing to resume."
	ErrMusicNothingShuffle = "Nothing to shuffle."
	ErrMusicNoResults      = "No playable results for that query."
	ErrMusicInvalidIndex   = "There is no song at position %d."
	ErrMusicFailed         = "Failed: %v"
	ErrMusicBadTime        = "Could not understand the time %q."
)
