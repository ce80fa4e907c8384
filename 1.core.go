package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

const (
	pidFile         = ".bot.pid"
	pidRetry        = 100 * time.Millisecond
	pidLockAttempts = 100
	shutdownTimeout = 15 * time.Second
)

type flags struct {
	silent    bool
	skipSync  bool
	forceSync bool
}

func main() {
	// LogFatal panics with its message so the defers below still run
	defer func() {
		if r := recover(); r != nil {
			msg, ok := r.(string)
			if !ok {
				panic(r)
			}
			fmt.Fprintf(os.Stderr, "\n[FATAL] %s\n", msg)
			os.Exit(1)
		}
	}()

	var f flags
	flag.BoolVar(&f.silent, "silent", false, "Disable all log output")
	flag.BoolVar(&f.skipSync, "skip-sync", false, "Do not register slash commands")
	flag.BoolVar(&f.forceSync, "force-sync", false, "Register slash commands even when unchanged")
	flag.Parse()

	cfg, err := LoadConfig()
	if err != nil {
		LogFatal(MsgConfigFailedToLoad, err)
	}
	f.silent = f.silent || cfg.Silent
	InitLogger(LogOptions{Silent: f.silent, Debug: cfg.Debug, ToFile: true})

	if err := InitDatabase(context.Background(), cfg.DatabasePath); err != nil {
		LogFatal("Failed to initialize database: %v", err)
	}
	defer CloseDatabase()

	LogInfo(MsgBotStarting, cachedBotName(context.Background()))

	lock, err := lockPID(pidFile)
	if err != nil {
		LogFatal("Failed to lock PID file: %v", err)
	}
	defer lock.Unlock()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, f); err != nil {
		LogFatal(MsgGenericError, err)
	}
}

// run connects to Discord and blocks until ctx is cancelled.
func run(ctx context.Context, cfg *Config, f flags) error {
	appCtx = ctx

	client, err := CreateClient(cfg)
	if err != nil {
		return fmt.Errorf("failed to create Discord client: %w", err)
	}
	defer client.Close(context.Background())

	if f.skipSync {
		LogInfo(MsgBotSyncSkipped)
	} else {
		var target commandTarget
		if cfg.GuildID != "" {
			target.guild = snowflake.MustParse(cfg.GuildID)
		}
		if err := SyncCommands(ctx, client, target, f.forceSync); err != nil {
			LogError(MsgBotSyncFail, err)
		}
	}

	if err := client.OpenGateway(ctx); err != nil {
		return fmt.Errorf("failed to open gateway: %w", err)
	}

	<-ctx.Done()
	if !f.silent {
		fmt.Println()
	}

	name := GetProjectName()
	if u, ok := client.Caches.SelfUser(); ok {
		name = u.Username
	}
	LogInfo(MsgBotShutdown, name)

	done := make(chan struct{})
	go func() {
		stopDaemons()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		LogWarn("Daemons did not stop within %s", shutdownTimeout)
	}
	return nil
}

// ===========================
// Single instance
// ===========================

// pidLock is an exclusive flock on the PID file. A newer instance evicts the
// process named in the file and takes over.
type pidLock struct {
	path string
	file *os.File
}

func lockPID(path string) (*pidLock, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			break
		}
		if !errors.Is(err, syscall.EWOULDBLOCK) || attempt >= pidLockAttempts {
			_ = f.Close()
			return nil, fmt.Errorf("lock %s: %w", path, err)
		}
		if pid, ok := readPID(f); ok && pid != os.Getpid() {
			evict(pid)
		} else {
			time.Sleep(pidRetry)
		}
	}

	if err := writePID(f, os.Getpid()); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &pidLock{path: path, file: f}, nil
}

func (l *pidLock) Unlock() {
	_ = syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	_ = l.file.Close()
	_ = os.Remove(l.path)
}

func readPID(r io.ReadSeeker) (int, bool) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return 0, false
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	return pid, err == nil && pid > 0
}

func writePID(f *os.File, pid int) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(pid)), 0); err != nil {
		return err
	}
	return f.Sync()
}

// evict sends SIGTERM to pid and escalates to SIGKILL after 5s.
func evict(pid int) {
	p, err := os.FindProcess(pid)
	if err != nil {
		return
	}
	LogInfo(MsgBotKillingOld, pid)
	_ = p.Signal(syscall.SIGTERM)
	if exited(p, 5*time.Second) {
		LogInfo(MsgBotOldTerminated)
		return
	}
	LogWarn(MsgBotStubborn, pid)
	_ = p.Signal(syscall.SIGKILL)
	if !exited(p, 2*time.Second) {
		LogWarn("Process %d still exists after SIGKILL", pid)
	}
}

func exited(p *os.Process, within time.Duration) bool {
	for deadline := time.Now().Add(within); time.Now().Before(deadline); time.Sleep(pidRetry) {
		if p.Signal(syscall.Signal(0)) != nil {
			return true
		}
	}
	return false
}
