package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/joho/godotenv"
	"github.com/mattn/go-sqlite3"
)

// --- Phase 1: Configuration & Environment ---

type Config struct {
	Token         string
	GuildID       string
	DatabasePath  string
	Silent        bool
	Debug         bool
	YoutubePrefix string
	YTMusicPrefix string

	// Queue tuning
	PrepareAhead int
	ShuffleBatch int
	WaitPolls    int
}

var GlobalConfig *Config

// LoadConfig initializes the configuration from environment variables.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		folder := "."
		if info, err := os.Stat("data"); err == nil && info.IsDir() {
			folder = "./data"
		}
		dbPath = filepath.Join(folder, GetProjectName()+".db")
	}

	silent, _ := strconv.ParseBool(os.Getenv("SILENT"))
	debug, _ := strconv.ParseBool(os.Getenv("DEBUG"))

	cfg := &Config{
		Token:         os.Getenv("DISCORD_TOKEN"),
		GuildID:       os.Getenv("GUILD_ID"),
		DatabasePath:  dbPath,
		Silent:        silent,
		Debug:         debug,
		YoutubePrefix: envOr("VOICE_YT_PREFIX", "[YT]"),
		YTMusicPrefix: envOr("VOICE_YTM_PREFIX", "[YTM]"),
	}

	var err error
	if cfg.PrepareAhead, err = envInt("MUSIC_PREPARE_AHEAD", 3); err != nil {
		return nil, err
	}
	if cfg.ShuffleBatch, err = envInt("MUSIC_SHUFFLE_BATCH", 20); err != nil {
		return nil, err
	}
	if cfg.WaitPolls, err = envInt("MUSIC_WAIT_POLLS", 10); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	GlobalConfig = cfg
	return cfg, nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf(MsgConfigInvalidNumber, key, raw)
	}
	return n, nil
}

func (c *Config) Validate() error {
	if c.Token == "" {
		return fmt.Errorf(MsgConfigMissingToken)
	}
	if c.GuildID != "" {
		if _, err := snowflake.Parse(c.GuildID); err != nil {
			return fmt.Errorf("invalid GUILD_ID: must be a valid Snowflake")
		}
	}
	if c.PrepareAhead <= 0 || c.ShuffleBatch <= 0 || c.WaitPolls <= 0 {
		return fmt.Errorf("queue tuning values must be positive")
	}
	return nil
}

func GetProjectName() string {
	exePath, err := os.Executable()
	projectName := "bot"
	if err == nil {
		projectName = strings.TrimSuffix(filepath.Base(exePath), ".exe")

		if projectName == "main" || strings.HasPrefix(projectName, "go_build_") {
			if modData, err := os.ReadFile("go.mod"); err == nil {
				first, _, _ := strings.Cut(string(modData), "\n")
				if name, ok := strings.CutPrefix(first, "module "); ok {
					projectName = strings.TrimSpace(name[strings.LastIndex(name, "/")+1:])
				}
			}
		}
	}
	return projectName
}

// --- Phase 2: Database Connection & Lifecycle ---

var DB *sql.DB

func InitDatabase(ctx context.Context, dataSourceName string) error {
	// Explicitly reference sqlite3 driver to avoid blank identifier
	_ = sqlite3.SQLiteDriver{}

	var err error
	DB, err = sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return err
	}

	DB.SetMaxOpenConns(5)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA cache_size=-2000;",
	}

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	for _, p := range pragmas {
		if _, err := DB.ExecContext(initCtx, p); err != nil {
			return fmt.Errorf(MsgDatabasePragmaError, p, err)
		}
	}

	tx, err := DB.BeginTx(initCtx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	tableQueries := []string{
		`CREATE TABLE IF NOT EXISTS bot_config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS music_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			guild_id TEXT NOT NULL,
			title TEXT NOT NULL,
			url TEXT NOT NULL,
			requester TEXT NOT NULL,
			played_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_music_history_guild ON music_history (guild_id, played_at DESC)`,
	}

	for _, q := range tableQueries {
		if _, err := tx.ExecContext(initCtx, q); err != nil {
			return fmt.Errorf(MsgDatabaseTableError, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	LogDatabase(MsgDatabaseInitSuccess)
	return nil
}

func CloseDatabase() {
	if DB != nil {
		DB.Close()
		DB = nil
	}
}

// --- Phase 3: Infrastructure & Bot Persistence ---

// BotConfig helpers are used by the loader for mode tracking and state.
func GetBotConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := DB.QueryRowContext(ctx, "SELECT value FROM bot_config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func SetBotConfig(ctx context.Context, key, value string) error {
	_, err := DB.ExecContext(ctx, `
		INSERT INTO bot_config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, key, value)
	return err
}

// --- Phase 4: Music History ---

type HistoryEntry struct {
	ID        int64
	GuildID   snowflake.ID
	Title     string
	URL       string
	Requester string
	PlayedAt  time.Time
}

func AddHistory(ctx context.Context, e *HistoryEntry) error {
	if e.PlayedAt.IsZero() {
		e.PlayedAt = time.Now()
	}
	res, err := DB.ExecContext(ctx, `
		INSERT INTO music_history (guild_id, title, url, requester, played_at)
		VALUES (?, ?, ?, ?, ?)
	`, e.GuildID.String(), e.Title, e.URL, e.Requester, e.PlayedAt.UTC())
	if err != nil {
		return err
	}
	e.ID, _ = res.LastInsertId()
	return nil
}

// GetRecentHistory returns the most recently played distinct URLs of a guild, newest first.
func GetRecentHistory(ctx context.Context, guildID snowflake.ID, limit int) ([]*HistoryEntry, error) {
	rows, err := DB.QueryContext(ctx, `
		SELECT id, guild_id, title, url, requester, played_at
		FROM music_history WHERE id IN (
			SELECT MAX(id) FROM music_history WHERE guild_id = ? GROUP BY url
		) ORDER BY played_at DESC, id DESC LIMIT ?
	`, guildID.String(), limit)
	if err != nil {
		return nil, err
	}
	return scanHistory(rows)
}

// GetHistorySince returns every play of a guild at or after since, newest first.
func GetHistorySince(ctx context.Context, guildID snowflake.ID, since time.Time, limit int) ([]*HistoryEntry, error) {
	rows, err := DB.QueryContext(ctx, `
		SELECT id, guild_id, title, url, requester, played_at
		FROM music_history WHERE guild_id = ? AND played_at >= ?
		ORDER BY played_at DESC, id DESC LIMIT ?
	`, guildID.String(), since.UTC(), limit)
	if err != nil {
		return nil, err
	}
	return scanHistory(rows)
}

func scanHistory(rows *sql.Rows) ([]*HistoryEntry, error) {
	defer rows.Close()

	var entries []*HistoryEntry
	for rows.Next() {
		e := &HistoryEntry{}
		var gid string
		if err := rows.Scan(&e.ID, &gid, &e.Title, &e.URL, &e.Requester, &e.PlayedAt); err != nil {
			return nil, err
		}
		id, err := snowflake.Parse(gid)
		if err != nil {
			return nil, fmt.Errorf("failed to parse guild ID '%s' for history %d: %w", gid, e.ID, err)
		}
		e.GuildID = id
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// PruneHistory keeps only the newest keep rows of a guild.
func PruneHistory(ctx context.Context, guildID snowflake.ID, keep int) (int64, error) {
	res, err := DB.ExecContext(ctx, `
		DELETE FROM music_history WHERE guild_id = ? AND id NOT IN (
			SELECT id FROM music_history WHERE guild_id = ? ORDER BY played_at DESC, id DESC LIMIT ?
		)
	`, guildID.String(), guildID.String(), keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
