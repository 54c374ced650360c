package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"
	_ "time/tzdata"

	"github.com/claudescope/claudescope/internal/config"
	"github.com/claudescope/claudescope/internal/db"
	"github.com/claudescope/claudescope/internal/etl"
	"github.com/claudescope/claudescope/internal/server"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = ""
)

const watcherDebounce = 500 * time.Millisecond

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "sync":
			runSync(os.Args[2:])
			return
		case "serve":
			runServe(os.Args[2:])
			return
		case "version", "--version", "-v":
			fmt.Printf("claudescope %s (commit %s, built %s)\n",
				version, commit, buildDate)
			return
		case "help", "--help", "-h":
			printUsage()
			return
		}
	}

	runServe(os.Args[1:])
}

func printUsage() {
	fmt.Printf(`claudescope %s - search and browse local Claude Code data

Ingests session logs, prompt history, tasks, and plans from
~/.claude into SQLite with full-text search, and serves a local
REST API over the result.

Usage:
  claudescope [flags]         Start the server (default command)
  claudescope serve [flags]   Start the server (explicit)
  claudescope sync [flags]    Rebuild the database and exit
  claudescope version         Show version information
  claudescope help            Show this help

Server flags:
  -host string        Host to bind to (default "127.0.0.1")
  -port int           Port to listen on (default 8080)
  -claude-dir string  Claude data directory (default ~/.claude)

Sync flags:
  -claude-dir string  Claude data directory (default ~/.claude)
  -force              Rebuild even when the last sync is fresh

Environment variables:
  CLAUDE_DIR              Claude data directory
  CLAUDESCOPE_DATA_DIR    Data directory (database, config)
  CLAUDESCOPE_HOST        Host to bind to
  CLAUDESCOPE_PORT        Port to listen on

Data is stored in ~/.claudescope/ by default.
`, version)
}

func runServe(args []string) {
	cfg := mustLoadConfig(args)
	database := mustOpenDB(cfg)
	defer database.Close()

	syncer := etl.NewSyncer(database, cfg.ClaudeDir)
	runStartupSync(syncer, cfg.MaxSyncAge)

	stopWatcher := startFileWatcher(cfg, syncer)
	defer stopWatcher()

	port := server.FindAvailablePort(cfg.Host, cfg.Port)
	if port != cfg.Port {
		fmt.Printf("Port %d in use, using %d\n", cfg.Port, port)
	}
	cfg.Port = port

	srv := server.New(cfg, database, syncer,
		server.WithVersion(server.VersionInfo{
			Version:   version,
			Commit:    commit,
			BuildDate: buildDate,
		}),
	)

	fmt.Printf("claudescope %s listening at http://%s:%d\n",
		version, cfg.Host, cfg.Port)
	if err := srv.ListenAndServe(); err != nil &&
		err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}

func runSync(args []string) {
	fs := flag.NewFlagSet("claudescope sync", flag.ExitOnError)
	force := fs.Bool("force", false, "Rebuild even when the last sync is fresh")
	claudeDir := fs.String("claude-dir", "", "Claude data directory")
	if err := fs.Parse(args); err != nil {
		log.Fatalf("parsing flags: %v", err)
	}

	cfg, err := config.LoadMinimal()
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if *claudeDir != "" {
		cfg.ClaudeDir = *claudeDir
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("creating data dir: %v", err)
	}

	database := mustOpenDB(cfg)
	defer database.Close()

	syncer := etl.NewSyncer(database, cfg.ClaudeDir)
	if !*force && !syncer.IsStale(cfg.MaxSyncAge) {
		fmt.Println("Database is fresh; use -force to rebuild anyway.")
		return
	}

	stats, err := syncer.Sync()
	if err != nil {
		log.Fatalf("sync failed: %v", err)
	}
	printStats(stats)
}

func printStats(stats etl.SyncStats) {
	fmt.Printf(
		"Synced %d projects, %d sessions, %d messages, %d tool uses,\n"+
			"%d history entries, %d tasks, %d plans in %dms\n",
		stats.Projects, stats.Sessions, stats.Messages, stats.ToolUses,
		stats.GlobalHistory, stats.Tasks, stats.Plans, stats.DurationMs,
	)
}

func mustLoadConfig(args []string) config.Config {
	fs := flag.NewFlagSet("claudescope", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(),
			"Usage: claudescope [serve] [flags]\n\nFlags:\n")
		fs.PrintDefaults()
	}
	config.RegisterServeFlags(fs)
	if err := fs.Parse(args); err != nil {
		log.Fatalf("parsing flags: %v", err)
	}

	cfg, err := config.Load(fs)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("creating data dir: %v", err)
	}
	return cfg
}

func mustOpenDB(cfg config.Config) *db.DB {
	database, err := db.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("opening database: %v", err)
	}
	return database
}

func runStartupSync(syncer *etl.Syncer, maxAge time.Duration) {
	if !syncer.IsStale(maxAge) {
		fmt.Println("Database is fresh, skipping initial sync.")
		return
	}
	fmt.Println("Running initial sync...")
	stats, err := syncer.Sync()
	if err != nil {
		log.Fatalf("initial sync failed: %v", err)
	}
	printStats(stats)
}

func startFileWatcher(cfg config.Config, syncer *etl.Syncer) func() {
	onChange := func() {
		if _, err := syncer.Sync(); err != nil {
			log.Printf("resync failed: %v", err)
		}
	}
	watcher, err := etl.NewWatcher(watcherDebounce, onChange)
	if err != nil {
		log.Printf("warning: file watcher unavailable: %v", err)
		return func() {}
	}

	if _, err := os.Stat(cfg.ClaudeDir); err == nil {
		_, _, _ = watcher.WatchRecursive(cfg.ClaudeDir)
	}
	watcher.Start()
	return watcher.Stop
}
