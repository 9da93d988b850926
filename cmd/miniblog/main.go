// Package main is the miniblog CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/miniblog/internal/blog"
	"github.com/hyperjump/miniblog/internal/cli"
	"github.com/hyperjump/miniblog/internal/config"
	"github.com/hyperjump/miniblog/internal/index"
	"github.com/hyperjump/miniblog/internal/metrics"
	"github.com/hyperjump/miniblog/internal/models"
	"github.com/hyperjump/miniblog/internal/server"
	"github.com/hyperjump/miniblog/internal/storage"
	"github.com/hyperjump/miniblog/internal/tasks"
	"github.com/hyperjump/miniblog/pkg/utils"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/miniblog/config.yaml"

// loadConfig loads config from path. When path is the default and config.yaml
// exists in the current directory, that file is used instead.
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "search":
		runSearch()
	case "reindex":
		runReindex()
	case "drop-index":
		runDropIndex()
	case "init":
		runInit()
	case "version", "--version", "-v":
		fmt.Printf("miniblog version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// setup loads config and builds a logger, exiting on failure.
func setup(configPath string, debug bool) (*config.Config, string, *zap.Logger) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug || debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	return cfg, resolved, logger
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, logger := setup(*configPath, *debug)
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", cfg.Debug || *debug),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	srv := server.NewServer(components.Blog, cfg, components.Metrics, logger)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func printSearchUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: miniblog search [flags] <query>\n\n")
	fmt.Fprintf(fs.Output(), "Query is all remaining arguments joined by spaces. Multi-word queries work with or without quotes.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Examples:
  miniblog search hello world
  miniblog search --page 2 --per-page 10 hello
  miniblog search --server "" hello          # read the database and index directly
  miniblog search hello --output json
`)
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// searchArgsReorder moves flags that appear after the query to the front so
// that flag.Parse sees them. The flag package stops at the first non-flag argument.
func searchArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = read the database and index directly)")
	page := fs.Int("page", 1, "result page")
	perPage := fs.Int("per-page", 0, "results per page (default from config)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	fs.Usage = func() { printSearchUsage(fs) }
	_ = fs.Parse(searchArgsReorder(os.Args[2:]))

	queryStr := buildSearchQuery(fs.Args())
	if queryStr == "" {
		printSearchUsage(fs)
		os.Exit(1)
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	q := models.SearchQuery{Query: queryStr, Page: *page, PerPage: *perPage}

	var result *models.Page[*models.Post]
	if *serverURL != "" {
		// The server holds the index lock, so go through its API when it runs.
		result, err = searchViaHTTP(*serverURL, q)
	} else {
		result, err = searchDirect(*configPath, q)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteSearchResults(os.Stdout, queryStr, result, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func searchDirect(configPath string, q models.SearchQuery) (*models.Page[*models.Post], error) {
	cfg, _, logger := setup(configPath, false)
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		return nil, err
	}
	defer components.Close()
	return components.Blog.SearchPosts(context.Background(), q)
}

func searchViaHTTP(serverURL string, q models.SearchQuery) (*models.Page[*models.Post], error) {
	params := url.Values{}
	params.Set("q", q.Query)
	if q.Page > 0 {
		params.Set("page", strconv.Itoa(q.Page))
	}
	if q.PerPage > 0 {
		params.Set("per_page", strconv.Itoa(q.PerPage))
	}
	resp, err := http.Get(strings.TrimRight(serverURL, "/") + "/api/v1/search?" + params.Encode())
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var page models.Page[*models.Post]
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &page, nil
}

func runReindex() {
	fs := flag.NewFlagSet("reindex", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	cfg, _, logger := setup(*configPath, false)
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	n, err := components.Blog.Reindex(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Reindex failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Reindexed %d posts\n", n)
}

func runDropIndex() {
	fs := flag.NewFlagSet("drop-index", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	cfg, _, logger := setup(*configPath, false)
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	if err := components.Blog.DropIndex(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Drop index failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Post index dropped; run 'miniblog reindex' to rebuild it")
}

// writeDefaultConfig saves a config with every default filled in to path,
// with the post index stored next to the database. An existing file is kept
// unless force is set.
func writeDefaultConfig(path string, force bool) (*config.Config, error) {
	if _, err := os.Stat(path); err == nil && !force {
		return nil, fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Storage.IndexPath = filepath.Join(filepath.Dir(cfg.Storage.DatabasePath), "index")
	enabled := true
	cfg.Metrics.Enabled = &enabled
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := config.Save(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runInit() {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file to write")
	force := fs.Bool("force", false, "overwrite an existing config file")
	_ = fs.Parse(os.Args[2:])

	cfg, err := writeDefaultConfig(*configPath, *force)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Init failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %s (database %s, index %s)\n", *configPath, cfg.Storage.DatabasePath, cfg.Storage.IndexPath)
}

// Components holds everything a command needs, in close order.
type Components struct {
	Storage *storage.SQLiteStorage
	Index   index.Client
	Queue   tasks.Queue
	Metrics *metrics.Metrics
	Blog    *blog.Service
}

func (c *Components) Close() {
	if c.Queue != nil {
		_ = c.Queue.Close()
	}
	if c.Index != nil {
		_ = c.Index.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	c := &Components{}

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c.Storage = store

	if cfg.Storage.IndexPath == "" {
		// Tests and throwaway runs keep the index in memory.
		logger.Warn("no index path configured, using an in-memory index")
		c.Index = index.NewMemoryClient()
	} else {
		client, err := index.NewBleveClient(cfg.Storage.IndexPath, index.WithLogger(logger))
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to initialize search index: %w", err)
		}
		c.Index = client
	}

	if cfg.Tasks.RedisAddr != "" {
		queue, err := tasks.NewRedisQueue(tasks.RedisOptions{
			Addr:     cfg.Tasks.RedisAddr,
			Password: cfg.Tasks.RedisPassword,
			DB:       cfg.Tasks.RedisDB,
			Queue:    cfg.Tasks.Queue,
		})
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to connect task queue: %w", err)
		}
		c.Queue = queue
	} else {
		c.Queue = tasks.NewMemoryQueue()
	}
	logger.Info("task queue initialized", zap.Bool("redis", cfg.Tasks.RedisAddr != ""))

	if cfg.Metrics.EnabledOrDefault() {
		c.Metrics = metrics.New(prometheus.NewRegistry())
	}

	c.Blog = blog.NewService(store, c.Index, c.Queue,
		blog.WithLogger(logger),
		blog.WithMetrics(c.Metrics),
		blog.WithPaging(cfg.Blog.PostsPerPage, cfg.Blog.MaxPerPage),
	)
	return c, nil
}

func printUsage() {
	fmt.Println(`miniblog - Microblogging service with full-text post search

Usage:
  miniblog server [flags]           Start the HTTP server
  miniblog search [flags] <query>   Search posts
  miniblog reindex [flags]          Rebuild the post index from the database
  miniblog drop-index [flags]       Delete the post index
  miniblog init [flags]             Write a config file with default settings
  miniblog version                  Show version
  miniblog help                     Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/miniblog/config.yaml)
  --debug            Enable debug logging

Search Flags:
  --config string    Config file path (direct mode)
  --server string    Server URL (default: http://localhost:8080). Use --server "" to read the database and index directly.
  --page int         Result page (default: 1)
  --per-page int     Results per page (default from config)
  --output string    Output format: text or json (default: text)

Reindex / Drop-index Flags:
  --config string    Config file path

Init Flags:
  --config string    Config file to write (default: /usr/local/etc/miniblog/config.yaml)
  --force            Overwrite an existing file

Examples:
  miniblog init --config ./config.yaml
  miniblog server
  miniblog search "hello world"
  miniblog search --output json hello
  miniblog reindex`)
}
