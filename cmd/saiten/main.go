// Package main is the saiten CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/hyperjump/saiten/internal/cli"
	"github.com/hyperjump/saiten/internal/config"
	"github.com/hyperjump/saiten/internal/corpus"
	"github.com/hyperjump/saiten/internal/grading"
	"github.com/hyperjump/saiten/internal/retrieval"
	"github.com/hyperjump/saiten/internal/server"
	"github.com/hyperjump/saiten/internal/sheet"
	"github.com/hyperjump/saiten/internal/storage"
	"github.com/hyperjump/saiten/internal/watcher"
	"github.com/hyperjump/saiten/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/saiten/config.yaml"

// loadConfig loads config from path. When path is the default, config.yaml in the current
// directory is preferred if present, and a missing default file yields built-in defaults.
// Environment overrides (.env, SAITEN_*, OLLAMA_HOST, OPENAI_API_KEY) are applied last.
// Returns the config and the path that was actually loaded ("" for built-in defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, "", fmt.Errorf("failed to load .env: %w", err)
	}
	cfg, resolved, err := readConfig(path)
	if err != nil {
		return nil, "", err
	}
	config.ApplyEnv(cfg)
	config.ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, resolved, nil
}

func readConfig(path string) (*config.Config, string, error) {
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
		if _, statErr := os.Stat(path); errors.Is(statErr, fs.ErrNotExist) {
			return config.Default(), "", nil
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
	case "ingest":
		runIngest()
	case "retrieve":
		runRetrieve()
	case "grade":
		runGrade()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("saiten version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// setup loads config, builds the logger and initializes components, exiting on failure.
func setup(configPath string, debugFlag bool) (*config.Config, *zap.Logger, *Components) {
	cfg, resolvedConfigPath, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || debugFlag
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger.Debug("config loaded", zap.String("config_path", resolvedConfigPath), zap.Bool("debug", debugMode))
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	return cfg, logger, components
}

// keyFlags registers --owner, --course and --assignment on fs.
func keyFlags(fs *flag.FlagSet) func() corpus.Key {
	owner := fs.String("owner", "", "corpus owner (professor username)")
	course := fs.String("course", "", "course id")
	assignment := fs.String("assignment", "", "assignment id")
	return func() corpus.Key {
		return corpus.Key{Owner: *owner, Course: *course, Assignment: *assignment}
	}
}

func parseFormatOrExit(s string) cli.OutputFormat {
	format, err := cli.ParseFormat(s)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return format
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, logger, components := setup(*configPath, *debug)
	defer logger.Sync()
	defer components.Close()

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if cfg.Watch.Inbox != "" {
		exts := cfg.Watch.Extensions
		idx := components.Indexer
		inbox := watcher.New(cfg.Watch.Inbox, exts, func(ctx context.Context, key corpus.Key, path string) {
			if _, err := idx.IngestFile(ctx, key, path, exts); err != nil {
				logger.Warn("inbox ingest failed", zap.String("path", path), zap.Error(err))
			}
		}, watcher.WithLogger(logger), watcher.WithDebounce(cfg.Watch.Debounce))
		if err := inbox.Start(watchCtx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		inbox.SyncExistingFiles()
		defer inbox.Stop()
	}

	srv := server.NewServer(server.Deps{
		Ingester:    components.Indexer,
		Retriever:   components.Retrieval,
		Grader:      components.Grader,
		Corpora:     components.Corpora,
		Metrics:     components.Metrics,
		AllowedExts: cfg.Watch.Extensions,
		Inbox:       cfg.Watch.Inbox,
	}, &cfg.Server, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	key := keyFlags(fs)
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(os.Args[2:]))
	if fs.NArg() < 1 {
		fmt.Println("Usage: saiten ingest --owner o --course c --assignment a [flags] <file>")
		os.Exit(1)
	}
	format := parseFormatOrExit(*output)

	_, logger, components := setup(*configPath, false)
	defer logger.Sync()
	defer components.Close()

	// single file: no extension filter
	res, err := components.Indexer.IngestFile(context.Background(), key(), fs.Arg(0), nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteIngest(os.Stdout, res, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runRetrieve() {
	fs := flag.NewFlagSet("retrieve", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	key := keyFlags(fs)
	k := fs.Int("k", 0, "number of passages (0 = configured default)")
	threshold := fs.Float64("threshold", -1, "maximum squared L2 distance (negative = configured default)")
	budget := fs.Int("max-bytes", -1, "maximum total context bytes (negative = configured default)")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	query := buildQuery(fs.Args())
	if query == "" {
		fmt.Println("Usage: saiten retrieve --owner o --course c --assignment a [flags] <query>")
		os.Exit(1)
	}
	format := parseFormatOrExit(*output)

	_, logger, components := setup(*configPath, false)
	defer logger.Sync()
	defer components.Close()

	req := retrieval.Request{Query: query, Key: key(), K: *k}
	if *threshold >= 0 {
		req.DistanceThreshold = threshold
	}
	if *budget >= 0 {
		req.MaxTotalLength = budget
	}
	res, err := components.Retrieval.Retrieve(context.Background(), req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Retrieve failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteRetrieval(os.Stdout, query, res, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runGrade() {
	fs := flag.NewFlagSet("grade", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	key := keyFlags(fs)
	question := fs.String("question", "", "essay question")
	criteriaPath := fs.String("criteria", "", "YAML or JSON file mapping criterion name to prompt template")
	out := fs.String("out", "", "graded workbook path (default: <input>_graded.xlsx)")
	concurrency := fs.Int("concurrency", 0, "worker count (0 = configured default)")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(os.Args[2:]))
	if fs.NArg() < 1 || *question == "" || *criteriaPath == "" {
		fmt.Println("Usage: saiten grade --owner o --course c --assignment a --question q --criteria criteria.yaml [flags] <essays.xlsx>")
		os.Exit(1)
	}
	format := parseFormatOrExit(*output)
	input := fs.Arg(0)
	outPath := *out
	if outPath == "" {
		outPath = gradedPath(input)
	}

	criteria, err := loadCriteria(*criteriaPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load criteria: %v\n", err)
		os.Exit(1)
	}
	essays, err := sheet.ReadEssaysFile(input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read essays: %v\n", err)
		os.Exit(1)
	}

	_, logger, components := setup(*configPath, false)
	defer logger.Sync()
	defer components.Close()

	job := &grading.Job{
		Key:              key(),
		Essays:           sheet.Responses(essays),
		Question:         *question,
		CriteriaPrompts:  criteria,
		ConcurrencyLimit: *concurrency,
	}
	res, err := components.Grader.GradeBatch(context.Background(), job)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Grading failed: %v\n", err)
		os.Exit(1)
	}
	if err := sheet.WriteGradedFile(outPath, essays, job.Criteria(), res); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write %s: %v\n", outPath, err)
		os.Exit(1)
	}
	if err := cli.WriteGrade(os.Stdout, res, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
	if format == cli.OutputText {
		fmt.Printf("Graded workbook written to %s\n", outPath)
	}
}

// statusResponse is the shape of "saiten status --output json".
type statusResponse struct {
	StorageBackend string              `json:"storage_backend"`
	StoragePath    string              `json:"storage_path"`
	DiskUsageBytes *int64              `json:"disk_usage_bytes,omitempty"`
	Embedding      string              `json:"embedding_provider"`
	Dimensions     int                 `json:"embedding_dimensions"`
	Oracle         string              `json:"oracle"`
	ChunkSize      int                 `json:"chunk_size"`
	ChunkOverlap   int                 `json:"chunk_overlap"`
	Inbox          string              `json:"inbox,omitempty"`
	Corpus         *corpus.Description `json:"corpus,omitempty"`
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	key := keyFlags(fs)
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])
	format := parseFormatOrExit(*output)

	cfg, logger, components := setup(*configPath, false)
	defer logger.Sync()
	defer components.Close()

	status := statusResponse{
		StorageBackend: cfg.Storage.Backend,
		StoragePath:    storagePath(cfg),
		Embedding:      cfg.Embedding.Provider,
		Dimensions:     components.Embedder.Dimensions(),
		Oracle:         cfg.Oracle.Provider + "/" + cfg.Oracle.Model,
		ChunkSize:      cfg.Chunking.Size,
		ChunkOverlap:   cfg.Chunking.Overlap,
		Inbox:          cfg.Watch.Inbox,
	}
	if diskBytes, err := storage.UsageBytes(cfg.Storage.Backend, cfg.Storage.DatabasePath, cfg.Storage.BadgerPath); err == nil {
		status.DiskUsageBytes = &diskBytes
	}
	if k := key(); k != (corpus.Key{}) {
		desc, err := components.Corpora.Describe(context.Background(), k)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Describe corpus failed: %v\n", err)
			os.Exit(1)
		}
		status.Corpus = desc
	}

	if format == cli.OutputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(status); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
		return
	}
	fmt.Printf("storage:            %s (%s)\n", status.StorageBackend, status.StoragePath)
	if status.DiskUsageBytes != nil {
		fmt.Printf("disk_usage_bytes:   %d\n", *status.DiskUsageBytes)
	}
	fmt.Printf("embedding:          %s (dim %d)\n", status.Embedding, status.Dimensions)
	fmt.Printf("oracle:             %s\n", status.Oracle)
	fmt.Printf("chunk_size:         %d\n", status.ChunkSize)
	fmt.Printf("chunk_overlap:      %d\n", status.ChunkOverlap)
	if status.Inbox != "" {
		fmt.Printf("inbox:              %s\n", status.Inbox)
	}
	if status.Corpus != nil {
		fmt.Println()
		_ = cli.WriteDescription(os.Stdout, status.Corpus, cli.OutputText)
	}
}

func storagePath(cfg *config.Config) string {
	if cfg.Storage.Backend == "badger" {
		return cfg.Storage.BadgerPath
	}
	return cfg.Storage.DatabasePath
}

// loadCriteria reads a name -> prompt template map. YAML is a superset of JSON, so both work.
func loadCriteria(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var criteria map[string]string
	if err := yaml.Unmarshal(data, &criteria); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(criteria) == 0 {
		return nil, fmt.Errorf("%s defines no criteria", path)
	}
	return criteria, nil
}

// gradedPath derives the default output path: essays.xlsx -> essays_graded.xlsx.
func gradedPath(input string) string {
	ext := filepath.Ext(input)
	return strings.TrimSuffix(input, ext) + "_graded.xlsx"
}

// buildQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// argsReorder moves any flags (and their values) that appear after the positional
// arguments to the front so that flag.Parse() sees them. Go's flag package stops at
// the first non-flag argument.
func argsReorder(args []string) []string {
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

func printUsage() {
	fmt.Println(`saiten - RAG-backed essay grading

Usage:
  saiten server [flags]                 Start the HTTP server (and the inbox watcher, if configured)
  saiten ingest [flags] <file>          Chunk, embed and index a course document
  saiten retrieve [flags] <query>       Retrieve course context for a query
  saiten grade [flags] <essays.xlsx>    Grade a sheet of essays and write a graded workbook
  saiten status [flags]                 Show storage, providers and (optionally) one corpus
  saiten version                        Show version
  saiten help                           Show this help

Corpus Flags (ingest, retrieve, grade, status):
  --owner string        Professor username
  --course string       Course id
  --assignment string   Assignment id

Common Flags:
  --config string    Config file path (default: /usr/local/etc/saiten/config.yaml, or ./config.yaml if present)
  --output string    Output format: text or json (default: text)

Retrieve Flags:
  --k int              Number of passages (default from config)
  --threshold float    Maximum squared L2 distance (default from config)
  --max-bytes int      Context byte budget (default from config)

Grade Flags:
  --question string    Essay question
  --criteria string    YAML/JSON file: {criterion: prompt template}
  --out string         Output workbook (default: <input>_graded.xlsx)
  --concurrency int    Worker count (default from config)

Prompt templates may use {{question}}, {{essay}} and {{rag_context}}.
The input sheet needs ID and Response columns.

Examples:
  saiten server
  saiten ingest --owner prof --course bio101 --assignment essay1 lecture.pdf
  saiten retrieve --owner prof --course bio101 --assignment essay1 "what is photosynthesis"
  saiten grade --owner prof --course bio101 --assignment essay1 \
      --question "Explain photosynthesis." --criteria rubric.yaml essays.xlsx
  saiten status --owner prof --course bio101 --assignment essay1`)
}
