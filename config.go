package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"grimoire/deduction"
)

// AppConfig holds all server configuration.
// Priority (lowest → highest): defaults < .env file < env vars < JSON config file < CLI flags.
type AppConfig struct {
	// Server
	DB   string `json:"db" env:"DB"`     // database connection string
	Dev  bool   `json:"dev" env:"DEV"`   // dev mode: verbose logging, db dumps on errors
	Addr string `json:"addr" env:"ADDR"` // HTTP listen address

	// Logging (extended diagnostics, off by default)
	LogOutputDir string `json:"log_output_dir" env:"LOG_OUTPUT_DIR"`
	LogRequests  bool   `json:"log_requests" env:"LOG_REQUESTS"`
	LogDB        bool   `json:"log_db" env:"LOG_DB"`
	LogWS        bool   `json:"log_ws" env:"LOG_WS"`
	LogDebug     bool   `json:"log_debug" env:"LOG_DEBUG"`

	// Deduction engine
	Catalog             string `json:"catalog" env:"CATALOG"`                           // role catalog YAML; empty = Trouble Brewing
	MaxWorlds           int    `json:"max_worlds" env:"MAX_WORLDS"`                     // live world ceiling before giving up
	Workers             int    `json:"workers" env:"WORKERS"`                           // parallel evil-team workers; 0 = GOMAXPROCS
	ExpandOpenSeats     bool   `json:"expand_open_seats" env:"EXPAND_OPEN_SEATS"`       // weigh every concrete assignment of unclaimed seats
	SuccessionThreshold int    `json:"succession_threshold" env:"SUCCESSION_THRESHOLD"` // fewest alive for a successor to inherit

	// AI Storyteller
	StorytellerProvider    string `json:"storyteller_provider" env:"STORYTELLER_PROVIDER"`       // ollama | openai | claude | gemini | groq | openai-compatible
	StorytellerModel       string `json:"storyteller_model" env:"STORYTELLER_MODEL"`             // model name
	StorytellerOllamaURL   string `json:"storyteller_ollama_url" env:"STORYTELLER_OLLAMA_URL"`   // Ollama server URL
	StorytellerURL         string `json:"storyteller_url" env:"STORYTELLER_URL"`                 // base URL for openai-compatible
	StorytellerAPIKey      string `json:"storyteller_api_key" env:"STORYTELLER_API_KEY"`         // API key for openai-compatible
	StorytellerTemperature string `json:"storyteller_temperature" env:"STORYTELLER_TEMPERATURE"` // float 0-1 as string
	StorytellerThinking    string `json:"storyteller_thinking" env:"STORYTELLER_THINKING"`       // none | low | medium | high | auto
	GroqAPIKey             string `json:"groq_api_key" env:"GROQ_API_KEY"`                       // API key for groq provider
}

func (cfg AppConfig) toLogConfig() LogConfig {
	return LogConfig{
		OutputDir:   cfg.LogOutputDir,
		LogRequests: cfg.LogRequests,
		LogDB:       cfg.LogDB,
		LogWS:       cfg.LogWS,
		Debug:       cfg.LogDebug,
	}
}

func defaultConfig() AppConfig {
	return AppConfig{
		DB:                   "file::memory:?cache=shared",
		Addr:                 ":8080",
		MaxWorlds:            deduction.DefaultMaxWorlds,
		SuccessionThreshold:  deduction.DefaultSuccessionThreshold,
		StorytellerOllamaURL: "http://localhost:11434",
	}
}

// loadConfig builds a config by layering: defaults → .env → env vars → JSON config file.
// CLI flag overrides are applied separately by flagValues.applyTo after parsing.
func loadConfig(configPath, dotenvPath string) (AppConfig, error) {
	cfg := defaultConfig()

	// Layer 1: .env only fills variables the environment does not already set
	if dotenvPath != "" {
		if err := godotenv.Load(dotenvPath); err == nil {
			log.Printf("Config: loaded environment from %s", dotenvPath)
		} else if !os.IsNotExist(err) {
			log.Printf("Config: failed to read %s: %v", dotenvPath, err)
		}
	}

	// Layer 2: env vars; unset variables keep the defaults
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}

	// Layer 3: JSON config file; only fields present in the file override env vars
	if data, err := os.ReadFile(configPath); err == nil {
		if err := json.Unmarshal(data, &cfg); err != nil {
			log.Printf("Config: failed to parse %s: %v", configPath, err)
		} else {
			log.Printf("Config: loaded from %s", configPath)
		}
	} else if !os.IsNotExist(err) {
		log.Printf("Config: failed to read %s: %v", configPath, err)
	}

	return cfg, nil
}

// engineConfig turns the engine keys into a deduction config, loading a
// custom catalog when one is configured.
func (cfg AppConfig) engineConfig() (deduction.Config, error) {
	ec := deduction.Config{
		MaxWorlds:           cfg.MaxWorlds,
		Workers:             cfg.Workers,
		ExpandOpenSeats:     cfg.ExpandOpenSeats,
		SuccessionThreshold: cfg.SuccessionThreshold,
		Debugf: func(format string, args ...any) {
			DebugLog("engine", format, args...)
		},
	}
	if cfg.Catalog == "" {
		return ec, nil
	}
	f, err := os.Open(cfg.Catalog)
	if err != nil {
		return ec, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	if ec.Catalog, err = deduction.LoadCatalog(f); err != nil {
		return ec, fmt.Errorf("load catalog %s: %w", cfg.Catalog, err)
	}
	log.Printf("Config: catalog %q with %d roles", ec.Catalog.Name, ec.Catalog.Len())
	return ec, nil
}

// flagValues holds pointers to all registered CLI flags.
type flagValues struct {
	configPath             *string
	dotenvPath             *string
	scenario               *string
	db                     *string
	dev                    *bool
	addr                   *string
	logOutputDir           *string
	logRequests            *bool
	logDB                  *bool
	logWS                  *bool
	logDebug               *bool
	catalog                *string
	maxWorlds              *int
	workers                *int
	expandOpenSeats        *bool
	successionThreshold    *int
	storytellerProvider    *string
	storytellerModel       *string
	storytellerOllamaURL   *string
	storytellerURL         *string
	storytellerAPIKey      *string
	storytellerTemperature *string
	storytellerThinking    *string
	groqAPIKey             *string
}

// registerFlags registers all CLI flags on fs and returns pointers to their values.
// Parse fs after this, then applyTo to layer them over the loaded config.
func registerFlags(fs *flag.FlagSet) flagValues {
	return flagValues{
		configPath:             fs.String("config", "config.json", "path to JSON config file"),
		dotenvPath:             fs.String("env-file", ".env", "path to .env file"),
		scenario:               fs.String("scenario", "", "analyze a YAML scenario file, print the table and exit"),
		db:                     fs.String("db", "", "database connection string"),
		dev:                    fs.Bool("dev", false, "enable development mode (verbose logging, db dumps on error)"),
		addr:                   fs.String("addr", "", "HTTP listen address (e.g. :8080)"),
		logOutputDir:           fs.String("log-output-dir", "", "directory for extended log files"),
		logRequests:            fs.Bool("log-requests", false, "log HTTP requests and responses"),
		logDB:                  fs.Bool("log-db", false, "log database dumps"),
		logWS:                  fs.Bool("log-ws", false, "log WebSocket messages"),
		logDebug:               fs.Bool("log-debug", false, "enable debug logging"),
		catalog:                fs.String("catalog", "", "role catalog YAML file (default: built-in Trouble Brewing)"),
		maxWorlds:              fs.Int("max-worlds", 0, "give up above this many candidate worlds"),
		workers:                fs.Int("workers", 0, "parallel analysis workers (0 = GOMAXPROCS)"),
		expandOpenSeats:        fs.Bool("expand-open-seats", false, "expand unclaimed seats into concrete roles before weighting"),
		successionThreshold:    fs.Int("succession-threshold", 0, "fewest living players for a successor to inherit the demon"),
		storytellerProvider:    fs.String("storyteller-provider", "", "AI storyteller provider (ollama|openai|claude|gemini|groq|openai-compatible)"),
		storytellerModel:       fs.String("storyteller-model", "", "AI storyteller model name"),
		storytellerOllamaURL:   fs.String("storyteller-ollama-url", "", "Ollama server URL"),
		storytellerURL:         fs.String("storyteller-url", "", "base URL for openai-compatible provider"),
		storytellerAPIKey:      fs.String("storyteller-api-key", "", "API key for storyteller provider"),
		storytellerTemperature: fs.String("storyteller-temperature", "", "sampling temperature 0-1"),
		storytellerThinking:    fs.String("storyteller-thinking", "", "thinking mode: none|low|medium|high|auto"),
		groqAPIKey:             fs.String("groq-api-key", "", "Groq API key"),
	}
}

// applyTo overlays any CLI flags that were explicitly set onto cfg.
// Flags that were not passed on the command line are ignored (env/JSON values win).
func (fv flagValues) applyTo(fs *flag.FlagSet, cfg *AppConfig) {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "db":
			cfg.DB = *fv.db
		case "dev":
			cfg.Dev = *fv.dev
		case "addr":
			cfg.Addr = *fv.addr
		case "log-output-dir":
			cfg.LogOutputDir = *fv.logOutputDir
		case "log-requests":
			cfg.LogRequests = *fv.logRequests
		case "log-db":
			cfg.LogDB = *fv.logDB
		case "log-ws":
			cfg.LogWS = *fv.logWS
		case "log-debug":
			cfg.LogDebug = *fv.logDebug
		case "catalog":
			cfg.Catalog = *fv.catalog
		case "max-worlds":
			cfg.MaxWorlds = *fv.maxWorlds
		case "workers":
			cfg.Workers = *fv.workers
		case "expand-open-seats":
			cfg.ExpandOpenSeats = *fv.expandOpenSeats
		case "succession-threshold":
			cfg.SuccessionThreshold = *fv.successionThreshold
		case "storyteller-provider":
			cfg.StorytellerProvider = *fv.storytellerProvider
		case "storyteller-model":
			cfg.StorytellerModel = *fv.storytellerModel
		case "storyteller-ollama-url":
			cfg.StorytellerOllamaURL = *fv.storytellerOllamaURL
		case "storyteller-url":
			cfg.StorytellerURL = *fv.storytellerURL
		case "storyteller-api-key":
			cfg.StorytellerAPIKey = *fv.storytellerAPIKey
		case "storyteller-temperature":
			cfg.StorytellerTemperature = *fv.storytellerTemperature
		case "storyteller-thinking":
			cfg.StorytellerThinking = *fv.storytellerThinking
		case "groq-api-key":
			cfg.GroqAPIKey = *fv.groqAPIKey
		}
	})
}
