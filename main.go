package main

import (
	"flag"
	"io"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/klauspost/compress/gzip"
	_ "github.com/mattn/go-sqlite3"

	"grimoire/deduction"
)

var db *sqlx.DB
var devMode bool

// logError logs an error with context and dumps the database in dev mode
func logError(context string, err error) {
	log.Printf("ERROR [%s]: %v", context, err)
	if devMode {
		LogDBState("error in " + context)
	}
}

func disableCaching(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Cache-Control", "no-cache")

		next.ServeHTTP(w, r)
	})
}

// shouldCompress determines if a content type should be gzip compressed
func shouldCompress(contentType string) bool {
	compressiblePrefixes := []string{
		"text/",
		"application/json",
	}
	for _, prefix := range compressiblePrefixes {
		if strings.HasPrefix(contentType, prefix) {
			return true
		}
	}
	return false
}

// responseWriter wraps http.ResponseWriter to handle conditional gzip compression
type responseWriter struct {
	http.ResponseWriter
	gz         *gzip.Writer
	acceptGzip bool
	headerSent bool
}

// WriteHeader checks content type and sets up compression if appropriate
func (w *responseWriter) WriteHeader(statusCode int) {
	if w.headerSent {
		return
	}
	w.headerSent = true

	contentType := w.Header().Get("Content-Type")
	if contentType != "" && shouldCompress(contentType) && w.acceptGzip && statusCode != http.StatusNoContent {
		w.gz = gzip.NewWriter(w.ResponseWriter)
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Add("Vary", "Accept-Encoding")
		w.Header().Del("Content-Length")
	}

	w.ResponseWriter.WriteHeader(statusCode)
}

// Write writes to gzip writer if it exists, otherwise to original writer
func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.headerSent {
		if w.Header().Get("Content-Type") == "" {
			w.Header().Set("Content-Type", http.DetectContentType(b))
		}
		w.WriteHeader(http.StatusOK)
	}

	if w.gz != nil {
		return w.gz.Write(b)
	}
	return w.ResponseWriter.Write(b)
}

// Flush flushes both gzip and response writer
func (w *responseWriter) Flush() {
	if w.gz != nil {
		w.gz.Flush()
	}
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Close closes the gzip writer if it exists
func (w *responseWriter) Close() error {
	if w.gz != nil {
		return w.gz.Close()
	}
	return nil
}

// compress adds gzip compression to compressible responses.
// It must not wrap /ws: the upgrade needs the original writer's Hijacker.
func compress(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped := &responseWriter{
			ResponseWriter: w,
			acceptGzip:     strings.Contains(r.Header.Get("Accept-Encoding"), "gzip"),
		}
		defer wrapped.Close()

		next.ServeHTTP(wrapped, r)
	})
}

// newRouter registers every route. Logging wraps the outside so it sees
// the compressed bytes the client receives.
func newRouter(logger *AppLogger) http.Handler {
	mux := http.NewServeMux()

	wrapHandler := func(pattern string, handler http.HandlerFunc) {
		var h http.Handler = handler
		h = compress(h)
		h = disableCaching(h)
		mux.Handle(pattern, h)
	}

	wrapHandler("/signup", handleSignup)
	wrapHandler("/login", handleLogin)
	wrapHandler("/logout", handleLogout)
	wrapHandler("/api/game", handleGame)
	wrapHandler("/api/analyze", handleAnalyze)
	mux.HandleFunc("/ws", handleWebSocket)

	if logger != nil && logger.logRequests {
		return &LoggingHandler{Handler: mux, Logger: logger}
	}
	return mux
}

func main() {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fv := registerFlags(fs)
	fs.Parse(os.Args[1:])

	cfg, err := loadConfig(*fv.configPath, *fv.dotenvPath)
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	fv.applyTo(fs, &cfg)
	devMode = cfg.Dev

	if err := InitAppLogger(cfg.toLogConfig()); err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer CloseAppLogger()

	engineCfg, err := cfg.engineConfig()
	if err != nil {
		log.Fatal("Failed to configure engine:", err)
	}
	engine = deduction.NewEngine(engineCfg)

	if *fv.scenario != "" {
		if err := runScenario(os.Stdout, *fv.scenario, engine); err != nil {
			log.Fatal(err)
		}
		return
	}

	// Set up logging to both stdout and file
	logFile, err := os.OpenFile("grimoire.log", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		log.Fatal("Failed to open log file:", err)
	}
	defer logFile.Close()
	log.SetOutput(io.MultiWriter(os.Stdout, logFile))

	if appLogger.IsEnabled() {
		log.Println("Extended logging enabled")
	}

	db, err = sqlx.Connect("sqlite3", cfg.DB)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	defer db.Close()

	if err := initDB(); err != nil {
		log.Fatal("Failed to initialize database:", err)
	}

	LogDBState("after initDB")

	initStoryteller(cfg)

	// Start WebSocket hub
	go hub.run()

	log.Printf("Server starting on %s (catalog %s, max %d worlds)", cfg.Addr, engine.Catalog().Name, cfg.MaxWorlds)
	log.Fatal(http.ListenAndServe(cfg.Addr, newRouter(appLogger)))
}
