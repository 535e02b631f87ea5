package main

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
)

// AppLogger writes optional request, database and websocket traces.
// Used by both the server and tests
type AppLogger struct {
	outputDir   string
	logRequests bool
	logDB       bool
	logWS       bool
	debug       bool
	requestLog  *os.File
	dbLog       *os.File
	wsLog       *os.File

	mu       sync.Mutex
	requests int
	messages int
	dumps    int
}

// Global application logger (used by server)
var appLogger *AppLogger

// LogConfig holds logging configuration
type LogConfig struct {
	OutputDir   string
	LogRequests bool
	LogDB       bool
	LogWS       bool
	Debug       bool
}

// Bodies and cell values longer than these are cut in the traces.
const (
	maxLoggedBody = 4000
	maxLoggedCell = 120
)

func NewAppLogger(config LogConfig) (*AppLogger, error) {
	al := &AppLogger{
		outputDir:   config.OutputDir,
		logRequests: config.LogRequests,
		logDB:       config.LogDB,
		logWS:       config.LogWS,
		debug:       config.Debug,
	}
	if al.outputDir == "" {
		return al, nil
	}
	if err := os.MkdirAll(al.outputDir, 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	traces := []struct {
		enabled bool
		name    string
		dst     **os.File
	}{
		{al.logRequests, "requests.log", &al.requestLog},
		{al.logDB, "database.log", &al.dbLog},
		{al.logWS, "websocket.log", &al.wsLog},
	}
	for _, tr := range traces {
		if !tr.enabled {
			continue
		}
		f, err := os.OpenFile(filepath.Join(al.outputDir, tr.name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			al.Close()
			return nil, fmt.Errorf("open %s: %w", tr.name, err)
		}
		*tr.dst = f
	}
	return al, nil
}

// InitAppLogger initializes the global application logger
func InitAppLogger(config LogConfig) error {
	var err error
	appLogger, err = NewAppLogger(config)
	return err
}

func (al *AppLogger) Close() {
	for _, f := range []*os.File{al.requestLog, al.dbLog, al.wsLog} {
		if f != nil {
			f.Close()
		}
	}
}

// LogRequest records one HTTP exchange. Gzipped response bodies are
// inflated so the trace shows the JSON the client decoded.
func (al *AppLogger) LogRequest(method, url string, reqBody []byte, resp *http.Response, respBody []byte) {
	if !al.logRequests || al.requestLog == nil {
		return
	}

	al.mu.Lock()
	defer al.mu.Unlock()
	al.requests++

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "\n#%d [%s] %s %s", al.requests, time.Now().Format("15:04:05.000"), method, url)
	if resp == nil {
		buf.WriteString(" -> no response\n")
	} else {
		fmt.Fprintf(&buf, " -> %d", resp.StatusCode)
		if enc := resp.Header.Get("Content-Encoding"); enc != "" {
			fmt.Fprintf(&buf, " (%s, %d bytes on the wire)", enc, len(respBody))
		}
		buf.WriteString("\n")
		if resp.Header.Get("Content-Encoding") == "gzip" {
			respBody = inflate(respBody)
		}
	}
	writeBody(&buf, ">", reqBody)
	writeBody(&buf, "<", respBody)

	al.requestLog.Write(buf.Bytes())
}

func inflate(body []byte) []byte {
	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return []byte(fmt.Sprintf("[undecodable gzip body: %v]", err))
	}
	defer zr.Close()
	plain, err := io.ReadAll(zr)
	if err != nil {
		return []byte(fmt.Sprintf("[truncated gzip body: %v]", err))
	}
	return plain
}

func writeBody(buf *bytes.Buffer, prefix string, body []byte) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return
	}
	if len(body) > maxLoggedBody {
		fmt.Fprintf(buf, "%s %s ... (%d bytes)\n", prefix, body[:maxLoggedBody], len(body))
		return
	}
	fmt.Fprintf(buf, "%s %s\n", prefix, body)
}

// LogWebSocket logs a WebSocket message
func (al *AppLogger) LogWebSocket(direction, player, message string) {
	if !al.logWS || al.wsLog == nil {
		return
	}

	al.mu.Lock()
	defer al.mu.Unlock()
	al.messages++

	fmt.Fprintf(al.wsLog, "[%s] #%d %s [%s]: %s\n",
		time.Now().Format("15:04:05.000"), al.messages, direction, player, message)
}

// grimoireTables are dumped in this order; the rest of sqlite_master follows.
var grimoireTables = []string{"game", "seat", "claim", "death", "analysis", "player", "session"}

// LogDB dumps every table. Long cells such as stored results are cut.
func (al *AppLogger) LogDB(context string) {
	if !al.logDB || al.dbLog == nil || db == nil {
		return
	}

	al.mu.Lock()
	defer al.mu.Unlock()
	al.dumps++

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "\n========== DUMP #%d [%s] %s ==========\n", al.dumps, time.Now().Format("15:04:05.000"), context)

	var tables []string
	if err := db.Select(&tables, "SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'"); err != nil {
		fmt.Fprintf(&buf, "list tables: %v\n", err)
		al.dbLog.Write(buf.Bytes())
		return
	}
	for _, table := range orderTables(tables) {
		dumpTable(&buf, table)
	}

	al.dbLog.Write(buf.Bytes())
}

func orderTables(tables []string) []string {
	present := make(map[string]bool, len(tables))
	for _, t := range tables {
		present[t] = true
	}
	ordered := make([]string, 0, len(tables))
	for _, t := range grimoireTables {
		if present[t] {
			ordered = append(ordered, t)
			delete(present, t)
		}
	}
	for _, t := range tables {
		if present[t] {
			ordered = append(ordered, t)
		}
	}
	return ordered
}

func dumpTable(buf *bytes.Buffer, table string) {
	rows, err := db.Queryx("SELECT rowid AS rowid, * FROM " + table)
	if err != nil {
		fmt.Fprintf(buf, "--- %s: %v\n", table, err)
		return
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		fmt.Fprintf(buf, "--- %s: %v\n", table, err)
		return
	}
	fmt.Fprintf(buf, "--- %s (%s)\n", table, strings.Join(cols, " | "))

	n := 0
	for rows.Next() {
		values, err := rows.SliceScan()
		if err != nil {
			fmt.Fprintf(buf, "  scan: %v\n", err)
			continue
		}
		n++
		cells := make([]string, len(values))
		for i, v := range values {
			cells[i] = formatCell(v)
		}
		fmt.Fprintf(buf, "  %s\n", strings.Join(cells, " | "))
	}
	if n == 0 {
		buf.WriteString("  (empty)\n")
	}
}

func formatCell(v any) string {
	var s string
	switch val := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		s = string(val)
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		s = fmt.Sprint(val)
	}
	if len(s) > maxLoggedCell {
		return fmt.Sprintf("%s... (%d bytes)", s[:maxLoggedCell], len(s))
	}
	return s
}

// Debug logs a debug message if debug mode is enabled
func (al *AppLogger) Debug(context, format string, args ...any) {
	if !al.debug {
		return
	}
	log.Printf("[DEBUG] ["+context+"] "+format, args...)
}

// IsEnabled returns true if any logging is enabled
func (al *AppLogger) IsEnabled() bool {
	return al.logRequests || al.logDB || al.logWS || al.debug
}

// ============================================================================
// HTTP Middleware
// ============================================================================

// LoggingRoundTripper wraps http.RoundTripper to log requests
type LoggingRoundTripper struct {
	Transport http.RoundTripper
	Logger    *AppLogger
}

func (l *LoggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	reqBody := drain(&req.Body)

	resp, err := l.Transport.RoundTrip(req)
	if err != nil {
		l.Logger.LogRequest(req.Method, req.URL.String(), reqBody, nil, nil)
		return resp, err
	}

	// Bodies the transport already inflated carry no Content-Encoding.
	respBody := drain(&resp.Body)
	l.Logger.LogRequest(req.Method, req.URL.String(), reqBody, resp, respBody)
	return resp, nil
}

// drain reads a body and replaces it with a re-readable copy.
func drain(body *io.ReadCloser) []byte {
	if *body == nil || *body == http.NoBody {
		return nil
	}
	data, _ := io.ReadAll(*body)
	(*body).Close()
	*body = io.NopCloser(bytes.NewReader(data))
	return data
}

// captureWriter tees the response into a buffer while it streams.
type captureWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *captureWriter) WriteHeader(status int) {
	if c.status == 0 {
		c.status = status
	}
	c.ResponseWriter.WriteHeader(status)
}

func (c *captureWriter) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	if c.body.Len() < maxLoggedBody*4 {
		c.body.Write(b)
	}
	return c.ResponseWriter.Write(b)
}

func (c *captureWriter) Flush() {
	if f, ok := c.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// LoggingHandler wraps http.Handler to log requests/responses.
// WebSocket upgrades (/ws) only get a line: they need the original
// writer's Hijacker.
type LoggingHandler struct {
	Handler http.Handler
	Logger  *AppLogger
}

func (l *LoggingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/ws" {
		l.Logger.LogRequest(r.Method, r.URL.String(), nil, nil, []byte("[WebSocket upgrade]"))
		l.Handler.ServeHTTP(w, r)
		return
	}

	reqBody := drain(&r.Body)
	cw := &captureWriter{ResponseWriter: w}
	l.Handler.ServeHTTP(cw, r)

	l.Logger.LogRequest(r.Method, r.URL.String(), reqBody, &http.Response{
		StatusCode: cw.status,
		Header:     w.Header(),
	}, cw.body.Bytes())
}

// ============================================================================
// Global helper functions
// ============================================================================

// LogWSMessage logs a WebSocket message using the global logger
func LogWSMessage(direction, player, message string) {
	if appLogger != nil {
		appLogger.LogWebSocket(direction, player, message)
	}
}

// LogDBState logs the database state using the global logger
func LogDBState(context string) {
	if appLogger != nil {
		appLogger.LogDB(context)
	}
}

// DebugLog logs a debug message using the global logger
func DebugLog(context, format string, args ...any) {
	if appLogger != nil {
		appLogger.Debug(context, format, args...)
	}
}

// CloseAppLogger closes the global application logger
func CloseAppLogger() {
	if appLogger != nil {
		appLogger.Close()
	}
}
