// Package logging provides categorized logging for tenderpipe on top of zap.
// Every subsystem logs through its own category so a run can be traced
// stage by stage, and noisy categories can be switched off from config.
package logging

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot      Category = "boot"      // Startup and config loading
	CategoryPipeline  Category = "pipeline"  // Dispatcher, strategies, context publishing
	CategoryLLM       Category = "llm"       // Language-model calls
	CategoryEmbedding Category = "embedding" // Embedding engine
	CategoryStore     Category = "store"     // Vector store operations
	CategoryRetrieval Category = "retrieval" // Vector search steps
	CategoryRerank    Category = "rerank"    // Candidate reranking
	CategoryReconcile Category = "reconcile" // Requirement repair and flattening
	CategoryOutput    Category = "output"    // Output materialization, spreadsheets
	CategoryIngest    Category = "ingest"    // File ingestion
	CategoryDiscovery Category = "discovery" // Relational schema discovery
)

// Categories lists every known category.
var Categories = []Category{
	CategoryBoot, CategoryPipeline, CategoryLLM, CategoryEmbedding, CategoryStore,
	CategoryRetrieval, CategoryRerank, CategoryReconcile, CategoryOutput,
	CategoryIngest, CategoryDiscovery,
}

// Logger is a category-scoped printf-style logger.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
}

var (
	mu       sync.RWMutex
	base     = zap.NewNop()
	disabled = map[Category]bool{}
	loggers  = map[Category]*Logger{}
)

// Options controls how the shared zap logger is built by Build.
type Options struct {
	Level    string   // debug, info, warn, error
	JSON     bool     // production JSON encoding instead of console
	Disabled []string // categories to silence
}

// Build constructs a zap logger from Options. The caller owns Sync.
func Build(opts Options) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if !opts.JSON {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.OutputPaths = []string{"stderr"}
	level, err := zapcore.ParseLevel(defaultString(opts.Level, "info"))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	return cfg.Build()
}

// Initialize installs l as the shared logger and applies category filters.
func Initialize(l *zap.Logger, disabledCategories ...string) {
	mu.Lock()
	defer mu.Unlock()
	if l == nil {
		l = zap.NewNop()
	}
	base = l
	disabled = make(map[Category]bool, len(disabledCategories))
	for _, c := range disabledCategories {
		disabled[Category(c)] = true
	}
	loggers = map[Category]*Logger{}
}

// Reset restores the no-op logger. Tests use it to isolate global state.
func Reset() {
	Initialize(nil)
}

// IsCategoryEnabled returns whether a specific category is enabled
func IsCategoryEnabled(category Category) bool {
	mu.RLock()
	defer mu.RUnlock()
	return !disabled[category]
}

// Get returns (or creates) a logger for the given category.
// Disabled categories get a no-op logger.
func Get(category Category) *Logger {
	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}
	z := base
	if disabled[category] {
		z = zap.NewNop()
	}
	l := &Logger{
		category: category,
		sugar:    z.With(zap.String("category", string(category))).Sugar(),
	}
	loggers[category] = l
	return l
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) { l.sugar.Infof(format, args...) }

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) { l.sugar.Warnf(format, args...) }

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) { l.sugar.Errorf(format, args...) }

// With returns a child logger carrying structured key/value pairs.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{category: l.category, sugar: l.sugar.With(keysAndValues...)}
}

// Sync flushes the shared logger.
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	return base.Sync()
}

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting a logger first
// =============================================================================

// Boot logs to the boot category
func Boot(format string, args ...interface{}) { Get(CategoryBoot).Info(format, args...) }

// Pipeline logs to the pipeline category
func Pipeline(format string, args ...interface{}) { Get(CategoryPipeline).Info(format, args...) }

// PipelineDebug logs debug to the pipeline category
func PipelineDebug(format string, args ...interface{}) { Get(CategoryPipeline).Debug(format, args...) }

// PipelineWarn logs a warning to the pipeline category
func PipelineWarn(format string, args ...interface{}) { Get(CategoryPipeline).Warn(format, args...) }

// LLM logs to the llm category
func LLM(format string, args ...interface{}) { Get(CategoryLLM).Info(format, args...) }

// LLMDebug logs debug to the llm category
func LLMDebug(format string, args ...interface{}) { Get(CategoryLLM).Debug(format, args...) }

// Embedding logs to the embedding category
func Embedding(format string, args ...interface{}) { Get(CategoryEmbedding).Info(format, args...) }

// EmbeddingDebug logs debug to the embedding category
func EmbeddingDebug(format string, args ...interface{}) {
	Get(CategoryEmbedding).Debug(format, args...)
}

// Store logs to the store category
func Store(format string, args ...interface{}) { Get(CategoryStore).Info(format, args...) }

// StoreDebug logs debug to the store category
func StoreDebug(format string, args ...interface{}) { Get(CategoryStore).Debug(format, args...) }

// Retrieval logs to the retrieval category
func Retrieval(format string, args ...interface{}) { Get(CategoryRetrieval).Info(format, args...) }

// RetrievalDebug logs debug to the retrieval category
func RetrievalDebug(format string, args ...interface{}) {
	Get(CategoryRetrieval).Debug(format, args...)
}

// Rerank logs to the rerank category
func Rerank(format string, args ...interface{}) { Get(CategoryRerank).Info(format, args...) }

// Reconcile logs to the reconcile category
func Reconcile(format string, args ...interface{}) { Get(CategoryReconcile).Info(format, args...) }

// ReconcileDebug logs debug to the reconcile category
func ReconcileDebug(format string, args ...interface{}) {
	Get(CategoryReconcile).Debug(format, args...)
}

// Output logs to the output category
func Output(format string, args ...interface{}) { Get(CategoryOutput).Info(format, args...) }

// OutputWarn logs a warning to the output category
func OutputWarn(format string, args ...interface{}) { Get(CategoryOutput).Warn(format, args...) }

// Ingest logs to the ingest category
func Ingest(format string, args ...interface{}) { Get(CategoryIngest).Info(format, args...) }

// Discovery logs to the discovery category
func Discovery(format string, args ...interface{}) { Get(CategoryDiscovery).Info(format, args...) }

// DiscoveryDebug logs debug to the discovery category
func DiscoveryDebug(format string, args ...interface{}) {
	Get(CategoryDiscovery).Debug(format, args...)
}

// Timer helps measure operation duration
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs warning if duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}

func defaultString(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
