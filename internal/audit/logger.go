package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Logger logs audit events
type Logger interface {
	// Log enqueues an event; it never blocks on the destination
	Log(ctx context.Context, event Event)

	// Flush writes pending events
	Flush() error

	// Stats reports dropped and failed events
	Stats() Stats

	// Close flushes remaining events and closes the destination
	Close() error
}

// Stats counts events that never reached the destination
type Stats struct {
	Dropped uint64 `json:"dropped"`
	Failed  uint64 `json:"failed"`
}

// Output types
const (
	TypeStdout   = "stdout"
	TypeFile     = "file"
	TypeSyslog   = "syslog"
	TypePostgres = "postgres"
)

// ValidTypes lists the accepted audit output types
var ValidTypes = []string{TypeStdout, TypeFile, TypeSyslog, TypePostgres}

// Config for audit logger
type Config struct {
	Enabled bool

	// Output type: stdout, file, syslog, postgres
	Type string

	// For file output
	FilePath       string
	FileMaxSize    int // MB
	FileMaxAge     int // Days
	FileMaxBackups int

	// For syslog
	SyslogAddr     string
	SyslogProtocol string // tcp, udp, unix

	// For postgres output
	DB *sql.DB

	// HashChain links every event to its predecessor
	HashChain bool

	BufferSize    int
	FlushInterval time.Duration
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		Type:           TypeStdout,
		BufferSize:     1000,
		FlushInterval:  100 * time.Millisecond,
		FileMaxSize:    100,
		FileMaxAge:     30,
		FileMaxBackups: 10,
	}
}

// Validate validates the configuration and fills tuning defaults
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	switch c.Type {
	case "":
		return fmt.Errorf("audit type is required")
	case TypeStdout:
	case TypeFile:
		if c.FilePath == "" {
			return fmt.Errorf("file path is required for file output")
		}
	case TypeSyslog:
		if c.SyslogAddr == "" {
			return fmt.Errorf("syslog address is required for syslog output")
		}
	case TypePostgres:
		if c.DB == nil {
			return fmt.Errorf("database handle is required for postgres output")
		}
	default:
		return fmt.Errorf("invalid audit type: %s (must be stdout, file, syslog or postgres)", c.Type)
	}

	if c.BufferSize <= 0 {
		c.BufferSize = 1000
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 100 * time.Millisecond
	}
	return nil
}

// NewLogger creates a new audit logger
func NewLogger(ctx context.Context, cfg *Config, logger *zap.Logger) (Logger, error) {
	if cfg == nil {
		def := DefaultConfig()
		cfg = &def
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if !cfg.Enabled {
		return NewNoopLogger(), nil
	}

	var (
		writer Writer
		chain  *HashChain
		err    error
	)
	if cfg.HashChain {
		chain = NewHashChain()
	}

	switch cfg.Type {
	case TypeStdout:
		writer = NewStdoutWriter()
	case TypeFile:
		if chain != nil {
			last, err := lastFileHash(cfg.FilePath)
			if err != nil {
				return nil, fmt.Errorf("resume hash chain: %w", err)
			}
			chain.InitializeWithHash(last)
		}
		writer, err = NewFileWriter(cfg.FilePath, Rotation{
			MaxSizeMB:  cfg.FileMaxSize,
			MaxAgeDays: cfg.FileMaxAge,
			MaxBackups: cfg.FileMaxBackups,
		})
		if err != nil {
			return nil, fmt.Errorf("create file writer: %w", err)
		}
	case TypeSyslog:
		writer, err = NewSyslogWriter(cfg.SyslogProtocol, cfg.SyslogAddr)
		if err != nil {
			return nil, fmt.Errorf("create syslog writer: %w", err)
		}
	case TypePostgres:
		store := NewPostgresStore(cfg.DB)
		if chain != nil {
			last, err := store.LastHash(ctx)
			if err != nil {
				return nil, fmt.Errorf("resume hash chain: %w", err)
			}
			chain.InitializeWithHash(last)
		}
		writer = NewPostgresWriter(store)
	}

	return newAsyncLogger(writer, chain, *cfg, logger.Named("audit")), nil
}

// NewNoopLogger returns a logger that discards events
func NewNoopLogger() Logger {
	return noopLogger{}
}

type noopLogger struct{}

func (noopLogger) Log(ctx context.Context, event Event) {}
func (noopLogger) Flush() error                         { return nil }
func (noopLogger) Stats() Stats                         { return Stats{} }
func (noopLogger) Close() error                         { return nil }

// NewWriterLogger wraps an arbitrary writer in the async logger
func NewWriterLogger(writer Writer, cfg Config, logger *zap.Logger) Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 100 * time.Millisecond
	}
	var chain *HashChain
	if cfg.HashChain {
		chain = NewHashChain()
	}
	return newAsyncLogger(writer, chain, cfg, logger)
}
