package logger

import (
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// Level represents the severity level of a log message.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	NoticeLevel
	ErrorLevel
)

// ParseLevel maps a LOG_LEVEL value onto a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return DebugLevel, nil
	case "info", "":
		return InfoLevel, nil
	case "notice":
		return NoticeLevel, nil
	case "error":
		return ErrorLevel, nil
	}
	return InfoLevel, fmt.Errorf("invalid log level: %s", s)
}

type Chain int

const (
	None Chain = iota
	BnbLocal
	EthLocal
	Bnb
	BnbTestnet
	Eth
	Sepolia
)

// devnet chain ids match the docker compose setup used by the harness
var chainIDMap = map[int]Chain{
	9999:     BnbLocal,
	1337:     EthLocal,
	56:       Bnb,
	97:       BnbTestnet,
	1:        Eth,
	11155111: Sepolia,
}

var chainPrefixes = map[Chain]string{
	None:       "",
	BnbLocal:   "[BNB-L]  ",
	EthLocal:   "[ETH-L]  ",
	Bnb:        "[BNB]    ",
	BnbTestnet: "[BNB-T]  ",
	Eth:        "[ETH]    ",
	Sepolia:    "[SEP]    ",
}

var colors = map[Chain]color.Attribute{
	None:       color.FgWhite,
	BnbLocal:   color.FgYellow,
	EthLocal:   color.FgHiGreen,
	Bnb:        color.FgHiYellow,
	BnbTestnet: color.FgYellow,
	Eth:        color.FgGreen,
	Sepolia:    color.FgCyan,
}

// Logger is a simple interface for logging messages.
type Logger interface {
	// Info logs an informational message.
	Info(format string, args ...interface{})
	InfoWithChain(chainID int, format string, args ...interface{})

	// Error logs an error message.
	Error(format string, args ...interface{})
	ErrorWithChain(chainID int, format string, args ...interface{})

	// Debug logs a debug message.
	Debug(format string, args ...interface{})
	DebugWithChain(chainID int, format string, args ...interface{})

	// Notice logs a notice message.
	Notice(format string, args ...interface{})
	NoticeWithChain(chainID int, format string, args ...interface{})
}

// EmptyLogger discards everything.
type EmptyLogger struct{}

var _ Logger = (*EmptyLogger)(nil)

func (l *EmptyLogger) Info(_ string, _ ...interface{})                   {}
func (l *EmptyLogger) InfoWithChain(_ int, _ string, _ ...interface{})   {}
func (l *EmptyLogger) Error(_ string, _ ...interface{})                  {}
func (l *EmptyLogger) ErrorWithChain(_ int, _ string, _ ...interface{})  {}
func (l *EmptyLogger) Debug(_ string, _ ...interface{})                  {}
func (l *EmptyLogger) DebugWithChain(_ int, _ string, _ ...interface{})  {}
func (l *EmptyLogger) Notice(_ string, _ ...interface{})                 {}
func (l *EmptyLogger) NoticeWithChain(_ int, _ string, _ ...interface{}) {}

// StdLogger writes to the standard logger with level and chain prefixes.
type StdLogger struct {
	enableColoring bool
	level          Level
	out            *log.Logger
	mu             sync.Mutex
}

var _ Logger = (*StdLogger)(nil)

func NewStdLogger(enableColoring bool, level Level) *StdLogger {
	return &StdLogger{
		enableColoring: enableColoring,
		level:          level,
		out:            log.Default(),
	}
}

// WithOutput redirects the logger, mostly for tests.
func (l *StdLogger) WithOutput(out *log.Logger) *StdLogger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out = out
	return l
}

// formatMessage prepends the level tag and the (optionally colored) chain prefix.
func (l *StdLogger) formatMessage(level Level, chain Chain, format string) string {
	chainPrefix := chainPrefixes[chain]
	if l.enableColoring && chainPrefix != "" {
		chainPrefix = color.New(colors[chain]).Sprint(chainPrefix)
	}

	var levelStr string
	switch level {
	case DebugLevel:
		levelStr = "[DEBUG]  "
	case InfoLevel:
		levelStr = "[INFO]   "
	case NoticeLevel:
		levelStr = "[NOTICE] "
	case ErrorLevel:
		levelStr = "[ERROR]  "
	}

	return levelStr + chainPrefix + format
}

func (l *StdLogger) logf(level Level, chainID int, format string, args []interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.level > level {
		return
	}
	chain, ok := chainIDMap[chainID]
	if !ok && chainID != 0 {
		format = fmt.Sprintf("[%d] ", chainID) + format
	}
	l.out.Printf(l.formatMessage(level, chain, format), args...)
}

func (l *StdLogger) Info(format string, args ...interface{}) {
	l.logf(InfoLevel, 0, format, args)
}

func (l *StdLogger) InfoWithChain(chainID int, format string, args ...interface{}) {
	l.logf(InfoLevel, chainID, format, args)
}

func (l *StdLogger) Error(format string, args ...interface{}) {
	l.logf(ErrorLevel, 0, format, args)
}

func (l *StdLogger) ErrorWithChain(chainID int, format string, args ...interface{}) {
	l.logf(ErrorLevel, chainID, format, args)
}

func (l *StdLogger) Debug(format string, args ...interface{}) {
	l.logf(DebugLevel, 0, format, args)
}

func (l *StdLogger) DebugWithChain(chainID int, format string, args ...interface{}) {
	l.logf(DebugLevel, chainID, format, args)
}

func (l *StdLogger) Notice(format string, args ...interface{}) {
	l.logf(NoticeLevel, 0, format, args)
}

func (l *StdLogger) NoticeWithChain(chainID int, format string, args ...interface{}) {
	l.logf(NoticeLevel, chainID, format, args)
}
