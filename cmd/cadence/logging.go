package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	charmLog "github.com/charmbracelet/log"
	"github.com/evanschultz/cadence/internal/config"
)

// runtimeLogger fans log events to a styled console sink and an optional dev-file sink.
// It satisfies app.Logger so the service writes through the same sinks as the CLI.
type runtimeLogger struct {
	sinks     []*charmLog.Logger
	closeFile func() error
	devLog    string
}

// newRuntimeLogger configures runtime log sinks from CLI/config state. fallbackDir receives
// dev logs when no workspace root can be found above the working directory.
func newRuntimeLogger(stderr io.Writer, appName string, devMode bool, cfg config.LoggingConfig, fallbackDir string, now func() time.Time) (*runtimeLogger, error) {
	level, err := charmLog.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parse logging level %q: %w", cfg.Level, err)
	}
	if now == nil {
		now = time.Now
	}
	if stderr == nil {
		stderr = io.Discard
	}

	consoleLogger := charmLog.NewWithOptions(stderr, charmLog.Options{
		Level:           level,
		Prefix:          appName,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Formatter:       charmLog.TextFormatter,
	})
	logger := &runtimeLogger{sinks: []*charmLog.Logger{consoleLogger}}
	if !devMode || !cfg.DevFile.Enabled {
		return logger, nil
	}

	devLogPath, err := devLogFilePath(cfg.DevFile.Dir, fallbackDir, appName, now().UTC())
	if err != nil {
		return nil, fmt.Errorf("resolve dev log file path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(devLogPath), 0o755); err != nil {
		return nil, fmt.Errorf("create dev log dir: %w", err)
	}
	logFile, err := os.OpenFile(devLogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open dev log file: %w", err)
	}

	fileLogger := charmLog.NewWithOptions(logFile, charmLog.Options{
		Level:           level,
		Prefix:          appName,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Formatter:       charmLog.LogfmtFormatter,
	})
	logger.sinks = append(logger.sinks, fileLogger)
	logger.closeFile = logFile.Close
	logger.devLog = devLogPath
	return logger, nil
}

// DevLogPath returns the active dev log file path.
func (l *runtimeLogger) DevLogPath() string {
	if l == nil {
		return ""
	}
	return l.devLog
}

// Close closes the optional dev-file sink.
func (l *runtimeLogger) Close() error {
	if l == nil || l.closeFile == nil {
		return nil
	}
	return l.closeFile()
}

func (l *runtimeLogger) Debug(msg any, keyvals ...any) {
	if l == nil {
		return
	}
	for _, sink := range l.sinks {
		sink.Debug(msg, keyvals...)
	}
}

func (l *runtimeLogger) Info(msg any, keyvals ...any) {
	if l == nil {
		return
	}
	for _, sink := range l.sinks {
		sink.Info(msg, keyvals...)
	}
}

func (l *runtimeLogger) Warn(msg any, keyvals ...any) {
	if l == nil {
		return
	}
	for _, sink := range l.sinks {
		sink.Warn(msg, keyvals...)
	}
}

func (l *runtimeLogger) Error(msg any, keyvals ...any) {
	if l == nil {
		return
	}
	for _, sink := range l.sinks {
		sink.Error(msg, keyvals...)
	}
}

// devLogFilePath resolves the dev log file for the current run day. Relative dirs anchor at
// the nearest workspace root; without one they land in fallbackDir.
func devLogFilePath(configDir, fallbackDir, appName string, now time.Time) (string, error) {
	baseDir := strings.TrimSpace(configDir)
	if baseDir == "" {
		baseDir = ".cadence/log"
	}
	if !filepath.IsAbs(baseDir) {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("resolve working dir: %w", err)
		}
		root, ok := workspaceRootFrom(cwd)
		switch {
		case ok:
			baseDir = filepath.Join(root, baseDir)
		case strings.TrimSpace(fallbackDir) != "":
			baseDir = fallbackDir
		default:
			baseDir = filepath.Join(cwd, baseDir)
		}
	}
	fileName := fmt.Sprintf("%s-%s.log", sanitizeLogFileStem(appName), now.Format("20060102"))
	return filepath.Join(filepath.Clean(baseDir), fileName), nil
}

// workspaceRootFrom walks up from start to the nearest directory holding go.mod or .git.
func workspaceRootFrom(start string) (string, bool) {
	start = filepath.Clean(strings.TrimSpace(start))
	if start == "" {
		return "", false
	}
	dir := start
	for {
		if hasWorkspaceMarker(dir) {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

func hasWorkspaceMarker(dir string) bool {
	for _, marker := range []string{"go.mod", ".git"} {
		if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
			return true
		}
	}
	return false
}

// sanitizeLogFileStem normalizes app names into safe file-name segments.
func sanitizeLogFileStem(appName string) string {
	replacer := strings.NewReplacer("/", "-", "\\", "-", ":", "-", " ", "-")
	stem := strings.Trim(replacer.Replace(strings.TrimSpace(appName)), "-")
	if stem == "" {
		return "cadence"
	}
	return stem
}
