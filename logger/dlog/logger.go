// Package dlog is the process wide structured logger. It starts as a pretty
// stderr logger; Setup replaces it with a fan out to stdout and log files.
package dlog

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"
	slogmulti "github.com/samber/slog-multi"
)


func stderrLogger() *slog.Logger {
	return slog.New(NewPrettyHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}, WithColor()))
}

var (
	mu      sync.Mutex
	current = stderrLogger()
	closers []io.Closer
	sched   *cron.Cron
)

type Options struct {
	Level slog.Level
	// Dir receives default.json, default.txt and pretty.log. No files are
	// written when it is empty.
	Dir string
	// ArchiveCron is a standard cron spec for the archiver, off when empty.
	ArchiveCron string
	AddSource   bool
	// Stdout receives the colored pretty output. Defaults to os.Stdout.
	Stdout io.Writer
}

// ParseLevel accepts debug, info, warn and error in any case.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("log level %q: %w", s, err)
	}
	return level, nil
}

// Setup builds the logger described by opts and installs it as the
// process logger.
func Setup(opts Options) (*slog.Logger, error) {
	if err := Close(); err != nil {
		return nil, err
	}
	handlerOpts := &slog.HandlerOptions{AddSource: opts.AddSource, Level: opts.Level}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	handlers := []slog.Handler{NewPrettyHandler(stdout, handlerOpts, WithColor())}

	var opened []io.Closer
	if opts.Dir != "" {
		archiver := NewArchiver(opts.Dir)
		files, err := openFiles(opts.Dir, archiver)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			opened = append(opened, f)
		}
		handlers = append(handlers,
			slog.NewJSONHandler(files[0], handlerOpts),
			slog.NewTextHandler(files[1], handlerOpts),
			NewPrettyHandler(files[2], handlerOpts),
		)

		if opts.ArchiveCron != "" {
			c := cron.New()
			entryID, err := c.AddFunc(opts.ArchiveCron, archiver.process)
			if err != nil {
				closeAll(opened)
				return nil, fmt.Errorf("archive cron %q: %w", opts.ArchiveCron, err)
			}
			c.Start()
			mu.Lock()
			sched = c
			mu.Unlock()
			defer Info("Created archive cron", "entryID", entryID, "spec", opts.ArchiveCron)
		}
	}

	logger := slog.New(slogmulti.Fanout(handlers...))
	mu.Lock()
	closers = opened
	current = logger
	mu.Unlock()
	return logger, nil
}

func openFiles(dir string, archiver *Archiver) ([]*BufferedFile, error) {
	bufferDir := filepath.Join(dir, "buffered")
	if err := os.MkdirAll(bufferDir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	var files []*BufferedFile
	for _, name := range []string{"default.json", "default.txt", "pretty.log"} {
		file, err := os.OpenFile(filepath.Join(dir, name), os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0600)
		if err != nil {
			closeBuffered(files)
			return nil, err
		}
		buffer, err := os.OpenFile(filepath.Join(bufferDir, name), os.O_RDWR|os.O_CREATE, 0600)
		if err != nil {
			file.Close()
			closeBuffered(files)
			return nil, err
		}
		files = append(files, &BufferedFile{Archiver: archiver, File: file, BufferFile: buffer})
	}
	return files, nil
}

func closeBuffered(files []*BufferedFile) {
	for _, f := range files {
		f.Close()
	}
}

func closeAll(list []io.Closer) error {
	var errs []error
	for _, c := range list {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// Close stops the archiver and closes the log files opened by Setup. The
// process logger falls back to stderr.
func Close() error {
	mu.Lock()
	running := sched
	sched = nil
	mu.Unlock()
	if running != nil {
		<-running.Stop().Done()
	}

	mu.Lock()
	defer mu.Unlock()
	if len(closers) == 0 {
		return nil
	}
	err := closeAll(closers)
	closers = nil
	current = stderrLogger()
	return err
}

// Logger returns the process logger installed by Setup.
func Logger() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return current
}

func Info(msg string, args ...any) {
	Logger().Info(msg, args...)
}

func Error(msg string, args ...any) {
	Logger().Error(msg, args...)
}

func Warn(msg string, args ...any) {
	Logger().Warn(msg, args...)
}

func Debug(msg string, args ...any) {
	Logger().Debug(msg, args...)
}
