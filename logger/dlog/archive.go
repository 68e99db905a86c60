package dlog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// Archiver moves the content of every log file in dir into a dated
// sub directory. Writes that arrive while it runs are parked in
// dir/buffered and replayed afterwards.
type Archiver struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

func NewArchiver(dir string) *Archiver {
	return &Archiver{dir: dir, now: time.Now}
}

func (a *Archiver) process() {
	if _, err := a.Archive(); err != nil {
		Error("Failed to archive logs", "dir", a.dir, "err", err)
	}
}

// Archive returns the directory the logs were moved to.
func (a *Archiver) Archive() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	yesterday := a.now().AddDate(0, 0, -1).Format("2006-01-02")
	base := filepath.Join(a.dir, yesterday)
	archiveDir := base
	err := os.Mkdir(archiveDir, 0755)
	for counter := 1; os.IsExist(err); counter++ {
		archiveDir = base + "-" + strconv.Itoa(counter)
		err = os.Mkdir(archiveDir, 0755)
	}
	if err != nil {
		return "", fmt.Errorf("create archive directory: %w", err)
	}

	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return "", fmt.Errorf("read log directory: %w", err)
	}
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if err := archiveFile(filepath.Join(a.dir, entry.Name()), filepath.Join(archiveDir, entry.Name())); err != nil {
			return "", err
		}
	}
	return archiveDir, nil
}

func archiveFile(from, to string) error {
	src, err := os.Open(from)
	if err != nil {
		return fmt.Errorf("open %s: %w", from, err)
	}
	defer src.Close()
	dst, err := os.OpenFile(to, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("open %s: %w", to, err)
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("copy %s: %w", from, err)
	}
	if err := os.Truncate(from, 0); err != nil {
		return fmt.Errorf("truncate %s: %w", from, err)
	}
	return nil
}

// BufferedFile writes to File, or to BufferFile while its archiver runs.
type BufferedFile struct {
	Archiver   *Archiver
	File       *os.File
	BufferFile *os.File

	mu       sync.Mutex
	buffered bool
}

func (b *BufferedFile) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.Archiver.mu.TryLock() {
		b.buffered = true
		return b.BufferFile.Write(p)
	}
	defer b.Archiver.mu.Unlock()

	if b.buffered {
		if err := b.flush(); err != nil {
			return 0, err
		}
	}
	return b.File.Write(p)
}

func (b *BufferedFile) flush() error {
	if _, err := b.BufferFile.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, err := io.Copy(b.File, b.BufferFile); err != nil {
		return err
	}
	if err := b.BufferFile.Truncate(0); err != nil {
		return err
	}
	if _, err := b.BufferFile.Seek(0, io.SeekStart); err != nil {
		return err
	}
	b.buffered = false
	return nil
}

func (b *BufferedFile) Close() error {
	err := b.File.Close()
	if bufErr := b.BufferFile.Close(); err == nil {
		err = bufErr
	}
	return err
}
