package logging

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// RotatingFileWriter is an io.Writer for logrus that rotates the log file
// by size, keeping at most maxBackups old files.
type RotatingFileWriter struct {
	mu          sync.Mutex
	file        *os.File
	filePath    string
	currentSize int64
	maxSize     int64
	maxBackups  int
	compress    bool
}

// NewRotatingFileWriter opens (or creates) filePath for appending
func NewRotatingFileWriter(filePath string, maxSize int64, maxBackups int, compress bool) (*RotatingFileWriter, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}

	return &RotatingFileWriter{
		file:        file,
		filePath:    filePath,
		currentSize: info.Size(),
		maxSize:     maxSize,
		maxBackups:  maxBackups,
		compress:    compress,
	}, nil
}

var _ io.WriteCloser = (*RotatingFileWriter)(nil)

// Write implements io.Writer
func (w *RotatingFileWriter) Write(data []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.maxSize > 0 && w.currentSize+int64(len(data)) > w.maxSize {
		if err := w.rotate(); err != nil {
			// keep logging into whatever file is open
			fmt.Fprintf(os.Stderr, "log rotation failed: %v\n", err)
		}
	}

	n, err := w.file.Write(data)
	w.currentSize += int64(n)
	if err != nil {
		return n, fmt.Errorf("failed to write to log file: %w", err)
	}
	return n, nil
}

// Close closes the underlying file
func (w *RotatingFileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.file.Close()
}

func (w *RotatingFileWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close current log file: %w", err)
	}

	backupPath := fmt.Sprintf("%s.%s", w.filePath, time.Now().Format("2006-01-02_15-04-05.000"))
	if err := os.Rename(w.filePath, backupPath); err != nil {
		return fmt.Errorf("failed to rename log file: %w", err)
	}
	if w.compress {
		if err := compressFile(backupPath); err != nil {
			fmt.Fprintf(os.Stderr, "failed to compress log backup: %v\n", err)
		}
	}
	if err := w.cleanupOldBackups(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to clean up log backups: %v\n", err)
	}

	file, err := os.OpenFile(w.filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create new log file: %w", err)
	}
	w.file = file
	w.currentSize = 0
	return nil
}

func compressFile(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		_ = src.Close()
	}()

	dst, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}
	gz := gzip.NewWriter(dst)
	if _, err := io.Copy(gz, src); err != nil {
		_ = gz.Close()
		_ = dst.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		_ = dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	return os.Remove(path)
}

// cleanupOldBackups removes the oldest backups beyond maxBackups
func (w *RotatingFileWriter) cleanupOldBackups() error {
	if w.maxBackups <= 0 {
		return nil
	}

	dir := filepath.Dir(w.filePath)
	base := filepath.Base(w.filePath)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	var backups []os.FileInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), base+".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		backups = append(backups, info)
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].ModTime().After(backups[j].ModTime())
	})

	for i := w.maxBackups; i < len(backups); i++ {
		if err := os.Remove(filepath.Join(dir, backups[i].Name())); err != nil {
			return err
		}
	}
	return nil
}
