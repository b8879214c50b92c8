// Size-based log file rotation for the panel's log_file option
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// RotatingFileWriter implements io.Writer with automatic file rotation.
type RotatingFileWriter struct {
	mu          sync.Mutex
	filename    string
	maxSize     int64
	maxBackups  int
	currentSize int64
	file        *os.File
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	Filename string

	// MaxSize is the size in bytes that triggers rotation. Default 5 MiB.
	MaxSize int64

	// MaxBackups is the number of rotated files kept. Default 3.
	MaxBackups int
}

// NewRotatingFileWriter opens (or creates) the log file for appending.
func NewRotatingFileWriter(config RotationConfig) (*RotatingFileWriter, error) {
	if config.Filename == "" {
		return nil, fmt.Errorf("filename is required")
	}
	w := &RotatingFileWriter{
		filename:   config.Filename,
		maxSize:    config.MaxSize,
		maxBackups: config.MaxBackups,
	}
	if w.maxSize <= 0 {
		w.maxSize = 5 << 20
	}
	if w.maxBackups <= 0 {
		w.maxBackups = 3
	}
	if err := w.openFile(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RotatingFileWriter) openFile() error {
	if err := os.MkdirAll(filepath.Dir(w.filename), 0755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(w.filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	w.file = f
	w.currentSize = info.Size()
	return nil
}

// Write implements io.Writer.
func (w *RotatingFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentSize > 0 && w.currentSize+int64(len(p)) > w.maxSize {
		if err := w.rotate(); err != nil {
			return 0, fmt.Errorf("rotate log file: %w", err)
		}
	}
	n, err := w.file.Write(p)
	w.currentSize += int64(n)
	return n, err
}

// rotate renames the current file to <base>.<timestamp><ext>, prunes
// old backups and reopens a fresh file. Caller holds w.mu.
func (w *RotatingFileWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("close current file: %w", err)
	}

	ext := filepath.Ext(w.filename)
	base := strings.TrimSuffix(w.filename, ext)
	rotated := fmt.Sprintf("%s.%s%s", base, time.Now().Format("20060102-150405.000"), ext)
	if err := os.Rename(w.filename, rotated); err != nil {
		_ = w.openFile()
		return fmt.Errorf("rename log file: %w", err)
	}

	w.pruneBackups()
	return w.openFile()
}

func (w *RotatingFileWriter) pruneBackups() {
	backups := w.Backups()
	for len(backups) > w.maxBackups {
		os.Remove(backups[0])
		backups = backups[1:]
	}
}

// Backups lists rotated files, oldest first.
func (w *RotatingFileWriter) Backups() []string {
	ext := filepath.Ext(w.filename)
	pattern := strings.TrimSuffix(w.filename, ext) + ".*" + ext
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil
	}
	var backups []string
	for _, m := range matches {
		if m != w.filename {
			backups = append(backups, m)
		}
	}
	// Timestamped names sort chronologically.
	sort.Strings(backups)
	return backups
}

// Close closes the rotating file writer.
func (w *RotatingFileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		return w.file.Close()
	}
	return nil
}

// CurrentSize returns the current file size.
func (w *RotatingFileWriter) CurrentSize() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentSize
}

// AttachFile sends l's output to both stderr and a rotating file.
// Colors are disabled since they end up in the file.
func AttachFile(l *Logger, config RotationConfig) (*RotatingFileWriter, error) {
	fw, err := NewRotatingFileWriter(config)
	if err != nil {
		return nil, err
	}
	l.SetWriter(io.MultiWriter(os.Stderr, fw))
	l.SetColorize(false)
	return fw, nil
}
