package logger

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// File writes every level to a rotating log file under dir. Rotation keeps
// a handful of compressed backups so long-running installs do not fill the
// disk.
type File struct {
	mu     sync.Mutex
	sink   *lumberjack.Logger
	level  int
	closed bool
}

// NewFile creates a rotating file logger writing to dir/foreman.log.
func NewFile(dir, level string) *File {
	return &File{
		sink: &lumberjack.Logger{
			Filename:   filepath.Join(dir, "foreman.log"),
			MaxSize:    10, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		},
		level: parseLevel(level),
	}
}

func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return f.sink.Close()
}

func (f *File) Debugf(format string, args ...interface{}) { f.logf(levelDebug, "DEBUG", format, args...) }
func (f *File) Infof(format string, args ...interface{})  { f.logf(levelInfo, "INFO", format, args...) }
func (f *File) Warnf(format string, args ...interface{})  { f.logf(levelWarn, "WARN", format, args...) }
func (f *File) Errorf(format string, args ...interface{}) { f.logf(levelError, "ERROR", format, args...) }

func (f *File) logf(level int, tag, format string, args ...interface{}) {
	if level < f.level {
		return
	}
	line := fmt.Sprintf("%s %-5s %s\n", time.Now().Format(time.RFC3339), tag, fmt.Sprintf(format, args...))

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.sink.Write([]byte(line))
}
