package log

import (
	"gopkg.in/natefinch/lumberjack.v2"

	"firestige.xyz/rtpscope/internal/config"
)

// AddFileAppender adds a size-rotated log file.
func (m *MultiWriter) AddFileAppender(opts config.FileOutputConfig) *MultiWriter {
	writer := &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.Rotation.MaxSizeMB,  // megabytes
		MaxBackups: opts.Rotation.MaxBackups, // number of backups
		MaxAge:     opts.Rotation.MaxAgeDays, // days
		Compress:   opts.Rotation.Compress,
	}
	m.writers = append(m.writers, writer)
	return m
}
