package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap/zapcore"
)

// Appender is a sink for individual log entries. zapcore.Core satisfies this
// so existing zap cores (e.g. a test observer) can double as an Appender.
type Appender interface {
	Write(entry zapcore.Entry, fields []zapcore.Field) error
	Sync() error
}

func callerToString(caller *zapcore.EntryCaller) string {
	if caller == nil || !caller.Defined {
		return ""
	}
	return caller.TrimmedPath()
}

type consoleAppender struct {
	out    *os.File
	inLocal bool
}

// NewStdoutAppender returns an Appender that writes plain tab-delimited
// lines to stdout in UTC.
func NewStdoutAppender() Appender {
	return &consoleAppender{out: os.Stdout}
}

// NewStdoutTestAppender returns an Appender like NewStdoutAppender but using
// local time, matching how test runs are usually read by a human nearby.
func NewStdoutTestAppender() Appender {
	return &consoleAppender{out: os.Stdout, inLocal: true}
}

func (a *consoleAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	parts := make([]string, 0, 5)
	ts := entry.Time.UTC()
	if a.inLocal {
		ts = entry.Time.Local()
	}
	parts = append(parts, ts.Format(DefaultTimeFormatStr))
	parts = append(parts, strings.ToUpper(entry.Level.String()))
	parts = append(parts, entry.LoggerName)
	if entry.Caller.Defined {
		parts = append(parts, callerToString(&entry.Caller))
	}
	parts = append(parts, entry.Message)

	if len(fields) > 0 {
		jsonEncoder := zapcore.NewJSONEncoder(zapcore.EncoderConfig{SkipLineEnding: true})
		buf, err := jsonEncoder.EncodeEntry(zapcore.Entry{}, fields)
		if err != nil {
			fmt.Fprintln(a.out, strings.Join(parts, "\t"))
			return err
		}
		parts = append(parts, buf.String())
	}

	_, err := fmt.Fprintln(a.out, strings.Join(parts, "\t"))
	return err
}

func (a *consoleAppender) Sync() error {
	return a.out.Sync()
}
