// Package logging builds the structured logger shared by every component.
//
// Usage:
//
//	log := logging.New("iptv-merge", "info", "json")
//	log.WithField("provider", p.Server).Warn("fetch failed")
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// New returns a logger for service writing to stderr. level is a logrus level
// name (default info); format is "json" (default) or "text".
func New(service, level, format string) *logrus.Entry {
	return NewWithOutput(os.Stderr, service, level, format)
}

// NewWithOutput is New with an explicit writer.
func NewWithOutput(w io.Writer, service, level, format string) *logrus.Entry {
	log := logrus.New()
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	}
	log.SetOutput(w)

	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil || level == "" {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)

	return log.WithField("service", service)
}

// Discard returns a logger that drops everything.
func Discard() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

// OrDiscard returns l, or Discard() when l is nil.
func OrDiscard(l *logrus.Entry) *logrus.Entry {
	if l == nil {
		return Discard()
	}
	return l
}
