package logger

import (
	"io"

	"github.com/sirupsen/logrus"
)

var discard = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.PanicLevel)
	return l
}()

// NewNullLogger returns a Logger that drops everything. Components fall back
// to it when constructed with a nil logger.
func NewNullLogger() Logger {
	return NewLogrusAdapter(logrus.NewEntry(discard))
}
