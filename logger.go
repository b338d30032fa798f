// SPDX-License-Identifier: GPL-3.0-or-later

package zonetest

import "github.com/sirupsen/logrus"

// Logger is the logging capability consumed by this package.
//
// Components never log through package-level state: each [Client],
// [Waiter], and [Server] carries its own Logger, and a nil Logger
// means silence. No behavior depends on what gets logged.
//
// The interface is printf-shaped so that [*logrus.Logger] and
// [*logrus.Entry] satisfy it directly; any logger with compatible
// methods works as well.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// Ensure that logrus satisfies [Logger].
var (
	_ Logger = (*logrus.Logger)(nil)
	_ Logger = (*logrus.Entry)(nil)
)

// nopLogger is the Logger used when none is configured.
type nopLogger struct{}

// Debugf discards the message.
func (nopLogger) Debugf(format string, args ...any) {}

// Infof discards the message.
func (nopLogger) Infof(format string, args ...any) {}

// Warnf discards the message.
func (nopLogger) Warnf(format string, args ...any) {}

// Errorf discards the message.
func (nopLogger) Errorf(format string, args ...any) {}

// loggerOrNop returns logger when non-nil and a silent logger otherwise.
func loggerOrNop(logger Logger) Logger {
	if logger != nil {
		return logger
	}
	return nopLogger{}
}
