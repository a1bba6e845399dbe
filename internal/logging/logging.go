// Copyright (c) 2026 The ReserveGrid developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package logging adapts the teacher's per-subsystem logger convention
// (see mining/log.go, netsync/log.go in the upstream flokicoin tree: a
// package-level "var log" that defaults to a disabled logger until the
// binary's main() wires a real one in) onto github.com/sirupsen/logrus.
//
// Every internal package declares its own tagged logger with NewSubsystem;
// main() (in cmd/template-manager and cmd/pool-verifier) calls Configure
// once at startup to point every subsystem logger at a shared, optionally
// rotating, output.
package logging

import (
	"io"
	"os"

	"github.com/jrick/logrotate/rotator"
	"github.com/sirupsen/logrus"
)

var root = logrus.New()

func init() {
	root.SetOutput(os.Stdout)
	root.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	root.SetLevel(logrus.InfoLevel)
}

// Subsystem is a tagged logger for one package's log lines, mirroring the
// teacher's convention of one `var log` per subsystem.
type Subsystem struct {
	entry *logrus.Entry
}

// NewSubsystem returns a tagged logger. Safe to call at package init time
// since it only ever reads the shared root logger's current configuration
// lazily (through entry.Logger), never copies it.
func NewSubsystem(tag string) *Subsystem {
	return &Subsystem{entry: root.WithField("prefix", tag)}
}

func (s *Subsystem) Tracef(format string, args ...interface{})    { s.entry.Tracef(format, args...) }
func (s *Subsystem) Debugf(format string, args ...interface{})    { s.entry.Debugf(format, args...) }
func (s *Subsystem) Infof(format string, args ...interface{})     { s.entry.Infof(format, args...) }
func (s *Subsystem) Warnf(format string, args ...interface{})     { s.entry.Warnf(format, args...) }
func (s *Subsystem) Errorf(format string, args ...interface{})    { s.entry.Errorf(format, args...) }
func (s *Subsystem) Info(args ...interface{})                     { s.entry.Info(args...) }
func (s *Subsystem) Warn(args ...interface{})                     { s.entry.Warn(args...) }
func (s *Subsystem) Error(args ...interface{})                    { s.entry.Error(args...) }
func (s *Subsystem) WithField(k string, v interface{}) *logrus.Entry {
	return s.entry.WithField(k, v)
}

// SetLevel sets the process-wide minimum level, by name (trace, debug,
// info, warn, error).
func SetLevel(name string) error {
	lvl, err := logrus.ParseLevel(name)
	if err != nil {
		return err
	}
	root.SetLevel(lvl)
	return nil
}

// Configure points the shared root logger at w, in addition to stdout.
// Used by main() to wire a logrotate.Rotator as the operational log file,
// exactly as the teacher rotates flokicoind's log file.
func Configure(w io.Writer) {
	if w == nil {
		return
	}
	root.SetOutput(io.MultiWriter(os.Stdout, w))
}

// rotateThresholdKB and maxRolls match flokicoind's initLogRotator
// defaults (flokicoind.go): a new file every 10 MB, keeping 3 old rolls.
const (
	rotateThresholdKB = 10 * 1024
	maxRolls          = 3
)

// NewRotator opens a rotating log file at path, matching flokicoind's
// jrick/logrotate wiring (flokicoind.go's initLogRotator) for the binary's
// operational log stream.
func NewRotator(path string) (*rotator.Rotator, error) {
	return rotator.New(path, rotateThresholdKB, false, maxRolls)
}
