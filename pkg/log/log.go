// Copyright 2019-2020 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package log is the logging facade used across the monitor. It is
// deliberately small: the monitor's hot path (the sampler callback) must
// never call into it, since it may allocate and its default backend may
// block on I/O. Only the decider, lifecycle and control-surface paths log.
package log

import (
	stdlog "log"
	"os"
)

// Logger is the interface every package in this module logs through.
type Logger interface {
	Debugf(format string, v ...interface{})
	Infof(format string, v ...interface{})
	Warnf(format string, v ...interface{})
	Errorf(format string, v ...interface{})
	Panicf(format string, v ...interface{})
	Fatalf(format string, v ...interface{})
}

type logger struct {
	*stdlog.Logger
	source string
}

const logPrefix = "numamon "

func (l *logger) Debugf(format string, v ...interface{}) {
	if !debugEnabled {
		return
	}
	l.Printf("D: ["+l.source+"] "+format, v...)
}

func (l *logger) Infof(format string, v ...interface{}) {
	l.Printf("I: ["+l.source+"] "+format, v...)
}

func (l *logger) Warnf(format string, v ...interface{}) {
	l.Printf("W: ["+l.source+"] "+format, v...)
}

func (l *logger) Errorf(format string, v ...interface{}) {
	l.Printf("E: ["+l.source+"] "+format, v...)
}

func (l *logger) Panicf(format string, v ...interface{}) {
	l.Logger.Panicf("P: ["+l.source+"] "+format, v...)
}

func (l *logger) Fatalf(format string, v ...interface{}) {
	l.Logger.Fatalf("F: ["+l.source+"] "+format, v...)
}

var debugEnabled = false

// SetDebug enables or disables debug-level messages process-wide.
func SetDebug(enabled bool) {
	debugEnabled = enabled
}

// NewLogger returns a Logger tagging every message with source.
func NewLogger(source string) Logger {
	return &logger{
		Logger: stdlog.New(os.Stderr, logPrefix, stdlog.LstdFlags|stdlog.Lmicroseconds),
		source: source,
	}
}
