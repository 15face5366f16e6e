// Copyright 2024 The Shadow Authors.
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

// Package simlog configures the top-level run logger: a *logrus.Logger
// used by a simulator driver (internal/simrun callers, cmd/simguest) to
// report scenario-level progress, separately from the per-component
// context-scoped logging the process and simhost packages do through
// github.com/containerd/log. The two loggers serve different audiences:
// this one is the run's own narrative, the other is per-Process/per-Host
// diagnostic detail.
package simlog

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New returns a *logrus.Logger configured for a simulator run: text
// output to stderr, full timestamps, and level parsed from levelName
// (falling back to logrus.InfoLevel on an empty or unrecognized value).
func New(levelName string) *logrus.Logger {
	logger := logrus.New()
	logger.Out = os.Stderr
	logger.Formatter = &logrus.TextFormatter{FullTimestamp: true}

	level := logrus.InfoLevel
	if levelName != "" {
		if parsed, err := logrus.ParseLevel(levelName); err == nil {
			level = parsed
		}
	}
	logger.SetLevel(level)
	return logger
}
