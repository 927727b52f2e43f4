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

package log

import (
	"fmt"
	"sync"
	"time"

	goxrate "golang.org/x/time/rate"
)

// Rate specifies the maximum per-message logging rate.
type Rate struct {
	Limit  goxrate.Limit
	Burst  int
	Window int
}

// ratelimited wraps a Logger with a sliding window of per-message limiters.
// The decider and queue-drain paths can legitimately repeat the same
// message once per CPU per tick; without this a busy host would flood
// stderr with identical aborted/skip notices.
type ratelimited struct {
	Logger
	mu     sync.Mutex
	rate   Rate
	window []string
	limits map[string]*goxrate.Limiter
}

const (
	DefaultWindow = 256
	MinimumWindow = 32
)

// Every defines a rate limit for the given interval.
func Every(interval time.Duration) goxrate.Limit {
	return goxrate.Every(interval)
}

// Interval returns a Rate allowing one message per interval.
func Interval(interval time.Duration) Rate {
	return Rate{Limit: Every(interval), Burst: 1}
}

// RateLimit returns a rate-limited view of log.
func RateLimit(l Logger, rate Rate) Logger {
	switch {
	case rate.Window == 0:
		rate.Window = DefaultWindow
	case rate.Window < MinimumWindow:
		rate.Window = MinimumWindow
	}
	if rate.Burst < 1 {
		rate.Burst = 1
	}
	return &ratelimited{
		Logger: l,
		rate:   rate,
		window: make([]string, 0, rate.Window),
		limits: make(map[string]*goxrate.Limiter),
	}
}

func (rl *ratelimited) Debugf(format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)
	if rl.getLimiter(msg).Allow() {
		rl.Logger.Debugf("<rate-limited> %s", msg)
	}
}

func (rl *ratelimited) Warnf(format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)
	if rl.getLimiter(msg).Allow() {
		rl.Logger.Warnf("<rate-limited> %s", msg)
	}
}

func (rl *ratelimited) Errorf(format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)
	if rl.getLimiter(msg).Allow() {
		rl.Logger.Errorf("<rate-limited> %s", msg)
	}
}

func (rl *ratelimited) getLimiter(msg string) *goxrate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if limit, ok := rl.limits[msg]; ok {
		return limit
	}

	limit := goxrate.NewLimiter(rl.rate.Limit, rl.rate.Burst)
	if len(rl.limits) == rl.rate.Window {
		delete(rl.limits, rl.window[0])
		rl.window = rl.window[1:]
	}
	rl.window = append(rl.window, msg)
	rl.limits[msg] = limit

	return limit
}
