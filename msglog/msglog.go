// Package msglog is the bounded experiment message log.  Every line is
// also written to the standard logger and posted to the UI bridge.
package msglog

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ultrafast-lab/scanctl/bridge"
)

// DefaultLines is the number of lines kept when none is configured
const DefaultLines = 20

// Log keeps the most recent lines
type Log struct {
	mu     sync.Mutex
	lines  []string
	max    int
	bridge *bridge.Bridge
}

// New returns a log keeping max lines and posting to b, which may be nil
func New(max int, b *bridge.Bridge) *Log {
	if max < 1 {
		max = DefaultLines
	}
	return &Log{max: max, bridge: b}
}

// Printf appends a line
func (l *Log) Printf(format string, args ...interface{}) {
	l.add("", fmt.Sprintf(format, args...))
}

// Session returns a printf-style logger whose lines are tagged with a
// session name
func (l *Log) Session(name string) func(string, ...interface{}) {
	return func(format string, args ...interface{}) {
		l.add(name, fmt.Sprintf(format, args...))
	}
}

func (l *Log) add(session, msg string) {
	line := time.Now().Format("15:04:05") + " "
	if session != "" {
		line += "[" + session + "] "
	}
	line += msg
	log.Println(line)
	l.mu.Lock()
	l.lines = append(l.lines, line)
	if over := len(l.lines) - l.max; over > 0 {
		l.lines = append(l.lines[:0], l.lines[over:]...)
	}
	l.mu.Unlock()
	l.bridge.Post(bridge.Update{Kind: bridge.LogLine, Session: session, Line: line})
}

// Lines returns the kept lines, oldest first
func (l *Log) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}
