// Package ratelog throttles log lines that would otherwise repeat on every
// tick of a background loop.
package ratelog

import (
	"log"
	"sync"
	"time"
)

// Logger prints at most one line per interval; everything in between is
// dropped and counted.
type Logger struct {
	mu         sync.Mutex
	lastAt     time.Time
	interval   time.Duration
	suppressed int

	now func() time.Time
}

func New(interval time.Duration) *Logger {
	return &Logger{interval: interval, now: time.Now}
}

func (l *Logger) Printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if !l.lastAt.IsZero() && now.Sub(l.lastAt) < l.interval {
		l.suppressed++
		return
	}
	l.lastAt = now
	if l.suppressed > 0 {
		log.Printf(format+" (suppressed %d similar)", append(args, l.suppressed)...)
		l.suppressed = 0
		return
	}
	log.Printf(format, args...)
}

// Reset forgets the last print so the next failure after a recovery is
// always logged.
func (l *Logger) Reset() {
	l.mu.Lock()
	l.lastAt = time.Time{}
	l.suppressed = 0
	l.mu.Unlock()
}
