package reliability

import (
	"strings"
	"sync"
	"time"
)

// DuplicateDetector remembers received message keys for a fixed window.
// It is safe for concurrent use.
type DuplicateDetector struct {
	mu       sync.RWMutex
	received map[string]time.Time
	window   time.Duration
	now      func() time.Time

	done      chan struct{}
	closeOnce sync.Once
}

// NewDuplicateDetector creates a detector and starts its cleanup loop.
// Call Close to stop it.
func NewDuplicateDetector(window time.Duration) *DuplicateDetector {
	d := &DuplicateDetector{
		received: make(map[string]time.Time),
		window:   window,
		now:      time.Now,
		done:     make(chan struct{}),
	}

	interval := window
	if interval > time.Hour || interval <= 0 {
		interval = time.Hour
	}
	go d.cleanupLoop(interval)

	return d
}

// MessageKey identifies a message by sender and Message-ID. Message ids are
// only unique per sender.
func MessageKey(from, messageID string) string {
	return strings.TrimSpace(from) + "\x00" + strings.TrimSpace(messageID)
}

// IsDuplicate reports whether key was marked within the window
func (d *DuplicateDetector) IsDuplicate(key string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	receivedAt, exists := d.received[key]
	if !exists {
		return false
	}
	return d.now().Sub(receivedAt) < d.window
}

// Claim marks key as received unless it already was within the window. It
// reports whether the caller owns the delivery. Check and mark happen under
// one lock, so of several concurrent claims for the same key exactly one
// succeeds.
func (d *DuplicateDetector) Claim(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if receivedAt, exists := d.received[key]; exists && now.Sub(receivedAt) < d.window {
		return false
	}
	d.received[key] = now
	return true
}

// Release forgets a claimed key so a retransmission is delivered again.
// Call it when delivery after a successful Claim failed.
func (d *DuplicateDetector) Release(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.received, key)
}

// Len returns the number of remembered keys, expired ones included until
// the next Prune
func (d *DuplicateDetector) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.received)
}

// Prune forgets keys older than the window
func (d *DuplicateDetector) Prune() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for key, receivedAt := range d.received {
		if now.Sub(receivedAt) >= d.window {
			delete(d.received, key)
		}
	}
}

// Close stops the cleanup loop
func (d *DuplicateDetector) Close() {
	d.closeOnce.Do(func() { close(d.done) })
}

func (d *DuplicateDetector) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.Prune()
		case <-d.done:
			return
		}
	}
}
