package bus

import (
	"encoding/json"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// KeyFunc picks the ordering key of an inbound payload.
type KeyFunc func(payload []byte) string

// DeviceKey orders protocol requests by their device_id field. Payloads that
// do not decode share the empty key.
func DeviceKey(payload []byte) string {
	var head struct {
		DeviceID string `json:"device_id"`
	}
	_ = json.Unmarshal(payload, &head)
	return head.DeviceID
}

// Lanes runs dispatched work one item at a time per key, in dispatch order.
// Work for keys on different lanes runs concurrently.
type Lanes struct {
	key   KeyFunc
	lanes []chan func()
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewLanes starts n lanes, each buffering up to depth items. Dispatch blocks
// while the chosen lane is full.
func NewLanes(n, depth int, key KeyFunc) *Lanes {
	if n < 1 {
		n = 1
	}
	l := &Lanes{key: key, lanes: make([]chan func(), n)}
	for i := range l.lanes {
		ch := make(chan func(), depth)
		l.lanes[i] = ch
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			for work := range ch {
				work()
			}
		}()
	}
	return l
}

// Dispatch queues work on the lane owning payload's key. It reports false
// once the lanes are closed.
func (l *Lanes) Dispatch(payload []byte, work func()) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return false
	}
	l.lanes[l.lane(l.key(payload))] <- work
	return true
}

func (l *Lanes) lane(key string) int {
	if len(l.lanes) == 1 {
		return 0
	}
	return int(xxhash.Sum64String(key) % uint64(len(l.lanes)))
}

// Close stops accepting work and waits for queued items to finish.
func (l *Lanes) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	for _, ch := range l.lanes {
		close(ch)
	}
	l.mu.Unlock()
	l.wg.Wait()
}
