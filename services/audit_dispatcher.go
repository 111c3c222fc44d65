package services

import (
	"sync"

	"github.com/blogem/nms-gateway/models"
)

// auditDispatcher hands finished entries to a single worker over a bounded
// channel. Enqueue never blocks: a full buffer drops the entry.
//
// Sends happen under mu held for reading and Close takes it for writing, so
// every accepted entry is in the channel before done is closed and the
// worker drains it.
type auditDispatcher struct {
	write     func(*models.AuditLogEntry)
	ch        chan *models.AuditLogEntry
	done      chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

func newAuditDispatcher(bufferSize int, write func(*models.AuditLogEntry)) *auditDispatcher {
	if bufferSize <= 0 {
		bufferSize = 1
	}

	d := &auditDispatcher{
		write: write,
		ch:    make(chan *models.AuditLogEntry, bufferSize),
		done:  make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *auditDispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case entry := <-d.ch:
			d.write(entry)
		case <-d.done:
			for {
				select {
				case entry := <-d.ch:
					d.write(entry)
				default:
					return
				}
			}
		}
	}
}

// Enqueue queues entry. It reports the drop reason when the entry was not
// accepted.
func (d *auditDispatcher) Enqueue(entry *models.AuditLogEntry) (accepted bool, reason string) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return false, DropClosed
	}

	select {
	case d.ch <- entry:
		return true, ""
	default:
		return false, DropBufferFull
	}
}

// Close stops accepting entries and waits until the buffer is drained.
func (d *auditDispatcher) Close() {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.done)
		d.mu.Unlock()

		d.wg.Wait()
	})
}
