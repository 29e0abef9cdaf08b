package ws

import "log"

const journalBuffer = 1024

type activity struct {
	roomID string
	kind   string
	userID string
}

// journalWriter moves journal writes off the hub goroutine. Entries are
// written in the order they were queued; when the queue is full they are
// dropped with a log line.
type journalWriter struct {
	journal Journal
	queue   chan activity
	done    chan struct{}
}

func newJournalWriter(journal Journal, size int) *journalWriter {
	return &journalWriter{
		journal: journal,
		queue:   make(chan activity, size),
		done:    make(chan struct{}),
	}
}

func (w *journalWriter) enqueue(a activity) {
	select {
	case w.queue <- a:
	default:
		log.Printf("Journal: queue full, dropping %s in room %s", a.kind, a.roomID)
	}
}

func (w *journalWriter) run() {
	defer close(w.done)
	for a := range w.queue {
		if err := w.journal.Record(a.roomID, a.kind, a.userID); err != nil {
			log.Printf("Journal: failed to record %s in room %s: %v", a.kind, a.roomID, err)
		}
	}
}

// stop waits for queued entries to be written. Only valid once run has been
// started.
func (w *journalWriter) stop() {
	close(w.queue)
	<-w.done
}
