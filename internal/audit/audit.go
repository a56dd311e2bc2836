// Package audit implements C16: a best-effort, PII-masking audit
// writer. Every state-mutating call should call Record; failures are
// logged and swallowed, never propagated to the request path.
//
// The async queue-with-synchronous-fallback design is grounded on the
// teacher's db.Client.QueueWrite/writeWorker/drainQueue (internal/db/
// client.go), narrowed from a general multi-type write queue to a
// single audit-entry queue, since this core has exactly one
// fire-and-forget write path.
package audit

import (
	"context"
	"regexp"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/triflow-ai/core/internal/models"
	"github.com/triflow-ai/core/internal/store"
)

// queueCapacity and workerCount mirror the teacher's buffered-channel
// + fixed worker pool shape, sized down from 1000/10 since this core
// has one write type instead of five.
const (
	queueCapacity = 500
	workerCount   = 4
	drainTimeout  = 10 * time.Second
)

// Entry is the input to Record; Writer fills in ID/CreatedAt.
type Entry = models.AuditEntry

// Writer is C16.
type Writer struct {
	store  *store.Store
	logger *zap.Logger
	queue  chan *Entry
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func New(s *store.Store, logger *zap.Logger) *Writer {
	w := &Writer{
		store:  s,
		logger: logger,
		queue:  make(chan *Entry, queueCapacity),
		stopCh: make(chan struct{}),
	}
	for i := 0; i < workerCount; i++ {
		w.wg.Add(1)
		go w.worker()
	}
	return w
}

func (w *Writer) worker() {
	defer w.wg.Done()
	for {
		select {
		case <-w.stopCh:
			w.drain()
			return
		case e := <-w.queue:
			w.write(e)
		}
	}
}

func (w *Writer) drain() {
	deadline := time.After(drainTimeout)
	for {
		select {
		case e := <-w.queue:
			w.write(e)
		case <-deadline:
			w.logger.Warn("audit: timed out draining queue on shutdown")
			return
		default:
			return
		}
	}
}

func (w *Writer) write(e *Entry) {
	if err := w.store.InsertAuditEntry(context.Background(), e); err != nil {
		w.logger.Error("audit: write failed", zap.String("action", e.Action), zap.Error(err))
	}
}

// Record masks PII in the entry and enqueues it. When the queue is
// full the write runs synchronously so a burst never drops an audit
// record, matching the teacher's QueueWrite fallback.
func (w *Writer) Record(ctx context.Context, e Entry) {
	e.RequestBody, e.MaskedCount = mask(e.RequestBody)
	var responseMasked int
	e.ResponseSummary, responseMasked = mask(e.ResponseSummary)
	e.MaskedCount += responseMasked

	entry := e
	select {
	case w.queue <- &entry:
	default:
		w.logger.Warn("audit: queue full, writing synchronously", zap.String("action", e.Action))
		if err := w.store.InsertAuditEntry(ctx, &entry); err != nil {
			w.logger.Error("audit: synchronous write failed", zap.String("action", e.Action), zap.Error(err))
		}
	}
}

// Shutdown stops accepting new work is implicit (callers should stop
// calling Record); this drains in-flight entries already queued.
func (w *Writer) Shutdown() {
	close(w.stopCh)
	w.wg.Wait()
}

// piiPattern is one masking rule: a category name plus the regexp that
// finds it and the replacement text.
type piiPattern struct {
	category    string
	pattern     *regexp.Regexp
	replacement string
}

// piiPatterns is the fixed category list from spec.md §4.14. Each match
// is replaced whole by its category tag (e.g. "[masked:ip]"); no part
// of the original value, such as its last digits, is kept.
var piiPatterns = []piiPattern{
	{"email", regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[masked:email]"},
	{"credit_card", regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), "[masked:credit_card]"},
	{"phone", regexp.MustCompile(`\b(?:\+?\d{1,3}[ -]?)?(?:\(\d{2,4}\)[ -]?)?\d{3,4}[ -]?\d{3,4}\b`), "[masked:phone]"},
	{"ssn_or_registration_id", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "[masked:id]"},
	{"passport", regexp.MustCompile(`(?i)\bpassport[:\s]*[a-z0-9]{6,9}\b`), "[masked:passport]"},
	{"driver_license", regexp.MustCompile(`(?i)\bdriver'?s?[ _]?licen[sc]e[:\s]*[a-z0-9-]{5,15}\b`), "[masked:driver_license]"},
	{"bank_account", regexp.MustCompile(`(?i)\b(?:iban|account)[:\s]*[a-z0-9]{8,34}\b`), "[masked:bank_account]"},
	{"ip", regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`), "[masked:ip]"},
}

// mask replaces every PII category match in s, returning the masked
// string and the total number of replacements made.
func mask(s string) (string, int) {
	if s == "" {
		return s, 0
	}
	count := 0
	for _, p := range piiPatterns {
		s = p.pattern.ReplaceAllStringFunc(s, func(string) string {
			count++
			return p.replacement
		})
	}
	return s, count
}
