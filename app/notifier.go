package app

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/warp/retail-ledger/ledger"
)

// SummaryNotice is handed to the notifier when a summary is finalized.
type SummaryNotice struct {
	ReportID     string
	Business     string
	Recipient    string
	Report       ledger.Report
	Catchup      []ledger.Report
	SummaryCount int
	Custom       bool
	CreatedAt    time.Time
}

// Notifier delivers finalized summaries (email, chat, ...).
type Notifier interface {
	Notify(ctx context.Context, notice SummaryNotice) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, notice SummaryNotice) error

func (f NotifierFunc) Notify(ctx context.Context, notice SummaryNotice) error {
	return f(ctx, notice)
}

// LogNotifier writes the notice to a logger. It never fails.
type LogNotifier struct {
	Log *log.Logger
}

func (n LogNotifier) Notify(_ context.Context, notice SummaryNotice) error {
	logger := n.Log
	if logger == nil {
		logger = log.Default()
	}
	logger.Info("summary finalized",
		"report", notice.ReportID,
		"mode", notice.Report.Mode,
		"rows", len(notice.Report.Rows),
		"total", notice.Report.TotalSales().StringFixed(2),
		"catchup", len(notice.Catchup),
		"recipient", notice.Recipient,
	)
	return nil
}

// AsyncNotifier runs each delivery on its own goroutine with a timeout.
// Failures are logged and reported to the done callback, never returned
// to the caller of Send.
type AsyncNotifier struct {
	next    Notifier
	timeout time.Duration
	log     *log.Logger
	wg      sync.WaitGroup
}

func NewAsyncNotifier(next Notifier, timeout time.Duration, logger *log.Logger) *AsyncNotifier {
	if logger == nil {
		logger = log.Default()
	}
	return &AsyncNotifier{next: next, timeout: timeout, log: logger}
}

// Send starts the delivery and returns immediately. done may be nil.
func (a *AsyncNotifier) Send(notice SummaryNotice, done func(error)) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()

		ctx := context.Background()
		if a.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, a.timeout)
			defer cancel()
		}

		err := a.next.Notify(ctx, notice)
		if err != nil {
			a.log.Error("notification failed", "report", notice.ReportID, "error", err)
		}
		if done != nil {
			done(err)
		}
	}()
}

// Wait blocks until every started delivery has finished.
func (a *AsyncNotifier) Wait() {
	a.wg.Wait()
}
