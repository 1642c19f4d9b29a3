package services

import (
	"context"
	"errors"
	"sync"
	"time"
)

const defaultAccountingQueueSize = 64

// accountingTask is one deferred ledger write.
type accountingTask struct {
	kind string
	run  func(ctx context.Context) error
}

// AccountingDispatcherDeps bundles collaborators required to construct the dispatcher.
type AccountingDispatcherDeps struct {
	Ledger    LedgerService
	QueueSize int
	// Timeout bounds each deferred ledger write; the request context that
	// enqueued the task is long gone by the time the worker runs it.
	Timeout time.Duration
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

// BackgroundAccountingDispatcher runs ledger writes on a single background worker
// behind a bounded queue. Enqueue never blocks: when the queue is full the
// task is dropped and logged. Ledger entries are best-effort and must never
// delay or fail the customer-facing outcome they annotate.
type BackgroundAccountingDispatcher struct {
	ledger  LedgerService
	tasks   chan accountingTask
	timeout time.Duration
	logger  func(context.Context, string, map[string]any)

	closeOnce sync.Once
	done      chan struct{}
}

// NewAccountingDispatcher starts the background worker and returns the dispatcher.
// Call Close to drain the queue and stop the worker.
func NewAccountingDispatcher(deps AccountingDispatcherDeps) (*BackgroundAccountingDispatcher, error) {
	if deps.Ledger == nil {
		return nil, errors.New("accounting dispatcher: ledger service is required")
	}

	size := deps.QueueSize
	if size <= 0 {
		size = defaultAccountingQueueSize
	}

	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	d := &BackgroundAccountingDispatcher{
		ledger:  deps.Ledger,
		tasks:   make(chan accountingTask, size),
		timeout: timeout,
		logger:  logger,
		done:    make(chan struct{}),
	}
	go d.work()
	return d, nil
}

func (d *BackgroundAccountingDispatcher) EnqueueOrderIncome(ctx context.Context, cmd RecordOrderIncomeCommand) {
	d.enqueue(ctx, accountingTask{
		kind: "order_income",
		run: func(taskCtx context.Context) error {
			_, err := d.ledger.RecordOrderIncome(taskCtx, cmd)
			return err
		},
	})
}

func (d *BackgroundAccountingDispatcher) EnqueueReprintExpense(ctx context.Context, cmd RecordReprintExpenseCommand) {
	d.enqueue(ctx, accountingTask{
		kind: "reprint_expense",
		run: func(taskCtx context.Context) error {
			_, err := d.ledger.RecordReprintExpense(taskCtx, cmd)
			return err
		},
	})
}

// Close stops accepting tasks and waits for the worker to drain the queue.
func (d *BackgroundAccountingDispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.tasks)
	})
	<-d.done
}

func (d *BackgroundAccountingDispatcher) enqueue(ctx context.Context, task accountingTask) {
	defer func() {
		// Enqueue after Close panics on the closed channel; accounting tasks
		// arriving during shutdown are dropped like queue-full ones.
		if r := recover(); r != nil {
			d.logger(ctx, "accounting.task.dropped", map[string]any{
				"kind":   task.kind,
				"reason": "dispatcher closed",
			})
		}
	}()

	select {
	case d.tasks <- task:
	default:
		d.logger(ctx, "accounting.task.dropped", map[string]any{
			"kind":   task.kind,
			"reason": "queue full",
		})
	}
}

func (d *BackgroundAccountingDispatcher) work() {
	defer close(d.done)
	for task := range d.tasks {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		if err := task.run(ctx); err != nil {
			d.logger(ctx, "accounting.task.failed", map[string]any{
				"kind":  task.kind,
				"error": err.Error(),
			})
		}
		cancel()
	}
}
