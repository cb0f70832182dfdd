package delivery

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-notify-api/internal/models"
	appErrors "github.com/noah-isme/sma-notify-api/pkg/errors"
)

// AttemptStore persists delivery attempt rows as the machine advances.
type AttemptStore interface {
	UpdateAttempt(ctx context.Context, attempt *models.DeliveryAttempt) error
}

// OfflineStore is the durable parking lot for messages that cannot be
// submitted while the process is offline. It must survive restarts.
type OfflineStore interface {
	Enqueue(ctx context.Context, item models.OfflineQueueItem) error
	Dequeue(ctx context.Context, id string) error
	ListPending(ctx context.Context) ([]models.OfflineQueueItem, error)
}

// Observer receives delivery telemetry. Implemented by the metrics service.
type Observer interface {
	ObserveTransition(state models.DeliveryState)
	ObserveAttempt(channel models.Channel, success bool)
}

// TerminalFunc is invoked exactly once when a delivery reaches delivered,
// exhausted, or cancelled.
type TerminalFunc func(attempt models.DeliveryAttempt)

// Config tunes the orchestrator.
type Config struct {
	Workers     int
	QueueSize   int
	SendTimeout time.Duration
	RetryTick   time.Duration
}

// Orchestrator runs one state machine per in-flight delivery. Workers drain a
// submit queue; a scheduler goroutine wakes awaiting_retry machines; a
// connectivity flag flips machines in and out of the durable offline queue.
type Orchestrator struct {
	transport  Transport
	store      AttemptStore
	offline    OfflineStore
	observer   Observer
	onTerminal TerminalFunc
	logger     *zap.Logger

	workers     int
	sendTimeout time.Duration
	retryTick   time.Duration

	mu       sync.Mutex
	machines map[string]*Machine
	online   bool

	queue  chan string
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	runMu  sync.Mutex
	runs   bool
}

// NewOrchestrator wires the orchestrator with its collaborators.
func NewOrchestrator(transport Transport, store AttemptStore, offline OfflineStore, cfg Config, logger *zap.Logger) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Workers * 8
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	if cfg.RetryTick <= 0 {
		cfg.RetryTick = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		transport:   transport,
		store:       store,
		offline:     offline,
		logger:      logger,
		workers:     cfg.Workers,
		sendTimeout: cfg.SendTimeout,
		retryTick:   cfg.RetryTick,
		machines:    make(map[string]*Machine),
		online:      true,
		queue:       make(chan string, cfg.QueueSize),
	}
}

// SetObserver attaches a telemetry sink.
func (o *Orchestrator) SetObserver(obs Observer) { o.observer = obs }

// SetTerminalFunc attaches the terminal-state callback.
func (o *Orchestrator) SetTerminalFunc(fn TerminalFunc) { o.onTerminal = fn }

// Start launches workers and the retry scheduler. Safe to call once.
func (o *Orchestrator) Start(ctx context.Context) {
	o.runMu.Lock()
	defer o.runMu.Unlock()
	if o.runs {
		return
	}
	o.ctx, o.cancel = context.WithCancel(ctx)
	for i := 0; i < o.workers; i++ {
		o.wg.Add(1)
		go o.worker()
	}
	o.wg.Add(1)
	go o.scheduler()
	o.runs = true
	o.logger.Sugar().Infow("delivery orchestrator started", "workers", o.workers)
}

// Stop cancels workers and waits for them to drain.
func (o *Orchestrator) Stop() {
	o.runMu.Lock()
	if !o.runs {
		o.runMu.Unlock()
		return
	}
	o.cancel()
	o.runMu.Unlock()
	o.wg.Wait()
	o.logger.Sugar().Infow("delivery orchestrator stopped")
}

// Submit registers a new delivery and queues it for processing. When the
// process is offline the payload goes straight to the durable offline queue.
func (o *Orchestrator) Submit(ctx context.Context, msg models.NotificationMessage, attempt models.DeliveryAttempt, channels []models.Channel, caps Capabilities) error {
	m := NewMachine(msg, attempt, channels, caps)
	now := time.Now().UTC()

	o.mu.Lock()
	o.machines[attempt.ID] = m
	online := o.online
	o.mu.Unlock()

	if !online {
		item, ok := m.GoOffline(now)
		if !ok {
			return appErrors.Clone(appErrors.ErrInvalidTransition, "could not park delivery offline")
		}
		o.persist(ctx, m)
		o.observe(models.StateOfflineQueued)
		return o.offline.Enqueue(ctx, item)
	}

	if err := m.Queue(now); err != nil {
		return err
	}
	o.persist(ctx, m)
	o.observe(models.StateQueued)
	o.enqueue(attempt.ID)
	return nil
}

// Restore re-registers a stored pending delivery after a restart and queues
// it for its next attempt. Already-tracked deliveries are left alone.
func (o *Orchestrator) Restore(ctx context.Context, msg models.NotificationMessage, attempt models.DeliveryAttempt, channels []models.Channel, caps Capabilities) error {
	m := RestoredMachine(msg, attempt, channels, caps)
	o.mu.Lock()
	if _, exists := o.machines[attempt.ID]; exists {
		o.mu.Unlock()
		return nil
	}
	o.machines[attempt.ID] = m
	o.mu.Unlock()

	if err := m.Queue(time.Now().UTC()); err != nil {
		return err
	}
	o.persist(ctx, m)
	o.observe(models.StateQueued)
	o.enqueue(attempt.ID)
	return nil
}

// Status returns a snapshot of a delivery's attempt row.
func (o *Orchestrator) Status(deliveryID string) (models.DeliveryAttempt, error) {
	o.mu.Lock()
	m, ok := o.machines[deliveryID]
	o.mu.Unlock()
	if !ok {
		return models.DeliveryAttempt{}, appErrors.ErrDeliveryNotFound
	}
	return m.Snapshot(), nil
}

// Cancel aborts a delivery before its next transition. The machine lock makes
// this synchronous with respect to in-flight processing: once Cancel returns,
// no further send can happen for this delivery.
func (o *Orchestrator) Cancel(ctx context.Context, deliveryID string) error {
	o.mu.Lock()
	m, ok := o.machines[deliveryID]
	o.mu.Unlock()
	if !ok {
		return appErrors.ErrDeliveryNotFound
	}
	if err := m.Cancel(time.Now().UTC()); err != nil {
		return err
	}
	o.persist(ctx, m)
	o.observe(models.StateCancelled)
	o.reportTerminal(m)
	return nil
}

// Confirm records transport receipt confirmation: sent → delivered.
func (o *Orchestrator) Confirm(ctx context.Context, deliveryID string) error {
	o.mu.Lock()
	m, ok := o.machines[deliveryID]
	o.mu.Unlock()
	if !ok {
		return appErrors.ErrDeliveryNotFound
	}
	if err := m.Confirm(time.Now().UTC()); err != nil {
		return err
	}
	o.persist(ctx, m)
	o.observe(models.StateDelivered)
	o.reportTerminal(m)
	return nil
}

// Resend re-enters an exhausted delivery at queued with counters reset.
func (o *Orchestrator) Resend(ctx context.Context, deliveryID string) error {
	o.mu.Lock()
	m, ok := o.machines[deliveryID]
	o.mu.Unlock()
	if !ok {
		return appErrors.ErrDeliveryNotFound
	}
	if err := m.Resend(time.Now().UTC()); err != nil {
		return err
	}
	o.persist(ctx, m)
	o.observe(models.StateQueued)
	o.enqueue(deliveryID)
	return nil
}

// SetOnline flips the connectivity flag. Going offline parks every pre-send
// machine durably; coming back online replays the offline queue in creation
// order per student so guardians see messages chronologically.
func (o *Orchestrator) SetOnline(ctx context.Context, online bool) {
	o.mu.Lock()
	if o.online == online {
		o.mu.Unlock()
		return
	}
	o.online = online
	machines := make(map[string]*Machine, len(o.machines))
	for id, m := range o.machines {
		machines[id] = m
	}
	o.mu.Unlock()

	now := time.Now().UTC()
	if !online {
		for _, m := range machines {
			item, ok := m.GoOffline(now)
			if !ok {
				continue
			}
			if err := o.offline.Enqueue(ctx, item); err != nil {
				o.logger.Sugar().Errorw("failed to park delivery offline", "delivery_id", item.ID, "error", err)
			}
			o.persist(ctx, m)
			o.observe(models.StateOfflineQueued)
		}
		return
	}

	items, err := o.offline.ListPending(ctx)
	if err != nil {
		o.logger.Sugar().Errorw("failed to list offline queue", "error", err)
		return
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].StudentID != items[j].StudentID {
			return items[i].StudentID < items[j].StudentID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	for _, item := range items {
		m, ok := machines[item.ID]
		if !ok || !m.GoOnline(now) {
			continue
		}
		if err := o.offline.Dequeue(ctx, item.ID); err != nil {
			o.logger.Sugar().Warnw("failed to dequeue offline item", "delivery_id", item.ID, "error", err)
		}
		o.persist(ctx, m)
		o.observe(models.StateQueued)
		o.enqueue(item.ID)
	}
}

func (o *Orchestrator) worker() {
	defer o.wg.Done()
	for {
		select {
		case <-o.ctx.Done():
			return
		case id := <-o.queue:
			o.process(id)
		}
	}
}

// process drives one queued machine through a single channel attempt.
func (o *Orchestrator) process(deliveryID string) {
	o.mu.Lock()
	m, ok := o.machines[deliveryID]
	o.mu.Unlock()
	if !ok {
		return
	}

	now := time.Now().UTC()
	channel, err := m.StartProcessing(now)
	if err != nil {
		if m.State() == models.StateExhausted {
			o.persist(o.ctx, m)
			o.observe(models.StateExhausted)
			o.reportTerminal(m)
		}
		return
	}
	o.persist(o.ctx, m)
	o.observe(models.StateProcessing)

	snapshot := m.Snapshot()
	sendCtx, cancel := context.WithTimeout(o.ctx, o.sendTimeout)
	sendErr := o.transport.Send(sendCtx, channel, snapshot.GuardianID, o.body(m))
	cancel()

	now = time.Now().UTC()
	if sendErr == nil {
		if err := m.RecordSuccess(now); err != nil {
			// Cancelled mid-send; the cancel transition already won.
			o.logger.Sugar().Warnw("send succeeded after state change", "delivery_id", deliveryID, "error", err)
			return
		}
		o.persist(o.ctx, m)
		o.observe(models.StateSent)
		o.observeAttempt(channel, true)
		return
	}

	directive, err := m.RecordFailure(sendErr, now)
	if err != nil {
		o.logger.Sugar().Warnw("failure transition rejected", "delivery_id", deliveryID, "error", err)
		return
	}
	o.persist(o.ctx, m)
	o.observeAttempt(channel, false)

	switch directive {
	case DirectiveRetryLater:
		o.observe(models.StateAwaitingRetry)
		o.logger.Sugar().Infow("delivery retry scheduled",
			"delivery_id", deliveryID, "channel", channel, "next_retry_at", m.Snapshot().NextRetryAt)
	case DirectiveFallback:
		o.observe(models.StateQueued)
		o.logger.Sugar().Infow("delivery channel fallback", "delivery_id", deliveryID, "failed_channel", channel)
		o.enqueue(deliveryID)
	case DirectiveExhausted:
		o.observe(models.StateExhausted)
		o.logger.Sugar().Warnw("delivery exhausted", "delivery_id", deliveryID, "last_error", sendErr.Error())
		o.reportTerminal(m)
	}
}

// scheduler wakes awaiting_retry machines whose NextRetryAt has elapsed.
func (o *Orchestrator) scheduler() {
	defer o.wg.Done()
	ticker := time.NewTicker(o.retryTick)
	defer ticker.Stop()
	for {
		select {
		case <-o.ctx.Done():
			return
		case now := <-ticker.C:
			o.mu.Lock()
			var due []string
			for id, m := range o.machines {
				if m.RetryDue(now.UTC()) {
					due = append(due, id)
				}
			}
			o.mu.Unlock()
			for _, id := range due {
				o.persist(o.ctx, o.machine(id))
				o.observe(models.StateQueued)
				o.enqueue(id)
			}
		}
	}
}

func (o *Orchestrator) machine(id string) *Machine {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.machines[id]
}

func (o *Orchestrator) body(m *Machine) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.message.Body
}

func (o *Orchestrator) enqueue(deliveryID string) {
	o.runMu.Lock()
	ctx := o.ctx
	o.runMu.Unlock()
	if ctx == nil {
		// Not started yet; the buffered queue holds the id until workers spin up.
		select {
		case o.queue <- deliveryID:
		default:
		}
		return
	}
	select {
	case o.queue <- deliveryID:
	case <-ctx.Done():
	}
}

func (o *Orchestrator) persist(ctx context.Context, m *Machine) {
	if m == nil || o.store == nil {
		return
	}
	snapshot := m.Snapshot()
	if err := o.store.UpdateAttempt(ctx, &snapshot); err != nil {
		o.logger.Sugar().Errorw("failed to persist delivery attempt", "delivery_id", snapshot.ID, "error", err)
	}
}

func (o *Orchestrator) observe(state models.DeliveryState) {
	if o.observer != nil {
		o.observer.ObserveTransition(state)
	}
}

func (o *Orchestrator) observeAttempt(channel models.Channel, success bool) {
	if o.observer != nil {
		o.observer.ObserveAttempt(channel, success)
	}
}

func (o *Orchestrator) reportTerminal(m *Machine) {
	if o.onTerminal == nil {
		return
	}
	o.onTerminal(m.Snapshot())
}
