package webhook

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"automation-engine/internal/circuitbreaker"
	"automation-engine/internal/common/clock"
	"automation-engine/internal/common/errors"
	"automation-engine/internal/common/logging"
	"automation-engine/internal/common/utils"
	"automation-engine/internal/ratelimit"
	"automation-engine/internal/signature"
	"automation-engine/internal/storage"

	enginehttp "automation-engine/internal/common/http"
)

// WorkerOptions configures a Worker. Zero values take the defaults noted.
type WorkerOptions struct {
	PollInterval     time.Duration // 2s
	Workers          int           // 8
	BatchSize        int           // 50
	ClaimLease       time.Duration // 2m
	AttemptTimeout   time.Duration // 10s
	MaxResponseBytes int           // 64 KiB
	Backoff          Backoff

	// Breakers is keyed by target host. Nil disables circuit breaking.
	Breakers *circuitbreaker.Manager
	// BreakerTimeout is how far an event is deferred while its host's
	// breaker is open.
	BreakerTimeout time.Duration
	// HostLimiter is keyed by target host. Nil disables outbound limiting.
	HostLimiter ratelimit.Limiter

	Signer *signature.Signer
	Client *enginehttp.Client
	Clock  clock.Clock
	Logger logging.Logger
}

// Worker claims due outgoing events and delivers them on a bounded pool.
type Worker struct {
	store storage.WebhookStore
	opts  WorkerOptions

	slots  chan struct{}
	wg     sync.WaitGroup
	logger logging.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewWorker(store storage.WebhookStore, opts WorkerOptions) *Worker {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.ClaimLease <= 0 {
		opts.ClaimLease = 2 * time.Minute
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = 10 * time.Second
	}
	if opts.MaxResponseBytes <= 0 {
		opts.MaxResponseBytes = 64 * 1024
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = time.Minute
	}
	if opts.Backoff.Jitter == nil && opts.Backoff.JitterFactor > 0 {
		opts.Backoff.Jitter = utils.CryptoJitter
	}
	if opts.Client == nil {
		opts.Client = enginehttp.NewClient(enginehttp.WithTimeout(opts.AttemptTimeout))
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = logging.GetGlobalLogger()
	}
	return &Worker{
		store:  store,
		opts:   opts,
		slots:  make(chan struct{}, opts.Workers),
		logger: opts.Logger.WithFields(logging.String("component", "webhook_worker")),
	}
}

// Start runs the poll loop until Stop or ctx cancellation.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return errors.ConflictError("webhook worker already started")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})

	go w.loop(loopCtx, w.done)

	w.logger.Info("Webhook worker started",
		logging.Duration("poll_interval", w.opts.PollInterval),
		logging.Int("workers", w.opts.Workers))
	return nil
}

// Stop ends the poll loop and waits for in-flight deliveries.
func (w *Worker) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	w.wg.Wait()
	w.logger.Info("Webhook worker stopped")
}

func (w *Worker) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	w.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Poll(ctx)
		}
	}
}

// Poll claims as many due events as there are free workers and starts
// delivering them. It returns the number of deliveries started.
func (w *Worker) Poll(ctx context.Context) int {
	free := cap(w.slots) - len(w.slots)
	if free <= 0 {
		return 0
	}
	limit := w.opts.BatchSize
	if free < limit {
		limit = free
	}

	now := w.opts.Clock.Now()
	due, err := w.store.ListDueWebhooks(ctx, now, limit)
	if err != nil {
		w.logger.Error("Failed to list due webhooks", err)
		return 0
	}

	started := 0
	for _, e := range due {
		select {
		case w.slots <- struct{}{}:
		default:
			return started
		}

		claimed, err := w.store.ClaimWebhook(ctx, e.ID, now, now.Add(w.opts.ClaimLease))
		if err != nil || !claimed {
			<-w.slots
			if err != nil {
				w.logger.Error("Failed to claim webhook", err, logging.String("webhook_id", e.ID))
			}
			continue
		}

		started++
		w.wg.Add(1)
		go func(id string) {
			defer w.wg.Done()
			defer func() { <-w.slots }()
			defer func() {
				if r := recover(); r != nil {
					w.logger.Error("Webhook delivery panicked", fmt.Errorf("%v", r), logging.String("webhook_id", id))
				}
			}()
			w.deliver(ctx, id)
		}(e.ID)
	}
	return started
}

// Wait blocks until every delivery started so far has finished.
func (w *Worker) Wait() {
	w.wg.Wait()
}

type classification int

const (
	classDelivered classification = iota
	classPermanent
	classTransient
)

func (w *Worker) deliver(ctx context.Context, id string) {
	// The claim is ours; finish the bookkeeping even during shutdown.
	storeCtx := context.WithoutCancel(ctx)
	logger := w.logger.WithFields(logging.String("webhook_id", id))

	e, err := w.store.GetWebhookEvent(storeCtx, id)
	if err != nil {
		logger.Error("Failed to load claimed webhook", err)
		return
	}
	host := hostOf(e.TargetURL)
	logger = logger.WithFields(logging.String("host", host))
	now := w.opts.Clock.Now()

	if w.opts.HostLimiter != nil {
		decision, err := w.opts.HostLimiter.Allow(ctx, host)
		if err != nil {
			logger.Warn("Host rate limiter unavailable, delivering anyway", logging.Err(err))
		} else if !decision.Allowed {
			wait := decision.RetryAfter
			if wait <= 0 {
				wait = time.Second
			}
			w.deferEvent(storeCtx, logger, e, now.Add(wait), "rate limited for host "+host)
			return
		}
	}

	var report func(success bool)
	if w.opts.Breakers != nil {
		report, err = w.opts.Breakers.Get(host).Allow()
		if err != nil {
			w.deferEvent(storeCtx, logger, e, now.Add(w.opts.BreakerTimeout), "circuit open for host "+host)
			return
		}
	}

	attempt := e.AttemptCount + 1
	headers := make(map[string]string, len(e.Headers)+5)
	for k, v := range e.Headers {
		headers[k] = v
	}
	for k, v := range w.opts.Signer.Headers(e.Payload, now) {
		headers[k] = v
	}
	headers["X-Webhook-ID"] = e.ID
	headers["X-Webhook-Attempt"] = strconv.Itoa(attempt)
	if e.EventType != "" {
		headers["X-Webhook-Event"] = e.EventType
	}

	attemptCtx, cancel := context.WithTimeout(ctx, w.opts.AttemptTimeout)
	started := time.Now()
	resp, callErr := w.opts.Client.PostJSON(attemptCtx, e.TargetURL, e.Payload, headers, w.opts.MaxResponseBytes)
	cancel()
	elapsed := time.Since(started)

	class, message := classify(resp, callErr)
	if report != nil {
		// Only transport failures and 5xx say the host is unhealthy.
		report(!(callErr != nil || (resp != nil && resp.StatusCode >= 500)))
	}

	finished := w.opts.Clock.Now()
	a := storage.WebhookAttempt{
		ID:             utils.GenerateID(),
		WebhookEventID: e.ID,
		AttemptNumber:  attempt,
		Status:         storage.AttemptFailed,
		ErrorMessage:   message,
		DurationMs:     elapsed.Milliseconds(),
		AttemptedAt:    finished,
	}
	outcome := storage.AttemptOutcome{LastError: message}
	if resp != nil {
		status := resp.StatusCode
		a.ResponseStatus = &status
		a.ResponseBody = string(resp.Body)
		outcome.ResponseBody = a.ResponseBody
	}

	switch {
	case class == classDelivered:
		a.Status = storage.AttemptSucceeded
		outcome.NextStatus = storage.WebhookDelivered
		outcome.DeliveredAt = &finished
		outcome.LastError = ""
	case class == classPermanent:
		outcome.NextStatus = storage.WebhookFailed
		outcome.LastError = errors.PermanentError(message, nil).Error()
	case attempt >= e.MaxAttempts:
		outcome.NextStatus = storage.WebhookFailed
		outcome.LastError = errors.ExhaustedError(attempt, stderrors.New(message)).Error()
	default:
		next := finished.Add(w.opts.Backoff.Delay(e.BackoffSeconds, attempt))
		outcome.NextStatus = storage.WebhookPending
		outcome.NextAttemptAt = &next
	}
	outcome.Attempt = a

	if err := w.store.RecordWebhookAttempt(storeCtx, outcome); err != nil {
		if stderrors.Is(err, storage.ErrAttemptOutOfOrder) {
			logger.Warn("Webhook attempt discarded, claim was taken over", logging.Int("attempt", attempt))
			return
		}
		logger.Error("Failed to record webhook attempt", err, logging.Int("attempt", attempt))
		return
	}

	fields := []logging.Field{
		logging.Int("attempt", attempt),
		logging.String("status", string(outcome.NextStatus)),
		logging.Duration("duration", elapsed),
	}
	if a.ResponseStatus != nil {
		fields = append(fields, logging.Int("response_status", *a.ResponseStatus))
	}
	switch outcome.NextStatus {
	case storage.WebhookDelivered:
		logger.Info("Webhook delivered", fields...)
	case storage.WebhookFailed:
		logger.Warn("Webhook failed", append(fields, logging.String("error", outcome.LastError))...)
	default:
		logger.Info("Webhook attempt failed, retry scheduled",
			append(fields, logging.Time("next_attempt_at", *outcome.NextAttemptAt), logging.String("error", message))...)
	}
}

func (w *Worker) deferEvent(ctx context.Context, logger logging.Logger, e *storage.WebhookEvent, until time.Time, reason string) {
	if err := w.store.DeferWebhook(ctx, e.ID, until, reason, w.opts.Clock.Now()); err != nil {
		logger.Error("Failed to defer webhook", err)
		return
	}
	logger.Debug("Webhook deferred", logging.String("reason", reason), logging.Time("until", until))
}

// classify maps a response onto delivered, permanent or transient. 2xx is
// delivered, 4xx other than 429 is permanent, everything else transient.
func classify(resp *enginehttp.Response, err error) (classification, string) {
	if err != nil {
		return classTransient, err.Error()
	}
	switch {
	case resp.IsSuccess():
		return classDelivered, ""
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != 429:
		return classPermanent, fmt.Sprintf("HTTP %d", resp.StatusCode)
	default:
		return classTransient, fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return u.Host
}
