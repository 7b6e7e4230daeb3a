package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/devricklin/notify-reply-bridge/internal/biz"
	"github.com/devricklin/notify-reply-bridge/internal/biz/domain"
	"github.com/devricklin/notify-reply-bridge/internal/biz/repo"
	"github.com/devricklin/notify-reply-bridge/internal/errors"
)

// Outcome is what the pipeline did with a posted notification
type Outcome string

const (
	OutcomeReplied     Outcome = "replied"
	OutcomeEcho        Outcome = "echo"         // Our own reply, not stored
	OutcomeNoIdentity  Outcome = "no_identity"  // Stored, conversation unknown
	OutcomeDisabled    Outcome = "disabled"     // Policy said no
	OutcomeRateLimited Outcome = "rate_limited" // Ceiling reached
	OutcomeThrottled   Outcome = "throttled"
	OutcomeNoGenerator Outcome = "no_generator"
	OutcomeAnswered    Outcome = "answered" // History already holds a reply
	OutcomeFailed      Outcome = "failed"
)

// Result reports the processing of one notification
type Result struct {
	Outcome      Outcome
	Notification *domain.Notification // nil when not stored
	Keyword      *domain.KeywordAction
	Reply        string
	Err          error // Also set on a delivered reply whose bookkeeping failed
}

const defaultSourceID = "default"

// Config tunes the notification pipeline
type Config struct {
	MaxReplies      int // <= 0 means unlimited
	Throttle        time.Duration
	GenerateTimeout time.Duration
	SendTimeout     time.Duration
	QueueSize       int // Per-source queue
}

type job struct {
	event domain.PostedEvent
}

// NotificationService runs posted notifications through the reply pipeline.
// Each source gets a serial worker so one device's notifications are handled in order.
type NotificationService struct {
	notifications repo.NotificationRepo
	uc            *biz.Usecases
	sender        repo.Sender
	cfg           Config
	clock         domain.Clock
	logger        *zap.Logger

	throttleMu    sync.Mutex
	lastProcessed map[string]time.Time

	// closeMu keeps queues open while a send is in flight
	closeMu   sync.RWMutex
	workersMu sync.Mutex
	workers   map[string]chan job
	started   bool
	stopped   bool
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	subsMu  sync.Mutex
	subs    map[int]chan Result
	nextSub int
}

// NewNotificationService creates a new notification service
func NewNotificationService(
	notifications repo.NotificationRepo,
	uc *biz.Usecases,
	sender repo.Sender,
	cfg Config,
	clock domain.Clock,
	logger *zap.Logger,
) *NotificationService {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = 30 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	if clock == nil {
		clock = domain.RealClock{}
	}
	return &NotificationService{
		notifications: notifications,
		uc:            uc,
		sender:        sender,
		cfg:           cfg,
		clock:         clock,
		logger:        logger.Named("notification"),
		lastProcessed: make(map[string]time.Time),
		workers:       make(map[string]chan job),
		subs:          make(map[int]chan Result),
	}
}

// Start enables the workers. Cancelling ctx does not stop them: accepted
// notifications are only released by Stop, which drains every queue.
func (s *NotificationService) Start(ctx context.Context) {
	s.workersMu.Lock()
	defer s.workersMu.Unlock()
	if s.started {
		return
	}
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.started = true
	s.logger.Info("Notification service started")
}

// Stop closes the queues and waits for queued work to drain
func (s *NotificationService) Stop() {
	s.closeMu.Lock()
	s.workersMu.Lock()
	if !s.started || s.stopped {
		s.workersMu.Unlock()
		s.closeMu.Unlock()
		return
	}
	s.stopped = true
	for _, ch := range s.workers {
		close(ch)
	}
	s.workersMu.Unlock()
	s.closeMu.Unlock()

	s.wg.Wait()
	s.cancel()

	s.subsMu.Lock()
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.subsMu.Unlock()
	s.logger.Info("Notification service stopped")
}

// OnNotificationPosted queues an event on its source's worker
func (s *NotificationService) OnNotificationPosted(ctx context.Context, ev domain.PostedEvent) error {
	if strings.TrimSpace(ev.PackageName) == "" {
		return errors.NewInvalidRequest("package name is required")
	}

	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	ch, err := s.worker(ev.SourceID)
	if err != nil {
		return err
	}
	select {
	case ch <- job{event: ev}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// worker returns the queue of a source, starting its goroutine on first use
func (s *NotificationService) worker(sourceID string) (chan job, error) {
	if sourceID == "" {
		sourceID = defaultSourceID
	}

	s.workersMu.Lock()
	defer s.workersMu.Unlock()
	if !s.started || s.stopped {
		return nil, errors.NewUnavailable("notification service is not running")
	}
	if ch, ok := s.workers[sourceID]; ok {
		return ch, nil
	}

	ch := make(chan job, s.cfg.QueueSize)
	s.workers[sourceID] = ch
	s.wg.Add(1)
	go s.runWorker(sourceID, ch)
	return ch, nil
}

func (s *NotificationService) runWorker(sourceID string, ch chan job) {
	defer s.wg.Done()
	logger := s.logger.With(zap.String("source", sourceID))
	logger.Debug("Worker started")

	for j := range ch {
		s.publish(s.Process(s.ctx, j.event))
	}
	logger.Debug("Worker drained")
}

// Process runs one notification through the pipeline synchronously
func (s *NotificationService) Process(ctx context.Context, ev domain.PostedEvent) Result {
	// Persistence must not be torn by shutdown
	pctx := context.WithoutCancel(ctx)

	if ev.PostTime.IsZero() {
		ev.PostTime = s.clock.Now()
	}
	n := ev.ToNotification()
	logger := s.logger.With(
		zap.String("package", n.PackageName),
		zap.String("conversation", n.ConversationID),
	)

	if s.uc.Echo.IsLikelyOwnMessage(messageOf(n)) {
		logger.Debug("Dropping own echo")
		return Result{Outcome: OutcomeEcho}
	}

	if _, err := s.uc.Policy.EnsureApp(pctx, n.PackageName, n.AppName); err != nil {
		return s.fail(logger, nil, "ensure app", err)
	}

	id := n.Identifier()
	if !id.IsEmpty() {
		disabled, err := s.uc.Policy.IsConversationDisabled(pctx, n.PackageName, id.Value(), id.Type)
		if err != nil {
			return s.fail(logger, nil, "read rule", err)
		}
		n.AutoReplyDisabled = disabled
	}
	if _, err := s.notifications.Insert(pctx, n); err != nil {
		return s.fail(logger, nil, "store notification", err)
	}

	if n.ConversationID == "" {
		return Result{Outcome: OutcomeNoIdentity, Notification: n}
	}
	return s.respond(ctx, n, false, logger)
}

// Retry runs a stored notification through the reply steps again, typically
// after a failed generation or send. The throttle is not applied.
func (s *NotificationService) Retry(ctx context.Context, notificationID int64) (Result, error) {
	n, err := s.notifications.GetByID(ctx, notificationID)
	if err != nil {
		return Result{}, fmt.Errorf("get notification: %w", err)
	}
	if n == nil {
		return Result{}, errors.NewNotFound("notification", fmt.Sprint(notificationID))
	}
	if n.ConversationID == "" {
		return Result{Outcome: OutcomeNoIdentity, Notification: n}, nil
	}

	logger := s.logger.With(
		zap.Int64("notification", n.ID),
		zap.String("conversation", n.ConversationID),
	)
	res := s.respond(ctx, n, true, logger)
	s.publish(res)
	return res, nil
}

// respond decides and delivers the reply of a stored notification
func (s *NotificationService) respond(ctx context.Context, n *domain.Notification, retry bool, logger *zap.Logger) Result {
	pctx := context.WithoutCancel(ctx)

	answered, err := s.uc.Reply.AlreadyReplied(ctx, n.ID)
	if err != nil {
		return s.fail(logger, n, "read history", err)
	}
	if answered {
		return Result{Outcome: OutcomeAnswered, Notification: n}
	}

	action, err := s.uc.Keyword.FindMatchingAction(ctx, messageOf(n))
	if err != nil {
		return s.fail(logger, n, "match keyword", err)
	}

	allowed, err := s.uc.Policy.Allows(ctx, n)
	if err != nil {
		return s.fail(logger, n, "evaluate policy", err)
	}
	if !allowed {
		return Result{Outcome: OutcomeDisabled, Notification: n, Keyword: action}
	}

	reached, err := s.uc.RateLimit.HasReachedLimit(ctx, n.ConversationID, s.cfg.MaxReplies)
	if err != nil {
		return s.fail(logger, n, "check rate limit", err)
	}
	if reached {
		logger.Info("Reply limit reached", zap.Int("max_replies", s.cfg.MaxReplies))
		return Result{Outcome: OutcomeRateLimited, Notification: n, Keyword: action}
	}

	if !retry && s.throttled(n.ConversationID) {
		return Result{Outcome: OutcomeThrottled, Notification: n, Keyword: action}
	}

	var out domain.Outgoing
	if action != nil {
		out = action.Outgoing()
	} else {
		if !s.uc.Reply.CanGenerate() {
			return Result{Outcome: OutcomeNoGenerator, Notification: n}
		}
		gctx, cancel := context.WithTimeout(ctx, s.cfg.GenerateTimeout)
		text, err := s.uc.Reply.Compose(gctx, n)
		cancel()
		if err != nil {
			return s.fail(logger, n, "generate reply", err)
		}
		out = domain.Outgoing{Kind: domain.ActionText, Text: text}
	}

	id := n.Identifier()
	target := domain.ReplyTarget{
		PackageName:    n.PackageName,
		ConversationID: n.ConversationID,
		Identifier:     id,
		SourceID:       n.SourceID,
		ReplyKey:       n.ReplyKey,
	}
	sctx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	err = s.sender.Send(sctx, target, out)
	cancel()
	if err != nil {
		return s.fail(logger, n, "send reply", err)
	}

	// Only a delivered reply counts
	body := out.Body()
	res := Result{Outcome: OutcomeReplied, Notification: n, Keyword: action, Reply: body}
	s.uc.Echo.Record(body)
	if _, err := s.uc.RateLimit.Increment(pctx, n.ConversationID); err != nil {
		logger.Error("Failed to increment reply count", zap.Error(err))
		res.Err = fmt.Errorf("increment reply count: %w", err)
	}
	if err := s.uc.Reply.Record(pctx, n, body); err != nil {
		logger.Error("Failed to record history", zap.Error(err))
		if res.Err == nil {
			res.Err = fmt.Errorf("record history: %w", err)
		}
	}

	logger.Info("Replied", zap.String("kind", string(out.Kind)), zap.Bool("keyword", action != nil))
	return res
}

func (s *NotificationService) fail(logger *zap.Logger, n *domain.Notification, step string, err error) Result {
	logger.Error("Pipeline step failed", zap.String("step", step), zap.Error(err))
	return Result{Outcome: OutcomeFailed, Notification: n, Err: err}
}

// throttled reports whether the conversation was processed within the throttle
// window, and otherwise records now as its last processing time
func (s *NotificationService) throttled(conversationID string) bool {
	if s.cfg.Throttle <= 0 {
		return false
	}
	now := s.clock.Now()

	s.throttleMu.Lock()
	defer s.throttleMu.Unlock()
	if last, ok := s.lastProcessed[conversationID]; ok && now.Sub(last) < s.cfg.Throttle {
		return true
	}
	s.lastProcessed[conversationID] = now

	if len(s.lastProcessed) > 1024 {
		for id, t := range s.lastProcessed {
			if now.Sub(t) >= s.cfg.Throttle {
				delete(s.lastProcessed, id)
			}
		}
	}
	return false
}

// Subscribe streams pipeline results. Slow subscribers miss results.
func (s *NotificationService) Subscribe(buffer int) (<-chan Result, func()) {
	ch := make(chan Result, buffer)

	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subsMu.Unlock()

	return ch, func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		if c, ok := s.subs[id]; ok {
			close(c)
			delete(s.subs, id)
		}
	}
}

func (s *NotificationService) publish(res Result) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- res:
		default:
		}
	}
}

// messageOf is the text matched for echoes and keywords
func messageOf(n *domain.Notification) string {
	if strings.TrimSpace(n.Content) == "" {
		return n.Title
	}
	return n.Content
}
