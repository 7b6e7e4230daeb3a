package service

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devricklin/notify-reply-bridge/internal/biz"
	"github.com/devricklin/notify-reply-bridge/internal/biz/domain"
	"github.com/devricklin/notify-reply-bridge/internal/biz/repo"
	"github.com/devricklin/notify-reply-bridge/internal/biz/usecase"
	"github.com/devricklin/notify-reply-bridge/internal/data"
	"github.com/devricklin/notify-reply-bridge/internal/errors"
	"github.com/devricklin/notify-reply-bridge/internal/testutil"
)

// Mock implementations

type mockSender struct {
	mu      sync.Mutex
	sent    []domain.Outgoing
	targets []domain.ReplyTarget
	err     error
	gate    chan struct{} // Send blocks until closed when set
}

func (m *mockSender) Send(ctx context.Context, target domain.ReplyTarget, msg domain.Outgoing) error {
	if m.gate != nil {
		<-m.gate
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	m.targets = append(m.targets, target)
	return nil
}

func (m *mockSender) Sent() []domain.Outgoing {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Outgoing(nil), m.sent...)
}

type mockGenerator struct {
	mu    sync.Mutex
	reply string
	err   error
	calls int
}

func (m *mockGenerator) Generate(ctx context.Context, req repo.GenerateRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.reply, m.err
}

func (m *mockGenerator) Complete(ctx context.Context, prompt string) (string, error) {
	return m.reply, m.err
}

func (m *mockGenerator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type failingCountRepo struct {
	repo.ReplyCountRepo
}

func (r *failingCountRepo) Increment(ctx context.Context, conversationID string, now time.Time) (*domain.ConversationReplyCount, error) {
	return nil, fmt.Errorf("disk I/O error")
}

// Test fixture

type fixture struct {
	repos  *data.Repositories
	uc     *biz.Usecases
	clock  *testutil.StubClock
	sender *mockSender
	gen    *mockGenerator
}

func newFixture(t *testing.T, withGenerator bool) *fixture {
	t.Helper()
	db, err := data.OpenDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repos := data.NewRepositories(db)
	clock := testutil.FixedClock()
	gen := &mockGenerator{reply: "Thanks, I will get back to you shortly"}

	var generator repo.ReplyGenerator
	if withGenerator {
		generator = gen
	}

	uc := &biz.Usecases{
		Policy:    usecase.NewPolicyUsecase(repos.Rule, repos.AppSetting, repos.Setting, repos.Notification, nil, clock),
		RateLimit: usecase.NewRateLimitUsecase(repos.ReplyCount, clock),
		Keyword:   usecase.NewKeywordUsecase(repos.Keyword, clock),
		Grouping:  usecase.NewGroupingUsecase(repos.Notification, 0),
		Reply:     usecase.NewReplyUsecase(repos.History, generator, usecase.ReplyConfig{Prompt: domain.DefaultPromptTemplate}, clock),
		Echo:      usecase.NewSelfEchoGuard(clock),
	}
	return &fixture{repos: repos, uc: uc, clock: clock, sender: &mockSender{}, gen: gen}
}

func (f *fixture) service(cfg Config) *NotificationService {
	return NewNotificationService(f.repos.Notification, f.uc, f.sender, cfg, f.clock, zap.NewNop())
}

func whatsApp(title, content string) domain.PostedEvent {
	return domain.PostedEvent{
		PackageName: "com.whatsapp",
		AppName:     "WhatsApp",
		Title:       title,
		Content:     content,
		SourceID:    "phone-1",
	}
}

// Tests

func TestProcess_GeneratedReply(t *testing.T) {
	f := newFixture(t, true)
	svc := f.service(Config{MaxReplies: 10, Throttle: 500 * time.Millisecond})
	ctx := context.Background()

	res := svc.Process(ctx, whatsApp("+1 555 123 4567", "are you around?"))
	require.NoError(t, res.Err)
	require.Equal(t, OutcomeReplied, res.Outcome)
	require.Equal(t, f.gen.reply, res.Reply)
	require.NotNil(t, res.Notification)
	require.NotZero(t, res.Notification.ID)

	sent := f.sender.Sent()
	require.Len(t, sent, 1)
	require.Equal(t, domain.ActionText, sent[0].Kind)
	require.Equal(t, domain.IdentifierPhoneNumber, f.sender.targets[0].Identifier.Type)
	require.Equal(t, "phone-1", f.sender.targets[0].SourceID)

	count, err := f.uc.RateLimit.Get(ctx, res.Notification.ConversationID)
	require.NoError(t, err)
	require.Equal(t, 1, count.ReplyCount)

	history, err := f.uc.Reply.History(ctx, res.Notification.ConversationID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, "are you around?", history[0].Message)
}

func TestProcess_FailuresDoNotCount(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(f *fixture)
		genRun int
	}{
		{
			name:   "generator error",
			setup:  func(f *fixture) { f.gen.err = fmt.Errorf("upstream down") },
			genRun: 1,
		},
		{
			name:   "sender error",
			setup:  func(f *fixture) { f.sender.err = fmt.Errorf("network unreachable") },
			genRun: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, true)
			tt.setup(f)
			svc := f.service(Config{MaxReplies: 10})
			ctx := context.Background()

			res := svc.Process(ctx, whatsApp("Alice", "hello"))
			require.Equal(t, OutcomeFailed, res.Outcome)
			require.Error(t, res.Err)
			require.NotNil(t, res.Notification, "notification is stored before the reply attempt")
			require.Equal(t, tt.genRun, f.gen.Calls())

			count, err := f.uc.RateLimit.Get(ctx, res.Notification.ConversationID)
			require.NoError(t, err)
			require.Equal(t, 0, count.ReplyCount)

			history, err := f.uc.Reply.History(ctx, res.Notification.ConversationID)
			require.NoError(t, err)
			require.Empty(t, history)
			require.Equal(t, 0, f.uc.Echo.Len())
		})
	}
}

func TestProcess_EchoIsDropped(t *testing.T) {
	f := newFixture(t, true)
	svc := f.service(Config{MaxReplies: 10})
	ctx := context.Background()

	first := svc.Process(ctx, whatsApp("Alice", "hello"))
	require.Equal(t, OutcomeReplied, first.Outcome)

	f.clock.Advance(time.Second)
	echo := svc.Process(ctx, whatsApp("Alice", first.Reply))
	require.Equal(t, OutcomeEcho, echo.Outcome)
	require.Nil(t, echo.Notification)

	stored, err := f.repos.Notification.ListByConversation(ctx, first.Notification.ConversationID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
}

func TestProcess_KeywordSkipsGenerator(t *testing.T) {
	f := newFixture(t, false)
	svc := f.service(Config{MaxReplies: 10})
	ctx := context.Background()

	_, err := f.uc.Keyword.Create(ctx, "price", domain.ActionText, "See the attached price list", true)
	require.NoError(t, err)
	_, err = f.uc.Keyword.Create(ctx, "catalog", domain.ActionImage, "/srv/media/catalog.png", true)
	require.NoError(t, err)

	res := svc.Process(ctx, whatsApp("Bob", "what is the price?"))
	require.Equal(t, OutcomeReplied, res.Outcome)
	require.NotNil(t, res.Keyword)
	require.Equal(t, "See the attached price list", res.Reply)

	f.clock.Advance(time.Second)
	res = svc.Process(ctx, whatsApp("Carol", "send the catalog please"))
	require.Equal(t, OutcomeReplied, res.Outcome)

	sent := f.sender.Sent()
	require.Len(t, sent, 2)
	require.Equal(t, domain.ActionImage, sent[1].Kind)
	require.Equal(t, "/srv/media/catalog.png", sent[1].MediaPath)
	require.Equal(t, 0, f.gen.Calls())
}

func TestProcess_SkipOutcomes(t *testing.T) {
	tests := []struct {
		name          string
		withGenerator bool
		setup         func(t *testing.T, f *fixture)
		event         domain.PostedEvent
		want          Outcome
	}{
		{
			name:          "blank title has no conversation",
			withGenerator: true,
			event:         whatsApp("  ", "hello"),
			want:          OutcomeNoIdentity,
		},
		{
			name:          "unknown app is disabled by default",
			withGenerator: true,
			event:         domain.PostedEvent{PackageName: "com.example.chat", Title: "Dan", Content: "hey"},
			want:          OutcomeDisabled,
		},
		{
			name:          "global switch off",
			withGenerator: true,
			setup: func(t *testing.T, f *fixture) {
				require.NoError(t, f.uc.Policy.SetGlobalEnabled(context.Background(), false))
			},
			event: whatsApp("Alice", "hello"),
			want:  OutcomeDisabled,
		},
		{
			name:          "conversation rule disabled",
			withGenerator: true,
			setup: func(t *testing.T, f *fixture) {
				id := domain.ExtractIdentifier("com.whatsapp", "Alice", "")
				disabled, err := f.uc.Policy.ToggleConversation(context.Background(), "com.whatsapp", id.Value(), id.Type)
				require.NoError(t, err)
				require.True(t, disabled)
			},
			event: whatsApp("Alice", "hello"),
			want:  OutcomeDisabled,
		},
		{
			name:          "no generator",
			withGenerator: false,
			event:         whatsApp("Alice", "hello"),
			want:          OutcomeNoGenerator,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.withGenerator)
			if tt.setup != nil {
				tt.setup(t, f)
			}
			svc := f.service(Config{MaxReplies: 10})

			res := svc.Process(context.Background(), tt.event)
			require.NoError(t, res.Err)
			require.Equal(t, tt.want, res.Outcome)
			require.NotNil(t, res.Notification)
			require.Empty(t, f.sender.Sent())
		})
	}
}

func TestProcess_DisabledFlagStored(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	id := domain.ExtractIdentifier("com.whatsapp", "Alice", "")
	_, err := f.uc.Policy.ToggleConversation(ctx, "com.whatsapp", id.Value(), id.Type)
	require.NoError(t, err)

	res := f.service(Config{}).Process(ctx, whatsApp("Alice", "hello"))
	require.Equal(t, OutcomeDisabled, res.Outcome)

	stored, err := f.repos.Notification.GetByID(ctx, res.Notification.ID)
	require.NoError(t, err)
	require.True(t, stored.AutoReplyDisabled)
}

func TestProcess_RateLimit(t *testing.T) {
	f := newFixture(t, true)
	svc := f.service(Config{MaxReplies: 2})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res := svc.Process(ctx, whatsApp("Alice", fmt.Sprintf("message %d", i)))
		require.Equal(t, OutcomeReplied, res.Outcome)
		f.clock.Advance(time.Second)
	}

	res := svc.Process(ctx, whatsApp("Alice", "message 3"))
	require.Equal(t, OutcomeRateLimited, res.Outcome)
	require.Len(t, f.sender.Sent(), 2)

	// Another conversation is unaffected
	res = svc.Process(ctx, whatsApp("Bob", "hi"))
	require.Equal(t, OutcomeReplied, res.Outcome)
}

func TestProcess_UnlimitedReplies(t *testing.T) {
	f := newFixture(t, true)
	svc := f.service(Config{MaxReplies: 0})
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		res := svc.Process(ctx, whatsApp("Alice", fmt.Sprintf("message %d", i)))
		require.Equal(t, OutcomeReplied, res.Outcome)
		f.clock.Advance(time.Second)
	}
}

func TestProcess_Throttle(t *testing.T) {
	f := newFixture(t, true)
	svc := f.service(Config{MaxReplies: 10, Throttle: 500 * time.Millisecond})
	ctx := context.Background()

	require.Equal(t, OutcomeReplied, svc.Process(ctx, whatsApp("Alice", "one")).Outcome)

	f.clock.Advance(200 * time.Millisecond)
	require.Equal(t, OutcomeThrottled, svc.Process(ctx, whatsApp("Alice", "two")).Outcome)

	f.clock.Advance(400 * time.Millisecond)
	require.Equal(t, OutcomeReplied, svc.Process(ctx, whatsApp("Alice", "three")).Outcome)
}

func TestOnNotificationPosted_Validation(t *testing.T) {
	f := newFixture(t, true)
	svc := f.service(Config{})
	ctx := context.Background()

	err := svc.OnNotificationPosted(ctx, whatsApp("Alice", "hello"))
	require.Error(t, err, "not started")

	svc.Start(ctx)
	defer svc.Stop()

	err = svc.OnNotificationPosted(ctx, domain.PostedEvent{Title: "Alice"})
	require.Error(t, err, "missing package")
}

func TestOnNotificationPosted_PreservesOrderPerSource(t *testing.T) {
	f := newFixture(t, true)
	svc := f.service(Config{MaxReplies: 10, Throttle: time.Hour})
	ctx := context.Background()
	svc.Start(ctx)

	results, cancel := svc.Subscribe(16)
	defer cancel()

	titles := []string{"Alice", "Bob", "Carol", "Dan", "Erin"}
	for _, title := range titles {
		require.NoError(t, svc.OnNotificationPosted(ctx, whatsApp(title, "hello "+title)))
	}
	svc.Stop()

	var got []string
	for res := range results {
		require.Equal(t, OutcomeReplied, res.Outcome)
		got = append(got, res.Notification.Title)
	}
	require.Equal(t, titles, got)

	err := svc.OnNotificationPosted(ctx, whatsApp("Alice", "late"))
	require.Error(t, err, "stopped service rejects events")
}

func TestStop_DrainsAfterParentCancelled(t *testing.T) {
	f := newFixture(t, true)
	f.sender.gate = make(chan struct{})
	svc := f.service(Config{MaxReplies: 10})

	parent, cancelParent := context.WithCancel(context.Background())
	svc.Start(parent)

	titles := []string{"Alice", "Bob", "Carol", "Dan", "Erin"}
	for _, title := range titles {
		require.NoError(t, svc.OnNotificationPosted(context.Background(), whatsApp(title, "hello "+title)))
	}

	// The signal arrives while the first send is in flight and the rest are queued
	cancelParent()
	close(f.sender.gate)
	svc.Stop()

	ctx := context.Background()
	now := f.clock.Now()
	stored, err := f.repos.Notification.ListInRange(ctx, "", now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, stored, len(titles), "every accepted notification is stored")
	require.Len(t, f.sender.Sent(), len(titles), "every accepted notification is answered")
}

func TestRetry(t *testing.T) {
	f := newFixture(t, true)
	svc := f.service(Config{MaxReplies: 10, Throttle: time.Hour})
	ctx := context.Background()

	f.gen.err = fmt.Errorf("upstream down")
	first := svc.Process(ctx, whatsApp("Alice", "hello"))
	require.Equal(t, OutcomeFailed, first.Outcome)
	id := first.Notification.ID

	f.gen.err = nil
	res, err := svc.Retry(ctx, id)
	require.NoError(t, err)
	require.Equal(t, OutcomeReplied, res.Outcome, "retry is not throttled")
	require.Equal(t, id, res.Notification.ID)
	require.Len(t, f.sender.Sent(), 1)

	res, err = svc.Retry(ctx, id)
	require.NoError(t, err)
	require.Equal(t, OutcomeAnswered, res.Outcome)
	require.Equal(t, 2, f.gen.Calls(), "an answered notification is not generated again")
	require.Len(t, f.sender.Sent(), 1)

	count, err := f.uc.RateLimit.Get(ctx, first.Notification.ConversationID)
	require.NoError(t, err)
	require.Equal(t, 1, count.ReplyCount)

	_, err = svc.Retry(ctx, 9999)
	require.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestProcess_BookkeepingFailureIsReported(t *testing.T) {
	f := newFixture(t, true)
	f.uc.RateLimit = usecase.NewRateLimitUsecase(&failingCountRepo{ReplyCountRepo: f.repos.ReplyCount}, f.clock)
	svc := f.service(Config{MaxReplies: 10})
	ctx := context.Background()

	res := svc.Process(ctx, whatsApp("Alice", "hello"))
	require.Equal(t, OutcomeReplied, res.Outcome, "the reply was delivered")
	require.Error(t, res.Err)
	require.Contains(t, res.Err.Error(), "increment reply count")
	require.Len(t, f.sender.Sent(), 1)

	history, err := f.uc.Reply.History(ctx, res.Notification.ConversationID)
	require.NoError(t, err)
	require.Len(t, history, 1, "history is still recorded")
}
