package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/devricklin/notify-reply-bridge/internal/biz/domain"
	"github.com/devricklin/notify-reply-bridge/internal/biz/repo"
	"github.com/devricklin/notify-reply-bridge/internal/errors"
)

// RateLimitUsecase enforces the per-conversation reply ceiling
type RateLimitUsecase struct {
	countRepo repo.ReplyCountRepo
	clock     domain.Clock
	locks     *keyedMutex
}

// NewRateLimitUsecase creates a new rate limit usecase
func NewRateLimitUsecase(countRepo repo.ReplyCountRepo, clock domain.Clock) *RateLimitUsecase {
	if clock == nil {
		clock = domain.RealClock{}
	}
	return &RateLimitUsecase{
		countRepo: countRepo,
		clock:     clock,
		locks:     newKeyedMutex(),
	}
}

// HasReachedLimit reports whether the conversation already got maxReplies replies.
// A missing counter is zero; maxReplies <= 0 disables the limit.
func (uc *RateLimitUsecase) HasReachedLimit(ctx context.Context, conversationID string, maxReplies int) (bool, error) {
	count, err := uc.countRepo.Get(ctx, conversationID)
	if err != nil {
		return false, fmt.Errorf("get reply count: %w", err)
	}
	return count.HasReached(maxReplies), nil
}

// Increment adds one reply to the conversation counter.
// Callers for the same conversation are serialized; different conversations run in parallel.
func (uc *RateLimitUsecase) Increment(ctx context.Context, conversationID string) (*domain.ConversationReplyCount, error) {
	if conversationID == "" {
		return nil, errors.NewInvalidRequest("conversation id is required")
	}
	unlock := uc.locks.Lock(conversationID)
	defer unlock()

	count, err := uc.countRepo.Increment(ctx, conversationID, uc.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("increment reply count: %w", err)
	}
	return count, nil
}

// Get returns the counter of a conversation, a zero counter when absent
func (uc *RateLimitUsecase) Get(ctx context.Context, conversationID string) (*domain.ConversationReplyCount, error) {
	count, err := uc.countRepo.Get(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("get reply count: %w", err)
	}
	if count == nil {
		return &domain.ConversationReplyCount{ConversationID: conversationID}, nil
	}
	return count, nil
}

// Reset clears the counter of a conversation
func (uc *RateLimitUsecase) Reset(ctx context.Context, conversationID string) error {
	unlock := uc.locks.Lock(conversationID)
	defer unlock()

	if err := uc.countRepo.Reset(ctx, conversationID); err != nil {
		return fmt.Errorf("reset reply count: %w", err)
	}
	return nil
}

// List lists every counter
func (uc *RateLimitUsecase) List(ctx context.Context) ([]domain.ConversationReplyCount, error) {
	return uc.countRepo.List(ctx)
}

// NearLimit lists conversations within margin replies of maxReplies
func (uc *RateLimitUsecase) NearLimit(ctx context.Context, maxReplies, margin int) ([]domain.ConversationReplyCount, error) {
	if maxReplies <= 0 {
		return nil, nil
	}
	threshold := maxReplies - margin
	if threshold < 1 {
		threshold = 1
	}
	return uc.countRepo.ListAtLeast(ctx, threshold)
}

// Cleanup removes counters whose last reply is older than maxAge
func (uc *RateLimitUsecase) Cleanup(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := uc.clock.Now().Add(-maxAge)
	n, err := uc.countRepo.DeleteLastReplyBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup reply counts: %w", err)
	}
	return n, nil
}

// keyedMutex hands out one mutex per key and forgets it once unused
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock locks key and returns its unlock function
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
