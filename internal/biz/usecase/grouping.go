package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/devricklin/notify-reply-bridge/internal/biz/domain"
	"github.com/devricklin/notify-reply-bridge/internal/biz/repo"
	"github.com/devricklin/notify-reply-bridge/internal/errors"
)

// DefaultGroupWindow is the smart-grouping time window
const DefaultGroupWindow = 24 * time.Hour

// GroupingUsecase builds the read-only projections of the notification stream
type GroupingUsecase struct {
	notificationRepo repo.NotificationRepo
	window           time.Duration
}

// NewGroupingUsecase creates a new grouping usecase
func NewGroupingUsecase(notificationRepo repo.NotificationRepo, window time.Duration) *GroupingUsecase {
	if window <= 0 {
		window = DefaultGroupWindow
	}
	return &GroupingUsecase{
		notificationRepo: notificationRepo,
		window:           window,
	}
}

// SmartGroups clusters notifications in [from, to) of one package (all when empty)
func (uc *GroupingUsecase) SmartGroups(ctx context.Context, packageName string, from, to time.Time) ([]domain.NotificationGroup, error) {
	notifications, err := uc.notificationRepo.ListInRange(ctx, packageName, from, to)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return GroupSmart(notifications, uc.window), nil
}

// AppGroups builds per-app headers for notifications in [from, to)
func (uc *GroupingUsecase) AppGroups(ctx context.Context, from, to time.Time) ([]domain.AppGroup, error) {
	notifications, err := uc.notificationRepo.ListInRange(ctx, "", from, to)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return GroupByApp(notifications), nil
}

// Notification gets one stored notification
func (uc *GroupingUsecase) Notification(ctx context.Context, id int64) (*domain.Notification, error) {
	n, err := uc.notificationRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get notification: %w", err)
	}
	if n == nil {
		return nil, errors.NewNotFound("notification", fmt.Sprint(id))
	}
	return n, nil
}

// Thread returns the exact-id detail view of a conversation
func (uc *GroupingUsecase) Thread(ctx context.Context, conversationID string) (*domain.ConversationThread, error) {
	if conversationID == "" {
		return nil, errors.NewInvalidRequest("conversation id is required")
	}
	notifications, err := uc.notificationRepo.ListByConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list conversation: %w", err)
	}
	if len(notifications) == 0 {
		return nil, errors.NewNotFound("conversation", conversationID)
	}
	return newThread(conversationID, notifications), nil
}

// RelatedInRange returns the conversation's notifications within [from, to)
func (uc *GroupingUsecase) RelatedInRange(ctx context.Context, conversationID string, from, to time.Time) (*domain.ConversationThread, error) {
	if conversationID == "" {
		return nil, errors.NewInvalidRequest("conversation id is required")
	}
	if !to.After(from) {
		return nil, errors.NewInvalidRequest("range end must be after range start")
	}
	notifications, err := uc.notificationRepo.ListByConversationInRange(ctx, conversationID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list conversation range: %w", err)
	}
	return newThread(conversationID, notifications), nil
}

func newThread(conversationID string, notifications []domain.Notification) *domain.ConversationThread {
	thread := &domain.ConversationThread{
		ConversationID: conversationID,
		Notifications:  notifications,
	}
	if latest := thread.Latest(); latest != nil {
		thread.PackageName = latest.PackageName
		thread.AppName = latest.AppName
	}
	return thread
}

// GroupSmart partitions notifications into equivalence classes. Two notifications
// are equivalent when they share a package, are less than window apart and have
// matching identifiers; classes are closed transitively with union-find.
// Groups are ordered by earliest timestamp descending, then package, then lowest id.
func GroupSmart(notifications []domain.Notification, window time.Duration) []domain.NotificationGroup {
	if len(notifications) == 0 {
		return nil
	}

	items := make([]domain.Notification, len(notifications))
	copy(items, notifications)
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].PackageName != items[j].PackageName {
			return items[i].PackageName < items[j].PackageName
		}
		if !items[i].Timestamp.Equal(items[j].Timestamp) {
			return items[i].Timestamp.Before(items[j].Timestamp)
		}
		return items[i].ID < items[j].ID
	})

	keys := make([]groupKey, len(items))
	for i := range items {
		keys[i] = newGroupKey(&items[i])
	}

	uf := newUnionFind(len(items))
	for i := range items {
		for j := i + 1; j < len(items); j++ {
			if items[j].PackageName != items[i].PackageName {
				break
			}
			if items[j].Timestamp.Sub(items[i].Timestamp) >= window {
				break
			}
			if keys[i].matches(keys[j]) {
				uf.union(i, j)
			}
		}
	}

	byRoot := make(map[int][]int)
	var roots []int
	for i := range items {
		r := uf.find(i)
		if _, ok := byRoot[r]; !ok {
			roots = append(roots, r)
		}
		byRoot[r] = append(byRoot[r], i)
	}

	groups := make([]domain.NotificationGroup, 0, len(roots))
	minIDs := make([]int64, 0, len(roots))
	for _, r := range roots {
		idx := byRoot[r]
		members := make([]domain.Notification, 0, len(idx))
		minID := items[idx[0]].ID
		for k := len(idx) - 1; k >= 0; k-- {
			n := items[idx[k]]
			members = append(members, n)
			if n.ID < minID {
				minID = n.ID
			}
		}
		earliest := items[idx[0]]
		latest := members[0]
		groups = append(groups, domain.NotificationGroup{
			PackageName:    earliest.PackageName,
			AppName:        latest.AppName,
			GroupTimestamp: earliest.Timestamp,
			Count:          len(members),
			Latest:         latest,
			Members:        members,
		})
		minIDs = append(minIDs, minID)
	}

	order := make([]int, len(groups))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ga, gb := groups[order[a]], groups[order[b]]
		if !ga.GroupTimestamp.Equal(gb.GroupTimestamp) {
			return ga.GroupTimestamp.After(gb.GroupTimestamp)
		}
		if ga.PackageName != gb.PackageName {
			return ga.PackageName < gb.PackageName
		}
		return minIDs[order[a]] < minIDs[order[b]]
	})

	sorted := make([]domain.NotificationGroup, len(groups))
	for i, k := range order {
		sorted[i] = groups[k]
	}
	return sorted
}

// GroupByApp builds app headers ordered by most recent activity
func GroupByApp(notifications []domain.Notification) []domain.AppGroup {
	index := make(map[string]int)
	var groups []domain.AppGroup
	latest := make(map[string]time.Time)

	items := make([]domain.Notification, len(notifications))
	copy(items, notifications)
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].Timestamp.Equal(items[j].Timestamp) {
			return items[i].Timestamp.After(items[j].Timestamp)
		}
		return items[i].ID > items[j].ID
	})

	for _, n := range items {
		i, ok := index[n.PackageName]
		if !ok {
			i = len(groups)
			index[n.PackageName] = i
			groups = append(groups, domain.AppGroup{PackageName: n.PackageName, AppName: n.AppName})
			latest[n.PackageName] = n.Timestamp
		}
		groups[i].Members = append(groups[i].Members, n)
		groups[i].Count++
	}

	sort.SliceStable(groups, func(a, b int) bool {
		ta, tb := latest[groups[a].PackageName], latest[groups[b].PackageName]
		if !ta.Equal(tb) {
			return ta.After(tb)
		}
		return groups[a].PackageName < groups[b].PackageName
	})
	return groups
}

// groupKey is the identifier used by the smart-grouping relation
type groupKey struct {
	phone  string // Set for WhatsApp titles carrying digits or '+'
	prefix string
}

func newGroupKey(n *domain.Notification) groupKey {
	k := groupKey{prefix: domain.TitlePrefix(n.Title, domain.TitlePrefixLen)}
	if n.IsWhatsApp() && strings.ContainsAny(n.Title, "0123456789+") {
		k.phone = domain.NormalizePhoneNumber(n.Title)
	}
	return k
}

// matches compares phone tails when both sides carry one, prefixes otherwise.
// Empty identifiers never match.
func (k groupKey) matches(o groupKey) bool {
	if k.phone != "" && o.phone != "" {
		return k.phone == o.phone
	}
	return k.prefix != "" && k.prefix == o.prefix
}

type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), rank: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	switch {
	case u.rank[ra] < u.rank[rb]:
		u.parent[ra] = rb
	case u.rank[ra] > u.rank[rb]:
		u.parent[rb] = ra
	default:
		u.parent[rb] = ra
		u.rank[ra]++
	}
}
