package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/devricklin/notify-reply-bridge/internal/biz/domain"
	"github.com/devricklin/notify-reply-bridge/internal/errors"
)

var groupBase = time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)

func notif(id int64, pkg, title string, offset time.Duration) domain.Notification {
	return domain.Notification{
		ID:             id,
		PackageName:    pkg,
		AppName:        pkg,
		Title:          title,
		Content:        "hello",
		Timestamp:      groupBase.Add(offset),
		ConversationID: domain.ResolveConversationID(pkg, title),
	}
}

func memberIDs(g domain.NotificationGroup) []int64 {
	ids := make([]int64, 0, len(g.Members))
	for _, m := range g.Members {
		ids = append(ids, m.ID)
	}
	return ids
}

func TestGroupSmart(t *testing.T) {
	tests := []struct {
		name   string
		input  []domain.Notification
		groups [][]int64 // Member ids per group, in output order
	}{
		{
			name: "one hour apart",
			input: []domain.Notification{
				notif(1, "com.telegram", "Alice Smith", 0),
				notif(2, "com.telegram", "Alice Smith", time.Hour),
			},
			groups: [][]int64{{2, 1}},
		},
		{
			name: "25 hours apart",
			input: []domain.Notification{
				notif(1, "com.telegram", "Alice Smith", 0),
				notif(2, "com.telegram", "Alice Smith", 25*time.Hour),
			},
			groups: [][]int64{{2}, {1}},
		},
		{
			name: "bridged by a middle member",
			input: []domain.Notification{
				notif(1, "com.telegram", "Alice Smith", 0),
				notif(2, "com.telegram", "Alice Smith", 20*time.Hour),
				notif(3, "com.telegram", "Alice Smith", 40*time.Hour),
			},
			groups: [][]int64{{3, 2, 1}},
		},
		{
			name: "different packages",
			input: []domain.Notification{
				notif(1, "com.telegram", "Alice Smith", 0),
				notif(2, "com.signal", "Alice Smith", 0),
			},
			groups: [][]int64{{2}, {1}},
		},
		{
			name: "prefix match only on first ten runes",
			input: []domain.Notification{
				notif(1, "com.telegram", "Project Team A", 0),
				notif(2, "com.telegram", "Project Team B", time.Minute),
				notif(3, "com.telegram", "Project X", 2*time.Minute),
			},
			groups: [][]int64{{3}, {2, 1}},
		},
		{
			name: "whatsapp phone tail",
			input: []domain.Notification{
				notif(1, "com.whatsapp", "+44 7700 900123", 0),
				notif(2, "com.whatsapp", "(0044) 7700-900123", time.Hour),
				notif(3, "com.whatsapp", "+44 7700 900999", 2*time.Hour),
			},
			groups: [][]int64{{3}, {2, 1}},
		},
		{
			name: "empty titles stay alone",
			input: []domain.Notification{
				notif(1, "com.telegram", "", 0),
				notif(2, "com.telegram", "  ", time.Minute),
			},
			groups: [][]int64{{2}, {1}},
		},
		{
			name: "same timestamp orders by package then id",
			input: []domain.Notification{
				notif(5, "com.zeta", "Bob", 0),
				notif(4, "com.alpha", "Carol", 0),
				notif(3, "com.alpha", "Bob", 0),
			},
			groups: [][]int64{{3}, {4}, {5}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			groups := GroupSmart(tt.input, DefaultGroupWindow)
			require.Len(t, groups, len(tt.groups))
			for i, want := range tt.groups {
				require.Equal(t, want, memberIDs(groups[i]), "group %d", i)
				require.Equal(t, len(want), groups[i].Count)
			}
		})
	}
}

func TestGroupSmart_GroupFields(t *testing.T) {
	groups := GroupSmart([]domain.Notification{
		notif(2, "com.telegram", "Alice Smith", time.Hour),
		notif(1, "com.telegram", "Alice Smith", 0),
	}, DefaultGroupWindow)

	require.Len(t, groups, 1)
	g := groups[0]
	require.Equal(t, groupBase, g.GroupTimestamp)
	require.Equal(t, int64(2), g.Latest.ID)
	require.Equal(t, "com.telegram", g.PackageName)
}

func TestGroupSmart_Empty(t *testing.T) {
	if groups := GroupSmart(nil, DefaultGroupWindow); groups != nil {
		t.Errorf("Expected nil groups, got %v", groups)
	}
}

func TestGroupSmart_DoesNotReorderInput(t *testing.T) {
	input := []domain.Notification{
		notif(2, "com.telegram", "Bob", time.Hour),
		notif(1, "com.telegram", "Bob", 0),
	}
	GroupSmart(input, DefaultGroupWindow)
	if input[0].ID != 2 || input[1].ID != 1 {
		t.Errorf("Input slice was reordered")
	}
}

func TestGroupByApp(t *testing.T) {
	groups := GroupByApp([]domain.Notification{
		notif(1, "com.telegram", "Alice", 0),
		notif(2, "com.whatsapp", "Bob", time.Hour),
		notif(3, "com.telegram", "Carol", 2*time.Hour),
		notif(4, "com.whatsapp", "Dave", 30*time.Minute),
	})

	require.Len(t, groups, 2)
	require.Equal(t, "com.telegram", groups[0].PackageName)
	require.Equal(t, 2, groups[0].Count)
	require.Equal(t, int64(3), groups[0].Members[0].ID)
	require.Equal(t, "com.whatsapp", groups[1].PackageName)
	require.Equal(t, int64(2), groups[1].Members[0].ID)
}

func TestGroupingUsecase_Thread(t *testing.T) {
	ctx := context.Background()
	notifRepo := &mockNotificationRepo{}
	for _, n := range []domain.Notification{
		notif(0, "com.telegram", "Alice", time.Hour),
		notif(0, "com.telegram", "Alice", 0),
		notif(0, "com.telegram", "Bob", 0),
	} {
		n := n
		_, _ = notifRepo.Insert(ctx, &n)
	}

	uc := NewGroupingUsecase(notifRepo, 0)

	thread, err := uc.Thread(ctx, "com.telegram_alice")
	require.NoError(t, err)
	require.Len(t, thread.Notifications, 2)
	require.True(t, thread.Notifications[0].Timestamp.Before(thread.Notifications[1].Timestamp))
	require.Equal(t, "com.telegram", thread.PackageName)

	_, err = uc.Thread(ctx, "com.telegram_nobody")
	require.True(t, errors.Is(err, errors.ErrNotFound))

	_, err = uc.Thread(ctx, "")
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestGroupingUsecase_RelatedInRange(t *testing.T) {
	ctx := context.Background()
	notifRepo := &mockNotificationRepo{}
	for _, off := range []time.Duration{0, time.Hour, 3 * time.Hour} {
		n := notif(0, "com.telegram", "Alice", off)
		_, _ = notifRepo.Insert(ctx, &n)
	}
	uc := NewGroupingUsecase(notifRepo, time.Hour)

	thread, err := uc.RelatedInRange(ctx, "com.telegram_alice", groupBase, groupBase.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, thread.Notifications, 2)

	_, err = uc.RelatedInRange(ctx, "com.telegram_alice", groupBase, groupBase)
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestGroupingUsecase_SmartGroupsFiltersPackage(t *testing.T) {
	ctx := context.Background()
	notifRepo := &mockNotificationRepo{}
	for _, n := range []domain.Notification{
		notif(0, "com.telegram", "Alice", 0),
		notif(0, "com.whatsapp", "Alice", 0),
	} {
		n := n
		_, _ = notifRepo.Insert(ctx, &n)
	}
	uc := NewGroupingUsecase(notifRepo, 0)

	groups, err := uc.SmartGroups(ctx, "com.whatsapp", groupBase.Add(-time.Hour), groupBase.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Equal(t, "com.whatsapp", groups[0].PackageName)

	apps, err := uc.AppGroups(ctx, groupBase.Add(-time.Hour), groupBase.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, apps, 2)
}
