package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/devricklin/notify-reply-bridge/internal/biz/domain"
	"github.com/devricklin/notify-reply-bridge/internal/biz/repo"
)

// Mock implementations

type mockNotificationRepo struct {
	mu     sync.Mutex
	items  []domain.Notification
	nextID int64
}

func (m *mockNotificationRepo) Insert(ctx context.Context, n *domain.Notification) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	n.ID = m.nextID
	m.items = append(m.items, *n)
	return n.ID, nil
}

func (m *mockNotificationRepo) GetByID(ctx context.Context, id int64) (*domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.items {
		if n.ID == id {
			c := n
			return &c, nil
		}
	}
	return nil, nil
}

func (m *mockNotificationRepo) ListByConversation(ctx context.Context, conversationID string) ([]domain.Notification, error) {
	return m.ListByConversationInRange(ctx, conversationID, time.Time{}, time.Unix(1<<40, 0))
}

func (m *mockNotificationRepo) ListByConversationInRange(ctx context.Context, conversationID string, from, to time.Time) ([]domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Notification
	for _, n := range m.items {
		if n.ConversationID == conversationID && !n.Timestamp.Before(from) && n.Timestamp.Before(to) {
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (m *mockNotificationRepo) ListInRange(ctx context.Context, packageName string, from, to time.Time) ([]domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Notification
	for _, n := range m.items {
		if packageName != "" && n.PackageName != packageName {
			continue
		}
		if !n.Timestamp.Before(from) && n.Timestamp.Before(to) {
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

func (m *mockNotificationRepo) SetAutoReplyDisabled(ctx context.Context, conversationID string, disabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.items {
		if m.items[i].ConversationID == conversationID {
			m.items[i].AutoReplyDisabled = disabled
		}
	}
	return nil
}

func (m *mockNotificationRepo) BackfillConversationIDs(ctx context.Context) (int64, error) {
	return 0, nil
}

func (m *mockNotificationRepo) DeleteByPackage(ctx context.Context, packageName string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.items[:0]
	var n int64
	for _, item := range m.items {
		if item.PackageName == packageName {
			n++
			continue
		}
		kept = append(kept, item)
	}
	m.items = kept
	return n, nil
}

type mockHistoryRepo struct {
	entries []domain.HistoryEntry
	recent  []domain.HistoryEntry
	limit   int
}

func (m *mockHistoryRepo) Add(ctx context.Context, entry *domain.HistoryEntry) error {
	entry.ID = int64(len(m.entries) + 1)
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *mockHistoryRepo) Recent(ctx context.Context, conversationID string, limit int) ([]domain.HistoryEntry, error) {
	m.limit = limit
	return m.recent, nil
}

func (m *mockHistoryRepo) ExistsForNotification(ctx context.Context, notificationID int64) (bool, error) {
	for _, e := range m.entries {
		if e.NotificationID == notificationID {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockHistoryRepo) Prune(ctx context.Context, conversationID string, keep int) (int64, error) {
	var kept []domain.HistoryEntry
	count := 0
	for i := len(m.entries) - 1; i >= 0; i-- {
		e := m.entries[i]
		if e.ConversationID == conversationID {
			count++
			if count > keep {
				continue
			}
		}
		kept = append([]domain.HistoryEntry{e}, kept...)
	}
	removed := int64(len(m.entries) - len(kept))
	m.entries = kept
	return removed, nil
}

func (m *mockHistoryRepo) PruneAll(ctx context.Context, keep int) (int64, error) {
	return 0, nil
}

type ruleKey struct {
	pkg, ident string
	typ        domain.IdentifierType
}

type mockRuleRepo struct {
	mu    sync.Mutex
	rules map[ruleKey]*domain.AutoReplyRule
}

func newMockRuleRepo() *mockRuleRepo {
	return &mockRuleRepo{rules: make(map[ruleKey]*domain.AutoReplyRule)}
}

func (m *mockRuleRepo) Get(ctx context.Context, packageName, identifier string, identifierType domain.IdentifierType) (*domain.AutoReplyRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[ruleKey{packageName, identifier, identifierType}]
	if !ok {
		return nil, nil
	}
	c := *r
	return &c, nil
}

func (m *mockRuleRepo) Toggle(ctx context.Context, packageName, identifier string, identifierType domain.IdentifierType, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := ruleKey{packageName, identifier, identifierType}
	r, ok := m.rules[k]
	if !ok {
		m.rules[k] = &domain.AutoReplyRule{PackageName: packageName, Identifier: identifier, IdentifierType: identifierType, Disabled: true, CreatedAt: now}
		return true, nil
	}
	r.Disabled = !r.Disabled
	return r.Disabled, nil
}

func (m *mockRuleRepo) SetDisabled(ctx context.Context, packageName, identifier string, identifierType domain.IdentifierType, disabled bool, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[ruleKey{packageName, identifier, identifierType}] = &domain.AutoReplyRule{
		PackageName: packageName, Identifier: identifier, IdentifierType: identifierType, Disabled: disabled, CreatedAt: now,
	}
	return nil
}

func (m *mockRuleRepo) ListByPackage(ctx context.Context, packageName string) ([]domain.AutoReplyRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.AutoReplyRule
	for k, r := range m.rules {
		if k.pkg == packageName {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *mockRuleRepo) DeleteByPackage(ctx context.Context, packageName string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k := range m.rules {
		if k.pkg == packageName {
			delete(m.rules, k)
			n++
		}
	}
	return n, nil
}

type mockAppSettingRepo struct {
	apps map[string]*domain.AppSetting
}

func newMockAppSettingRepo() *mockAppSettingRepo {
	return &mockAppSettingRepo{apps: make(map[string]*domain.AppSetting)}
}

func (m *mockAppSettingRepo) Get(ctx context.Context, packageName string) (*domain.AppSetting, error) {
	s, ok := m.apps[packageName]
	if !ok {
		return nil, nil
	}
	c := *s
	return &c, nil
}

func (m *mockAppSettingRepo) InsertIfAbsent(ctx context.Context, setting *domain.AppSetting) (*domain.AppSetting, error) {
	if s, ok := m.apps[setting.PackageName]; ok {
		c := *s
		return &c, nil
	}
	c := *setting
	m.apps[setting.PackageName] = &c
	return setting, nil
}

func (m *mockAppSettingRepo) SetEnabled(ctx context.Context, packageName string, enabled bool) error {
	m.apps[packageName].AutoReplyEnabled = enabled
	return nil
}

func (m *mockAppSettingRepo) SetGroupsEnabled(ctx context.Context, packageName string, enabled bool) error {
	m.apps[packageName].AutoReplyGroupsEnabled = enabled
	return nil
}

func (m *mockAppSettingRepo) List(ctx context.Context) ([]domain.AppSetting, error) {
	var out []domain.AppSetting
	for _, s := range m.apps {
		out = append(out, *s)
	}
	return out, nil
}

type mockSettingRepo struct {
	values map[string]bool
}

func (m *mockSettingRepo) GetBool(ctx context.Context, key string, def bool) (bool, error) {
	if v, ok := m.values[key]; ok {
		return v, nil
	}
	return def, nil
}

func (m *mockSettingRepo) SetBool(ctx context.Context, key string, value bool) error {
	if m.values == nil {
		m.values = make(map[string]bool)
	}
	m.values[key] = value
	return nil
}

type mockReplyCountRepo struct {
	mu     sync.Mutex
	counts map[string]*domain.ConversationReplyCount
}

func newMockReplyCountRepo() *mockReplyCountRepo {
	return &mockReplyCountRepo{counts: make(map[string]*domain.ConversationReplyCount)}
}

func (m *mockReplyCountRepo) Get(ctx context.Context, conversationID string) (*domain.ConversationReplyCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.counts[conversationID]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

// Increment reads and writes in two critical sections so that callers must
// serialize it themselves, as with a real database round trip.
func (m *mockReplyCountRepo) Increment(ctx context.Context, conversationID string, now time.Time) (*domain.ConversationReplyCount, error) {
	m.mu.Lock()
	cur := domain.ConversationReplyCount{ConversationID: conversationID}
	if c, ok := m.counts[conversationID]; ok {
		cur = *c
	}
	m.mu.Unlock()

	time.Sleep(time.Microsecond)

	cur.ReplyCount++
	if cur.FirstReplyAt.IsZero() {
		cur.FirstReplyAt = now
	}
	cur.LastReplyAt = now

	m.mu.Lock()
	m.counts[conversationID] = &cur
	m.mu.Unlock()
	out := cur
	return &out, nil
}

func (m *mockReplyCountRepo) Reset(ctx context.Context, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.counts, conversationID)
	return nil
}

func (m *mockReplyCountRepo) List(ctx context.Context) ([]domain.ConversationReplyCount, error) {
	return m.ListAtLeast(ctx, 0)
}

func (m *mockReplyCountRepo) ListAtLeast(ctx context.Context, min int) ([]domain.ConversationReplyCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ConversationReplyCount
	for _, c := range m.counts {
		if c.ReplyCount >= min {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConversationID < out[j].ConversationID })
	return out, nil
}

func (m *mockReplyCountRepo) DeleteLastReplyBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, c := range m.counts {
		if c.LastReplyAt.Before(cutoff) {
			delete(m.counts, id)
			n++
		}
	}
	return n, nil
}

func (m *mockReplyCountRepo) BulkInsert(ctx context.Context, counts []domain.ConversationReplyCount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range counts {
		cp := c
		m.counts[c.ConversationID] = &cp
	}
	return nil
}

type mockKeywordRepo struct {
	actions   []domain.KeywordAction
	listCalls int
}

func (m *mockKeywordRepo) ListEnabled(ctx context.Context) ([]domain.KeywordAction, error) {
	m.listCalls++
	var out []domain.KeywordAction
	for _, a := range m.actions {
		if a.Enabled {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *mockKeywordRepo) List(ctx context.Context) ([]domain.KeywordAction, error) {
	out := append([]domain.KeywordAction(nil), m.actions...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *mockKeywordRepo) Get(ctx context.Context, id int64) (*domain.KeywordAction, error) {
	for _, a := range m.actions {
		if a.ID == id {
			c := a
			return &c, nil
		}
	}
	return nil, nil
}

func (m *mockKeywordRepo) Create(ctx context.Context, action *domain.KeywordAction) (int64, error) {
	id := int64(len(m.actions) + 1)
	c := *action
	c.ID = id
	m.actions = append(m.actions, c)
	return id, nil
}

func (m *mockKeywordRepo) Update(ctx context.Context, action *domain.KeywordAction) (bool, error) {
	for i := range m.actions {
		if m.actions[i].ID == action.ID {
			m.actions[i].Keyword = action.Keyword
			m.actions[i].ActionType = action.ActionType
			m.actions[i].ActionContent = action.ActionContent
			return true, nil
		}
	}
	return false, nil
}

func (m *mockKeywordRepo) SetEnabled(ctx context.Context, id int64, enabled bool) (bool, error) {
	for i := range m.actions {
		if m.actions[i].ID == id {
			m.actions[i].Enabled = enabled
			return true, nil
		}
	}
	return false, nil
}

func (m *mockKeywordRepo) Delete(ctx context.Context, id int64) (bool, error) {
	for i := range m.actions {
		if m.actions[i].ID == id {
			m.actions = append(m.actions[:i], m.actions[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

type mockGenerator struct {
	reply    string
	err      error
	requests []repo.GenerateRequest
	prompts  []string
}

func (m *mockGenerator) Generate(ctx context.Context, req repo.GenerateRequest) (string, error) {
	m.requests = append(m.requests, req)
	return m.reply, m.err
}

func (m *mockGenerator) Complete(ctx context.Context, prompt string) (string, error) {
	m.prompts = append(m.prompts, prompt)
	return m.reply, m.err
}

// mockBackupRepo serializes the manifest only, which is enough to follow
// the byte stream through encryption and sinks
type mockBackupRepo struct {
	restored *domain.BackupManifest
}

func (m *mockBackupRepo) Export(ctx context.Context, w io.Writer, manifest domain.BackupManifest) (*domain.BackupManifest, error) {
	if err := json.NewEncoder(w).Encode(manifest); err != nil {
		return nil, err
	}
	return &manifest, nil
}

func (m *mockBackupRepo) Restore(ctx context.Context, r io.Reader) (*domain.BackupManifest, error) {
	var manifest domain.BackupManifest
	if err := json.NewDecoder(r).Decode(&manifest); err != nil {
		return nil, fmt.Errorf("decode backup: %w", err)
	}
	m.restored = &manifest
	return &manifest, nil
}

type mockSink struct {
	objects map[string][]byte
}

func (m *mockSink) Put(ctx context.Context, name string, r io.Reader) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if m.objects == nil {
		m.objects = make(map[string][]byte)
	}
	m.objects[name] = b
	return nil
}

func (m *mockSink) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	b, ok := m.objects[name]
	if !ok {
		return nil, fmt.Errorf("object %s not found", name)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

// xorEncryptor writes the age header followed by the payload xor-ed with a key byte
type xorEncryptor struct{ key byte }

type xorWriter struct {
	w   io.Writer
	key byte
}

func (x *xorWriter) Write(p []byte) (int, error) {
	out := make([]byte, len(p))
	for i, b := range p {
		out[i] = b ^ x.key
	}
	return x.w.Write(out)
}

func (x *xorWriter) Close() error { return nil }

func (e xorEncryptor) Encrypt(w io.Writer) (io.WriteCloser, error) {
	if _, err := w.Write(append(append([]byte{}, ageHeader...), '\n')); err != nil {
		return nil, err
	}
	return &xorWriter{w: w, key: e.key}, nil
}

func (e xorEncryptor) Decrypt(r io.Reader) (io.Reader, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimPrefix(data, append(append([]byte{}, ageHeader...), '\n'))
	for i := range data {
		data[i] ^= e.key
	}
	return bytes.NewReader(data), nil
}

type mockPromptRepo struct {
	mu            sync.Mutex
	templates     []domain.StoredPrompt
	conversations map[string]domain.ConversationPrompt
	nextID        int64
}

func newMockPromptRepo() *mockPromptRepo {
	return &mockPromptRepo{conversations: make(map[string]domain.ConversationPrompt)}
}

func (m *mockPromptRepo) List(ctx context.Context) ([]domain.StoredPrompt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]domain.StoredPrompt(nil), m.templates...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *mockPromptRepo) find(id int64) *domain.StoredPrompt {
	for i := range m.templates {
		if m.templates[i].ID == id {
			return &m.templates[i]
		}
	}
	return nil
}

func (m *mockPromptRepo) Get(ctx context.Context, id int64) (*domain.StoredPrompt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p := m.find(id); p != nil {
		c := *p
		return &c, nil
	}
	return nil, nil
}

func (m *mockPromptRepo) Active(ctx context.Context) (*domain.StoredPrompt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.templates {
		if p.Active {
			c := p
			return &c, nil
		}
	}
	return nil, nil
}

func (m *mockPromptRepo) Create(ctx context.Context, p *domain.StoredPrompt) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	c := *p
	c.ID = m.nextID
	c.Active = false
	m.templates = append(m.templates, c)
	return c.ID, nil
}

func (m *mockPromptRepo) Update(ctx context.Context, p *domain.StoredPrompt) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing := m.find(p.ID)
	if existing == nil {
		return false, nil
	}
	existing.Name, existing.Template = p.Name, p.Template
	return true, nil
}

func (m *mockPromptRepo) Delete(ctx context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, p := range m.templates {
		if p.ID == id {
			m.templates = append(m.templates[:i], m.templates[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *mockPromptRepo) Activate(ctx context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.find(id) == nil {
		return false, nil
	}
	for i := range m.templates {
		m.templates[i].Active = m.templates[i].ID == id
	}
	return true, nil
}

func (m *mockPromptRepo) Deactivate(ctx context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.find(id)
	if p == nil || !p.Active {
		return false, nil
	}
	p.Active = false
	return true, nil
}

func (m *mockPromptRepo) GetConversation(ctx context.Context, conversationID string) (*domain.ConversationPrompt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.conversations[conversationID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *mockPromptRepo) ListConversations(ctx context.Context) ([]domain.ConversationPrompt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ConversationPrompt
	for _, p := range m.conversations {
		out = append(out, p)
	}
	return out, nil
}

func (m *mockPromptRepo) SetConversation(ctx context.Context, p *domain.ConversationPrompt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations[p.ConversationID] = *p
	return nil
}

func (m *mockPromptRepo) DeleteConversation(ctx context.Context, conversationID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conversations[conversationID]; !ok {
		return false, nil
	}
	delete(m.conversations, conversationID)
	return true, nil
}
