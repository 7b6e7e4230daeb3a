package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/devricklin/notify-reply-bridge/internal/biz"
	"github.com/devricklin/notify-reply-bridge/internal/biz/domain"
	"github.com/devricklin/notify-reply-bridge/internal/errors"
)

const defaultRange = 24 * time.Hour

// Server exposes the read projections and operator intents as MCP tools
type Server struct {
	server     *mcp.Server
	uc         *biz.Usecases
	maxReplies int
	clock      domain.Clock
	logger     *zap.Logger
}

// NewServer creates the MCP server and registers its tools
func NewServer(uc *biz.Usecases, maxReplies int, clock domain.Clock, logger *zap.Logger) *Server {
	if clock == nil {
		clock = domain.RealClock{}
	}
	s := &Server{
		server: mcp.NewServer(&mcp.Implementation{
			Name:    "notify-reply-tools",
			Version: "v1.0.0",
		}, nil),
		uc:         uc,
		maxReplies: maxReplies,
		clock:      clock,
		logger:     logger.Named("mcp"),
	}
	s.registerTools()
	return s
}

// Run serves MCP over stdin/stdout until the client disconnects or ctx is done
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("MCP server running on stdio")
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// MCP returns the underlying server, used to connect other transports
func (s *Server) MCP() *mcp.Server {
	return s.server
}

func (s *Server) registerTools() {
	// Read projections
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_apps",
		Description: "List apps that posted notifications in a time range, with counts and notifications newest first.",
	}, s.listApps)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_groups",
		Description: "Cluster notifications of a time range into conversation groups. Optionally restrict to one package.",
	}, s.listGroups)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_thread",
		Description: "Get every notification of one conversation, oldest first.",
	}, s.getThread)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_related",
		Description: "Get the notifications of one conversation within a time range.",
	}, s.getRelated)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_history",
		Description: "Get the recorded message/reply exchanges of one conversation.",
	}, s.getHistory)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "analyze_conversation",
		Description: "Summarise one conversation with the configured reply generator.",
	}, s.analyzeConversation)

	// Policy
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_policy",
		Description: "Show the global auto-reply switch and the per-app settings.",
	}, s.getPolicy)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "set_global_enabled",
		Description: "Turn automatic replies on or off for everything.",
	}, s.setGlobalEnabled)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "set_app_enabled",
		Description: "Turn automatic replies on or off for one app package.",
	}, s.setAppEnabled)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "toggle_conversation",
		Description: "Flip automatic replies for the sender of a notification. Returns the new disabled state.",
	}, s.toggleConversation)

	// Keywords
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_keywords",
		Description: "List keyword actions, newest first.",
	}, s.listKeywords)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "add_keyword",
		Description: "Add a keyword action. A message containing the keyword is answered with the canned text, image or video instead of a generated reply.",
	}, s.addKeyword)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "set_keyword_enabled",
		Description: "Enable or disable a keyword action.",
	}, s.setKeywordEnabled)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "delete_keyword",
		Description: "Delete a keyword action.",
	}, s.deleteKeyword)

	// Reply counts
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_reply_counts",
		Description: "List per-conversation reply counters, most recent first. Set near_limit to list only conversations close to the ceiling.",
	}, s.listReplyCounts)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "reset_reply_count",
		Description: "Reset the reply counter of a conversation so it can be answered again.",
	}, s.resetReplyCount)

	// Prompts
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_prompts",
		Description: "List stored prompt templates and per-conversation prompt overrides.",
	}, s.listPrompts)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "create_prompt",
		Description: "Store a prompt template. The template must contain {message}; {context} is replaced with recent messages.",
	}, s.createPrompt)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "update_prompt",
		Description: "Rewrite the name and text of a stored prompt template.",
	}, s.updatePrompt)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "delete_prompt",
		Description: "Delete a stored prompt template.",
	}, s.deletePrompt)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "activate_prompt",
		Description: "Make a stored template the active one. Set active to false to fall back to the configured default.",
	}, s.activatePrompt)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_effective_prompt",
		Description: "Show the prompt a conversation is answered with and whether it comes from an override, the active template or the default.",
	}, s.getEffectivePrompt)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "set_conversation_prompt",
		Description: "Override the prompt of one conversation.",
	}, s.setConversationPrompt)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "clear_conversation_prompt",
		Description: "Remove the prompt override of a conversation.",
	}, s.clearConversationPrompt)
}

// Inputs

// RangeInput selects a time range; both bounds are RFC 3339 and default to the last 24 hours
type RangeInput struct {
	From string `json:"from,omitempty" jsonschema:"range start, RFC 3339"`
	To   string `json:"to,omitempty" jsonschema:"range end, RFC 3339"`
}

// GroupsInput selects the notifications to group
type GroupsInput struct {
	From    string `json:"from,omitempty" jsonschema:"range start, RFC 3339"`
	To      string `json:"to,omitempty" jsonschema:"range end, RFC 3339"`
	Package string `json:"package,omitempty" jsonschema:"restrict to one app package"`
}

// ConversationInput names a conversation
type ConversationInput struct {
	ConversationID string `json:"conversation_id" jsonschema:"the conversation id"`
}

// RelatedInput names a conversation and a time range
type RelatedInput struct {
	From           string `json:"from,omitempty" jsonschema:"range start, RFC 3339"`
	To             string `json:"to,omitempty" jsonschema:"range end, RFC 3339"`
	ConversationID string `json:"conversation_id" jsonschema:"the conversation id"`
}

// EmptyInput is used by tools without parameters
type EmptyInput struct{}

// EnabledInput carries a switch value
type EnabledInput struct {
	Enabled bool `json:"enabled" jsonschema:"the new switch value"`
}

// AppEnabledInput carries an app switch value
type AppEnabledInput struct {
	PackageName string `json:"package_name" jsonschema:"the app package"`
	Enabled     bool   `json:"enabled" jsonschema:"the new switch value"`
}

// ToggleInput names the notification whose sender is toggled
type ToggleInput struct {
	NotificationID int64 `json:"notification_id" jsonschema:"id of a stored notification"`
}

// KeywordInput describes a new keyword action
type KeywordInput struct {
	Keyword    string `json:"keyword" jsonschema:"case-sensitive substring to match"`
	ActionType string `json:"action_type" jsonschema:"TEXT, IMAGE or VIDEO"`
	Content    string `json:"content" jsonschema:"reply text, or the media file path"`
}

// KeywordIDInput names a keyword action
type KeywordIDInput struct {
	ID int64 `json:"id" jsonschema:"keyword action id"`
}

// KeywordEnabledInput sets a keyword's switch
type KeywordEnabledInput struct {
	ID      int64 `json:"id" jsonschema:"keyword action id"`
	Enabled bool  `json:"enabled" jsonschema:"the new switch value"`
}

// CountsInput filters reply counters
type CountsInput struct {
	NearLimit bool `json:"near_limit,omitempty" jsonschema:"only conversations near the reply ceiling"`
	Margin    int  `json:"margin,omitempty" jsonschema:"how close to the ceiling counts as near, default 2"`
}

// PromptInput describes a prompt template
type PromptInput struct {
	Name     string `json:"name" jsonschema:"template name"`
	Template string `json:"template" jsonschema:"prompt text containing {message}"`
	Activate bool   `json:"activate,omitempty" jsonschema:"make it the active template"`
}

// PromptUpdateInput rewrites a stored template
type PromptUpdateInput struct {
	ID       int64  `json:"id" jsonschema:"prompt template id"`
	Name     string `json:"name" jsonschema:"template name"`
	Template string `json:"template" jsonschema:"prompt text containing {message}"`
}

// PromptIDInput names a stored template
type PromptIDInput struct {
	ID int64 `json:"id" jsonschema:"prompt template id"`
}

// PromptActiveInput switches a stored template on or off
type PromptActiveInput struct {
	ID     int64 `json:"id" jsonschema:"prompt template id"`
	Active bool  `json:"active" jsonschema:"true to activate, false to deactivate"`
}

// ConversationPromptInput overrides the prompt of a conversation
type ConversationPromptInput struct {
	ConversationID string `json:"conversation_id" jsonschema:"the conversation id"`
	Name           string `json:"name,omitempty" jsonschema:"override name"`
	Template       string `json:"template" jsonschema:"prompt text containing {message}"`
}

// Handlers. Outputs are plain JSON objects without a declared schema.

func (s *Server) listApps(ctx context.Context, req *mcp.CallToolRequest, in RangeInput) (*mcp.CallToolResult, any, error) {
	from, to, err := s.timeRange(in.From, in.To)
	if err != nil {
		return nil, nil, err
	}
	apps, err := s.uc.Grouping.AppGroups(ctx, from, to)
	if err != nil {
		return nil, nil, s.toolError(err)
	}
	return nil, map[string]any{"apps": apps}, nil
}

func (s *Server) listGroups(ctx context.Context, req *mcp.CallToolRequest, in GroupsInput) (*mcp.CallToolResult, any, error) {
	from, to, err := s.timeRange(in.From, in.To)
	if err != nil {
		return nil, nil, err
	}
	groups, err := s.uc.Grouping.SmartGroups(ctx, in.Package, from, to)
	if err != nil {
		return nil, nil, s.toolError(err)
	}
	return nil, map[string]any{"groups": groups}, nil
}

func (s *Server) getThread(ctx context.Context, req *mcp.CallToolRequest, in ConversationInput) (*mcp.CallToolResult, any, error) {
	thread, err := s.uc.Grouping.Thread(ctx, in.ConversationID)
	if err != nil {
		return nil, nil, s.toolError(err)
	}
	return nil, thread, nil
}

func (s *Server) getRelated(ctx context.Context, req *mcp.CallToolRequest, in RelatedInput) (*mcp.CallToolResult, any, error) {
	from, to, err := s.timeRange(in.From, in.To)
	if err != nil {
		return nil, nil, err
	}
	thread, err := s.uc.Grouping.RelatedInRange(ctx, in.ConversationID, from, to)
	if err != nil {
		return nil, nil, s.toolError(err)
	}
	return nil, thread, nil
}

func (s *Server) getHistory(ctx context.Context, req *mcp.CallToolRequest, in ConversationInput) (*mcp.CallToolResult, any, error) {
	if in.ConversationID == "" {
		return nil, nil, s.toolError(errors.NewInvalidRequest("conversation id is required"))
	}
	history, err := s.uc.Reply.History(ctx, in.ConversationID)
	if err != nil {
		return nil, nil, s.toolError(err)
	}
	return nil, map[string]any{"conversation_id": in.ConversationID, "history": history}, nil
}

func (s *Server) analyzeConversation(ctx context.Context, req *mcp.CallToolRequest, in ConversationInput) (*mcp.CallToolResult, any, error) {
	thread, err := s.uc.Grouping.Thread(ctx, in.ConversationID)
	if err != nil {
		return nil, nil, s.toolError(err)
	}
	summary, err := s.uc.Reply.AnalyzeConversation(ctx, thread)
	if err != nil {
		return nil, nil, s.toolError(err)
	}
	return nil, map[string]any{"conversation_id": thread.ConversationID, "summary": summary}, nil
}

func (s *Server) getPolicy(ctx context.Context, req *mcp.CallToolRequest, in EmptyInput) (*mcp.CallToolResult, any, error) {
	global, err := s.uc.Policy.GlobalEnabled(ctx)
	if err != nil {
		return nil, nil, s.toolError(err)
	}
	apps, err := s.uc.Policy.ListApps(ctx)
	if err != nil {
		return nil, nil, s.toolError(err)
	}
	return nil, map[string]any{"global_enabled": global, "apps": apps}, nil
}

func (s *Server) setGlobalEnabled(ctx context.Context, req *mcp.CallToolRequest, in EnabledInput) (*mcp.CallToolResult, any, error) {
	if err := s.uc.Policy.SetGlobalEnabled(ctx, in.Enabled); err != nil {
		return nil, nil, s.toolError(err)
	}
	return nil, map[string]any{"global_enabled": in.Enabled}, nil
}

func (s *Server) setAppEnabled(ctx context.Context, req *mcp.CallToolRequest, in AppEnabledInput) (*mcp.CallToolResult, any, error) {
	if in.PackageName == "" {
		return nil, nil, s.toolError(errors.NewInvalidRequest("package name is required"))
	}
	if err := s.uc.Policy.SetAppEnabled(ctx, in.PackageName, in.Enabled); err != nil {
		return nil, nil, s.toolError(err)
	}
	return nil, map[string]any{"package_name": in.PackageName, "auto_reply_enabled": in.Enabled}, nil
}

func (s *Server) toggleConversation(ctx context.Context, req *mcp.CallToolRequest, in ToggleInput) (*mcp.CallToolResult, any, error) {
	disabled, err := s.uc.Policy.ToggleNotification(ctx, in.NotificationID)
	if err != nil {
		return nil, nil, s.toolError(err)
	}
	return nil, map[string]any{"notification_id": in.NotificationID, "disabled": disabled}, nil
}

func (s *Server) listKeywords(ctx context.Context, req *mcp.CallToolRequest, in EmptyInput) (*mcp.CallToolResult, any, error) {
	actions, err := s.uc.Keyword.List(ctx)
	if err != nil {
		return nil, nil, s.toolError(err)
	}
	return nil, map[string]any{"keywords": actions}, nil
}

func (s *Server) addKeyword(ctx context.Context, req *mcp.CallToolRequest, in KeywordInput) (*mcp.CallToolResult, any, error) {
	action, err := s.uc.Keyword.Create(ctx, in.Keyword, domain.ActionType(in.ActionType), in.Content, true)
	if err != nil {
		return nil, nil, s.toolError(err)
	}
	return nil, action, nil
}

func (s *Server) setKeywordEnabled(ctx context.Context, req *mcp.CallToolRequest, in KeywordEnabledInput) (*mcp.CallToolResult, any, error) {
	if err := s.uc.Keyword.SetEnabled(ctx, in.ID, in.Enabled); err != nil {
		return nil, nil, s.toolError(err)
	}
	return nil, map[string]any{"id": in.ID, "enabled": in.Enabled}, nil
}

func (s *Server) deleteKeyword(ctx context.Context, req *mcp.CallToolRequest, in KeywordIDInput) (*mcp.CallToolResult, any, error) {
	if err := s.uc.Keyword.Delete(ctx, in.ID); err != nil {
		return nil, nil, s.toolError(err)
	}
	return nil, map[string]any{"id": in.ID, "deleted": true}, nil
}

func (s *Server) listReplyCounts(ctx context.Context, req *mcp.CallToolRequest, in CountsInput) (*mcp.CallToolResult, any, error) {
	var (
		counts []domain.ConversationReplyCount
		err    error
	)
	if in.NearLimit {
		margin := in.Margin
		if margin <= 0 {
			margin = 2
		}
		counts, err = s.uc.RateLimit.NearLimit(ctx, s.maxReplies, margin)
	} else {
		counts, err = s.uc.RateLimit.List(ctx)
	}
	if err != nil {
		return nil, nil, s.toolError(err)
	}
	return nil, map[string]any{"max_replies": s.maxReplies, "counts": counts}, nil
}

func (s *Server) resetReplyCount(ctx context.Context, req *mcp.CallToolRequest, in ConversationInput) (*mcp.CallToolResult, any, error) {
	if in.ConversationID == "" {
		return nil, nil, s.toolError(errors.NewInvalidRequest("conversation id is required"))
	}
	if err := s.uc.RateLimit.Reset(ctx, in.ConversationID); err != nil {
		return nil, nil, s.toolError(err)
	}
	return nil, map[string]any{"conversation_id": in.ConversationID, "reset": true}, nil
}

func (s *Server) listPrompts(ctx context.Context, req *mcp.CallToolRequest, in EmptyInput) (*mcp.CallToolResult, any, error) {
	templates, err := s.uc.Prompt.List(ctx)
	if err != nil {
		return nil, nil, s.toolError(err)
	}
	overrides, err := s.uc.Prompt.ListConversationPrompts(ctx)
	if err != nil {
		return nil, nil, s.toolError(err)
	}
	return nil, map[string]any{"templates": templates, "conversations": overrides}, nil
}

func (s *Server) createPrompt(ctx context.Context, req *mcp.CallToolRequest, in PromptInput) (*mcp.CallToolResult, any, error) {
	p, err := s.uc.Prompt.Create(ctx, in.Name, in.Template, in.Activate)
	if err != nil {
		return nil, nil, s.toolError(err)
	}
	return nil, p, nil
}

func (s *Server) updatePrompt(ctx context.Context, req *mcp.CallToolRequest, in PromptUpdateInput) (*mcp.CallToolResult, any, error) {
	p, err := s.uc.Prompt.Update(ctx, in.ID, in.Name, in.Template)
	if err != nil {
		return nil, nil, s.toolError(err)
	}
	return nil, p, nil
}

func (s *Server) deletePrompt(ctx context.Context, req *mcp.CallToolRequest, in PromptIDInput) (*mcp.CallToolResult, any, error) {
	if err := s.uc.Prompt.Delete(ctx, in.ID); err != nil {
		return nil, nil, s.toolError(err)
	}
	return nil, map[string]any{"id": in.ID, "deleted": true}, nil
}

func (s *Server) activatePrompt(ctx context.Context, req *mcp.CallToolRequest, in PromptActiveInput) (*mcp.CallToolResult, any, error) {
	var err error
	if in.Active {
		err = s.uc.Prompt.Activate(ctx, in.ID)
	} else {
		err = s.uc.Prompt.Deactivate(ctx, in.ID)
	}
	if err != nil {
		return nil, nil, s.toolError(err)
	}
	return nil, map[string]any{"id": in.ID, "active": in.Active}, nil
}

func (s *Server) getEffectivePrompt(ctx context.Context, req *mcp.CallToolRequest, in ConversationInput) (*mcp.CallToolResult, any, error) {
	p, err := s.uc.Prompt.Effective(ctx, in.ConversationID)
	if err != nil {
		return nil, nil, s.toolError(err)
	}
	return nil, p, nil
}

func (s *Server) setConversationPrompt(ctx context.Context, req *mcp.CallToolRequest, in ConversationPromptInput) (*mcp.CallToolResult, any, error) {
	p, err := s.uc.Prompt.SetConversationPrompt(ctx, in.ConversationID, in.Name, in.Template)
	if err != nil {
		return nil, nil, s.toolError(err)
	}
	return nil, p, nil
}

func (s *Server) clearConversationPrompt(ctx context.Context, req *mcp.CallToolRequest, in ConversationInput) (*mcp.CallToolResult, any, error) {
	if err := s.uc.Prompt.ClearConversationPrompt(ctx, in.ConversationID); err != nil {
		return nil, nil, s.toolError(err)
	}
	return nil, map[string]any{"conversation_id": in.ConversationID, "cleared": true}, nil
}

// Helpers

// toolError turns a failure into the message shown to the client
func (s *Server) toolError(err error) error {
	rErr := errors.From(err)
	if rErr.Code == errors.ErrInternal {
		s.logger.Error("Tool failed", zap.Error(err))
	}
	return fmt.Errorf("%s: %s", rErr.Code, rErr.Message)
}

func (s *Server) timeRange(fromArg, toArg string) (time.Time, time.Time, error) {
	to := s.clock.Now()
	if v := strings.TrimSpace(toArg); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, s.toolError(errors.NewInvalidRequest("invalid to: " + v))
		}
		to = t
	}
	from := to.Add(-defaultRange)
	if v := strings.TrimSpace(fromArg); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, s.toolError(errors.NewInvalidRequest("invalid from: " + v))
		}
		from = t
	}
	return from, to, nil
}
