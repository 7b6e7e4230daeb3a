package server

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/devricklin/notify-reply-bridge/internal/biz"
	"github.com/devricklin/notify-reply-bridge/internal/biz/domain"
	"github.com/devricklin/notify-reply-bridge/internal/biz/repo"
	"github.com/devricklin/notify-reply-bridge/internal/errors"
	"github.com/devricklin/notify-reply-bridge/internal/service"
)

const (
	defaultRange       = 24 * time.Hour
	defaultOutboxLimit = 50
	defaultNearMargin  = 2
)

// HTTPConfig configures the API server
type HTTPConfig struct {
	Addr       string
	JWTSecret  string
	MaxReplies int // Reply ceiling reported by the counts endpoints
}

// HTTPServer exposes ingestion, read projections and operator intents over HTTP
type HTTPServer struct {
	cfg           HTTPConfig
	uc            *biz.Usecases
	notifications *service.NotificationService
	outbox        repo.OutboxRepo
	clock         domain.Clock
	logger        *zap.Logger

	engine *gin.Engine
	srv    *http.Server
}

// NewHTTPServer creates the API server and registers its routes
func NewHTTPServer(
	cfg HTTPConfig,
	uc *biz.Usecases,
	notifications *service.NotificationService,
	outbox repo.OutboxRepo,
	clock domain.Clock,
	logger *zap.Logger,
) *HTTPServer {
	if clock == nil {
		clock = domain.RealClock{}
	}
	s := &HTTPServer{
		cfg:           cfg,
		uc:            uc,
		notifications: notifications,
		outbox:        outbox,
		clock:         clock,
		logger:        logger.Named("http"),
	}
	s.engine = gin.New()
	s.engine.Use(gin.Recovery(), s.requestLogger())
	s.setupRoutes()
	return s
}

// Handler returns the router, used by tests
func (s *HTTPServer) Handler() http.Handler {
	return s.engine
}

func (s *HTTPServer) setupRoutes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := s.engine.Group("/api/v1")
	api.Use(AuthMiddleware(s.cfg.JWTSecret, s.logger))
	{
		// Ingestion
		api.POST("/notifications", s.postNotification)
		api.GET("/notifications/:id", s.getNotification)
		api.POST("/notifications/:id/toggle", s.toggleNotification)
		api.POST("/notifications/:id/retry", s.retryNotification)
		api.GET("/events", s.streamEvents)

		// Read projections
		api.GET("/groups", s.listGroups)
		api.GET("/apps", s.listAppGroups)
		api.DELETE("/apps/:package", s.purgeApp)
		api.GET("/conversations/:id", s.getThread)
		api.GET("/conversations/:id/related", s.getRelated)
		api.GET("/conversations/:id/history", s.getHistory)
		api.POST("/conversations/:id/analyze", s.analyzeConversation)

		// Prompts
		api.GET("/prompts", s.listPrompts)
		api.POST("/prompts", s.createPrompt)
		api.GET("/prompts/:id", s.getPrompt)
		api.PUT("/prompts/:id", s.updatePrompt)
		api.DELETE("/prompts/:id", s.deletePrompt)
		api.POST("/prompts/:id/activate", s.activatePrompt)
		api.POST("/prompts/:id/deactivate", s.deactivatePrompt)
		api.GET("/conversation-prompts", s.listConversationPrompts)
		api.GET("/conversations/:id/prompt", s.getConversationPrompt)
		api.PUT("/conversations/:id/prompt", s.setConversationPrompt)
		api.DELETE("/conversations/:id/prompt", s.clearConversationPrompt)

		// Policy
		api.GET("/policy", s.getPolicy)
		api.PUT("/policy/global", s.setGlobal)
		api.PUT("/policy/apps/:package", s.setApp)
		api.GET("/policy/apps/:package/rules", s.listRules)
		api.DELETE("/policy/apps/:package/rules", s.deleteRules)
		api.PUT("/policy/rules", s.setRule)
		api.POST("/policy/rules/toggle", s.toggleRule)

		// Keywords
		api.GET("/keywords", s.listKeywords)
		api.POST("/keywords", s.createKeyword)
		api.GET("/keywords/:id", s.getKeyword)
		api.PUT("/keywords/:id", s.updateKeyword)
		api.PUT("/keywords/:id/enabled", s.setKeywordEnabled)
		api.DELETE("/keywords/:id", s.deleteKeyword)

		// Reply counts
		api.GET("/counts", s.listCounts)
		api.GET("/counts/near-limit", s.nearLimit)
		api.GET("/counts/:id", s.getCount)
		api.DELETE("/counts/:id", s.resetCount)

		// Device outbox
		api.GET("/outbox", s.pollOutbox)
		api.POST("/outbox/:id/ack", s.ackOutbox)

		// Backups
		api.POST("/backups", s.createBackup)
		api.POST("/backups/:name/restore", s.restoreBackup)
	}
}

// Prompts

type promptRequest struct {
	Name     string `json:"name" binding:"required"`
	Template string `json:"template" binding:"required"`
	Active   bool   `json:"active"`
}

func (s *HTTPServer) listPrompts(c *gin.Context) {
	prompts, err := s.uc.Prompt.List(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"prompts": prompts})
}

func (s *HTTPServer) createPrompt(c *gin.Context) {
	var req promptRequest
	if err := bindJSON(c, &req); err != nil {
		s.fail(c, err)
		return
	}
	p, err := s.uc.Prompt.Create(c.Request.Context(), req.Name, req.Template, req.Active)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (s *HTTPServer) getPrompt(c *gin.Context) {
	id, err := idParam(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	p, err := s.uc.Prompt.Get(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *HTTPServer) updatePrompt(c *gin.Context) {
	id, err := idParam(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	var req promptRequest
	if err := bindJSON(c, &req); err != nil {
		s.fail(c, err)
		return
	}
	p, err := s.uc.Prompt.Update(c.Request.Context(), id, req.Name, req.Template)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *HTTPServer) deletePrompt(c *gin.Context) {
	id, err := idParam(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	if err := s.uc.Prompt.Delete(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *HTTPServer) activatePrompt(c *gin.Context) {
	id, err := idParam(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	if err := s.uc.Prompt.Activate(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "active": true})
}

func (s *HTTPServer) deactivatePrompt(c *gin.Context) {
	id, err := idParam(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	if err := s.uc.Prompt.Deactivate(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "active": false})
}

func (s *HTTPServer) listConversationPrompts(c *gin.Context) {
	prompts, err := s.uc.Prompt.ListConversationPrompts(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"prompts": prompts})
}

// getConversationPrompt reports the prompt the conversation is answered with
func (s *HTTPServer) getConversationPrompt(c *gin.Context) {
	p, err := s.uc.Prompt.Effective(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

type conversationPromptRequest struct {
	Name     string `json:"name"`
	Template string `json:"template" binding:"required"`
}

func (s *HTTPServer) setConversationPrompt(c *gin.Context) {
	var req conversationPromptRequest
	if err := bindJSON(c, &req); err != nil {
		s.fail(c, err)
		return
	}
	p, err := s.uc.Prompt.SetConversationPrompt(c.Request.Context(), c.Param("id"), req.Name, req.Template)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *HTTPServer) clearConversationPrompt(c *gin.Context) {
	if err := s.uc.Prompt.ClearConversationPrompt(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Start listens until Stop is called
func (s *HTTPServer) Start() error {
	s.srv = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting HTTP server", zap.String("addr", s.cfg.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Stop shuts the server down gracefully
func (s *HTTPServer) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *HTTPServer) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("Request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// Error responses

func abortWithError(c *gin.Context, err error) {
	rErr := errors.From(err)
	body := gin.H{"code": rErr.Code, "message": rErr.Message}
	if len(rErr.Details) > 0 {
		body["details"] = rErr.Details
	}
	c.AbortWithStatusJSON(rErr.Status, gin.H{"error": body})
}

func (s *HTTPServer) fail(c *gin.Context, err error) {
	rErr := errors.From(err)
	if rErr.Code == errors.ErrInternal {
		s.logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	abortWithError(c, rErr)
}

// Request helpers

func idParam(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.NewInvalidRequest("invalid id " + strconv.Quote(c.Param("id")))
	}
	return id, nil
}

// parseTime accepts RFC 3339 or Unix milliseconds
func parseTime(value string) (time.Time, error) {
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, errors.NewInvalidRequest("invalid time " + strconv.Quote(value))
	}
	return t, nil
}

// timeRange reads from/to, defaulting to the last 24 hours
func (s *HTTPServer) timeRange(c *gin.Context) (time.Time, time.Time, error) {
	to := s.clock.Now()
	if v := c.Query("to"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = t
	}
	from := to.Add(-defaultRange)
	if v := c.Query("from"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = t
	}
	if !to.After(from) {
		return time.Time{}, time.Time{}, errors.NewInvalidRequest("range end must be after range start")
	}
	return from, to, nil
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	v := c.Query(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.NewInvalidRequest(fmt.Sprintf("invalid %s %q", key, v))
	}
	return n, nil
}

func bindJSON(c *gin.Context, dst any) error {
	if err := c.ShouldBindJSON(dst); err != nil {
		return errors.NewInvalidRequest("invalid request body: " + err.Error())
	}
	return nil
}

// Ingestion

// PostNotificationRequest is the body a device posts for each captured notification
type PostNotificationRequest struct {
	PackageName string `json:"package_name" binding:"required"`
	AppName     string `json:"app_name"`
	Title       string `json:"title"`
	Content     string `json:"content"`
	PostTime    int64  `json:"post_time"` // Unix milliseconds, server time when zero
	SourceID    string `json:"source_id"` // Defaults to the token subject
	ReplyKey    string `json:"reply_key"`
}

func (s *HTTPServer) postNotification(c *gin.Context) {
	var req PostNotificationRequest
	if err := bindJSON(c, &req); err != nil {
		s.fail(c, err)
		return
	}

	ev := domain.PostedEvent{
		PackageName: req.PackageName,
		AppName:     req.AppName,
		Title:       req.Title,
		Content:     req.Content,
		SourceID:    req.SourceID,
		ReplyKey:    req.ReplyKey,
	}
	if req.PostTime > 0 {
		ev.PostTime = time.UnixMilli(req.PostTime)
	}
	if ev.SourceID == "" {
		ev.SourceID = subjectOf(c)
	}

	if err := s.notifications.OnNotificationPosted(c.Request.Context(), ev); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

func (s *HTTPServer) getNotification(c *gin.Context) {
	id, err := idParam(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	n, err := s.uc.Grouping.Notification(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, n)
}

func (s *HTTPServer) toggleNotification(c *gin.Context) {
	id, err := idParam(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	disabled, err := s.uc.Policy.ToggleNotification(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notification_id": id, "disabled": disabled})
}

func (s *HTTPServer) retryNotification(c *gin.Context) {
	id, err := idParam(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	res, err := s.notifications.Retry(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newResultEvent(res))
}

// ResultEvent is one pipeline result on the event stream
type ResultEvent struct {
	Outcome        service.Outcome `json:"outcome"`
	NotificationID int64           `json:"notification_id,omitempty"`
	ConversationID string          `json:"conversation_id,omitempty"`
	KeywordID      int64           `json:"keyword_id,omitempty"`
	Reply          string          `json:"reply,omitempty"`
	Error          string          `json:"error,omitempty"`
}

func newResultEvent(res service.Result) ResultEvent {
	ev := ResultEvent{Outcome: res.Outcome, Reply: res.Reply}
	if res.Notification != nil {
		ev.NotificationID = res.Notification.ID
		ev.ConversationID = res.Notification.ConversationID
	}
	if res.Keyword != nil {
		ev.KeywordID = res.Keyword.ID
	}
	if res.Err != nil {
		ev.Error = res.Err.Error()
	}
	return ev
}

// streamEvents pushes pipeline results as server-sent events
func (s *HTTPServer) streamEvents(c *gin.Context) {
	results, cancel := s.notifications.Subscribe(32)
	defer cancel()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case res, ok := <-results:
			if !ok {
				return false
			}
			c.SSEvent("result", newResultEvent(res))
			return true
		}
	})
}

// Read projections

func (s *HTTPServer) listGroups(c *gin.Context) {
	from, to, err := s.timeRange(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	groups, err := s.uc.Grouping.SmartGroups(c.Request.Context(), c.Query("package"), from, to)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups})
}

func (s *HTTPServer) listAppGroups(c *gin.Context) {
	from, to, err := s.timeRange(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	apps, err := s.uc.Grouping.AppGroups(c.Request.Context(), from, to)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"apps": apps})
}

func (s *HTTPServer) getThread(c *gin.Context) {
	thread, err := s.uc.Grouping.Thread(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, thread)
}

func (s *HTTPServer) getRelated(c *gin.Context) {
	from, to, err := s.timeRange(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	thread, err := s.uc.Grouping.RelatedInRange(c.Request.Context(), c.Param("id"), from, to)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, thread)
}

func (s *HTTPServer) getHistory(c *gin.Context) {
	history, err := s.uc.Reply.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation_id": c.Param("id"), "history": history})
}

func (s *HTTPServer) analyzeConversation(c *gin.Context) {
	ctx := c.Request.Context()
	thread, err := s.uc.Grouping.Thread(ctx, c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	summary, err := s.uc.Reply.AnalyzeConversation(ctx, thread)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation_id": thread.ConversationID, "summary": summary})
}

// Policy

func (s *HTTPServer) getPolicy(c *gin.Context) {
	ctx := c.Request.Context()
	global, err := s.uc.Policy.GlobalEnabled(ctx)
	if err != nil {
		s.fail(c, err)
		return
	}
	apps, err := s.uc.Policy.ListApps(ctx)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"global_enabled": global, "apps": apps})
}

type enabledRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (s *HTTPServer) setGlobal(c *gin.Context) {
	var req enabledRequest
	if err := bindJSON(c, &req); err != nil {
		s.fail(c, err)
		return
	}
	if err := s.uc.Policy.SetGlobalEnabled(c.Request.Context(), *req.Enabled); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"global_enabled": *req.Enabled})
}

type appRequest struct {
	Enabled       *bool `json:"enabled"`
	GroupsEnabled *bool `json:"groups_enabled"`
}

func (s *HTTPServer) setApp(c *gin.Context) {
	var req appRequest
	if err := bindJSON(c, &req); err != nil {
		s.fail(c, err)
		return
	}
	if req.Enabled == nil && req.GroupsEnabled == nil {
		s.fail(c, errors.NewInvalidRequest("enabled or groups_enabled is required"))
		return
	}

	ctx := c.Request.Context()
	pkg := c.Param("package")
	if req.Enabled != nil {
		if err := s.uc.Policy.SetAppEnabled(ctx, pkg, *req.Enabled); err != nil {
			s.fail(c, err)
			return
		}
	}
	if req.GroupsEnabled != nil {
		if err := s.uc.Policy.SetAppGroupsEnabled(ctx, pkg, *req.GroupsEnabled); err != nil {
			s.fail(c, err)
			return
		}
	}
	enabled, err := s.uc.Policy.AppEnabled(ctx, pkg)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"package_name": pkg, "auto_reply_enabled": enabled})
}

func (s *HTTPServer) listRules(c *gin.Context) {
	rules, err := s.uc.Policy.ListRules(c.Request.Context(), c.Param("package"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules})
}

func (s *HTTPServer) deleteRules(c *gin.Context) {
	n, err := s.uc.Policy.DeleteAppRules(c.Request.Context(), c.Param("package"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

type setRuleRequest struct {
	PackageName    string                `json:"package_name" binding:"required"`
	Identifier     string                `json:"identifier"`
	IdentifierType domain.IdentifierType `json:"identifier_type" binding:"required"`
	Disabled       *bool                 `json:"disabled" binding:"required"`
}

func (s *HTTPServer) setRule(c *gin.Context) {
	var req setRuleRequest
	if err := bindJSON(c, &req); err != nil {
		s.fail(c, err)
		return
	}
	err := s.uc.Policy.SetConversationDisabled(c.Request.Context(), req.PackageName, req.Identifier, req.IdentifierType, *req.Disabled)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"disabled": *req.Disabled})
}

func (s *HTTPServer) purgeApp(c *gin.Context) {
	pkg := c.Param("package")
	rules, notifications, err := s.uc.Policy.PurgeApp(c.Request.Context(), pkg)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"package_name": pkg, "rules_deleted": rules, "notifications_deleted": notifications})
}

type toggleRuleRequest struct {
	PackageName    string                `json:"package_name" binding:"required"`
	Identifier     string                `json:"identifier"`
	IdentifierType domain.IdentifierType `json:"identifier_type" binding:"required"`
}

func (s *HTTPServer) toggleRule(c *gin.Context) {
	var req toggleRuleRequest
	if err := bindJSON(c, &req); err != nil {
		s.fail(c, err)
		return
	}
	disabled, err := s.uc.Policy.ToggleConversation(c.Request.Context(), req.PackageName, req.Identifier, req.IdentifierType)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"disabled": disabled})
}

// Keywords

type keywordRequest struct {
	Keyword    string            `json:"keyword" binding:"required"`
	ActionType domain.ActionType `json:"action_type" binding:"required"`
	Content    string            `json:"action_content" binding:"required"`
	Enabled    *bool             `json:"enabled"`
}

func (s *HTTPServer) listKeywords(c *gin.Context) {
	actions, err := s.uc.Keyword.List(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"keywords": actions})
}

func (s *HTTPServer) createKeyword(c *gin.Context) {
	var req keywordRequest
	if err := bindJSON(c, &req); err != nil {
		s.fail(c, err)
		return
	}
	enabled := req.Enabled == nil || *req.Enabled
	action, err := s.uc.Keyword.Create(c.Request.Context(), req.Keyword, req.ActionType, req.Content, enabled)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, action)
}

func (s *HTTPServer) getKeyword(c *gin.Context) {
	id, err := idParam(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	action, err := s.uc.Keyword.Get(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, action)
}

func (s *HTTPServer) updateKeyword(c *gin.Context) {
	id, err := idParam(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	var req keywordRequest
	if err := bindJSON(c, &req); err != nil {
		s.fail(c, err)
		return
	}

	ctx := c.Request.Context()
	action := &domain.KeywordAction{
		ID:            id,
		Keyword:       req.Keyword,
		ActionType:    req.ActionType,
		ActionContent: req.Content,
	}
	if err := s.uc.Keyword.Update(ctx, action); err != nil {
		s.fail(c, err)
		return
	}
	if req.Enabled != nil {
		if err := s.uc.Keyword.SetEnabled(ctx, id, *req.Enabled); err != nil {
			s.fail(c, err)
			return
		}
	}
	updated, err := s.uc.Keyword.Get(ctx, id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *HTTPServer) setKeywordEnabled(c *gin.Context) {
	id, err := idParam(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	var req enabledRequest
	if err := bindJSON(c, &req); err != nil {
		s.fail(c, err)
		return
	}
	if err := s.uc.Keyword.SetEnabled(c.Request.Context(), id, *req.Enabled); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "enabled": *req.Enabled})
}

func (s *HTTPServer) deleteKeyword(c *gin.Context) {
	id, err := idParam(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	if err := s.uc.Keyword.Delete(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Reply counts

func (s *HTTPServer) listCounts(c *gin.Context) {
	counts, err := s.uc.RateLimit.List(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"max_replies": s.cfg.MaxReplies, "counts": counts})
}

func (s *HTTPServer) nearLimit(c *gin.Context) {
	margin, err := queryInt(c, "margin", defaultNearMargin)
	if err != nil {
		s.fail(c, err)
		return
	}
	counts, err := s.uc.RateLimit.NearLimit(c.Request.Context(), s.cfg.MaxReplies, margin)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"max_replies": s.cfg.MaxReplies, "counts": counts})
}

func (s *HTTPServer) getCount(c *gin.Context) {
	count, err := s.uc.RateLimit.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":   count,
		"reached": count.HasReached(s.cfg.MaxReplies),
	})
}

func (s *HTTPServer) resetCount(c *gin.Context) {
	if err := s.uc.RateLimit.Reset(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Device outbox

func (s *HTTPServer) pollOutbox(c *gin.Context) {
	limit, err := queryInt(c, "limit", defaultOutboxLimit)
	if err != nil {
		s.fail(c, err)
		return
	}
	if limit <= 0 {
		limit = defaultOutboxLimit
	}
	source := subjectOf(c)
	if q := c.Query("source"); q != "" && q != source {
		if !isAdmin(c) {
			s.fail(c, errors.NewForbidden("token may only read its own outbox"))
			return
		}
		source = q
	}
	entries, err := s.outbox.Pending(c.Request.Context(), source, limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"source_id": source, "entries": entries})
}

func (s *HTTPServer) ackOutbox(c *gin.Context) {
	// Entries of other sources look absent to device tokens
	owner := subjectOf(c)
	if isAdmin(c) {
		owner = ""
	}
	ok, err := s.outbox.Ack(c.Request.Context(), c.Param("id"), owner, s.clock.Now())
	if err != nil {
		s.fail(c, err)
		return
	}
	if !ok {
		s.fail(c, errors.NewNotFound("outbox entry", c.Param("id")))
		return
	}
	c.Status(http.StatusNoContent)
}

// Backups

func (s *HTTPServer) createBackup(c *gin.Context) {
	if s.uc.Backup == nil {
		s.fail(c, errors.NewUnavailable("backups are not configured"))
		return
	}
	manifest, name, err := s.uc.Backup.ExportToSink(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"name": name, "manifest": manifest})
}

func (s *HTTPServer) restoreBackup(c *gin.Context) {
	if s.uc.Backup == nil {
		s.fail(c, errors.NewUnavailable("backups are not configured"))
		return
	}
	manifest, err := s.uc.Backup.RestoreFromSink(c.Request.Context(), c.Param("name"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"manifest": manifest})
}
