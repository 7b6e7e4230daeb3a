package feishu

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	"github.com/larksuite/oapi-sdk-go/v3/event/dispatcher"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	larkws "github.com/larksuite/oapi-sdk-go/v3/ws"
	"go.uber.org/zap"
)

// Message represents a received Feishu message
type Message struct {
	ChatID     string
	MsgID      string
	MsgType    string // text, post, image, file, ...
	ChatType   string // p2p, group
	SenderID   string // open_id of the sender
	Text       string // Flattened text content
	CreateTime time.Time
}

// MessageHandler is the callback for received messages
type MessageHandler func(ctx context.Context, msg *Message)

// Client wraps the lark IM API and the websocket event stream
type Client struct {
	appID     string
	appSecret string
	larkCli   *lark.Client
	onMessage MessageHandler
	logger    *zap.Logger
}

// NewClient creates a new Feishu client. Sending works without Start.
func NewClient(appID, appSecret string, logger *zap.Logger) *Client {
	return &Client{
		appID:     appID,
		appSecret: appSecret,
		larkCli:   lark.NewClient(appID, appSecret),
		logger:    logger.Named("feishu"),
	}
}

// OnMessage sets the message handler
func (c *Client) OnMessage(handler MessageHandler) {
	c.onMessage = handler
}

// Start connects via websocket and blocks until ctx is done
func (c *Client) Start(ctx context.Context) error {
	// The SDK acks only after the callback returns, so handling runs in a goroutine
	eventHandler := dispatcher.NewEventDispatcher("", "").
		OnP2MessageReceiveV1(func(_ context.Context, event *larkim.P2MessageReceiveV1) error {
			go c.handleEvent(ctx, event)
			return nil
		})

	wsCli := larkws.NewClient(c.appID, c.appSecret,
		larkws.WithEventHandler(eventHandler),
		larkws.WithLogLevel(larkcore.LogLevelInfo),
	)

	c.logger.Info("Connecting to Feishu websocket")
	// wsCli.Start does not return once connected
	errCh := make(chan error, 1)
	go func() { errCh <- wsCli.Start(ctx) }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("feishu websocket: %w", err)
		}
		return nil
	}
}

func (c *Client) handleEvent(ctx context.Context, event *larkim.P2MessageReceiveV1) {
	msg := messageFromEvent(event)
	if msg == nil || c.onMessage == nil {
		return
	}
	c.logger.Debug("Received message",
		zap.String("chat_id", msg.ChatID),
		zap.String("msg_id", msg.MsgID),
		zap.String("type", msg.MsgType),
	)
	c.onMessage(ctx, msg)
}

// messageFromEvent converts an event, nil for bot-sent or malformed events
func messageFromEvent(event *larkim.P2MessageReceiveV1) *Message {
	if event == nil || event.Event == nil || event.Event.Message == nil {
		return nil
	}
	if s := event.Event.Sender; s != nil && s.SenderType != nil && *s.SenderType == "app" {
		return nil
	}

	raw := event.Event.Message
	msg := &Message{
		ChatID:     larkcore.StringValue(raw.ChatId),
		MsgID:      larkcore.StringValue(raw.MessageId),
		MsgType:    larkcore.StringValue(raw.MessageType),
		ChatType:   larkcore.StringValue(raw.ChatType),
		CreateTime: time.Now(),
	}
	if s := event.Event.Sender; s != nil && s.SenderId != nil {
		msg.SenderID = larkcore.StringValue(s.SenderId.OpenId)
	}
	// Feishu timestamps are millisecond strings
	if ms, err := strconv.ParseInt(larkcore.StringValue(raw.CreateTime), 10, 64); err == nil {
		msg.CreateTime = time.UnixMilli(ms)
	}
	msg.Text = ParseContent(msg.MsgType, larkcore.StringValue(raw.Content))
	if msg.ChatID == "" || msg.MsgID == "" {
		return nil
	}
	return msg
}

// ParseContent flattens a message body into plain text
func ParseContent(msgType, content string) string {
	switch msgType {
	case "text":
		var parsed struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal([]byte(content), &parsed); err != nil {
			return ""
		}
		return strings.TrimSpace(parsed.Text)
	case "post":
		return parsePost(content)
	case "image":
		return "[image]"
	case "file", "media":
		return "[file]"
	default:
		return ""
	}
}

func parsePost(content string) string {
	var parsed struct {
		Title   string `json:"title"`
		Content [][]struct {
			Tag  string `json:"tag"`
			Text string `json:"text,omitempty"`
		} `json:"content"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return ""
	}

	var lines []string
	if parsed.Title != "" {
		lines = append(lines, parsed.Title)
	}
	for _, line := range parsed.Content {
		var b strings.Builder
		for _, elem := range line {
			if elem.Tag == "text" || elem.Tag == "a" {
				b.WriteString(elem.Text)
			}
		}
		if b.Len() > 0 {
			lines = append(lines, b.String())
		}
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// SendText sends a text message to a chat
func (c *Client) SendText(ctx context.Context, chatID, text string) error {
	content, _ := json.Marshal(map[string]string{"text": text})
	return c.send(ctx, chatID, larkim.MsgTypeText, string(content))
}

// SendImage uploads a local image and sends it to a chat
func (c *Client) SendImage(ctx context.Context, chatID, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	req := larkim.NewCreateImageReqBuilder().
		Body(larkim.NewCreateImageReqBodyBuilder().
			ImageType(larkim.ImageTypeMessage).
			Image(f).
			Build()).
		Build()
	resp, err := c.larkCli.Im.Image.Create(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to upload image: %w", err)
	}
	if !resp.Success() {
		return fmt.Errorf("upload image error: %s", resp.Msg)
	}

	content, _ := json.Marshal(map[string]string{"image_key": larkcore.StringValue(resp.Data.ImageKey)})
	return c.send(ctx, chatID, larkim.MsgTypeImage, string(content))
}

// SendFile uploads a local video and sends it to a chat as a file message
func (c *Client) SendFile(ctx context.Context, chatID, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	req := larkim.NewCreateFileReqBuilder().
		Body(larkim.NewCreateFileReqBodyBuilder().
			FileType(larkim.FileTypeMp4).
			FileName(filepath.Base(path)).
			File(f).
			Build()).
		Build()
	resp, err := c.larkCli.Im.File.Create(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to upload file: %w", err)
	}
	if !resp.Success() {
		return fmt.Errorf("upload file error: %s", resp.Msg)
	}

	content, _ := json.Marshal(map[string]string{"file_key": larkcore.StringValue(resp.Data.FileKey)})
	return c.send(ctx, chatID, larkim.MsgTypeFile, string(content))
}

func (c *Client) send(ctx context.Context, chatID, msgType, content string) error {
	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(larkim.ReceiveIdTypeChatId).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(chatID).
			MsgType(msgType).
			Content(content).
			Build()).
		Build()

	resp, err := c.larkCli.Im.Message.Create(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	if !resp.Success() {
		return fmt.Errorf("send message error: %s", resp.Msg)
	}
	c.logger.Debug("Sent message", zap.String("chat_id", chatID), zap.String("type", msgType))
	return nil
}
