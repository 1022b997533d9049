// Package platform is the boundary to the chat platform.
//
// Features talk to a Client and receive Updates from a Source. Both are
// small contracts; the concrete adapters here are a JSON-lines Stdio harness
// for local runs, a rate-limited Throttled wrapper and a Recorder for tests.
package platform

import (
	"context"
	"errors"
	"fmt"
)

// ErrClosed is returned by adapters after Close.
var ErrClosed = errors.New("platform closed")

// API method names, as written by Stdio and recorded by Recorder.
const (
	MethodSendMessage          = "sendMessage"
	MethodSendPhoto            = "sendPhoto"
	MethodSendDocument         = "sendDocument"
	MethodForwardMessage       = "forwardMessage"
	MethodDeleteMessage        = "deleteMessage"
	MethodSendChatAction       = "sendChatAction"
	MethodDeleteStickerFromSet = "deleteStickerFromSet"
)

// Parse modes.
const (
	ParseModeHTML = "HTML"
)

// SendOptions modifies an outgoing message.
type SendOptions struct {
	ReplyTo   int64
	ParseMode string
	Caption   string
}

// Client performs chat platform actions.
type Client interface {
	SendText(ctx context.Context, chatID int64, text string, opts SendOptions) (*Message, error)
	SendPhoto(ctx context.Context, chatID int64, fileID string, opts SendOptions) (*Message, error)
	SendDocument(ctx context.Context, chatID int64, fileID string, opts SendOptions) (*Message, error)
	Forward(ctx context.Context, toChatID, fromChatID, messageID int64) (*Message, error)
	Delete(ctx context.Context, chatID, messageID int64) error
	SendChatAction(ctx context.Context, chatID int64, action string) error
	DeleteStickerFromSet(ctx context.Context, fileID string) error
}

// Source delivers inbound updates.
type Source interface {
	// Updates returns the update channel. It is closed when the source stops.
	Updates() <-chan *Update

	// Run pumps updates until ctx is done or input ends.
	Run(ctx context.Context) error
}

// Call is one platform API invocation.
type Call struct {
	Method     string `json:"method"`
	ChatID     int64  `json:"chat_id,omitempty"`
	FromChatID int64  `json:"from_chat_id,omitempty"`
	MessageID  int64  `json:"message_id,omitempty"`
	Text       string `json:"text,omitempty"`
	FileID     string `json:"file_id,omitempty"`
	Caption    string `json:"caption,omitempty"`
	ParseMode  string `json:"parse_mode,omitempty"`
	ReplyTo    int64  `json:"reply_to_message_id,omitempty"`
	Action     string `json:"action,omitempty"`
}

// Caller executes a Call. Adapters implement Caller and get a Client from
// NewClient.
type Caller interface {
	Call(ctx context.Context, call Call) (*Message, error)
}

// APIError is a platform rejection.
type APIError struct {
	Method      string
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %d %s", e.Method, e.Code, e.Description)
}

// NewClient adapts a Caller to the Client interface.
func NewClient(c Caller) Client {
	return callClient{c}
}

type callClient struct {
	caller Caller
}

func (c callClient) SendText(ctx context.Context, chatID int64, text string, opts SendOptions) (*Message, error) {
	return c.caller.Call(ctx, Call{
		Method:    MethodSendMessage,
		ChatID:    chatID,
		Text:      text,
		ParseMode: opts.ParseMode,
		ReplyTo:   opts.ReplyTo,
	})
}

func (c callClient) SendPhoto(ctx context.Context, chatID int64, fileID string, opts SendOptions) (*Message, error) {
	return c.caller.Call(ctx, Call{
		Method:    MethodSendPhoto,
		ChatID:    chatID,
		FileID:    fileID,
		Caption:   opts.Caption,
		ParseMode: opts.ParseMode,
		ReplyTo:   opts.ReplyTo,
	})
}

func (c callClient) SendDocument(ctx context.Context, chatID int64, fileID string, opts SendOptions) (*Message, error) {
	return c.caller.Call(ctx, Call{
		Method:    MethodSendDocument,
		ChatID:    chatID,
		FileID:    fileID,
		Caption:   opts.Caption,
		ParseMode: opts.ParseMode,
		ReplyTo:   opts.ReplyTo,
	})
}

func (c callClient) Forward(ctx context.Context, toChatID, fromChatID, messageID int64) (*Message, error) {
	return c.caller.Call(ctx, Call{
		Method:     MethodForwardMessage,
		ChatID:     toChatID,
		FromChatID: fromChatID,
		MessageID:  messageID,
	})
}

func (c callClient) Delete(ctx context.Context, chatID, messageID int64) error {
	_, err := c.caller.Call(ctx, Call{
		Method:    MethodDeleteMessage,
		ChatID:    chatID,
		MessageID: messageID,
	})
	return err
}

func (c callClient) SendChatAction(ctx context.Context, chatID int64, action string) error {
	_, err := c.caller.Call(ctx, Call{
		Method: MethodSendChatAction,
		ChatID: chatID,
		Action: action,
	})
	return err
}

func (c callClient) DeleteStickerFromSet(ctx context.Context, fileID string) error {
	_, err := c.caller.Call(ctx, Call{
		Method: MethodDeleteStickerFromSet,
		FileID: fileID,
	})
	return err
}
