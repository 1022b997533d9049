package platform

import "strings"

// User is a chat participant.
type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

// Chat identifies a conversation.
type Chat struct {
	ID    int64  `json:"id"`
	Type  string `json:"type,omitempty"`
	Title string `json:"title,omitempty"`
}

// PhotoSize is one resolution of a photo.
type PhotoSize struct {
	FileID       string `json:"file_id"`
	FileUniqueID string `json:"file_unique_id,omitempty"`
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
	FileSize     int    `json:"file_size,omitempty"`
}

// Document is a general file attachment.
type Document struct {
	FileID       string `json:"file_id"`
	FileUniqueID string `json:"file_unique_id,omitempty"`
	FileName     string `json:"file_name,omitempty"`
	MimeType     string `json:"mime_type,omitempty"`
}

// IsImage reports whether the document carries an image MIME type.
func (d *Document) IsImage() bool {
	return d != nil && strings.HasPrefix(d.MimeType, "image/")
}

// Sticker is a sticker attachment.
type Sticker struct {
	FileID       string `json:"file_id"`
	FileUniqueID string `json:"file_unique_id"`
	SetName      string `json:"set_name,omitempty"`
}

// Media is an attachment the engine only checks for presence.
type Media struct {
	FileID string `json:"file_id"`
}

// Message is an inbound or sent chat message.
type Message struct {
	MessageID      int64       `json:"message_id"`
	From           *User       `json:"from,omitempty"`
	Chat           Chat        `json:"chat"`
	Date           int64       `json:"date,omitempty"`
	Text           string      `json:"text,omitempty"`
	Caption        string      `json:"caption,omitempty"`
	Photo          []PhotoSize `json:"photo,omitempty"`
	Document       *Document   `json:"document,omitempty"`
	Sticker        *Sticker    `json:"sticker,omitempty"`
	Animation      *Media      `json:"animation,omitempty"`
	Video          *Media      `json:"video,omitempty"`
	ReplyToMessage *Message    `json:"reply_to_message,omitempty"`
	NewChatMembers []User      `json:"new_chat_members,omitempty"`
}

// Content returns the text, or the caption for media messages.
func (m *Message) Content() string {
	if m.Text != "" {
		return m.Text
	}
	return m.Caption
}

// HasImage reports whether the message carries a photo or an image document.
func (m *Message) HasImage() bool {
	return len(m.Photo) > 0 || m.Document.IsImage()
}

// LargestPhoto returns the last (largest) photo size.
func (m *Message) LargestPhoto() (PhotoSize, bool) {
	if len(m.Photo) == 0 {
		return PhotoSize{}, false
	}
	return m.Photo[len(m.Photo)-1], true
}

// Chat member statuses.
const (
	StatusCreator       = "creator"
	StatusAdministrator = "administrator"
	StatusMember        = "member"
	StatusRestricted    = "restricted"
	StatusLeft          = "left"
	StatusKicked        = "kicked"
)

// ChatMember is a user's membership in a chat.
type ChatMember struct {
	User   User   `json:"user"`
	Status string `json:"status"`
}

// Gone reports whether the member is no longer in the chat.
func (c ChatMember) Gone() bool {
	return c.Status == StatusLeft || c.Status == StatusKicked
}

// ChatMemberUpdated reports a membership change.
type ChatMemberUpdated struct {
	Chat          Chat       `json:"chat"`
	From          User       `json:"from"`
	Date          int64      `json:"date,omitempty"`
	OldChatMember ChatMember `json:"old_chat_member"`
	NewChatMember ChatMember `json:"new_chat_member"`
}

// Update is one inbound event.
type Update struct {
	UpdateID   int64              `json:"update_id"`
	Message    *Message           `json:"message,omitempty"`
	ChatMember *ChatMemberUpdated `json:"chat_member,omitempty"`
}

// ChatID returns the chat the update belongs to, or 0.
func (u *Update) ChatID() int64 {
	switch {
	case u.Message != nil:
		return u.Message.Chat.ID
	case u.ChatMember != nil:
		return u.ChatMember.Chat.ID
	}
	return 0
}

// Kind names the update type for logs and spans.
func (u *Update) Kind() string {
	switch {
	case u.Message != nil:
		return "message"
	case u.ChatMember != nil:
		return "chat_member"
	}
	return "unknown"
}
