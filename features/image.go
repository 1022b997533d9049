package features

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vinayprograms/chatkit/content"
	"github.com/vinayprograms/chatkit/correlation"
	chaterr "github.com/vinayprograms/chatkit/errors"
	"github.com/vinayprograms/chatkit/logging"
	"github.com/vinayprograms/chatkit/platform"
	"github.com/vinayprograms/chatkit/rotation"
)

// Image replies.
const (
	msgImageSaved        = "Рокк ебол! Картинка сохранена. Напиши в ответ «delete» чтобы удалить её."
	msgImageDeleted      = "Рокк ебол! Картинка удалена."
	msgImageDeleteFailed = "Не удалось удалить картинку"
	msgImageSaveFailed   = "Не удалось сохранить картинку"
	msgImageNone         = "Нет доступных картинок!"
	msgImageRetry        = "Хранилище картинок недоступно, попробуй позже."
	msgImageUnknownOwner = "от неизвестного"
)

// maxDrawAttempts bounds retries when the queue hands out an ID whose item
// was deleted elsewhere.
const maxDrawAttempts = 3

// SavedImage is one stored image message.
type SavedImage struct {
	ChatID    int64                `json:"chat_id"`
	MessageID int64                `json:"message_id"`
	From      *platform.User       `json:"from,omitempty"`
	Date      int64                `json:"date,omitempty"`
	Photo     []platform.PhotoSize `json:"photo,omitempty"`
	Document  *platform.Document   `json:"document,omitempty"`
	Caption   string               `json:"caption,omitempty"`
	SavedAt   int64                `json:"saved_at"`
	SavedBy   int64                `json:"saved_by"`
}

// serveCaption is the caption a served image carries.
func (s SavedImage) serveCaption() string {
	owner := msgImageUnknownOwner
	if s.From != nil {
		owner = "от " + s.From.FirstName
	}
	return s.Caption + "\n\n" + owner
}

// PendingDelete tracks a save confirmation that can still be answered with
// a delete request.
type PendingDelete struct {
	ItemID   string
	ChatID   int64
	UserID   int64
	PromptID int64
}

// NewPendingDeleteTable creates a table whose expired entries delete their
// confirmation prompt.
func NewPendingDeleteTable(client platform.Client, logger *logging.Logger, opts ...correlation.Option[PendingDelete]) *correlation.Table[PendingDelete] {
	logger = logging.OrNop(logger).WithComponent("image")
	base := []correlation.Option[PendingDelete]{
		correlation.WithName[PendingDelete]("image_delete"),
		correlation.WithLogger[PendingDelete](logger),
		correlation.WithOnExpire(func(e correlation.Entry[PendingDelete]) {
			ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
			defer cancel()
			deleteQuietly(ctx, client, logger, e.Context.ChatID, e.Context.PromptID)
		}),
	}
	return correlation.New(append(base, opts...)...)
}

// ImageConfig configures ImageFeature.
type ImageConfig struct {
	// Trigger is matched case-insensitively anywhere in the text or caption.
	Trigger string

	// DeleteWord, sent as a reply to a confirmation, deletes the image.
	DeleteWord string

	// ConfirmTTL is how long a confirmation accepts a delete request.
	ConfirmTTL time.Duration
}

// DefaultImageConfig returns the stock image settings.
func DefaultImageConfig() ImageConfig {
	return ImageConfig{
		Trigger:    "рокк ебол",
		DeleteWord: "delete",
		ConfirmTTL: 30 * time.Second,
	}
}

// ImageDeps are the collaborators of ImageFeature.
type ImageDeps struct {
	Client  platform.Client
	Images  content.Store[SavedImage]
	Queue   *rotation.Queue
	Pending *correlation.Table[PendingDelete]
	Logger  *logging.Logger
}

// ImageFeature saves images sent with the trigger phrase and serves them
// back in rotation, so every saved image appears once per cycle.
type ImageFeature struct {
	client  platform.Client
	images  content.Store[SavedImage]
	queue   *rotation.Queue
	pending *correlation.Table[PendingDelete]
	config  ImageConfig
	trigger string
	now     func() time.Time
	logger  *logging.Logger
}

// NewImageFeature creates an ImageFeature.
func NewImageFeature(deps ImageDeps, cfg ImageConfig) (*ImageFeature, error) {
	if deps.Client == nil || deps.Images == nil || deps.Queue == nil || deps.Pending == nil {
		return nil, chaterr.InvalidInput("image feature needs client, images, queue and pending table")
	}
	if strings.TrimSpace(cfg.Trigger) == "" {
		return nil, chaterr.InvalidInput("image trigger required")
	}
	if cfg.ConfirmTTL <= 0 {
		return nil, chaterr.InvalidInput("image confirm ttl must be positive")
	}
	return &ImageFeature{
		client:  deps.Client,
		images:  deps.Images,
		queue:   deps.Queue,
		pending: deps.Pending,
		config:  cfg,
		trigger: strings.ToLower(cfg.Trigger),
		now:     time.Now,
		logger:  logging.OrNop(deps.Logger).WithComponent("image"),
	}, nil
}

// Name implements Handler.
func (f *ImageFeature) Name() string {
	return "image"
}

// Handle implements Handler.
func (f *ImageFeature) Handle(ctx context.Context, u *platform.Update) (bool, error) {
	msg := u.Message
	if msg == nil {
		return false, nil
	}
	text := msg.Content()

	if msg.ReplyToMessage != nil && f.config.DeleteWord != "" &&
		strings.EqualFold(strings.TrimSpace(text), f.config.DeleteWord) {
		if handled, err := f.confirmDelete(ctx, msg); handled {
			return true, err
		}
	}

	if !strings.Contains(strings.ToLower(text), f.trigger) {
		return false, nil
	}
	if msg.HasImage() {
		return true, f.save(ctx, msg)
	}
	return true, f.serve(ctx, msg)
}

// save stores the image, adds it to the rotation and asks for confirmation.
func (f *ImageFeature) save(ctx context.Context, msg *platform.Message) error {
	now := f.now()
	id := fmt.Sprintf("%d_%d_%d", msg.Chat.ID, msg.MessageID, now.UnixMilli())

	var savedBy int64
	if msg.From != nil {
		savedBy = msg.From.ID
	}
	img := SavedImage{
		ChatID:    msg.Chat.ID,
		MessageID: msg.MessageID,
		From:      msg.From,
		Date:      msg.Date,
		Photo:     msg.Photo,
		Document:  msg.Document,
		Caption:   msg.Caption,
		SavedAt:   now.UnixMilli(),
		SavedBy:   savedBy,
	}
	if err := f.images.Put(ctx, id, img); err != nil {
		text := msgImageSaveFailed
		if chaterr.ReactionFor(err) == chaterr.ReactRetry {
			text = msgImageRetry
		}
		_, _ = replyTo(ctx, f.client, msg, text, "")
		return err
	}

	if all, err := f.images.GetAll(ctx); err == nil {
		if err := f.queue.Reconcile(ctx, content.IDs(all)); err != nil {
			f.logger.Warn("rotation reconcile failed", map[string]any{"error": err.Error()})
		}
	}

	prompt, err := replyTo(ctx, f.client, msg, msgImageSaved, "")
	if err != nil {
		return err
	}
	if prompt == nil {
		return nil
	}
	f.pending.Register(messageKey(msg.Chat.ID, prompt.MessageID), PendingDelete{
		ItemID:   id,
		ChatID:   msg.Chat.ID,
		UserID:   savedBy,
		PromptID: prompt.MessageID,
	}, f.config.ConfirmTTL)

	f.logger.Info("image saved", map[string]any{"id": id, "chat_id": msg.Chat.ID})
	return nil
}

// confirmDelete handles a delete reply. It reports false when the reply
// does not answer a pending confirmation of the same user and chat.
func (f *ImageFeature) confirmDelete(ctx context.Context, msg *platform.Message) (bool, error) {
	if msg.From == nil {
		return false, nil
	}
	key := messageKey(msg.Chat.ID, msg.ReplyToMessage.MessageID)
	p, ok := f.pending.ResolveIf(key, func(p PendingDelete) bool {
		return p.UserID == msg.From.ID && p.ChatID == msg.Chat.ID
	})
	if !ok {
		return false, nil
	}

	removed, err := f.images.Delete(ctx, p.ItemID)
	if err != nil {
		// Keep the confirmation open so the owner can retry; expiry still
		// removes the prompt.
		f.pending.Register(key, p, f.config.ConfirmTTL)
		text := msgImageDeleteFailed
		if chaterr.ReactionFor(err) == chaterr.ReactRetry {
			text = msgImageRetry
		}
		_, _ = replyTo(ctx, f.client, msg, text, "")
		return true, err
	}
	if !removed {
		_, _ = replyTo(ctx, f.client, msg, msgImageDeleteFailed, "")
		deleteQuietly(ctx, f.client, f.logger, p.ChatID, p.PromptID)
		return true, chaterr.NotFound("image already deleted", chaterr.WithMetadata("id", p.ItemID))
	}
	if err := f.queue.Remove(ctx, p.ItemID); err != nil {
		f.logger.Warn("rotation remove failed", map[string]any{"id": p.ItemID, "error": err.Error()})
	}

	_, err = replyTo(ctx, f.client, msg, msgImageDeleted, "")
	deleteQuietly(ctx, f.client, f.logger, p.ChatID, p.PromptID)
	f.logger.Info("image deleted", map[string]any{"id": p.ItemID, "chat_id": p.ChatID})
	return true, err
}

// serve sends the next image of the rotation.
func (f *ImageFeature) serve(ctx context.Context, msg *platform.Message) error {
	all, err := f.images.GetAll(ctx)
	if err != nil {
		_, _ = replyTo(ctx, f.client, msg, f.failureText(err), "")
		return err
	}
	ids := content.IDs(all)

	for range maxDrawAttempts {
		id, err := f.queue.Draw(ctx, ids)
		if err != nil {
			_, _ = replyTo(ctx, f.client, msg, f.failureText(err), "")
			if chaterr.Is(err, chaterr.ErrCodeEmptyPool) {
				return nil
			}
			return err
		}

		img, ok := all[id]
		if !ok || (len(img.Photo) == 0 && img.Document == nil) {
			if err := f.queue.Remove(ctx, id); err != nil {
				return err
			}
			continue
		}
		if err := f.send(ctx, msg.Chat.ID, img); err != nil {
			_, _ = replyTo(ctx, f.client, msg, msgImageNone, "")
			return err
		}
		return nil
	}

	_, _ = replyTo(ctx, f.client, msg, msgImageNone, "")
	return nil
}

func (f *ImageFeature) send(ctx context.Context, chatID int64, img SavedImage) error {
	opts := platform.SendOptions{Caption: img.serveCaption()}
	if photo, ok := (&platform.Message{Photo: img.Photo}).LargestPhoto(); ok {
		_, err := f.client.SendPhoto(ctx, chatID, photo.FileID, opts)
		return err
	}
	_, err := f.client.SendDocument(ctx, chatID, img.Document.FileID, opts)
	return err
}

func (f *ImageFeature) failureText(err error) string {
	if chaterr.ReactionFor(err) == chaterr.ReactRetry {
		return msgImageRetry
	}
	return msgImageNone
}

var _ Handler = (*ImageFeature)(nil)
