package features

import (
	"context"
	"fmt"
	"html"

	"github.com/vinayprograms/chatkit/logging"
	"github.com/vinayprograms/chatkit/platform"
)

// Greeting texts.
const (
	greetingSuffix  = ", назови три любимых игры из серии Sonic the Hedgehog чтобы продолжить."
	farewellLeft    = "Кто не выдержал нашего общества? %s!"
	farewellKicked  = "Кто довыделывался? %s!"
	greetingLinkFmt = `<a href="tg://user?id=%d">%s</a>`
)

// JoinFunc observes each greeted member.
type JoinFunc func(member platform.User, chat platform.Chat)

// GreetingFeature greets new members and remarks on departures.
type GreetingFeature struct {
	client platform.Client
	onJoin JoinFunc
	logger *logging.Logger
}

// NewGreetingFeature creates a GreetingFeature. onJoin may be nil.
func NewGreetingFeature(client platform.Client, onJoin JoinFunc, logger *logging.Logger) *GreetingFeature {
	return &GreetingFeature{
		client: client,
		onJoin: onJoin,
		logger: logging.OrNop(logger).WithComponent("greeting"),
	}
}

// Name implements Handler.
func (f *GreetingFeature) Name() string {
	return "greeting"
}

// Handle implements Handler.
func (f *GreetingFeature) Handle(ctx context.Context, u *platform.Update) (bool, error) {
	switch {
	case u.Message != nil && len(u.Message.NewChatMembers) > 0:
		return true, f.greet(ctx, u.Message)
	case u.ChatMember != nil:
		return true, f.farewell(ctx, u.ChatMember)
	}
	return false, nil
}

func (f *GreetingFeature) greet(ctx context.Context, msg *platform.Message) error {
	var firstErr error
	for _, member := range msg.NewChatMembers {
		if member.IsBot {
			continue
		}
		text, opts := greetingFor(member)
		if _, err := f.client.SendText(ctx, msg.Chat.ID, text, opts); err != nil {
			f.logger.Warn("greeting failed", map[string]any{"user_id": member.ID, "error": err.Error()})
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if f.onJoin != nil {
			f.onJoin(member, msg.Chat)
		}
	}
	return firstErr
}

// greetingFor mentions by username when there is one, else links the user.
func greetingFor(member platform.User) (string, platform.SendOptions) {
	if member.Username != "" {
		return "@" + member.Username + greetingSuffix, platform.SendOptions{}
	}
	link := fmt.Sprintf(greetingLinkFmt, member.ID, html.EscapeString(member.FirstName))
	return link + greetingSuffix, platform.SendOptions{ParseMode: platform.ParseModeHTML}
}

func (f *GreetingFeature) farewell(ctx context.Context, cm *platform.ChatMemberUpdated) error {
	if cm.OldChatMember.Gone() || !cm.NewChatMember.Gone() {
		return nil
	}
	format := farewellLeft
	if cm.NewChatMember.Status == platform.StatusKicked {
		format = farewellKicked
	}
	_, err := f.client.SendText(ctx, cm.Chat.ID, fmt.Sprintf(format, mention(&cm.From)), platform.SendOptions{})
	return err
}

var _ Handler = (*GreetingFeature)(nil)
