// Package slack implements provider.ChatProvider over Slack's Socket Mode,
// so the agent needs no inbound HTTP endpoint or public URL.
package slack

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"golang.org/x/time/rate"

	"github.com/pebblecode/tracewatch/internal/model"
)

// perChannelRate bounds how fast the adapter posts into any single
// channel, independent of Slack's own API-wide rate limit. The source
// material recommends a per-user/per-channel limiter live in the chat
// adapter rather than the core pipeline; this is that limiter.
const (
	perChannelRate  = rate.Limit(1) // one message per second, sustained
	perChannelBurst = 3
)

type Adapter struct {
	api    *slack.Client
	client *socketmode.Client
	done   chan struct{}

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New builds an Adapter. botToken starts with "xoxb-"; appToken starts with
// "xapp-" and must have the connections:write scope for Socket Mode.
func New(botToken, appToken string) *Adapter {
	api := slack.New(botToken, slack.OptionAppLevelToken(appToken))
	client := socketmode.New(api)
	return &Adapter{api: api, client: client, done: make(chan struct{}), limiters: make(map[string]*rate.Limiter)}
}

// limiterFor returns the per-channel limiter, creating one on first use.
func (a *Adapter) limiterFor(channelID string) *rate.Limiter {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.limiters[channelID]
	if !ok {
		l = rate.NewLimiter(perChannelRate, perChannelBurst)
		a.limiters[channelID] = l
	}
	return l
}

func (a *Adapter) Connect(ctx context.Context) error {
	go func() {
		if err := a.client.RunContext(ctx); err != nil {
			slog.ErrorContext(ctx, "slack socket mode connection ended", "error", err)
		}
		close(a.done)
	}()
	return nil
}

func (a *Adapter) Disconnect(ctx context.Context) error {
	return nil
}

// Listen translates Socket Mode events into model.ChatMessage values,
// acknowledging each event so Slack doesn't redeliver it. Only plain
// message events in monitored channels are surfaced; everything else
// (reactions, presence, etc.) is acknowledged and dropped.
func (a *Adapter) Listen(ctx context.Context) (<-chan model.ChatMessage, <-chan error) {
	messages := make(chan model.ChatMessage)
	errs := make(chan error, 1)

	go func() {
		defer close(messages)
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-a.client.Events:
				if !ok {
					return
				}
				a.handleEvent(ctx, evt, messages)
			}
		}
	}()

	return messages, errs
}

func (a *Adapter) handleEvent(ctx context.Context, evt socketmode.Event, out chan<- model.ChatMessage) {
	if evt.Type != socketmode.EventTypeEventsAPI {
		return
	}

	eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
	if !ok {
		return
	}

	if evt.Request != nil {
		a.client.Ack(*evt.Request)
	}

	inner, ok := eventsAPIEvent.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok {
		return
	}
	if inner.BotID != "" || inner.SubType != "" {
		return // ignore bot messages and edits/deletes/joins
	}

	threadID := inner.ThreadTimeStamp
	ts, err := parseSlackTimestamp(inner.TimeStamp)
	if err != nil {
		ts = time.Time{}
	}

	out <- model.ChatMessage{
		ChannelID: inner.Channel,
		MessageID: inner.TimeStamp,
		ThreadID:  threadID,
		UserID:    inner.User,
		Text:      inner.Text,
		Timestamp: ts,
		RawEvent:  map[string]any{"type": inner.Type},
	}
}

func (a *Adapter) SendReply(ctx context.Context, reply model.ChatReply) (string, error) {
	if err := a.limiterFor(reply.ChannelID).Wait(ctx); err != nil {
		return "", fmt.Errorf("slack send_reply: rate limit wait: %w", err)
	}

	opts := []slack.MsgOption{slack.MsgOptionText(reply.Text, false)}
	if reply.ThreadID != "" {
		opts = append(opts, slack.MsgOptionTS(reply.ThreadID))
	}

	_, timestamp, err := a.api.PostMessageContext(ctx, reply.ChannelID, opts...)
	if err != nil {
		return "", fmt.Errorf("slack send_reply: %w", err)
	}
	return timestamp, nil
}

func (a *Adapter) AddReaction(ctx context.Context, channelID, messageID, reaction string) error {
	ref := slack.NewRefToMessage(channelID, messageID)
	if err := a.api.AddReactionContext(ctx, reaction, ref); err != nil {
		return fmt.Errorf("slack add_reaction: %w", err)
	}
	return nil
}

func (a *Adapter) RemoveReaction(ctx context.Context, channelID, messageID, reaction string) error {
	ref := slack.NewRefToMessage(channelID, messageID)
	if err := a.api.RemoveReactionContext(ctx, reaction, ref); err != nil {
		return fmt.Errorf("slack remove_reaction: %w", err)
	}
	return nil
}

func parseSlackTimestamp(ts string) (time.Time, error) {
	var sec, nsec int64
	if _, err := fmt.Sscanf(ts, "%d.%d", &sec, &nsec); err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, nsec*1000), nil
}
