package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"

	"github.com/miniware/assistbot/pkg/logger"
)

// Subscription errors.
var (
	// ErrInvalidCron means the cron expression did not validate.
	ErrInvalidCron = fmt.Errorf("invalid cron expression")
	// ErrUnknownTopic means no topic function is registered for the name.
	ErrUnknownTopic = fmt.Errorf("unknown subscription topic")
)

// Subscription is a recurring content delivery: "send me a quote every
// morning at nine".
type Subscription struct {
	ID        string    `json:"id"`
	Channel   string    `json:"channel"`
	ChatID    string    `json:"chat_id"`
	Expr      string    `json:"expr"` // standard 5-field cron expression
	Topic     string    `json:"topic"`
	CreatedAt time.Time `json:"created_at"`

	nextAt time.Time
}

// TopicFunc produces the content for one subscription firing.
type TopicFunc func(ctx context.Context) (string, error)

// CronService fires subscriptions on their cron schedule. It reuses the
// scheduler's Sender for delivery; content comes from registered topics.
type CronService struct {
	sender Sender
	store  Store // nil means memory-only
	gron   *gronx.Gronx
	now    func() time.Time

	mu     sync.Mutex
	subs   map[string]*Subscription
	topics map[string]TopicFunc
	wake   chan struct{}
}

// NewCronService creates a cron service. store may be nil.
func NewCronService(sender Sender, store Store) *CronService {
	return &CronService{
		sender: sender,
		store:  store,
		gron:   gronx.New(),
		now:    time.Now,
		subs:   make(map[string]*Subscription),
		topics: make(map[string]TopicFunc),
		wake:   make(chan struct{}, 1),
	}
}

// RegisterTopic binds a content producer to a topic name.
func (c *CronService) RegisterTopic(name string, fn TopicFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics[name] = fn
}

// Topics returns the registered topic names.
func (c *CronService) Topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.topics))
	for name := range c.topics {
		out = append(out, name)
	}
	return out
}

// Subscribe adds a recurring delivery for a chat.
func (c *CronService) Subscribe(channel, chatID, expr, topic string) (string, error) {
	if !c.gron.IsValid(expr) {
		return "", fmt.Errorf("%w: %q", ErrInvalidCron, expr)
	}

	c.mu.Lock()
	if _, ok := c.topics[topic]; !ok {
		c.mu.Unlock()
		return "", fmt.Errorf("%w: %q", ErrUnknownTopic, topic)
	}

	sub := &Subscription{
		ID:        uuid.NewString(),
		Channel:   channel,
		ChatID:    chatID,
		Expr:      expr,
		Topic:     topic,
		CreatedAt: c.now(),
	}
	sub.nextAt, _ = gronx.NextTickAfter(expr, c.now(), false)
	c.subs[sub.ID] = sub
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.SaveSubscription(sub); err != nil {
			logger.WarnCF("cron", "Could not persist subscription", map[string]interface{}{
				"id": sub.ID, "error": err.Error(),
			})
		}
	}

	c.poke()
	return sub.ID, nil
}

// Unsubscribe removes all subscriptions for a chat, returning the count.
func (c *CronService) Unsubscribe(chatID string) int {
	c.mu.Lock()
	removed := 0
	for id, sub := range c.subs {
		if sub.ChatID == chatID {
			delete(c.subs, id)
			removed++
		}
	}
	c.mu.Unlock()

	if c.store != nil && removed > 0 {
		if _, err := c.store.DeleteSubscriptions(chatID); err != nil {
			logger.WarnCF("cron", "Could not delete persisted subscriptions", map[string]interface{}{
				"chat_id": chatID, "error": err.Error(),
			})
		}
	}
	return removed
}

// Restore loads persisted subscriptions.
func (c *CronService) Restore() error {
	if c.store == nil {
		return nil
	}
	subs, err := c.store.Subscriptions()
	if err != nil {
		return fmt.Errorf("restore subscriptions: %w", err)
	}

	c.mu.Lock()
	for _, sub := range subs {
		sub.nextAt, _ = gronx.NextTickAfter(sub.Expr, c.now(), false)
		c.subs[sub.ID] = sub
	}
	c.mu.Unlock()

	if len(subs) > 0 {
		logger.InfoCF("cron", "Restored subscriptions", map[string]interface{}{"count": len(subs)})
	}
	c.poke()
	return nil
}

// Run fires due subscriptions until ctx is done.
func (c *CronService) Run(ctx context.Context) {
	logger.InfoC("cron", "Subscription loop started")
	timer := time.NewTimer(time.Minute)
	defer timer.Stop()

	for {
		due, next := c.collectDue()
		for _, sub := range due {
			go c.fire(ctx, sub)
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		wait := time.Minute
		if !next.IsZero() {
			wait = next.Sub(c.now())
			if wait < 0 {
				wait = 0
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			logger.InfoC("cron", "Subscription loop stopped")
			return
		case <-timer.C:
		case <-c.wake:
		}
	}
}

// collectDue returns due subscriptions (advancing their next tick) and the
// earliest upcoming tick.
func (c *CronService) collectDue() ([]*Subscription, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var due []*Subscription
	var next time.Time
	for _, sub := range c.subs {
		if sub.nextAt.IsZero() {
			continue
		}
		if !sub.nextAt.After(now) {
			due = append(due, sub)
			sub.nextAt, _ = gronx.NextTickAfter(sub.Expr, now, false)
		}
		if next.IsZero() || sub.nextAt.Before(next) {
			next = sub.nextAt
		}
	}
	return due, next
}

func (c *CronService) fire(ctx context.Context, sub *Subscription) {
	c.mu.Lock()
	topic := c.topics[sub.Topic]
	c.mu.Unlock()
	if topic == nil {
		logger.WarnCF("cron", "Subscription topic vanished", map[string]interface{}{"topic": sub.Topic})
		return
	}

	content, err := topic(ctx)
	if err != nil {
		logger.ErrorCF("cron", "Topic content failed", map[string]interface{}{
			"topic": sub.Topic, "chat_id": sub.ChatID, "error": err.Error(),
		})
		return
	}

	if err := c.sender(sub.Channel, sub.ChatID, content); err != nil {
		logger.ErrorCF("cron", "Subscription delivery failed", map[string]interface{}{
			"id": sub.ID, "chat_id": sub.ChatID, "error": err.Error(),
		})
	}
}

func (c *CronService) poke() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}
