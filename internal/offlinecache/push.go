package offlinecache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	DefaultNotificationTitle = "Verdant"
	DefaultNotificationBody  = "You have a new notification"
	NotificationIcon         = "/icons/icon-192x192.png"
	NotificationBadge        = "/icons/badge-72x72.png"
)

// PushPayload is the JSON body of a push message. Every field is optional.
type PushPayload struct {
	Title              string `json:"title,omitempty"`
	Body               string `json:"body,omitempty"`
	URL                string `json:"url,omitempty"`
	Tag                string `json:"tag,omitempty"`
	RequireInteraction bool   `json:"requireInteraction,omitempty"`
}

type NotificationData struct {
	URL string `json:"url"`
}

type Notification struct {
	Title              string           `json:"title"`
	Body               string           `json:"body"`
	Icon               string           `json:"icon"`
	Badge              string           `json:"badge"`
	Tag                string           `json:"tag,omitempty"`
	RequireInteraction bool             `json:"requireInteraction"`
	Data               NotificationData `json:"data"`
	ShownAt            time.Time        `json:"shownAt"`
}

// ParsePush renders a push message as a notification. Malformed JSON is
// treated as an empty payload.
func ParsePush(data []byte) Notification {
	var p PushPayload
	if len(data) > 0 {
		if err := json.Unmarshal(data, &p); err != nil {
			p = PushPayload{}
		}
	}
	n := Notification{
		Title:              p.Title,
		Body:               p.Body,
		Icon:               NotificationIcon,
		Badge:              NotificationBadge,
		Tag:                p.Tag,
		RequireInteraction: p.RequireInteraction,
		Data:               NotificationData{URL: p.URL},
	}
	if strings.TrimSpace(n.Title) == "" {
		n.Title = DefaultNotificationTitle
	}
	if strings.TrimSpace(n.Body) == "" {
		n.Body = DefaultNotificationBody
	}
	if strings.TrimSpace(n.Data.URL) == "" {
		n.Data.URL = "/"
	}
	return n
}

// Notifier shows notifications to the user.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Push parses a push message and shows it.
func (w *Worker) Push(ctx context.Context, data []byte) (Notification, error) {
	n := ParsePush(data)
	n.ShownAt = w.now().UTC()
	if err := w.notifier.Notify(ctx, n); err != nil {
		return n, fmt.Errorf("offlinecache: notify: %w", err)
	}
	w.log.Debug("Notification shown", "title", n.Title, "url", n.Data.URL)
	return n, nil
}

// MemoryNotifier keeps the most recent notifications in memory.
type MemoryNotifier struct {
	limit int
	mu    sync.Mutex
	shown []Notification
}

// NewMemoryNotifier keeps at most limit notifications (50 when limit <= 0).
func NewMemoryNotifier(limit int) *MemoryNotifier {
	if limit <= 0 {
		limit = 50
	}
	return &MemoryNotifier{limit: limit}
}

func (m *MemoryNotifier) Notify(_ context.Context, n Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shown = append(m.shown, n)
	if over := len(m.shown) - m.limit; over > 0 {
		m.shown = append([]Notification(nil), m.shown[over:]...)
	}
	return nil
}

func (m *MemoryNotifier) Shown() []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Notification(nil), m.shown...)
}

// RedisNotifier publishes notifications as JSON on a pub/sub channel for
// connected page sessions.
type RedisNotifier struct {
	rdb     goredis.UniversalClient
	channel string
}

func NewRedisNotifier(rdb goredis.UniversalClient, channel string) *RedisNotifier {
	return &RedisNotifier{rdb: rdb, channel: channel}
}

func (r *RedisNotifier) Notify(ctx context.Context, n Notification) error {
	raw, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, r.channel, raw).Err()
}
