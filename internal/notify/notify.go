// Package notify is the side-channel through which the bridge tells the user
// about failures: snack-style messages and the persistent access banner.
package notify

import (
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
)

// Type classifies a notification.
type Type string

const (
	TypeError  Type = "ERROR"
	TypeCustom Type = "CUSTOM"
	TypeBanner Type = "BANNER"
)

// Action is a user-triggerable follow-up, such as the banner's unblock
// button.
type Action struct {
	Label string
	Fn    func()
}

// Notification is a single user-visible message.
type Notification struct {
	ID      string
	Type    Type
	Message string
	Icon    string
	Action  *Action
}

// Notifier delivers notifications to the user.
type Notifier interface {
	Notify(n Notification)
}

// Func adapts a plain function to Notifier.
type Func func(Notification)

func (f Func) Notify(n Notification) { f(n) }

var strict = bluemonday.StrictPolicy()

// Sanitize strips markup from n.Message. Host error texts can carry HTML
// error pages and must never be rendered as markup.
func Sanitize(n Notification) Notification {
	n.Message = strict.Sanitize(n.Message)
	return n
}

// LogNotifier writes notifications to a zap logger.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a notifier backed by logger
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger.Named("notify")}
}

func (l *LogNotifier) Notify(n Notification) {
	n = Sanitize(n)
	fields := []zap.Field{zap.String("type", string(n.Type))}
	if n.ID != "" {
		fields = append(fields, zap.String("id", n.ID))
	}
	if n.Action != nil {
		fields = append(fields, zap.String("action", n.Action.Label))
	}
	if n.Type == TypeError {
		l.logger.Error(n.Message, fields...)
		return
	}
	l.logger.Info(n.Message, fields...)
}

// Recorder keeps every notification in memory.
type Recorder struct {
	mu    sync.Mutex
	items []Notification
}

func (r *Recorder) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, Sanitize(n))
}

// All returns a copy of the recorded notifications.
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.items))
	copy(out, r.items)
	return out
}

// OfType returns the recorded notifications of type t.
func (r *Recorder) OfType(t Type) []Notification {
	var out []Notification
	for _, n := range r.All() {
		if n.Type == t {
			out = append(out, n)
		}
	}
	return out
}
