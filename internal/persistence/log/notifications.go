package log

import (
	"path/filepath"
	"time"

	"railwars.gg/internal/protocol"
)

// NotificationEntry is one relayed notification as journaled.
type NotificationEntry struct {
	At    time.Time      `json:"at"`
	Event string         `json:"event"`
	Args  map[string]any `json:"args,omitempty"`
}

// NotificationLog journals every notification the relay accepted.
type NotificationLog struct{ w *JSONLZstdWriter }

func NewNotificationLog(dir string) *NotificationLog {
	return &NotificationLog{w: NewJSONLZstdWriter(filepath.Join(dir, "notifications"), "notifications")}
}

func (l *NotificationLog) Record(n protocol.Notification) error {
	return l.w.Write(NotificationEntry{At: l.w.now().UTC(), Event: n.Name, Args: n.Args})
}

func (l *NotificationLog) Files() ([]string, error) { return l.w.Files() }
func (l *NotificationLog) Close() error             { return l.w.Close() }
