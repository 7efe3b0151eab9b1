package engine

import "log/slog"

// NoticeLevel grades a user-visible notice.
type NoticeLevel int

const (
	NoticeInfo NoticeLevel = iota
	NoticeWarning
	NoticeError
)

func (l NoticeLevel) String() string {
	switch l {
	case NoticeWarning:
		return "warning"
	case NoticeError:
		return "error"
	default:
		return "info"
	}
}

// Notifier surfaces user-visible notices: an immediate one when a mutation
// cannot be saved, a delayed one naming the destination when a mutation is
// dropped. Transient failures never produce a notice.
type Notifier interface {
	Notice(level NoticeLevel, message string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(level NoticeLevel, message string)

// Notice implements Notifier.
func (fn NotifierFunc) Notice(level NoticeLevel, message string) {
	fn(level, message)
}

// logNotifier writes notices to the default slog logger.
type logNotifier struct{}

func (logNotifier) Notice(level NoticeLevel, message string) {
	switch level {
	case NoticeError:
		slog.Error("notice", "message", message)
	case NoticeWarning:
		slog.Warn("notice", "message", message)
	default:
		slog.Info("notice", "message", message)
	}
}
