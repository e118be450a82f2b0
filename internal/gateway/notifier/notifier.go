package notifier

// TextNotifier is the minimal sink for fire-and-forget push messages.
// Components depend on it without importing a concrete implementation, and
// nothing in the trading path waits on delivery.
type TextNotifier interface {
	SendText(text string) error
}

// Noop discards every message. Used when notifications are disabled.
type Noop struct{}

func (Noop) SendText(string) error { return nil }
