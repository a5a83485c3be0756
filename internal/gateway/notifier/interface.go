// Package notifier delivers operational alerts to external channels.
package notifier

// TextNotifier pushes a plain text message. Implementations must be safe
// for concurrent use.
type TextNotifier interface {
	SendText(text string) error
}
