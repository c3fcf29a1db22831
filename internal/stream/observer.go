package stream

import "time"

// Observer is notified of subscription lifecycle and delivery activity.
// Implementations must be safe for concurrent use and must not block.
type Observer interface {
	SubscriptionStarted(topic string)
	SubscriptionEnded(topic, state string, lifetime time.Duration)
	EventDelivered(topic string)
	CallbackFailed(topic string)
	GetCompleted(topic, outcome string)
}

// Get outcomes reported to Observer.GetCompleted.
const (
	OutcomeEvent    = "event"
	OutcomeTimeout  = "timeout"
	OutcomeClosed   = "closed"
	OutcomeError    = "error"
	OutcomeCanceled = "canceled"
)

type nopObserver struct{}

func (nopObserver) SubscriptionStarted(string) {}
func (nopObserver) SubscriptionEnded(string, string, time.Duration) {}
func (nopObserver) EventDelivered(string) {}
func (nopObserver) CallbackFailed(string) {}
func (nopObserver) GetCompleted(string, string) {}
