package limiter

import "time"

// Event describes one completed check.
type Event struct {
	Time       time.Time `json:"time"`
	Algorithm  Algorithm `json:"algorithm"`
	Identifier string    `json:"identifier"`
	Result     Result    `json:"result"`
	// Degraded is set when the store failed and the failure policy decided.
	Degraded bool `json:"degraded"`
}

// Observer receives check events. Observe is called synchronously on the
// checking goroutine and must not block.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }
