package alert

// Dispatcher fans notable events out to the webhook destinations whose
// Events filter matches. A nil Dispatcher is valid and drops everything.
type Dispatcher struct {
	destinations []Config
}

// NewDispatcher builds a Dispatcher. Empty config yields nil so callers
// can wire alerting unconditionally and nil-check at dispatch time.
func NewDispatcher(destinations []Config) *Dispatcher {
	if len(destinations) == 0 {
		return nil
	}
	return &Dispatcher{destinations: destinations}
}

// Dispatch delivers the event to every matching destination. Delivery is
// asynchronous; screening and negotiation never wait on a webhook.
func (d *Dispatcher) Dispatch(event Event) {
	if d == nil {
		return
	}
	for _, dest := range d.destinations {
		if dest.wants(event) {
			go func(cfg Config) { _ = Send(cfg, event) }(dest)
		}
	}
}

// wants reports whether the destination's Events filter covers the event.
// An empty filter covers everything.
func (c Config) wants(event Event) bool {
	if len(c.Events) == 0 {
		return true
	}
	for _, e := range c.Events {
		if e == event.Decision || (event.Type != "" && e == event.Type) {
			return true
		}
	}
	return false
}
