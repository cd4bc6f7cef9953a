package chartsynth

import "github.com/lumaviz/chartsynth/internal/eventbus"

// WithEventBus sets the event bus component.
func WithEventBus(bus eventbus.EventBus) Option {
	return func(p *Pipeline) {
		p.eventBus = bus
	}
}
