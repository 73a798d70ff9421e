package vm

import "time"

// Event records one spirit lifecycle transition.
type Event struct {
	Spirit SpiritID
	Parent SpiritID
	Ritual string
	State  State
	// Detail is the display form of a completed spirit's value or the
	// message of a failed spirit's error.
	Detail string
	Time   time.Time
}

// Observer receives lifecycle events. Observe is called from many
// goroutines at once.
type Observer interface {
	Observe(Event)
}

func (c *Coven) emit(s *Spirit, state State, detail string) {
	if c.cfg.Observer == nil {
		return
	}
	c.cfg.Observer.Observe(Event{
		Spirit: s.id,
		Parent: s.ParentID(),
		Ritual: s.ritual,
		State:  state,
		Detail: detail,
		Time:   time.Now(),
	})
}
