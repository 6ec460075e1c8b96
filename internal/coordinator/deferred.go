package coordinator

const actionSync = "sync"

// deferredActions is an ordered set of named actions to run once a session
// exists. Deferring a name that is already queued replaces its action in
// place.
type deferredActions struct {
	items []deferredAction
}

type deferredAction struct {
	name string
	fn   func()
}

func (d *deferredActions) add(name string, fn func()) {
	for i := range d.items {
		if d.items[i].name == name {
			d.items[i].fn = fn
			return
		}
	}
	d.items = append(d.items, deferredAction{name: name, fn: fn})
}

func (d *deferredActions) has(name string) bool {
	for _, it := range d.items {
		if it.name == name {
			return true
		}
	}
	return false
}

func (d *deferredActions) remove(name string) {
	for i, it := range d.items {
		if it.name == name {
			d.items = append(d.items[:i], d.items[i+1:]...)
			return
		}
	}
}

func (d *deferredActions) clear() {
	d.items = nil
}

// run takes every queued action and runs it in order.
func (d *deferredActions) run() {
	items := d.items
	d.items = nil
	for _, it := range items {
		it.fn()
	}
}
