// Package subscribe tracks which connections want broadcast delivery of
// service or environment events (§4.D). A connection that issues
// LISTENSV or LISTENENV receives every future event of that category,
// regardless of whether it holds a handle to the affected service.
//
// Broadcast subscription is independent of the implicit delivery a
// connection already gets for any service it holds an open handle to —
// that rule lives in the event emitter, which consults each
// connection's handle table directly. This package only answers "is
// this connection a broadcast listener", leaving per-handle delivery to
// the caller.
package subscribe

// Kind names one of the two broadcast categories a connection can
// opt into.
type Kind uint8

const (
	ServiceEvents Kind = iota
	EnvironmentEvents
)

// Flags records one connection's broadcast subscriptions.
type Flags struct {
	ServiceEvents     bool
	EnvironmentEvents bool
}

// Registry maps connection identifiers to their broadcast subscription
// flags. K is typically a *conn.Conn pointer; the registry itself has
// no notion of what a connection is beyond a comparable key.
type Registry[K comparable] struct {
	subs map[K]Flags
}

func NewRegistry[K comparable]() *Registry[K] {
	return &Registry[K]{subs: make(map[K]Flags)}
}

// Listen sets the flag named by kind for id, registering it if this is
// its first subscription. LISTENSV and LISTENENV both always ACK, so
// this never fails.
func (r *Registry[K]) Listen(id K, kind Kind) {
	f := r.subs[id]
	switch kind {
	case ServiceEvents:
		f.ServiceEvents = true
	case EnvironmentEvents:
		f.EnvironmentEvents = true
	}
	r.subs[id] = f
}

// Flags returns id's current subscription flags (the zero value if id
// has never subscribed to anything).
func (r *Registry[K]) Flags(id K) Flags {
	return r.subs[id]
}

// Remove drops id's subscription state, called when a connection closes.
func (r *Registry[K]) Remove(id K) {
	delete(r.subs, id)
}

// Subscribed returns every registered id that has opted into kind.
func (r *Registry[K]) Subscribed(kind Kind) []K {
	var out []K
	for id, f := range r.subs {
		switch kind {
		case ServiceEvents:
			if f.ServiceEvents {
				out = append(out, id)
			}
		case EnvironmentEvents:
			if f.EnvironmentEvents {
				out = append(out, id)
			}
		}
	}
	return out
}
