package websocket

// subscriptionEntry is the logical subscription that outlives connections.
type subscriptionEntry struct {
	id          SubscriptionID
	destination string
	headers     Headers
	handler     Handler
}

// subscriptions tracks desired entries and their live bindings for the current connection.
// It is not safe for concurrent use; the client serializes access.
type subscriptions struct {
	nextID  SubscriptionID
	desired map[SubscriptionID]*subscriptionEntry
	order   []SubscriptionID
	active  map[SubscriptionID]Binding
}

// newSubscriptions creates a subscription tracker.
func newSubscriptions() *subscriptions {
	return &subscriptions{
		desired: make(map[SubscriptionID]*subscriptionEntry),
		active:  make(map[SubscriptionID]Binding),
	}
}

// Add stores a new entry under a freshly allocated id.
func (s *subscriptions) Add(destination string, handler Handler, headers Headers) *subscriptionEntry {
	s.nextID++
	entry := &subscriptionEntry{
		id:          s.nextID,
		destination: destination,
		headers:     headers.Clone(),
		handler:     handler,
	}
	s.desired[entry.id] = entry
	s.order = append(s.order, entry.id)
	return entry
}

// Remove deletes an entry and returns its live binding, if any.
// ok is false when the id is unknown, e.g. on a second removal.
func (s *subscriptions) Remove(id SubscriptionID) (binding Binding, ok bool) {
	if _, ok = s.desired[id]; !ok {
		return nil, false
	}
	delete(s.desired, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	binding = s.active[id]
	delete(s.active, id)
	return binding, true
}

// Get returns the entry for id.
func (s *subscriptions) Get(id SubscriptionID) (*subscriptionEntry, bool) {
	entry, ok := s.desired[id]
	return entry, ok
}

// MarkActive records the live binding of an entry.
func (s *subscriptions) MarkActive(id SubscriptionID, binding Binding) {
	if _, ok := s.desired[id]; !ok {
		return
	}
	s.active[id] = binding
}

// Active returns the live binding of an entry.
func (s *subscriptions) Active(id SubscriptionID) (Binding, bool) {
	binding, ok := s.active[id]
	return binding, ok
}

// ClearActive discards all live bindings. Entries are kept.
func (s *subscriptions) ClearActive() {
	for id := range s.active {
		delete(s.active, id)
	}
}

// Desired fills dst with entries in creation order and returns it.
func (s *subscriptions) Desired(dst []*subscriptionEntry) []*subscriptionEntry {
	if dst == nil {
		dst = make([]*subscriptionEntry, 0, len(s.order))
	} else {
		dst = dst[:0]
	}
	for _, id := range s.order {
		dst = append(dst, s.desired[id])
	}
	return dst
}

// Count returns the number of desired entries.
func (s *subscriptions) Count() int {
	return len(s.desired)
}

// ActiveCount returns the number of live bindings.
func (s *subscriptions) ActiveCount() int {
	return len(s.active)
}
