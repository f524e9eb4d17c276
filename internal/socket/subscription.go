package socket

import "sync"

// Subscription is the handle returned by Manager.On. Releasing it removes
// the handler; release is idempotent and guaranteed safe on teardown paths
// that may run more than once.
type Subscription struct {
	manager *Manager
	event   string
	id      int
	once    sync.Once
}

// Release unregisters the handler. Safe on a nil or zero Subscription.
func (s *Subscription) Release() {
	if s == nil || s.manager == nil {
		return
	}
	s.once.Do(func() {
		s.manager.off(s.event, s.id)
	})
}
