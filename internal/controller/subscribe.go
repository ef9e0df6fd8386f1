package controller

import "sync"

// subscriber is one Subscribe channel. When ch is full, lossless
// notifications queue in backlog and a forwarder delivers them in order.
type subscriber struct {
	ch      chan Notification
	backlog []Notification // guarded by Controller.subMu
	wake    chan struct{}
	done    chan struct{}
	exited  chan struct{}
}

// droppable reports whether n may be discarded for a slow subscriber.
// Snapshots are superseded by the next one and strikes are transient.
func droppable(n Notification) bool {
	switch n.(type) {
	case SnapshotUpdated, StrikeObserved:
		return true
	}
	return false
}

// Subscribe returns a channel of notifications and a cancel func that
// closes it. Delivery never blocks the intake path. When the buffer is
// full, SnapshotUpdated and StrikeObserved are dropped and counted in
// Stats.Dropped; every other notification is queued and delivered in order.
func (c *Controller) Subscribe(buffer int) (<-chan Notification, func()) {
	s := &subscriber{
		ch:     make(chan Notification, buffer),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}

	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = s
	c.subMu.Unlock()

	go c.forward(s)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subs, id)
			c.subMu.Unlock()
			close(s.done)
			<-s.exited
			close(s.ch)
		})
	}
	return s.ch, cancel
}

// publish fans n out to subscribers. mu is held by the caller.
func (c *Controller) publish(n Notification) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, s := range c.subs {
		if len(s.backlog) == 0 {
			select {
			case s.ch <- n:
				continue
			default:
			}
		}
		// Nothing overtakes the backlog.
		if droppable(n) {
			c.stats.Dropped++
			continue
		}
		s.backlog = append(s.backlog, n)
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
}

// forward drains s.backlog into s.ch until the subscription is cancelled.
func (c *Controller) forward(s *subscriber) {
	defer close(s.exited)
	for {
		select {
		case <-s.wake:
		case <-s.done:
			return
		}
		for {
			c.subMu.Lock()
			if len(s.backlog) == 0 {
				c.subMu.Unlock()
				break
			}
			n := s.backlog[0]
			c.subMu.Unlock()

			select {
			case s.ch <- n:
			case <-s.done:
				return
			}

			c.subMu.Lock()
			s.backlog[0] = nil
			s.backlog = s.backlog[1:]
			c.subMu.Unlock()
		}
	}
}
