package websocket

import "sync"

// ambient tracks every live client so process-wide signals reach all of them.
var ambient = struct {
	mu      sync.Mutex
	clients map[*Client]struct{}
	once    sync.Once
}{
	clients: make(map[*Client]struct{}),
}

func register(c *Client) {
	ambient.mu.Lock()
	ambient.clients[c] = struct{}{}
	ambient.mu.Unlock()
}

func unregister(c *Client) {
	ambient.mu.Lock()
	delete(ambient.clients, c)
	ambient.mu.Unlock()
}

func registeredClients() []*Client {
	ambient.mu.Lock()
	defer ambient.mu.Unlock()
	out := make([]*Client, 0, len(ambient.clients))
	for c := range ambient.clients {
		out = append(out, c)
	}
	return out
}

// Broadcast fans ev out to every live client.
// NetworkOffline closes open transports and makes the next retry use the minimum delay.
// NetworkOnline and Visible wake clients waiting in backoff.
func Broadcast(ev NetworkEvent) {
	for _, c := range registeredClients() {
		c.onNetwork(ev)
	}
}

// ListenNetwork forwards events from source to Broadcast until source is closed.
// Only the first call installs a source; later calls return false.
func ListenNetwork(source <-chan NetworkEvent) bool {
	installed := false
	ambient.once.Do(func() {
		installed = true
		go func() {
			for ev := range source {
				Broadcast(ev)
			}
		}()
	})
	return installed
}

func (c *Client) onNetwork(ev NetworkEvent) {
	switch ev {
	case NetworkOffline:
		c.goOffline()
	case NetworkOnline, Visible:
		c.nudge()
	}
}

func (c *Client) goOffline() {
	c.mu.Lock()
	if c.stopped || !c.everConnected {
		c.mu.Unlock()
		return
	}
	c.fastRetry = true
	transport := c.transport
	c.mu.Unlock()

	if transport == nil {
		return
	}
	c.debugf("network offline, closing transport")
	if err := transport.Close(); err != nil {
		c.debugf("transport close: %v", err)
	}
}

func (c *Client) nudge() {
	c.mu.Lock()
	wake := !c.stopped && c.everConnected && c.status != StatusOpen && c.loopDone != nil
	c.mu.Unlock()
	if wake {
		c.debugf("network back, retrying now")
		c.wakeLoop()
	}
}
