// ABOUTME: Status broadcast for the relay
// ABOUTME: A dirty flag coalesces changes and is flushed after each message
package relay

import "encoding/json"

// BroadcastStatus sends the aggregate status to every connection
func (r *Relay) BroadcastStatus() {
	r.statusDirty.Store(true)
	r.flushStatus()
}

// flushStatus broadcasts while the dirty flag is set. Removals during the
// broadcast set the flag again and trigger one more pass.
func (r *Relay) flushStatus() {
	for r.statusDirty.Swap(false) {
		counts := r.registry.Counts()
		r.metrics.SetConnections(counts.Producers, counts.Consumers, counts.Unclassified)

		data, err := json.Marshal(r.registry.Status())
		if err != nil {
			r.logger.Warn("failed to marshal status", "err", err)
			return
		}
		r.registry.ForEach(nil, func(c *Conn) {
			r.send(c, false, data)
		})
	}
}
