// Package ws implements the broadcast hub that fans analysis results out to
// live subscribers.
//
// Hub owns the subscriber set; callers only Join, Leave and Publish.
// Publish marshals the message once, snapshots the membership under a read
// lock, and delivers to every member concurrently, each attempt bounded by
// SendTimeout. A subscriber whose delivery fails is removed from the set and
// closed; the remaining deliveries are unaffected and the publisher never sees
// an error. Membership changes during a publish are visible to the next one.
//
// Hub.ServeHTTP is the connection-accepting side: it upgrades the request to
// a WebSocket and joins a connection subscriber whose FIFO send queue is
// drained by a write pump, so messages reach each client in enqueue order.
// Send waits for queue space; a queue that stays full for SendTimeout (slow
// reader) fails the delivery and drops the client.
//
// Message format sent to clients:
//
//	{"type": "analysis", "payload": {"sourceID": "...", "score": 0.42, ...}}
//
// The upgrader accepts all origins; apply CORS restrictions at the reverse
// proxy level. The endpoint is mounted at /ws by the server.
package ws
