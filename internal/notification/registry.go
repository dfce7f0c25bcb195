package notification

import "sync"

// Emitter is a live outbound stream to one client device. Send failures
// mean the connection is gone; the registry owner tears it down.
type Emitter interface {
	Send(eventName, id string, data []byte) error
	Close()
}

type sessionKey struct {
	recipientID string
	deviceID    string
}

// Registry is the process-local directory of live streams, keyed by
// (recipient, device) with a secondary index per recipient for fan-out.
// It is safe under concurrent connect, disconnect and profile switch.
type Registry struct {
	mu       sync.RWMutex
	sessions map[sessionKey]Emitter
	byOwner  map[string]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[sessionKey]Emitter),
		byOwner:  make(map[string]map[string]struct{}),
	}
}

// Put registers em for the session, closing any previous stream of the same
// (recipient, device) pair. Reconnects re-register through here.
func (r *Registry) Put(recipientID, deviceID string, em Emitter) {
	key := sessionKey{recipientID, deviceID}
	r.mu.Lock()
	old, existed := r.sessions[key]
	r.sessions[key] = em
	devices, ok := r.byOwner[recipientID]
	if !ok {
		devices = make(map[string]struct{})
		r.byOwner[recipientID] = devices
	}
	devices[deviceID] = struct{}{}
	r.mu.Unlock()

	if existed && old != em {
		old.Close()
	}
}

// Get returns the stream for one session.
func (r *Registry) Get(recipientID, deviceID string) (Emitter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	em, ok := r.sessions[sessionKey{recipientID, deviceID}]
	return em, ok
}

// AllForProfile snapshots every live stream of a recipient, keyed by
// device. The snapshot may contain streams that close before the caller
// pushes; that is an ordinary delivery failure.
func (r *Registry) AllForProfile(recipientID string) map[string]Emitter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Emitter, len(r.byOwner[recipientID]))
	for deviceID := range r.byOwner[recipientID] {
		if em, ok := r.sessions[sessionKey{recipientID, deviceID}]; ok {
			out[deviceID] = em
		}
	}
	return out
}

// Remove drops exactly the one session tied to a terminated connection,
// never other sessions of the same recipient. It returns the removed
// emitter so the caller can close the transport.
func (r *Registry) Remove(recipientID, deviceID string) (Emitter, bool) {
	key := sessionKey{recipientID, deviceID}
	r.mu.Lock()
	defer r.mu.Unlock()
	em, ok := r.sessions[key]
	if !ok {
		return nil, false
	}
	delete(r.sessions, key)
	r.dropIndex(recipientID, deviceID)
	return em, true
}

// Evict removes whichever session currently addresses em. Disconnect
// cleanup goes through here because the entry may have been re-homed to
// another profile since the stream connected.
func (r *Registry) Evict(em Emitter) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, cur := range r.sessions {
		if cur == em {
			delete(r.sessions, key)
			r.dropIndex(key.recipientID, key.deviceID)
			return true
		}
	}
	return false
}

// Move re-homes a device's stream to another profile when the user switches
// active role. The physical connection is untouched; only the addressing
// changes.
func (r *Registry) Move(oldRecipientID, newRecipientID, deviceID string) bool {
	if oldRecipientID == newRecipientID {
		return false
	}
	oldKey := sessionKey{oldRecipientID, deviceID}
	r.mu.Lock()
	defer r.mu.Unlock()
	em, ok := r.sessions[oldKey]
	if !ok {
		return false
	}
	delete(r.sessions, oldKey)
	r.dropIndex(oldRecipientID, deviceID)

	newKey := sessionKey{newRecipientID, deviceID}
	if prev, existed := r.sessions[newKey]; existed && prev != em {
		prev.Close()
	}
	r.sessions[newKey] = em
	devices, ok := r.byOwner[newRecipientID]
	if !ok {
		devices = make(map[string]struct{})
		r.byOwner[newRecipientID] = devices
	}
	devices[deviceID] = struct{}{}
	return true
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) dropIndex(recipientID, deviceID string) {
	if devices, ok := r.byOwner[recipientID]; ok {
		delete(devices, deviceID)
		if len(devices) == 0 {
			delete(r.byOwner, recipientID)
		}
	}
}
