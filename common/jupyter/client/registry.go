package client

import (
	"sync"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	cmap "github.com/orcaman/concurrent-map/v2"
)

// registryEntry tracks the completion of one request.
//
// shellDone and iopubDone start out true for callback groups that were never supplied.
type registryEntry struct {
	callbacks *Callbacks

	shellDone bool
	iopubDone bool
	retired   bool

	mu sync.Mutex
}

// CallbackRegistry associates the msg_id of outgoing requests with the callbacks that handle the
// replies and broadcasts caused by those requests.
//
// An entry is removed exactly once, as soon as both its shell and IOPub groups are finished. The send
// path registers entries and the receive path retires them, so the registry is safe for concurrent use.
type CallbackRegistry struct {
	entries cmap.ConcurrentMap[string, *registryEntry]

	log logger.Logger
}

// NewCallbackRegistry creates an empty CallbackRegistry.
func NewCallbackRegistry() *CallbackRegistry {
	registry := &CallbackRegistry{
		entries: cmap.New[*registryEntry](),
	}
	config.InitLogger(&registry.log, registry)

	return registry
}

// Register associates callbacks with the given msg_id.
//
// Registering a msg_id that is already present replaces the existing entry. Message ids are unique
// within a session, so this indicates a bug and is logged.
func (r *CallbackRegistry) Register(msgId string, callbacks *Callbacks) {
	if callbacks == nil {
		callbacks = &Callbacks{}
	}

	entry := &registryEntry{
		callbacks: callbacks,
		shellDone: !callbacks.HasShell(),
		iopubDone: !callbacks.HasIOPub(),
	}

	r.entries.Upsert(msgId, entry, func(exist bool, valueInMap *registryEntry, newValue *registryEntry) *registryEntry {
		if exist {
			r.log.Warn("Replacing existing callbacks registered for message \"%s\".", msgId)
		}
		return newValue
	})
}

// Lookup returns the callbacks registered for the given msg_id.
func (r *CallbackRegistry) Lookup(msgId string) (*Callbacks, bool) {
	entry, ok := r.entries.Get(msgId)
	if !ok {
		return nil, false
	}

	return entry.callbacks, true
}

// Contains returns true if callbacks are registered for the given msg_id.
func (r *CallbackRegistry) Contains(msgId string) bool {
	return r.entries.Has(msgId)
}

// FinishShell marks the shell group of the given msg_id as finished.
//
// FinishShell returns true if this call retired the entry.
func (r *CallbackRegistry) FinishShell(msgId string) bool {
	return r.finish(msgId, func(entry *registryEntry) { entry.shellDone = true })
}

// FinishIOPub marks the IOPub group of the given msg_id as finished.
//
// FinishIOPub returns true if this call retired the entry.
func (r *CallbackRegistry) FinishIOPub(msgId string) bool {
	return r.finish(msgId, func(entry *registryEntry) { entry.iopubDone = true })
}

// Unregister removes the entry for the given msg_id regardless of its completion flags.
// This is used when a request could not be sent.
func (r *CallbackRegistry) Unregister(msgId string) bool {
	entry, ok := r.entries.Pop(msgId)
	if !ok {
		return false
	}

	entry.mu.Lock()
	entry.retired = true
	entry.mu.Unlock()
	return true
}

// Len returns the number of registered entries.
func (r *CallbackRegistry) Len() int {
	return r.entries.Count()
}

// Clear removes every entry.
func (r *CallbackRegistry) Clear() {
	r.entries.Clear()
}

func (r *CallbackRegistry) finish(msgId string, mark func(entry *registryEntry)) bool {
	entry, ok := r.entries.Get(msgId)
	if !ok {
		return false
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.retired {
		return false
	}

	mark(entry)

	if !entry.shellDone || !entry.iopubDone {
		return false
	}

	entry.retired = true

	// Only remove the entry we marked. A replacement registered under the same id stays.
	return r.entries.RemoveCb(msgId, func(key string, v *registryEntry, exists bool) bool {
		return exists && v == entry
	})
}
