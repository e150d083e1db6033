package kernel

import (
	"fmt"
	"sync"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"

	"github.com/scusemua/kernel-connection/common/jupyter/messaging"
)

// Hook inspects an IOPub message before it is delivered. Returning false stops delivery of the
// message to the remaining (older) hooks and to the future's IOPub handler.
type Hook func(msg *messaging.Message) (bool, error)

// HookID identifies a hook registered with a HookList.
type HookID uint64

type hookEntry struct {
	id   HookID
	hook Hook
}

// HookList is an ordered list of hooks. Hooks run most-recently-registered first.
//
// Only one Process call runs at a time. A hook removed while a batch is running is skipped
// for the rest of that batch. Removed slots are compacted in the background once the list is
// not being processed.
type HookList struct {
	// processing is held for the duration of a Process batch and while compacting.
	processing sync.Mutex

	mu                sync.Mutex
	hooks             []*hookEntry
	nextID            HookID
	compactScheduled  bool
	compactionPending sync.WaitGroup

	log logger.Logger
}

func NewHookList() *HookList {
	list := &HookList{}
	config.InitLogger(&list.log, list)
	return list
}

// Add registers a hook and returns its id.
func (l *HookList) Add(hook Hook) HookID {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	l.hooks = append(l.hooks, &hookEntry{id: l.nextID, hook: hook})
	return l.nextID
}

// Remove unregisters the hook with the given id. It is safe to call from within a hook.
func (l *HookList) Remove(id HookID) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, entry := range l.hooks {
		if entry != nil && entry.id == id {
			l.hooks[i] = nil
			l.scheduleCompactLocked()
			return
		}
	}
}

// Len returns the number of registered hooks.
func (l *HookList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for _, entry := range l.hooks {
		if entry != nil {
			n++
		}
	}
	return n
}

// Process runs the hooks against msg, newest first, and reports whether delivery should continue.
func (l *HookList) Process(msg *messaging.Message) bool {
	l.processing.Lock()
	defer l.processing.Unlock()

	l.mu.Lock()
	numHooks := len(l.hooks)
	l.mu.Unlock()

	// Hooks added during this batch are not run until the next one.
	for i := numHooks - 1; i >= 0; i-- {
		l.mu.Lock()
		entry := l.hooks[i]
		l.mu.Unlock()

		if entry == nil {
			continue
		}

		if !l.invoke(entry, msg) {
			return false
		}
	}

	return true
}

func (l *HookList) invoke(entry *hookEntry, msg *messaging.Message) (result bool) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("Message hook %d panicked while processing \"%s\" message: %v", entry.id, msg.Header.MsgType, r)
			result = true
		}
	}()

	ok, err := entry.hook(msg)
	if err != nil {
		l.log.Error("Message hook %d failed while processing \"%s\" message: %v", entry.id, msg.Header.MsgType, err)
		return true
	}

	return ok
}

// Clear removes every hook.
func (l *HookList) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cleared := false
	for i, entry := range l.hooks {
		if entry != nil {
			l.hooks[i] = nil
			cleared = true
		}
	}

	if cleared {
		l.scheduleCompactLocked()
	}
}

// WaitForCompaction blocks until any scheduled compaction has run.
func (l *HookList) WaitForCompaction() {
	l.compactionPending.Wait()
}

func (l *HookList) scheduleCompactLocked() {
	if l.compactScheduled {
		return
	}

	l.compactScheduled = true
	l.compactionPending.Add(1)
	go l.compact()
}

func (l *HookList) compact() {
	defer l.compactionPending.Done()

	l.processing.Lock()
	defer l.processing.Unlock()

	l.mu.Lock()
	defer l.mu.Unlock()

	live := l.hooks[:0]
	for _, entry := range l.hooks {
		if entry != nil {
			live = append(live, entry)
		}
	}
	for i := len(live); i < len(l.hooks); i++ {
		l.hooks[i] = nil
	}

	l.hooks = live
	l.compactScheduled = false
}

func (l *HookList) String() string {
	return fmt.Sprintf("HookList[%d]", l.Len())
}
