package kernel

import "sync"

// displayIndex tracks which requests rendered each display id, so that a repeated display id
// can be replayed as an update to every earlier owner.
type displayIndex struct {
	mu            sync.Mutex
	displayToMsgs map[string][]string
	msgToDisplays map[string][]string
}

func newDisplayIndex() *displayIndex {
	return &displayIndex{
		displayToMsgs: make(map[string][]string),
		msgToDisplays: make(map[string][]string),
	}
}

// owners returns the parent msg ids that have rendered displayID.
func (d *displayIndex) owners(displayID string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]string(nil), d.displayToMsgs[displayID]...)
}

// register records msgID as an owner of displayID.
func (d *displayIndex) register(displayID string, msgID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.displayToMsgs[displayID] = appendUnique(d.displayToMsgs[displayID], msgID)
	d.msgToDisplays[msgID] = appendUnique(d.msgToDisplays[msgID], displayID)
}

// removeMsg forgets msgID as an owner of every display id it rendered.
func (d *displayIndex) removeMsg(msgID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, displayID := range d.msgToDisplays[msgID] {
		remaining := removeString(d.displayToMsgs[displayID], msgID)
		if len(remaining) == 0 {
			delete(d.displayToMsgs, displayID)
		} else {
			d.displayToMsgs[displayID] = remaining
		}
	}
	delete(d.msgToDisplays, msgID)
}

func (d *displayIndex) clear() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.displayToMsgs = make(map[string][]string)
	d.msgToDisplays = make(map[string][]string)
}

func (d *displayIndex) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.displayToMsgs)
}

func appendUnique(values []string, value string) []string {
	for _, v := range values {
		if v == value {
			return values
		}
	}
	return append(values, value)
}

func removeString(values []string, value string) []string {
	out := values[:0]
	for _, v := range values {
		if v != value {
			out = append(out, v)
		}
	}
	return out
}
