package bot

import (
	"sync"
	"time"
)

type step int

const (
	stepTitle step = iota + 1
	stepDescription
	stepDate
	stepTime
	stepQuery // waiting for a vacancy search query
	stepDay   // waiting for a dd.mm.yyyy date to list
)

// draft is the per-chat dialog state.
type draft struct {
	step        step
	title       string
	description string
	day         time.Time // midnight of the chosen date
	touched     time.Time
}

// conversations keeps at most one dialog per chat. Idle dialogs expire.
type conversations struct {
	mu  sync.Mutex
	m   map[int64]*draft
	ttl time.Duration
	now func() time.Time
}

func newConversations(ttl time.Duration) *conversations {
	return &conversations{m: map[int64]*draft{}, ttl: ttl, now: time.Now}
}

func (c *conversations) begin(chatID int64, s step) {
	c.mu.Lock()
	c.m[chatID] = &draft{step: s, touched: c.now()}
	c.mu.Unlock()
}

// get returns a copy of the chat's dialog.
func (c *conversations) get(chatID int64) (draft, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.m[chatID]
	if !ok {
		return draft{}, false
	}
	if c.ttl > 0 && c.now().Sub(d.touched) > c.ttl {
		delete(c.m, chatID)
		return draft{}, false
	}
	return *d, true
}

// update applies fn to the chat's dialog if one is active.
func (c *conversations) update(chatID int64, fn func(d *draft)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.m[chatID]
	if !ok {
		return false
	}
	fn(d)
	d.touched = c.now()
	return true
}

func (c *conversations) drop(chatID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.m[chatID]
	delete(c.m, chatID)
	return ok
}
