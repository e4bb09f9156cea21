// Package viewport computes the visible window over an unbounded message
// log without measuring rendered items. Heights are estimated by a
// deterministic heuristic that deliberately over-estimates: wasted
// whitespace is a cheaper defect than overlapping items.
package viewport

import (
	"sort"
	"time"

	"github.com/portalchat/internal/model"
)

type ItemKind int

const (
	KindSeparator ItemKind = iota
	KindMessage
)

// Item is one entry of the flattened render sequence: messages interleaved
// with day separators.
type Item struct {
	Kind    ItemKind
	Day     time.Time // separator only, truncated to midnight
	Message model.Message
	Height  int
}

// Config holds the estimation and scrolling constants. They were tuned
// against real content, not derived, so they are configuration rather than
// contract. Zero fields fall back to the defaults.
type Config struct {
	SeparatorHeight  int
	AttachmentHeight int
	BaseHeight       int
	LineHeight       int
	CharsPerLine     int
	MinHeight        int
	MaxHeight        int
	// Overscan is rendered margin beyond the visible span, in px.
	Overscan int
	// NearBottomThreshold decides auto-follow: a viewer within this many
	// px of the bottom before an append is scrolled to the new bottom.
	NearBottomThreshold int
}

func DefaultConfig() Config {
	return Config{
		SeparatorHeight:     32,
		AttachmentHeight:    240,
		BaseHeight:          48,
		LineHeight:          20,
		CharsPerLine:        48,
		MinHeight:           48,
		MaxHeight:           400,
		Overscan:            200,
		NearBottomThreshold: 150,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SeparatorHeight <= 0 {
		c.SeparatorHeight = d.SeparatorHeight
	}
	if c.AttachmentHeight <= 0 {
		c.AttachmentHeight = d.AttachmentHeight
	}
	if c.BaseHeight <= 0 {
		c.BaseHeight = d.BaseHeight
	}
	if c.LineHeight <= 0 {
		c.LineHeight = d.LineHeight
	}
	if c.CharsPerLine <= 0 {
		c.CharsPerLine = d.CharsPerLine
	}
	if c.MinHeight <= 0 {
		c.MinHeight = d.MinHeight
	}
	if c.MaxHeight <= 0 {
		c.MaxHeight = d.MaxHeight
	}
	if c.Overscan <= 0 {
		c.Overscan = d.Overscan
	}
	if c.NearBottomThreshold <= 0 {
		c.NearBottomThreshold = d.NearBottomThreshold
	}
	return c
}

// Engine owns the render sequence, its cumulative offsets and the scroll
// state for one conversation view. Not safe for concurrent use; the portal
// drives it from a single event loop.
type Engine struct {
	cfg Config

	items   []Item
	offsets []int // offsets[i] = sum of heights of items[0:i]
	total   int

	scrollTop      int
	viewportHeight int
	pending        int
	loaded         bool
}

func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg.withDefaults()}
}

// estimate returns a message's height. Attachment-bearing messages render
// larger than any text fits; text height grows with estimated line count.
// Byte length over multibyte content only pushes the estimate up, which is
// the safe direction.
func (e *Engine) estimate(m *model.Message) int {
	if m.Attachment != nil {
		return e.cfg.AttachmentHeight
	}
	lines := (len(m.Content) + e.cfg.CharsPerLine - 1) / e.cfg.CharsPerLine
	if lines < 1 {
		lines = 1
	}
	h := e.cfg.BaseHeight + lines*e.cfg.LineHeight
	if h < e.cfg.MinHeight {
		h = e.cfg.MinHeight
	}
	if h > e.cfg.MaxHeight {
		h = e.cfg.MaxHeight
	}
	return h
}

func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func (e *Engine) push(it Item) {
	e.offsets = append(e.offsets, e.total)
	e.items = append(e.items, it)
	e.total += it.Height
}

// Load replaces the sequence with a full history pull and jumps to the
// bottom without animation.
func (e *Engine) Load(msgs []model.Message) {
	e.items = e.items[:0]
	e.offsets = e.offsets[:0]
	e.total = 0
	e.pending = 0

	var last time.Time
	for i := range msgs {
		m := msgs[i]
		if d := day(m.CreatedAt); last.IsZero() || !d.Equal(last) {
			e.push(Item{Kind: KindSeparator, Day: d, Height: e.cfg.SeparatorHeight})
			last = d
		}
		e.push(Item{Kind: KindMessage, Message: m, Height: e.estimate(&m)})
	}
	e.loaded = true
	e.scrollTop = e.bottom()
}

// Append adds one message at the end. Returns true when the viewer was near
// the bottom before the append and the view auto-followed; otherwise the
// scroll position is untouched and the pending counter grows.
func (e *Engine) Append(m model.Message) bool {
	if !e.loaded {
		e.Load([]model.Message{m})
		return true
	}
	follow := e.NearBottom()

	d := day(m.CreatedAt)
	needSep := true
	for i := len(e.items) - 1; i >= 0; i-- {
		if e.items[i].Kind == KindMessage {
			needSep = !d.Equal(day(e.items[i].Message.CreatedAt))
			break
		}
	}
	if len(e.items) == 0 {
		needSep = true
	}
	if needSep {
		e.push(Item{Kind: KindSeparator, Day: d, Height: e.cfg.SeparatorHeight})
	}
	e.push(Item{Kind: KindMessage, Message: m, Height: e.estimate(&m)})

	if follow {
		e.scrollTop = e.bottom()
		return true
	}
	e.pending++
	return false
}

// SetViewport records the visible height in px.
func (e *Engine) SetViewport(height int) {
	e.viewportHeight = height
	e.clampScroll()
}

// SetScroll records a viewer-driven scroll. Reaching the near-bottom zone
// clears the pending-new-messages affordance.
func (e *Engine) SetScroll(top int) {
	e.scrollTop = top
	e.clampScroll()
	if e.NearBottom() {
		e.pending = 0
	}
}

// ScrollToBottom jumps to the end (the "new messages" affordance action).
func (e *Engine) ScrollToBottom() {
	e.scrollTop = e.bottom()
	e.pending = 0
}

func (e *Engine) clampScroll() {
	if max := e.bottom(); e.scrollTop > max {
		e.scrollTop = max
	}
	if e.scrollTop < 0 {
		e.scrollTop = 0
	}
}

func (e *Engine) bottom() int {
	b := e.total - e.viewportHeight
	if b < 0 {
		b = 0
	}
	return b
}

// NearBottom reports whether the current scroll position is within the
// auto-follow threshold of the bottom.
func (e *Engine) NearBottom() bool {
	return e.bottom()-e.scrollTop <= e.cfg.NearBottomThreshold
}

// Window returns the half-open item range [start, end) whose estimated
// spans intersect the viewport plus overscan.
func (e *Engine) Window() (start, end int) {
	return e.WindowFor(e.scrollTop, e.viewportHeight)
}

// WindowFor computes the window for an explicit scroll position and
// viewport height, without touching engine state.
func (e *Engine) WindowFor(scrollTop, viewportHeight int) (start, end int) {
	if len(e.items) == 0 {
		return 0, 0
	}
	top := scrollTop - e.cfg.Overscan
	bottom := scrollTop + viewportHeight + e.cfg.Overscan

	// First item whose bottom edge is past the top of the window.
	start = sort.Search(len(e.items), func(i int) bool {
		return e.offsets[i]+e.items[i].Height > top
	})
	// First item that starts at or past the bottom of the window.
	end = sort.Search(len(e.items), func(i int) bool {
		return e.offsets[i] >= bottom
	})
	if start > end {
		start = end
	}
	return start, end
}

// OffsetOf returns the cumulative offset of item k, the sum of all
// preceding heights.
func (e *Engine) OffsetOf(k int) int {
	if k < 0 || k >= len(e.offsets) {
		return e.total
	}
	return e.offsets[k]
}

// Total is the virtual scroll extent in px.
func (e *Engine) Total() int { return e.total }

// Len is the number of render items, separators included.
func (e *Engine) Len() int { return len(e.items) }

// At returns render item i.
func (e *Engine) At(i int) Item { return e.items[i] }

// ScrollTop returns the current scroll position.
func (e *Engine) ScrollTop() int { return e.scrollTop }

// Pending is the count of messages appended while the viewer was scrolled
// away from the bottom.
func (e *Engine) Pending() int { return e.pending }
