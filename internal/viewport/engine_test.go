package viewport

import (
	"strings"
	"testing"
	"time"

	"github.com/portalchat/internal/model"
)

func textMsg(id, content string, at time.Time) model.Message {
	return model.Message{ID: id, ConversationID: "c1", SenderID: "peer", Content: content, CreatedAt: at}
}

func attMsg(id string, at time.Time) model.Message {
	return model.Message{
		ID: id, ConversationID: "c1", SenderID: "peer", CreatedAt: at,
		Attachment: &model.Attachment{URL: "https://files/x.pdf", Name: "x.pdf", Size: 1024},
	}
}

func TestOffsetsArePrefixSums(t *testing.T) {
	e := NewEngine(DefaultConfig())
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	e.Load([]model.Message{
		textMsg("m1", "short", at),
		textMsg("m2", strings.Repeat("x", 300), at.Add(time.Minute)),
		attMsg("m3", at.Add(2*time.Minute)),
	})

	sum := 0
	for i := 0; i < e.Len(); i++ {
		if got := e.OffsetOf(i); got != sum {
			t.Fatalf("offset[%d] = %d, want %d", i, got, sum)
		}
		sum += e.At(i).Height
	}
	if e.Total() != sum {
		t.Fatalf("Total = %d, want %d", e.Total(), sum)
	}
}

func TestHeightHeuristic(t *testing.T) {
	cfg := DefaultConfig()
	e := NewEngine(cfg)
	at := time.Now()

	e.Load([]model.Message{
		textMsg("short", "hi", at),
		textMsg("long", strings.Repeat("a", cfg.CharsPerLine*3), at.Add(time.Second)),
		textMsg("huge", strings.Repeat("a", cfg.CharsPerLine*1000), at.Add(2*time.Second)),
		attMsg("file", at.Add(3*time.Second)),
	})

	// items[0] is the day separator.
	if got := e.At(0); got.Kind != KindSeparator || got.Height != cfg.SeparatorHeight {
		t.Fatalf("separator = %+v", got)
	}
	short := e.At(1).Height
	long := e.At(2).Height
	huge := e.At(3).Height
	file := e.At(4).Height

	if short != cfg.BaseHeight+cfg.LineHeight {
		t.Errorf("short = %d, want %d", short, cfg.BaseHeight+cfg.LineHeight)
	}
	if long != cfg.BaseHeight+3*cfg.LineHeight {
		t.Errorf("long = %d, want %d", long, cfg.BaseHeight+3*cfg.LineHeight)
	}
	if huge != cfg.MaxHeight {
		t.Errorf("huge = %d, want clamp to %d", huge, cfg.MaxHeight)
	}
	if file != cfg.AttachmentHeight {
		t.Errorf("attachment = %d, want %d", file, cfg.AttachmentHeight)
	}
}

func TestDaySeparators(t *testing.T) {
	e := NewEngine(DefaultConfig())
	d1 := time.Date(2026, 3, 1, 23, 50, 0, 0, time.UTC)
	d2 := time.Date(2026, 3, 2, 0, 10, 0, 0, time.UTC)

	e.Load([]model.Message{
		textMsg("m1", "late", d1),
		textMsg("m2", "later", d1.Add(5*time.Minute)),
		textMsg("m3", "after midnight", d2),
	})

	// separator, m1, m2, separator, m3
	if e.Len() != 5 {
		t.Fatalf("Len = %d, want 5", e.Len())
	}
	if e.At(0).Kind != KindSeparator || e.At(3).Kind != KindSeparator {
		t.Fatal("separators not where expected")
	}
	if !e.At(3).Day.Equal(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("second separator day = %v", e.At(3).Day)
	}

	// Appending within the same day adds no separator.
	e.Append(textMsg("m4", "same day", d2.Add(time.Minute)))
	if e.Len() != 6 {
		t.Fatalf("Len after same-day append = %d, want 6", e.Len())
	}
}

func TestFirstLoadJumpsToBottom(t *testing.T) {
	e := NewEngine(DefaultConfig())
	e.SetViewport(400)
	at := time.Now()
	msgs := make([]model.Message, 0, 50)
	for i := 0; i < 50; i++ {
		msgs = append(msgs, textMsg(idN(i), "message", at.Add(time.Duration(i)*time.Second)))
	}
	e.Load(msgs)

	if got, want := e.ScrollTop(), e.Total()-400; got != want {
		t.Fatalf("scrollTop = %d, want bottom %d", got, want)
	}
	if !e.NearBottom() {
		t.Fatal("not near bottom after first load")
	}
}

func TestAppendAutoFollowsOnlyNearBottom(t *testing.T) {
	cfg := DefaultConfig()
	e := NewEngine(cfg)
	e.SetViewport(400)
	at := time.Now()
	msgs := make([]model.Message, 0, 50)
	for i := 0; i < 50; i++ {
		msgs = append(msgs, textMsg(idN(i), "message", at.Add(time.Duration(i)*time.Second)))
	}
	e.Load(msgs)

	// At the bottom: append follows.
	if !e.Append(textMsg("tail1", "new", at.Add(time.Hour))) {
		t.Fatal("append at bottom did not follow")
	}
	if e.ScrollTop() != e.Total()-400 || e.Pending() != 0 {
		t.Fatalf("follow state: scrollTop=%d pending=%d", e.ScrollTop(), e.Pending())
	}

	// Just inside the threshold: still follows.
	e.SetScroll(e.Total() - 400 - cfg.NearBottomThreshold)
	if !e.Append(textMsg("tail2", "new", at.Add(2*time.Hour))) {
		t.Fatal("append within threshold did not follow")
	}

	// Scrolled far up: position is preserved and pending grows.
	e.SetScroll(0)
	if e.Append(textMsg("tail3", "new", at.Add(3*time.Hour))) {
		t.Fatal("append far from bottom must not follow")
	}
	if e.ScrollTop() != 0 {
		t.Fatalf("scrollTop moved to %d", e.ScrollTop())
	}
	if e.Append(textMsg("tail4", "new", at.Add(4*time.Hour))) {
		t.Fatal("second append must not follow either")
	}
	if e.Pending() != 2 {
		t.Fatalf("pending = %d, want 2", e.Pending())
	}

	// The affordance action clears pending and lands at the bottom.
	e.ScrollToBottom()
	if e.Pending() != 0 || e.ScrollTop() != e.Total()-400 {
		t.Fatalf("after ScrollToBottom: pending=%d scrollTop=%d", e.Pending(), e.ScrollTop())
	}
}

func TestWindowCoversViewportPlusOverscan(t *testing.T) {
	cfg := DefaultConfig()
	e := NewEngine(cfg)
	at := time.Now()
	msgs := make([]model.Message, 0, 200)
	for i := 0; i < 200; i++ {
		msgs = append(msgs, textMsg(idN(i), "message", at.Add(time.Duration(i)*time.Second)))
	}
	e.Load(msgs)

	scrollTop := e.Total() / 2
	viewportHeight := 500
	start, end := e.WindowFor(scrollTop, viewportHeight)

	if start >= end {
		t.Fatalf("empty window %d..%d", start, end)
	}
	// Every item whose span intersects [top-overscan, bottom+overscan]
	// must be inside the window, and nothing outside it.
	top := scrollTop - cfg.Overscan
	bottom := scrollTop + viewportHeight + cfg.Overscan
	for i := 0; i < e.Len(); i++ {
		intersects := e.OffsetOf(i)+e.At(i).Height > top && e.OffsetOf(i) < bottom
		inWindow := i >= start && i < end
		if intersects != inWindow {
			t.Fatalf("item %d: intersects=%v inWindow=%v (window %d..%d)", i, intersects, inWindow, start, end)
		}
	}
}

func TestWindowEmptyLog(t *testing.T) {
	e := NewEngine(DefaultConfig())
	if s, en := e.WindowFor(0, 500); s != 0 || en != 0 {
		t.Fatalf("window on empty log = %d..%d", s, en)
	}
}

func idN(i int) string {
	return string(rune('a'+i/26%26)) + string(rune('a'+i%26))
}
