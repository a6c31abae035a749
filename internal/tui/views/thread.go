package views

import (
	"fmt"
	"time"

	"github.com/rivo/tview"

	"github.com/caioluis/courier/internal/store"
)

// Thread displays the active conversation. When the view is scrolled to the
// end it follows newly arrived messages; otherwise the scroll position is
// left untouched.
type Thread struct {
	*tview.TextView
	lineCount int
}

// NewThread creates the conversation view.
func NewThread() *Thread {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	tv.SetBorder(true)
	tv.SetTitle(" Messages ")

	return &Thread{TextView: tv}
}

// SetContactName updates the pane title.
func (t *Thread) SetContactName(name string) {
	t.SetTitle(fmt.Sprintf(" %s ", name))
}

// Update re-renders the conversation.
func (t *Thread) Update(msgs []store.Message, selfID string, name func(id string) string) {
	row, _ := t.GetScrollOffset()
	_, _, _, height := t.GetInnerRect()
	atEnd := t.lineCount == 0 || row+height >= t.lineCount

	t.Clear()
	for _, m := range msgs {
		fmt.Fprint(t.TextView, renderMessage(&m, selfID, name))
	}
	t.lineCount = len(msgs)

	if atEnd {
		t.ScrollToEnd()
	}
}

func renderMessage(m *store.Message, selfID string, name func(id string) string) string {
	sender := name(m.SenderID)
	color := "aqua"
	if m.SenderID == selfID {
		color = "lime"
	}

	marker := ""
	switch m.Delivery {
	case store.DeliveryPending:
		marker = " [gray]…[-]"
	case store.DeliveryFailed:
		marker = " [red]✗ not delivered[-]"
	}
	star := ""
	if m.Starred {
		star = " [yellow]*[-]"
	}

	body := tview.Escape(m.Body)
	if m.Kind == store.KindFile {
		body = fmt.Sprintf("[::u]%s[::-] (%s, %d bytes)", tview.Escape(m.FileName), m.FileType, m.FileSize)
		if m.FileRef == "" {
			body += " [gray](uploading)[-]"
		}
	}

	ts := time.UnixMilli(m.Timestamp).Format("15:04")
	return fmt.Sprintf("[gray]%s[-] [%s]%s[-]: %s%s%s\n", ts, color, tview.Escape(sender), body, star, marker)
}
