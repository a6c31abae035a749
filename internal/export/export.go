// Package export renders a loaded conversation as a plain-text transcript.
// Formatting is pure and synchronous: no network, no store access.
package export

import (
	"strings"
	"time"

	"github.com/caioluis/courier/internal/store"
)

const timeLayout = "2006-01-02 15:04"

// Format renders one line per message: timestamp, sender label, then the
// body or, for file messages, "[file] <name> -> <reference>".
func Format(msgs []store.Message, displayName func(id string) string) string {
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(time.UnixMilli(m.Timestamp).UTC().Format(timeLayout))
		b.WriteString(" | ")
		b.WriteString(displayName(m.SenderID))
		b.WriteString(": ")
		if m.Kind == store.KindFile {
			b.WriteString("[file] ")
			b.WriteString(m.FileName)
			b.WriteString(" -> ")
			b.WriteString(m.FileRef)
		} else {
			b.WriteString(m.Body)
		}
		b.WriteString("\n")
	}
	return b.String()
}
