package views

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/caioluis/courier/internal/store"
)

// ContactList is the directory pane: contacts with previews and unread badges.
type ContactList struct {
	*tview.Table
	contacts []store.Contact
}

// NewContactList creates the contact list table.
func NewContactList() *ContactList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	table.SetBorder(true)
	table.SetTitle(" Contacts ")
	table.SetSelectedStyle(tcell.StyleDefault.Attributes(tcell.AttrReverse))

	return &ContactList{Table: table}
}

// Update refreshes the list with new data.
func (cl *ContactList) Update(contacts []store.Contact) {
	cl.contacts = contacts
	cl.render()
}

// SelectedContact returns the id of the highlighted contact, or "".
func (cl *ContactList) SelectedContact() string {
	row, _ := cl.GetSelection()
	if row < 1 || row > len(cl.contacts) {
		return ""
	}
	return cl.contacts[row-1].ID
}

func (cl *ContactList) render() {
	cl.Clear()

	headers := []struct {
		text string
		exp  int
	}{
		{" NAME", 1},
		{" LAST MESSAGE", 2},
		{" TIME", 0},
		{" UNREAD", 0},
	}
	for col, h := range headers {
		cell := tview.NewTableCell(h.text).
			SetSelectable(false).
			SetAttributes(tcell.AttrBold).
			SetExpansion(h.exp)
		cl.SetCell(0, col, cell)
	}

	for i, c := range cl.contacts {
		name := c.DisplayName
		if name == "" {
			name = c.ID
		}
		if c.IsSelf {
			name += " (you)"
		}

		when := ""
		if c.LastMessageAt > 0 {
			when = time.UnixMilli(c.LastMessageAt).Format("15:04")
		}
		unread := ""
		if c.Unread > 0 {
			unread = fmt.Sprintf("%d", c.Unread)
		}

		cl.SetCell(i+1, 0, tview.NewTableCell(" "+name).SetExpansion(1))
		cl.SetCell(i+1, 1, tview.NewTableCell(" "+c.Preview).SetExpansion(2))
		cl.SetCell(i+1, 2, tview.NewTableCell(" "+when))
		cl.SetCell(i+1, 3, tview.NewTableCell(" "+unread))
	}
}
