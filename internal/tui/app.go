package tui

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/caioluis/courier/internal/bus"
	"github.com/caioluis/courier/internal/messenger"
	"github.com/caioluis/courier/internal/status"
	"github.com/caioluis/courier/internal/store"
	"github.com/caioluis/courier/internal/tui/views"
)

// App is the terminal shell. It renders the local view and refreshes on bus
// events; it never waits on the network itself.
type App struct {
	app       *tview.Application
	pages     *tview.Pages
	msgr      *messenger.Messenger
	events    *bus.Bus
	machine   *status.Machine
	statusBar *views.StatusBar
	contacts  *views.ContactList
	thread    *views.Thread
	composer  *views.Composer
	attachIn  *tview.InputField

	exportDir string
	activeID  string
	lastMsgID string
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewApp creates the TUI application.
func NewApp(m *messenger.Messenger, events *bus.Bus, machine *status.Machine, profileName, exportDir string) *App {
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		app:       tview.NewApplication(),
		pages:     tview.NewPages(),
		msgr:      m,
		events:    events,
		machine:   machine,
		statusBar: views.NewStatusBar(),
		contacts:  views.NewContactList(),
		thread:    views.NewThread(),
		composer:  views.NewComposer(),
		exportDir: exportDir,
		ctx:       ctx,
		cancel:    cancel,
	}

	a.statusBar.SetProfile(profileName)
	a.statusBar.SetState(string(machine.Current()))
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupCallbacks() {
	a.contacts.SetSelectedFunc(func(row, col int) {
		id := a.contacts.SelectedContact()
		if id != "" {
			a.openConversation(id)
		}
	})

	a.composer.SetOnSend(func(text string) {
		contactID := a.activeID
		if contactID == "" {
			return
		}
		go func() {
			if _, err := a.msgr.SendText(contactID, text); err != nil {
				a.flash("Send failed: " + err.Error())
			}
		}()
	})

	a.attachIn = tview.NewInputField().
		SetLabel(" File path: ").
		SetFieldWidth(0)
	a.attachIn.SetDoneFunc(func(key tcell.Key) {
		path := a.attachIn.GetText()
		a.attachIn.SetText("")
		a.pages.SwitchToPage("chat")
		a.app.SetFocus(a.thread)
		if key != tcell.KeyEnter || path == "" {
			return
		}
		a.sendAttachment(path)
	})
}

func (a *App) setupLayout() {
	chatFlex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.thread, 0, 1, false).
		AddItem(a.composer, 1, 0, false)

	a.pages.AddPage("contacts", a.contacts, true, true)
	a.pages.AddPage("chat", chatFlex, true, false)
	a.pages.AddPage("attach", a.attachIn, true, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(root, true)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		currentPage, _ := a.pages.GetFrontPage()

		if event.Key() == tcell.KeyEscape {
			switch currentPage {
			case "chat":
				a.closeConversation()
				return nil
			case "attach":
				a.pages.SwitchToPage("chat")
				a.app.SetFocus(a.thread)
				return nil
			}
		}

		focused := a.app.GetFocus()
		if _, ok := focused.(*tview.InputField); ok {
			return event
		}

		if event.Key() != tcell.KeyRune {
			return event
		}

		switch event.Rune() {
		case 'q':
			a.app.Stop()
			return nil
		case 'i':
			if currentPage == "chat" {
				a.app.SetFocus(a.composer.InputField)
				return nil
			}
		case 'f':
			if currentPage == "chat" {
				a.pages.SwitchToPage("attach")
				a.app.SetFocus(a.attachIn)
				return nil
			}
		case 'v':
			if currentPage == "chat" {
				a.toggleVoiceNote()
				return nil
			}
		case '*':
			if currentPage == "chat" {
				a.starLast()
				return nil
			}
		case 'e':
			if currentPage == "chat" {
				a.exportConversation()
				return nil
			}
		}

		return event
	})
}

func (a *App) openConversation(contactID string) {
	go func() {
		if err := a.msgr.Open(a.ctx, contactID); err != nil {
			a.flash("Open failed: " + err.Error())
			return
		}
		a.activeID = contactID
		name := contactID
		if c, err := a.msgr.Contacts(); err == nil {
			for _, contact := range c {
				if contact.ID == contactID && contact.DisplayName != "" {
					name = contact.DisplayName
					break
				}
			}
		}
		a.app.QueueUpdateDraw(func() {
			a.thread.SetContactName(name)
			a.refreshThread()
			a.pages.SwitchToPage("chat")
			a.app.SetFocus(a.composer.InputField)
		})
	}()
}

func (a *App) closeConversation() {
	a.msgr.CloseConversation()
	a.activeID = ""
	a.lastMsgID = ""
	a.pages.SwitchToPage("contacts")
	a.app.SetFocus(a.contacts)
	a.refreshContacts()
}

func (a *App) sendAttachment(path string) {
	contactID := a.activeID
	if contactID == "" {
		return
	}
	go func() {
		payload, err := os.ReadFile(path)
		if err != nil {
			a.flash("Read failed: " + err.Error())
			return
		}
		if _, err := a.msgr.SendAttachment(a.ctx, contactID, filepath.Base(path), payload); err != nil {
			a.flash("Attach failed: " + err.Error())
		}
	}()
}

func (a *App) toggleVoiceNote() {
	contactID := a.activeID
	if contactID == "" {
		return
	}
	if !a.msgr.Recording() {
		if err := a.msgr.StartVoiceNote(); err != nil {
			a.flash("Recording failed: " + err.Error())
			return
		}
		a.statusBar.SetFlash("recording... press v to stop")
		return
	}
	go func() {
		if _, err := a.msgr.StopVoiceNote(a.ctx, contactID); err != nil {
			a.flash("Voice note failed: " + err.Error())
			return
		}
		a.flash("")
	}()
}

func (a *App) starLast() {
	if a.lastMsgID == "" {
		return
	}
	msgID := a.lastMsgID
	go func() {
		if err := a.msgr.ToggleStar(a.ctx, msgID); err != nil {
			a.flash("Star failed: " + err.Error())
			return
		}
		a.app.QueueUpdateDraw(a.refreshThread)
	}()
}

func (a *App) exportConversation() {
	contactID := a.activeID
	if contactID == "" {
		return
	}
	go func() {
		text, err := a.msgr.Export(contactID)
		if err != nil {
			a.flash("Export failed: " + err.Error())
			return
		}
		name := fmt.Sprintf("export-%s-%s.txt", contactID, time.Now().UTC().Format("20060102-150405"))
		path := filepath.Join(a.exportDir, name)
		if err := os.WriteFile(path, []byte(text), 0o600); err != nil {
			a.flash("Export failed: " + err.Error())
			return
		}
		a.flash("Exported to " + path)
	}()
}

func (a *App) refreshContacts() {
	go func() {
		contacts, err := a.msgr.Contacts()
		if err != nil {
			return
		}
		a.app.QueueUpdateDraw(func() {
			a.contacts.Update(contacts)
		})
	}()
}

// refreshThread must run on the UI goroutine.
func (a *App) refreshThread() {
	msgs, err := a.msgr.Messages()
	if err != nil {
		return
	}
	if len(msgs) > 0 {
		a.lastMsgID = msgs[len(msgs)-1].MsgID
	}
	self := a.msgr.Identity().ID
	a.thread.Update(msgs, self, a.contactName)
}

func (a *App) contactName(id string) string {
	identity := a.msgr.Identity()
	if id == identity.ID && identity.DisplayName != "" {
		return identity.DisplayName
	}
	if contacts, err := a.msgr.Contacts(); err == nil {
		for _, c := range contacts {
			if c.ID == id && c.DisplayName != "" {
				return c.DisplayName
			}
		}
	}
	return id
}

func (a *App) flash(msg string) {
	a.app.QueueUpdateDraw(func() {
		a.statusBar.SetFlash(msg)
	})
}

// Run starts the event loop. It blocks until the user quits.
func (a *App) Run() error {
	events, unsubscribe := a.events.Subscribe("", 256)
	go func() {
		defer unsubscribe()
		for {
			select {
			case evt := <-events:
				a.handleEvent(evt)
			case <-a.ctx.Done():
				return
			}
		}
	}()

	a.refreshContacts()
	return a.app.Run()
}

func (a *App) handleEvent(evt bus.Event) {
	switch {
	case evt.Kind == "status.changed":
		if change, ok := evt.Payload.(status.StatusChange); ok {
			a.app.QueueUpdateDraw(func() {
				a.statusBar.SetState(string(change.To))
			})
		}
	case evt.Kind == "message.upserted" || evt.Kind == "message.send_ack":
		if msg, ok := evt.Payload.(*store.Message); ok && a.activeID != "" {
			self := a.msgr.Identity().ID
			if msg.ConvKey == store.ConversationKey(self, a.activeID) {
				a.app.QueueUpdateDraw(a.refreshThread)
			}
		}
	case evt.Kind == "message.send_failed":
		a.app.QueueUpdateDraw(func() {
			a.statusBar.SetFlash("message not delivered")
			a.refreshThread()
		})
	case evt.Kind == "summary.updated" || evt.Kind == "directory.updated":
		a.refreshContacts()
	case evt.Kind == "directory.error":
		a.flash("contact refresh failed; showing cached list")
	}
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
