// Package tray provides a system tray control for the ctrlf capture pipeline.
package tray

import (
	"fmt"
	"strings"
	"sync"

	"github.com/getlantern/systray"
)

// Tray is the system tray menu: a pause toggle, the last detected objects,
// an optional preview link and Quit.
type Tray struct {
	onToggle  func(enabled bool)
	onPreview func()
	onQuit    func()
	enabled   bool
	last      string
	mu        sync.RWMutex

	// Menu items stored for later updates
	menuToggle *systray.MenuItem
	menuLast   *systray.MenuItem
}

// New creates a new Tray instance with enabled state set to true by default.
func New() *Tray {
	return &Tray{
		enabled: true,
	}
}

// OnToggle sets the callback function to be called when the enabled state is toggled.
func (t *Tray) OnToggle(fn func(enabled bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onToggle = fn
}

// OnPreview sets the callback for "Open Preview...". Without it the item
// is not shown.
func (t *Tray) OnPreview(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onPreview = fn
}

// OnQuit sets the callback function to be called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until Quit is called, and must run on the main thread.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit closes the tray from outside the menu, e.g. when the pipeline ends.
func (t *Tray) Quit() {
	systray.Quit()
}

// onReady is called when the system tray is ready.
// It sets up the menu structure.
func (t *Tray) onReady() {
	systray.SetTitle("ctrlF")
	systray.SetTooltip("ctrlF object finder")

	t.mu.Lock()
	t.menuToggle = systray.AddMenuItem(toggleTitle(t.enabled), "Pause or resume object capture")
	systray.AddSeparator()

	t.menuLast = systray.AddMenuItem(lastTitle(t.last), "Objects seen in the last processed frame")
	t.menuLast.Disable()
	systray.AddSeparator()

	var previewCh <-chan struct{}
	if t.onPreview != nil {
		menuPreview := systray.AddMenuItem("Open Preview...", "Open the annotated camera preview")
		previewCh = menuPreview.ClickedCh
		systray.AddSeparator()
	}
	t.mu.Unlock()

	menuQuit := systray.AddMenuItem("Quit", "Quit ctrlF")

	// Handle menu item clicks in a separate goroutine
	go func() {
		for {
			select {
			case <-t.menuToggle.ClickedCh:
				t.handleToggle()
			case <-previewCh:
				t.handlePreview()
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				systray.Quit()
				return
			}
		}
	}()
}

func (t *Tray) onExit() {}

func toggleTitle(enabled bool) string {
	if enabled {
		return "● Capturing"
	}
	return "○ Paused"
}

func lastTitle(last string) string {
	if last == "" {
		return "Last: none"
	}
	return "Last: " + last
}

// handleToggle flips the enabled state and notifies the callback.
func (t *Tray) handleToggle() {
	t.mu.Lock()
	t.enabled = !t.enabled
	enabled := t.enabled

	if t.menuToggle != nil {
		t.menuToggle.SetTitle(toggleTitle(enabled))
	}

	callback := t.onToggle
	t.mu.Unlock()

	// Call the callback outside the lock to prevent deadlocks
	if callback != nil {
		callback(enabled)
	}
}

func (t *Tray) handlePreview() {
	t.mu.RLock()
	callback := t.onPreview
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

// SetLast updates the "Last:" item with the labels of the latest frame.
// Duplicate labels are counted, e.g. "chair, cup x2".
func (t *Tray) SetLast(labels []string) {
	text := Summarize(labels)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = text
	if t.menuLast != nil {
		t.menuLast.SetTitle(lastTitle(text))
	}
}

// Last returns the current "Last:" summary.
func (t *Tray) Last() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.last
}

// IsEnabled returns the current enabled state.
func (t *Tray) IsEnabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enabled
}

// Summarize joins labels in first-seen order, counting repeats.
func Summarize(labels []string) string {
	counts := make(map[string]int, len(labels))
	var order []string
	for _, l := range labels {
		if counts[l] == 0 {
			order = append(order, l)
		}
		counts[l]++
	}

	parts := make([]string, len(order))
	for i, l := range order {
		if n := counts[l]; n > 1 {
			parts[i] = fmt.Sprintf("%s x%d", l, n)
		} else {
			parts[i] = l
		}
	}
	return strings.Join(parts, ", ")
}
