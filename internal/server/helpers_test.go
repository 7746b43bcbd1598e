// internal/server/helpers_test.go
package server

import (
	"sync"

	"github.com/sirupsen/logrus"

	"tableturn/internal/transport"
)

// senderEvent is one recorded outbound operation, in call order.
type senderEvent struct {
	handle transport.Handle
	closed bool
	text   string
	reason string
}

// fakeSender records sends and closes so tests can assert both content and
// ordering (a frame queued before a close must appear before it).
type fakeSender struct {
	mu     sync.Mutex
	events []senderEvent
}

func newFakeSender() *fakeSender {
	return &fakeSender{}
}

func (f *fakeSender) Send(h transport.Handle, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, senderEvent{handle: h, text: text})
	return nil
}

func (f *fakeSender) CloseHandle(h transport.Handle, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, senderEvent{handle: h, closed: true, reason: reason})
}

// forHandle returns the recorded events for one handle, in order.
func (f *fakeSender) forHandle(h transport.Handle) []senderEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []senderEvent
	for _, ev := range f.events {
		if ev.handle == h {
			out = append(out, ev)
		}
	}
	return out
}

// sentTo returns only the frames sent to h.
func (f *fakeSender) sentTo(h transport.Handle) []string {
	var out []string
	for _, ev := range f.forHandle(h) {
		if !ev.closed {
			out = append(out, ev.text)
		}
	}
	return out
}

// closeReason returns the close reason recorded for h, if any.
func (f *fakeSender) closeReason(h transport.Handle) (string, bool) {
	for _, ev := range f.forHandle(h) {
		if ev.closed {
			return ev.reason, true
		}
	}
	return "", false
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}
