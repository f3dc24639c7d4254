// Package dqueuetest provides an in-memory, fully scripted [dqueue.Transport]
// so driver behavior can be tested without hardware.
package dqueuetest

import (
	"sync"

	"github.com/chikey/uadk/dmsg"
	"github.com/chikey/uadk/dqueue"
)

// StubTransport records every sent request and hands back replies
// exactly when the test script completes them.
//
// The zero value is ready to use.
type StubTransport struct {
	mu sync.Mutex

	// All requests passed to Send, in order.
	sent []*dmsg.Message

	ready []stubReply

	// If set, Send fails with this error without recording the request.
	SendErr error

	// If set, Recv fails with this error before examining ready replies.
	RecvErr error

	// If true, Send immediately readies the request as its own reply,
	// which is the shape synchronous tests usually want.
	AutoComplete bool
}

type stubReply struct {
	msg   *dmsg.Message
	fault bool
}

var _ dqueue.Transport = (*StubTransport)(nil)

func (s *StubTransport) Send(m *dmsg.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.SendErr != nil {
		return s.SendErr
	}

	s.sent = append(s.sent, m)
	if s.AutoComplete {
		s.ready = append(s.ready, stubReply{msg: m})
	}
	return nil
}

func (s *StubTransport) Recv(ref any) (*dmsg.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.RecvErr != nil {
		return nil, s.RecvErr
	}

	for i, r := range s.ready {
		if ref != nil && r.msg.Ref != ref {
			continue
		}
		s.ready = append(s.ready[:i], s.ready[i+1:]...)
		if r.fault {
			return r.msg, &dqueue.HardwareError{Msg: r.msg}
		}
		return r.msg, nil
	}

	return nil, nil
}

// Sent returns a snapshot of every request passed to Send so far.
func (s *StubTransport) Sent() []*dmsg.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*dmsg.Message, len(s.sent))
	copy(out, s.sent)
	return out
}

// Complete readies m as a successful reply for a later Recv.
func (s *StubTransport) Complete(m *dmsg.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = append(s.ready, stubReply{msg: m})
}

// CompleteFault readies m as a reply carrying a hardware fault.
func (s *StubTransport) CompleteFault(m *dmsg.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = append(s.ready, stubReply{msg: m, fault: true})
}

// Pending returns the number of readied replies not yet received.
func (s *StubTransport) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ready)
}
