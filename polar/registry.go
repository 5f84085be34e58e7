package polar

import (
	"fmt"
	"sync"

	"github.com/polarstream/polar-stream/pmd"
)

// sessionState is the lifecycle state of one stream's session.
type sessionState int

const (
	stateIdle sessionState = iota
	stateSettingsRequested
	stateStartRequested
	stateStreaming
	stateStopRequested
)

func (s sessionState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateSettingsRequested:
		return "settings_requested"
	case stateStartRequested:
		return "start_requested"
	case stateStreaming:
		return "streaming"
	case stateStopRequested:
		return "stop_requested"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// session is the per-stream runtime record. It is owned by the registry
// and only ever touched under the registry mutex.
type session struct {
	subscribed bool
	state      sessionState
	// settings caches the device-advertised capability from the last
	// successful GetSettings round trip. PMD streams only.
	settings []pmd.Setting
}

// requestResult is delivered to the caller awaiting a control round trip.
type requestResult struct {
	resp pmd.ControlResponse
	err  error
}

// RequestToken correlates one outstanding control exchange with the call
// that issued it. The issuing path waits on done; the dispatch loop
// completes it.
type RequestToken struct {
	cmd  pmd.ControlCommand
	done chan requestResult
}

// registry is the single source of truth for what is subscribed and which
// control exchange, if any, is outstanding. One mutex protects all of it:
// beginRequest and complete must be atomic with respect to the busy check
// because the facade and the dispatch loop run on different goroutines.
type registry struct {
	mu       sync.Mutex
	sessions map[pmd.StreamKind]*session
	pending  *RequestToken
}

func newRegistry() *registry {
	return &registry{sessions: make(map[pmd.StreamKind]*session)}
}

func (r *registry) sessionFor(kind pmd.StreamKind) *session {
	s, ok := r.sessions[kind]
	if !ok {
		s = &session{}
		r.sessions[kind] = s
	}
	return s
}

// beginRequest registers cmd as the outstanding control exchange for a
// PMD stream. It fails with ErrBusy if any control exchange is already
// outstanding or the stream's session is mid-transition; the control
// point is one shared channel across every measurement type.
func (r *registry) beginRequest(kind pmd.StreamKind, cmd pmd.ControlCommand) (*RequestToken, error) {
	if !kind.IsMeasurement() {
		return nil, fmt.Errorf("polar: %s does not use the control point", kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pending != nil {
		return nil, fmt.Errorf("%w: %s for %s pending",
			ErrBusy, r.pending.cmd.Op, r.pending.cmd.Measurement)
	}
	s := r.sessionFor(kind)
	switch cmd.Op {
	case pmd.GetSettings:
		if s.state != stateIdle {
			return nil, fmt.Errorf("%w: %s is %s", ErrBusy, kind, s.state)
		}
		s.state = stateSettingsRequested
	case pmd.Start:
		if s.state != stateIdle {
			return nil, fmt.Errorf("%w: %s is %s", ErrBusy, kind, s.state)
		}
		s.state = stateStartRequested
	case pmd.Stop:
		if s.state != stateStreaming {
			return nil, fmt.Errorf("%w: %s is %s", ErrBusy, kind, s.state)
		}
		s.state = stateStopRequested
	default:
		return nil, fmt.Errorf("polar: unsupported op %s", cmd.Op)
	}

	token := &RequestToken{cmd: cmd, done: make(chan requestResult, 1)}
	r.pending = token
	return token, nil
}

// abortRequest withdraws an outstanding exchange, rolling the session
// back to the state it had before beginRequest. Used when the write
// failed or the caller timed out; a late response will then surface as a
// mismatch and be skipped.
func (r *registry) abortRequest(token *RequestToken) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending != token {
		return
	}
	r.pending = nil
	s := r.sessionFor(pmd.MeasurementStream(token.cmd.Measurement))
	s.state = rollback(s.state)
}

func rollback(state sessionState) sessionState {
	switch state {
	case stateSettingsRequested, stateStartRequested:
		return stateIdle
	case stateStopRequested:
		return stateStreaming
	default:
		return state
	}
}

// complete matches an inbound control response against the outstanding
// exchange, advances the session state machine and wakes the awaiting
// caller. A response with nothing outstanding, or echoing a different
// opcode or measurement type, fails with ErrMismatch and leaves the
// outstanding exchange in place.
func (r *registry) complete(resp pmd.ControlResponse) error {
	r.mu.Lock()
	token := r.pending
	if token == nil {
		r.mu.Unlock()
		return fmt.Errorf("%w: unsolicited %s response for %s", ErrMismatch, resp.Op, resp.Measurement)
	}
	if !resp.Matches(token.cmd) {
		r.mu.Unlock()
		return fmt.Errorf("%w: got %s for %s, want %s for %s",
			ErrMismatch, resp.Op, resp.Measurement, token.cmd.Op, token.cmd.Measurement)
	}
	r.pending = nil

	s := r.sessionFor(pmd.MeasurementStream(token.cmd.Measurement))
	if resp.Status != pmd.StatusSuccess {
		// The device refused; the session keeps its prior state.
		s.state = rollback(s.state)
	} else {
		switch token.cmd.Op {
		case pmd.GetSettings:
			s.settings = resp.Settings
			s.state = stateIdle
		case pmd.Start:
			s.state = stateStreaming
		case pmd.Stop:
			s.state = stateIdle
		}
	}
	r.mu.Unlock()

	token.done <- requestResult{resp: resp}
	return nil
}

// linkLost invalidates every session and fails the outstanding exchange,
// if any. Called when the transport notification stream ends.
func (r *registry) linkLost() {
	r.mu.Lock()
	token := r.pending
	r.pending = nil
	for _, s := range r.sessions {
		s.subscribed = false
		s.state = stateIdle
		s.settings = nil
	}
	r.mu.Unlock()

	if token != nil {
		token.done <- requestResult{err: ErrLinkLost}
	}
}

// setSubscribed flips a stream's subscription flag. Battery and heart
// rate have no control round trip: their lifecycle is the flag itself,
// idle when cleared and streaming when set.
func (r *registry) setSubscribed(kind pmd.StreamKind, subscribed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessionFor(kind)
	s.subscribed = subscribed
	if !kind.IsMeasurement() {
		if subscribed {
			s.state = stateStreaming
		} else {
			s.state = stateIdle
		}
	} else if !subscribed {
		s.state = stateIdle
	}
}

func (r *registry) isSubscribed(kind pmd.StreamKind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[kind]
	return ok && s.subscribed
}

// activeStreams returns the set of currently subscribed streams.
func (r *registry) activeStreams() map[pmd.StreamKind]bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	active := make(map[pmd.StreamKind]bool)
	for kind, s := range r.sessions {
		if s.subscribed {
			active[kind] = true
		}
	}
	return active
}

// subscribedMeasurements counts subscribed PMD streams; the shared data
// and control point characteristics stay enabled while it is non-zero.
func (r *registry) subscribedMeasurements() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for kind, s := range r.sessions {
		if kind.IsMeasurement() && s.subscribed {
			n++
		}
	}
	return n
}

func (r *registry) streamState(kind pmd.StreamKind) sessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[kind]
	if !ok {
		return stateIdle
	}
	return s.state
}

// cachedSettings returns the advertised settings from the last successful
// GetSettings for the measurement type, or nil if none were fetched.
func (r *registry) cachedSettings(t pmd.MeasurementType) []pmd.Setting {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[pmd.MeasurementStream(t)]
	if !ok {
		return nil
	}
	return s.settings
}
