package interview

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/satriahrh/mianshi/domain/entities"
	"github.com/satriahrh/mianshi/internal/audio"
	"github.com/satriahrh/mianshi/internal/handoff"
	"github.com/satriahrh/mianshi/internal/realtime"
)

var (
	// ErrMissingSessionParameters means the session configuration is absent or corrupt
	ErrMissingSessionParameters = errors.New("missing session parameters")
	// ErrUpstreamConnection means the relay could not reach or lost the upstream endpoint
	ErrUpstreamConnection = errors.New("upstream connection error")
	// ErrDeviceUnavailable means the microphone could not be acquired
	ErrDeviceUnavailable = audio.ErrDeviceUnavailable
	// ErrProtocolParse means a relay message did not have the expected structure
	ErrProtocolParse = realtime.ErrProtocolParse
)

// Phase is the lifecycle stage of an interview session
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhaseActive
	PhaseEnding
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConnecting:
		return "connecting"
	case PhaseActive:
		return "active"
	case PhaseEnding:
		return "ending"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// State is the interview session aggregate
type State struct {
	Phase             Phase
	Settings          entities.Settings
	Messages          []entities.Message
	PartialTranscript string
	RemainingSeconds  int
	Recording         bool
	AISpeaking        bool
	Error             string

	// ids of placeholder user messages awaiting transcription, oldest first
	pendingUser []string
	handedOff   bool
}

// Event is an input to the state machine
type Event interface{ isEvent() }

type (
	// StartRequested is the explicit start action
	StartRequested struct{ Settings entities.Settings }
	// Connected means the relay connection is open
	Connected struct{}
	// ConnectionFailed means the relay could not be opened
	ConnectionFailed struct{ Err error }
	// ConnectionClosed means the relay connection ended
	ConnectionClosed struct{ Err error }
	// ServerMessage carries one parsed relay event
	ServerMessage struct{ Event *realtime.ServerEvent }
	// BeginAnswer is the manual start-answer action
	BeginAnswer struct{}
	// EndAnswer is the manual stop-answer action
	EndAnswer struct{}
	// AudioCaptured carries one microphone chunk
	AudioCaptured struct{ Chunk audio.Chunk }
	// DeviceFailed means capture could not start
	DeviceFailed struct{ Err error }
	// PlaybackFailed means the output device could not be opened
	PlaybackFailed struct{ Err error }
	// Tick is one countdown second
	Tick struct{}
	// EndRequested is the explicit end action
	EndRequested struct{}
)

func (StartRequested) isEvent()   {}
func (Connected) isEvent()        {}
func (ConnectionFailed) isEvent() {}
func (ConnectionClosed) isEvent() {}
func (ServerMessage) isEvent()    {}
func (BeginAnswer) isEvent()      {}
func (EndAnswer) isEvent()        {}
func (AudioCaptured) isEvent()    {}
func (DeviceFailed) isEvent()     {}
func (PlaybackFailed) isEvent()   {}
func (Tick) isEvent()             {}
func (EndRequested) isEvent()     {}

// Command is a side effect requested by the state machine
type Command interface{ isCommand() }

type (
	OpenPlayer     struct{}
	OpenConnection struct{}
	Send           struct{ Message any }
	// SendAfter sends Message once Delay has elapsed
	SendAfter struct {
		Message any
		Delay   time.Duration
	}
	StartCapture    struct{}
	StopCapture     struct{}
	PlayAudio       struct{ Frame string }
	StartTimer      struct{}
	StopTimer       struct{}
	CloseConnection struct{}
	ClosePlayer     struct{}
	// Handoff delivers the finished transcript for reporting
	Handoff struct{ Payload handoff.Payload }
)

func (OpenPlayer) isCommand()      {}
func (OpenConnection) isCommand()  {}
func (Send) isCommand()            {}
func (SendAfter) isCommand()       {}
func (StartCapture) isCommand()    {}
func (StopCapture) isCommand()     {}
func (PlayAudio) isCommand()       {}
func (StartTimer) isCommand()      {}
func (StopTimer) isCommand()       {}
func (CloseConnection) isCommand() {}
func (ClosePlayer) isCommand()     {}
func (Handoff) isCommand()         {}

// Machine is the turn-taking transition function. It holds no session state.
type Machine struct {
	NewID        func() string
	Now          func() time.Time
	OpeningDelay time.Duration
}

// NewMachine creates a machine with production defaults
func NewMachine() *Machine {
	return &Machine{
		NewID:        uuid.NewString,
		Now:          time.Now,
		OpeningDelay: 500 * time.Millisecond,
	}
}

// Reduce applies one event and returns the next state with the commands to run
func (m *Machine) Reduce(s State, e Event) (State, []Command) {
	if s.Phase == PhaseEnding {
		return s, nil
	}

	switch ev := e.(type) {
	case StartRequested:
		if s.Phase != PhaseIdle {
			return s, nil
		}
		if err := ev.Settings.Validate(); err != nil {
			s.Error = fmt.Errorf("%w: %w", ErrMissingSessionParameters, err).Error()
			return s, nil
		}
		s.Phase = PhaseConnecting
		s.Settings = ev.Settings
		s.RemainingSeconds = ev.Settings.DurationSeconds()
		s.Error = ""
		return s, []Command{OpenPlayer{}, OpenConnection{}}

	case Connected:
		if s.Phase != PhaseConnecting {
			return s, nil
		}
		s.Phase = PhaseActive
		opening := &realtime.ResponseCreate{
			Type:     realtime.EventResponseCreate,
			Response: &realtime.ResponseOptions{Modalities: []string{"audio", "text"}},
		}
		return s, []Command{
			Send{Message: realtime.NewSessionUpdate(SessionConfig(s.Settings))},
			SendAfter{Message: opening, Delay: m.OpeningDelay},
			StartTimer{},
		}

	case ConnectionFailed:
		if s.Phase != PhaseConnecting {
			return s, nil
		}
		s.Error = fmt.Errorf("%w: %w", ErrUpstreamConnection, ev.Err).Error()
		return m.end(s, false)

	case ConnectionClosed:
		switch s.Phase {
		case PhaseConnecting:
			if s.Error == "" {
				s.Error = fmt.Errorf("%w: connection closed before the session started", ErrUpstreamConnection).Error()
			}
			return m.end(s, false)
		case PhaseActive:
			if ev.Err != nil {
				s.Error = fmt.Errorf("%w: %w", ErrUpstreamConnection, ev.Err).Error()
			}
			return m.end(s, true)
		}
		return s, nil

	case PlaybackFailed:
		if s.Phase != PhaseIdle {
			s.Error = ev.Err.Error()
		}
		return s, nil

	case ServerMessage:
		// an upstream error can arrive before the connection is reported open
		if s.Phase == PhaseConnecting && ev.Event != nil && ev.Event.Type == realtime.EventError {
			s.Error = errorMessage(ev.Event)
			return s, nil
		}

	case EndRequested:
		switch s.Phase {
		case PhaseConnecting:
			return m.end(s, false)
		case PhaseActive:
			return m.end(s, true)
		}
		return s, nil
	}

	if s.Phase != PhaseActive {
		return s, nil
	}

	switch ev := e.(type) {
	case ServerMessage:
		return m.serverMessage(s, ev.Event)

	case BeginAnswer:
		if s.Recording {
			return s, nil
		}
		s.Recording = true
		s.Error = ""
		return s, []Command{StartCapture{}}

	case EndAnswer:
		if !s.Recording {
			return s, nil
		}
		// a manual stop always commits: capture ends before VAD can hear silence
		return m.closeUserTurn(s, true)

	case AudioCaptured:
		if !s.Recording {
			return s, nil
		}
		return s, []Command{Send{Message: realtime.NewInputAudioBufferAppend(audio.EncodeFrame(ev.Chunk))}}

	case DeviceFailed:
		s.Recording = false
		s.Error = ev.Err.Error()
		return s, nil

	case Tick:
		s.RemainingSeconds--
		if s.RemainingSeconds <= 0 {
			s.RemainingSeconds = 0
			return m.end(s, true)
		}
		return s, nil
	}

	return s, nil
}

func (m *Machine) serverMessage(s State, ev *realtime.ServerEvent) (State, []Command) {
	if ev == nil {
		return s, nil
	}

	switch ev.Type {
	case realtime.EventResponseAudioDelta:
		s.AISpeaking = true
		return s, []Command{PlayAudio{Frame: ev.Delta}}

	case realtime.EventResponseTranscriptDelta:
		s.PartialTranscript += ev.Delta

	case realtime.EventResponseTranscriptDone:
		text := ev.Transcript
		if text == "" {
			text = s.PartialTranscript
		}
		if strings.TrimSpace(text) != "" {
			s.Messages = appendMessage(s.Messages, entities.NewMessage(m.NewID(), entities.MessageRoleAssistant, text, m.Now()))
		}
		s.PartialTranscript = ""
		s.AISpeaking = false

	case realtime.EventResponseDone:
		s.AISpeaking = false
		if s.Settings.Automatic() && !s.Recording {
			s.Recording = true
			return s, []Command{StartCapture{}}
		}

	case realtime.EventSpeechStopped:
		if s.Settings.Automatic() && s.Recording {
			return m.closeUserTurn(s, false)
		}

	case realtime.EventInputTranscriptionComplete:
		return m.resolveTranscription(s, strings.TrimSpace(ev.Transcript)), nil

	case realtime.EventError:
		s.Error = errorMessage(ev)
	}

	return s, nil
}

// closeUserTurn appends the placeholder at the moment the turn closes so
// transcript order follows turn order.
func (m *Machine) closeUserTurn(s State, commit bool) (State, []Command) {
	id := m.NewID()
	s.Messages = appendMessage(s.Messages, entities.NewMessage(id, entities.MessageRoleUser, entities.PlaceholderContent, m.Now()))
	s.pendingUser = append(append([]string(nil), s.pendingUser...), id)
	s.Recording = false

	cmds := []Command{StopCapture{}}
	if commit {
		cmds = append(cmds, Send{Message: realtime.NewInputAudioBufferCommit()})
	}
	instructions := Instructions(s.Settings) + "\n\n" + RemainingNotice(s.RemainingSeconds)
	cmds = append(cmds, Send{Message: realtime.NewResponseCreate(instructions)})
	return s, cmds
}

func (m *Machine) resolveTranscription(s State, text string) State {
	if len(s.pendingUser) > 0 {
		id := s.pendingUser[0]
		s.pendingUser = append([]string(nil), s.pendingUser[1:]...)
		if text == "" {
			return s
		}
		if idx := indexOfMessage(s.Messages, id); idx >= 0 {
			s.Messages = replaceContent(s.Messages, idx, text)
			return s
		}
	}

	if text == "" {
		return s
	}
	for i, msg := range s.Messages {
		if msg.IsPlaceholder() {
			s.Messages = replaceContent(s.Messages, i, text)
			return s
		}
	}
	s.Messages = appendMessage(s.Messages, entities.NewMessage(m.NewID(), entities.MessageRoleUser, text, m.Now()))
	return s
}

func (m *Machine) end(s State, handOff bool) (State, []Command) {
	var cmds []Command
	if s.Recording {
		cmds = append(cmds, StopCapture{})
	}
	s.Phase = PhaseEnding
	s.Recording = false
	s.AISpeaking = false
	cmds = append(cmds, StopTimer{}, CloseConnection{}, ClosePlayer{})

	if handOff && !s.handedOff {
		s.handedOff = true
		cmds = append(cmds, Handoff{Payload: handoff.Payload{
			Messages: append([]entities.Message(nil), s.Messages...),
			Settings: s.Settings,
		}})
	}
	return s, cmds
}

func errorMessage(ev *realtime.ServerEvent) string {
	if ev.Error != nil && ev.Error.Message != "" {
		return ev.Error.Message
	}
	return "upstream error"
}

func appendMessage(msgs []entities.Message, msg entities.Message) []entities.Message {
	out := make([]entities.Message, len(msgs), len(msgs)+1)
	copy(out, msgs)
	return append(out, msg)
}

func replaceContent(msgs []entities.Message, idx int, content string) []entities.Message {
	out := append([]entities.Message(nil), msgs...)
	out[idx].Content = content
	return out
}

func indexOfMessage(msgs []entities.Message, id string) int {
	for i, msg := range msgs {
		if msg.ID == id {
			return i
		}
	}
	return -1
}
