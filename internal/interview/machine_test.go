package interview

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/satriahrh/mianshi/domain/entities"
	"github.com/satriahrh/mianshi/internal/audio"
	"github.com/satriahrh/mianshi/internal/realtime"
)

func newTestMachine() *Machine {
	n := 0
	return &Machine{
		NewID: func() string {
			n++
			return fmt.Sprintf("id-%d", n)
		},
		Now:          func() time.Time { return time.UnixMilli(1700000000000) },
		OpeningDelay: 500 * time.Millisecond,
	}
}

func testSettings(turns entities.TurnDetection) entities.Settings {
	return entities.Settings{
		Mode:          entities.ModeInternet,
		Position:      "产品经理",
		Company:       "腾讯",
		Round:         entities.RoundBusiness,
		Duration:      15,
		TurnDetection: turns,
	}
}

// activeState drives a machine to the active phase and discards the commands
func activeState(t *testing.T, m *Machine, settings entities.Settings) State {
	t.Helper()
	s, _ := m.Reduce(State{}, StartRequested{Settings: settings})
	s, _ = m.Reduce(s, Connected{})
	if s.Phase != PhaseActive {
		t.Fatalf("Expected active phase, got %s", s.Phase)
	}
	return s
}

func server(eventType realtime.EventType, opts ...func(*realtime.ServerEvent)) ServerMessage {
	ev := &realtime.ServerEvent{Type: eventType}
	for _, o := range opts {
		o(ev)
	}
	return ServerMessage{Event: ev}
}

func withDelta(d string) func(*realtime.ServerEvent) {
	return func(e *realtime.ServerEvent) { e.Delta = d }
}

func withTranscript(text string) func(*realtime.ServerEvent) {
	return func(e *realtime.ServerEvent) { e.Transcript = text }
}

func hasCommand[T Command](cmds []Command) bool {
	for _, c := range cmds {
		if _, ok := c.(T); ok {
			return true
		}
	}
	return false
}

func countCommands[T Command](cmds []Command) int {
	n := 0
	for _, c := range cmds {
		if _, ok := c.(T); ok {
			n++
		}
	}
	return n
}

func sentMessages(cmds []Command) []any {
	var out []any
	for _, c := range cmds {
		if send, ok := c.(Send); ok {
			out = append(out, send.Message)
		}
	}
	return out
}

func TestMachineStart(t *testing.T) {
	m := newTestMachine()

	t.Run("invalid settings stay idle", func(t *testing.T) {
		s, cmds := m.Reduce(State{}, StartRequested{Settings: entities.Settings{Mode: entities.ModeTech}})
		if s.Phase != PhaseIdle {
			t.Errorf("Expected idle phase, got %s", s.Phase)
		}
		if len(cmds) != 0 {
			t.Errorf("Expected no commands, got %d", len(cmds))
		}
		if !strings.Contains(s.Error, ErrMissingSessionParameters.Error()) {
			t.Errorf("Expected missing parameters error, got %q", s.Error)
		}
	})

	t.Run("valid settings connect", func(t *testing.T) {
		s, cmds := m.Reduce(State{}, StartRequested{Settings: testSettings("")})
		if s.Phase != PhaseConnecting {
			t.Errorf("Expected connecting phase, got %s", s.Phase)
		}
		if s.RemainingSeconds != 900 {
			t.Errorf("Expected 900 remaining seconds, got %d", s.RemainingSeconds)
		}
		if !hasCommand[OpenPlayer](cmds) || !hasCommand[OpenConnection](cmds) {
			t.Errorf("Expected OpenPlayer and OpenConnection, got %#v", cmds)
		}
	})
}

func TestMachineConnected(t *testing.T) {
	m := newTestMachine()
	s, _ := m.Reduce(State{}, StartRequested{Settings: testSettings("")})
	s, cmds := m.Reduce(s, Connected{})

	if s.Phase != PhaseActive {
		t.Fatalf("Expected active phase, got %s", s.Phase)
	}
	if len(cmds) != 3 {
		t.Fatalf("Expected 3 commands, got %d", len(cmds))
	}

	update, ok := cmds[0].(Send).Message.(*realtime.SessionUpdate)
	if !ok {
		t.Fatalf("Expected session.update first, got %#v", cmds[0])
	}
	if update.Session.Voice != "echo" {
		t.Errorf("Expected echo voice for business round, got %s", update.Session.Voice)
	}
	if update.Session.TurnDetection == nil || update.Session.TurnDetection.Type != "server_vad" {
		t.Errorf("Expected server_vad turn detection, got %#v", update.Session.TurnDetection)
	}

	after, ok := cmds[1].(SendAfter)
	if !ok {
		t.Fatalf("Expected deferred opening response, got %#v", cmds[1])
	}
	if after.Delay != 500*time.Millisecond {
		t.Errorf("Expected 500ms delay, got %v", after.Delay)
	}
	opening := after.Message.(*realtime.ResponseCreate)
	if opening.Type != realtime.EventResponseCreate {
		t.Errorf("Expected response.create, got %s", opening.Type)
	}
	if _, ok := cmds[2].(StartTimer); !ok {
		t.Errorf("Expected StartTimer, got %#v", cmds[2])
	}

	again, cmds := m.Reduce(s, Connected{})
	if again.Phase != PhaseActive || len(cmds) != 0 {
		t.Errorf("Expected duplicate Connected to be ignored")
	}
}

func TestMachineConnectionFailure(t *testing.T) {
	m := newTestMachine()
	s, _ := m.Reduce(State{}, StartRequested{Settings: testSettings("")})
	s, cmds := m.Reduce(s, ConnectionFailed{Err: errors.New("connection refused")})

	if s.Phase != PhaseEnding {
		t.Errorf("Expected ending phase, got %s", s.Phase)
	}
	if !strings.Contains(s.Error, "connection refused") {
		t.Errorf("Expected dial error in state, got %q", s.Error)
	}
	if hasCommand[Handoff](cmds) {
		t.Error("Expected no handoff when the session never started")
	}
	if !hasCommand[ClosePlayer](cmds) {
		t.Error("Expected the player to be closed")
	}
}

// The whole countdown elapses and the session hands off exactly once.
func TestMachineCountdownEndsSession(t *testing.T) {
	m := newTestMachine()
	s := activeState(t, m, testSettings(""))

	var cmds []Command
	for i := 0; i < 899; i++ {
		s, cmds = m.Reduce(s, Tick{})
		if len(cmds) != 0 {
			t.Fatalf("Unexpected commands at tick %d: %#v", i+1, cmds)
		}
	}
	if s.Phase != PhaseActive || s.RemainingSeconds != 1 {
		t.Fatalf("Expected active with 1 second left, got %s with %d", s.Phase, s.RemainingSeconds)
	}

	s, cmds = m.Reduce(s, Tick{})
	if s.Phase != PhaseEnding {
		t.Fatalf("Expected ending phase, got %s", s.Phase)
	}
	if s.RemainingSeconds != 0 {
		t.Errorf("Expected 0 remaining seconds, got %d", s.RemainingSeconds)
	}
	for _, want := range []func([]Command) bool{hasCommand[StopTimer], hasCommand[CloseConnection], hasCommand[ClosePlayer]} {
		if !want(cmds) {
			t.Errorf("Missing teardown command in %#v", cmds)
		}
	}
	if countCommands[Handoff](cmds) != 1 {
		t.Errorf("Expected exactly one handoff, got %d", countCommands[Handoff](cmds))
	}

	for _, e := range []Event{Tick{}, EndRequested{}, ConnectionClosed{}} {
		next, more := m.Reduce(s, e)
		if len(more) != 0 || next.Phase != PhaseEnding {
			t.Errorf("Expected %T to be ignored after ending", e)
		}
	}
}

// A late transcription fills the placeholder in place without reordering.
func TestMachinePlaceholderResolvedInPlace(t *testing.T) {
	m := newTestMachine()
	s := activeState(t, m, testSettings(entities.TurnDetectionManual))

	s, _ = m.Reduce(s, server(realtime.EventResponseTranscriptDelta, withDelta("请做")))
	s, _ = m.Reduce(s, server(realtime.EventResponseTranscriptDelta, withDelta("自我介绍")))
	s, _ = m.Reduce(s, server(realtime.EventResponseTranscriptDone))
	s, _ = m.Reduce(s, server(realtime.EventResponseDone))

	if len(s.Messages) != 1 || s.Messages[0].Content != "请做自我介绍" {
		t.Fatalf("Expected buffered assistant transcript, got %#v", s.Messages)
	}
	if s.PartialTranscript != "" {
		t.Errorf("Expected partial transcript cleared, got %q", s.PartialTranscript)
	}
	if s.Recording {
		t.Fatal("Manual mode must not start recording on response.done")
	}

	s, cmds := m.Reduce(s, BeginAnswer{})
	if !s.Recording || !hasCommand[StartCapture](cmds) {
		t.Fatal("Expected BeginAnswer to start capture")
	}

	before := s.Messages
	s, cmds = m.Reduce(s, EndAnswer{})
	if len(s.Messages) != 2 || !s.Messages[1].IsPlaceholder() {
		t.Fatalf("Expected placeholder appended, got %#v", s.Messages)
	}
	if len(before) != 1 {
		t.Error("Expected previous message slice to stay untouched")
	}
	placeholderID := s.Messages[1].ID

	sent := sentMessages(cmds)
	if len(sent) != 2 {
		t.Fatalf("Expected commit and response.create, got %#v", sent)
	}
	if _, ok := sent[0].(*realtime.InputAudioBufferCommit); !ok {
		t.Errorf("Expected commit first, got %#v", sent[0])
	}
	resp := sent[1].(*realtime.ResponseCreate)
	if resp.Response == nil || !strings.Contains(resp.Response.Instructions, "面试剩余时间：15分00秒") {
		t.Errorf("Expected remaining time in instructions, got %#v", resp.Response)
	}

	s, _ = m.Reduce(s, server(realtime.EventResponseTranscriptDone, withTranscript("说说你最近的项目")))
	s, _ = m.Reduce(s, server(realtime.EventInputTranscriptionComplete, withTranscript("我是一名产品经理")))

	if len(s.Messages) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(s.Messages))
	}
	if s.Messages[1].ID != placeholderID || s.Messages[1].Content != "我是一名产品经理" {
		t.Errorf("Expected placeholder replaced in place, got %#v", s.Messages[1])
	}
	if s.Messages[2].Role != entities.MessageRoleAssistant {
		t.Errorf("Expected assistant message to stay last, got %#v", s.Messages[2])
	}
}

func TestMachinePlaceholdersResolveOldestFirst(t *testing.T) {
	m := newTestMachine()
	s := activeState(t, m, testSettings(entities.TurnDetectionManual))

	for i := 0; i < 2; i++ {
		s, _ = m.Reduce(s, BeginAnswer{})
		s, _ = m.Reduce(s, EndAnswer{})
	}
	s, _ = m.Reduce(s, server(realtime.EventInputTranscriptionComplete, withTranscript("第一")))
	s, _ = m.Reduce(s, server(realtime.EventInputTranscriptionComplete, withTranscript("第二")))

	if s.Messages[0].Content != "第一" || s.Messages[1].Content != "第二" {
		t.Errorf("Expected transcriptions in turn order, got %#v", s.Messages)
	}
}

func TestMachineTranscriptionEdgeCases(t *testing.T) {
	m := newTestMachine()

	t.Run("empty transcription keeps sentinel", func(t *testing.T) {
		s := activeState(t, m, testSettings(entities.TurnDetectionManual))
		s, _ = m.Reduce(s, BeginAnswer{})
		s, _ = m.Reduce(s, EndAnswer{})
		s, _ = m.Reduce(s, server(realtime.EventInputTranscriptionComplete, withTranscript("  ")))
		if !s.Messages[0].IsPlaceholder() {
			t.Errorf("Expected sentinel kept, got %q", s.Messages[0].Content)
		}
	})

	t.Run("unmatched transcription appends", func(t *testing.T) {
		s := activeState(t, m, testSettings(""))
		s, _ = m.Reduce(s, server(realtime.EventInputTranscriptionComplete, withTranscript("你好")))
		if len(s.Messages) != 1 || s.Messages[0].Role != entities.MessageRoleUser {
			t.Errorf("Expected appended user message, got %#v", s.Messages)
		}
	})

	t.Run("empty assistant transcript is not recorded", func(t *testing.T) {
		s := activeState(t, m, testSettings(""))
		s, _ = m.Reduce(s, server(realtime.EventResponseTranscriptDone))
		if len(s.Messages) != 0 {
			t.Errorf("Expected no messages, got %#v", s.Messages)
		}
	})
}

func TestMachineAutomaticTurns(t *testing.T) {
	m := newTestMachine()
	s := activeState(t, m, testSettings(entities.TurnDetectionAutomatic))

	s, cmds := m.Reduce(s, server(realtime.EventResponseAudioDelta, withDelta("AAAA")))
	if !s.AISpeaking {
		t.Error("Expected AI speaking after audio delta")
	}
	if len(cmds) != 1 || cmds[0].(PlayAudio).Frame != "AAAA" {
		t.Errorf("Expected PlayAudio, got %#v", cmds)
	}

	s, cmds = m.Reduce(s, server(realtime.EventResponseDone))
	if s.AISpeaking || !s.Recording || !hasCommand[StartCapture](cmds) {
		t.Fatal("Expected response.done to start recording in automatic mode")
	}

	s, cmds = m.Reduce(s, AudioCaptured{Chunk: audio.Chunk{0, 1}})
	sent := sentMessages(cmds)
	if len(sent) != 1 {
		t.Fatalf("Expected one append, got %#v", cmds)
	}
	if app := sent[0].(*realtime.InputAudioBufferAppend); app.Audio != "AAABAA==" {
		t.Errorf("Expected encoded frame, got %q", app.Audio)
	}

	s, cmds = m.Reduce(s, server(realtime.EventSpeechStopped))
	if s.Recording || !hasCommand[StopCapture](cmds) {
		t.Error("Expected speech_stopped to close the turn")
	}
	for _, msg := range sentMessages(cmds) {
		if _, ok := msg.(*realtime.InputAudioBufferCommit); ok {
			t.Error("Automatic mode must not commit explicitly")
		}
	}
	if len(s.Messages) != 1 || !s.Messages[0].IsPlaceholder() {
		t.Errorf("Expected placeholder, got %#v", s.Messages)
	}

	s, cmds = m.Reduce(s, AudioCaptured{Chunk: audio.Chunk{0}})
	if len(cmds) != 0 {
		t.Error("Expected audio dropped while not recording")
	}
}

func TestMachineErrorKeepsPhase(t *testing.T) {
	m := newTestMachine()
	s := activeState(t, m, testSettings(""))

	ev := server(realtime.EventError)
	ev.Event.Error = &realtime.ErrorDetail{Message: "Rate limit exceeded"}
	s, cmds := m.Reduce(s, ev)

	if s.Phase != PhaseActive {
		t.Errorf("Expected active phase, got %s", s.Phase)
	}
	if s.Error != "Rate limit exceeded" {
		t.Errorf("Expected error surfaced, got %q", s.Error)
	}
	if len(cmds) != 0 {
		t.Errorf("Expected no commands, got %#v", cmds)
	}
}

func TestMachineDeviceFailure(t *testing.T) {
	m := newTestMachine()
	s := activeState(t, m, testSettings(entities.TurnDetectionManual))

	s, _ = m.Reduce(s, BeginAnswer{})
	s, _ = m.Reduce(s, DeviceFailed{Err: ErrDeviceUnavailable})

	if s.Recording {
		t.Error("Expected recording cleared")
	}
	if s.Phase != PhaseActive {
		t.Errorf("Expected active phase, got %s", s.Phase)
	}
	if s.Error == "" {
		t.Error("Expected device error surfaced")
	}
}

func TestMachineEndWhileRecording(t *testing.T) {
	m := newTestMachine()
	s := activeState(t, m, testSettings(entities.TurnDetectionManual))
	s, _ = m.Reduce(s, BeginAnswer{})

	s, cmds := m.Reduce(s, EndRequested{})
	if s.Phase != PhaseEnding || s.Recording {
		t.Fatalf("Expected ending without recording, got %s recording=%v", s.Phase, s.Recording)
	}
	if _, ok := cmds[0].(StopCapture); !ok {
		t.Errorf("Expected StopCapture first, got %#v", cmds[0])
	}
	if countCommands[Handoff](cmds) != 1 {
		t.Error("Expected handoff on explicit end")
	}
}

func TestPhaseString(t *testing.T) {
	tests := map[Phase]string{
		PhaseIdle:       "idle",
		PhaseConnecting: "connecting",
		PhaseActive:     "active",
		PhaseEnding:     "ending",
		Phase(9):        "phase(9)",
	}
	for p, want := range tests {
		if p.String() != want {
			t.Errorf("Phase(%d).String() = %q, want %q", int(p), p.String(), want)
		}
	}
}

func TestMachineManualStopInAutomaticMode(t *testing.T) {
	m := newTestMachine()
	s := activeState(t, m, testSettings(entities.TurnDetectionAutomatic))

	s, _ = m.Reduce(s, server(realtime.EventResponseDone))
	s, _ = m.Reduce(s, AudioCaptured{Chunk: audio.Chunk{0, 1}})
	s, cmds := m.Reduce(s, EndAnswer{})

	sent := sentMessages(cmds)
	if len(sent) != 2 {
		t.Fatalf("Expected commit and response.create, got %#v", sent)
	}
	if _, ok := sent[0].(*realtime.InputAudioBufferCommit); !ok {
		t.Errorf("Expected manual stop to commit, got %#v", sent[0])
	}

	s, _ = m.Reduce(s, server(realtime.EventResponseDone))
	s, _ = m.Reduce(s, server(realtime.EventSpeechStopped))
	s, _ = m.Reduce(s, server(realtime.EventInputTranscriptionComplete, withTranscript("第一轮回答")))
	s, _ = m.Reduce(s, server(realtime.EventInputTranscriptionComplete, withTranscript("第二轮回答")))

	if len(s.Messages) != 2 {
		t.Fatalf("Expected 2 messages, got %#v", s.Messages)
	}
	if s.Messages[0].Content != "第一轮回答" || s.Messages[1].Content != "第二轮回答" {
		t.Errorf("Expected transcriptions in turn order, got %q and %q", s.Messages[0].Content, s.Messages[1].Content)
	}
}

func TestMachineUpstreamErrorWhileConnecting(t *testing.T) {
	m := newTestMachine()
	s, _ := m.Reduce(State{}, StartRequested{Settings: testSettings("")})

	ev := server(realtime.EventError)
	ev.Event.Error = &realtime.ErrorDetail{Message: "upstream connection error: dial tcp: connection refused"}
	s, cmds := m.Reduce(s, ev)
	if s.Phase != PhaseConnecting || len(cmds) != 0 {
		t.Fatalf("Expected to stay connecting, got %s with %#v", s.Phase, cmds)
	}

	s, _ = m.Reduce(s, ConnectionClosed{})
	if s.Phase != PhaseEnding {
		t.Fatalf("Expected ending phase, got %s", s.Phase)
	}
	if s.Error != "upstream connection error: dial tcp: connection refused" {
		t.Errorf("Expected upstream error text kept, got %q", s.Error)
	}
}

func TestMachinePlaybackFailure(t *testing.T) {
	m := newTestMachine()
	s, _ := m.Reduce(State{}, StartRequested{Settings: testSettings("")})

	s, cmds := m.Reduce(s, PlaybackFailed{Err: errors.New("ffplay not found")})
	if s.Phase != PhaseConnecting || len(cmds) != 0 {
		t.Errorf("Expected to stay connecting, got %s with %#v", s.Phase, cmds)
	}
	if s.Error != "ffplay not found" {
		t.Errorf("Expected playback error surfaced, got %q", s.Error)
	}
}
