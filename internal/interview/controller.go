package interview

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/mianshi/domain/entities"
	"github.com/satriahrh/mianshi/internal/audio"
	"github.com/satriahrh/mianshi/internal/handoff"
	"github.com/satriahrh/mianshi/internal/realtime"
)

const eventBufferSize = 256

// ErrControllerStopped is returned when posting to a controller whose loop has exited
var ErrControllerStopped = errors.New("controller stopped")

// Connection is an open relay connection
type Connection interface {
	Send(msg any) error
	Close() error
}

// DialFunc opens a relay connection. onMessage receives every inbound frame
// and onClose is called once when the connection ends.
type DialFunc func(ctx context.Context, onMessage func([]byte), onClose func(error)) (Connection, error)

// Capture produces microphone chunks
type Capture interface {
	Start(ctx context.Context, onChunk func(audio.Chunk)) error
	Stop()
}

// Playback renders encoded interviewer audio
type Playback interface {
	Play(frame string) error
	Close() error
}

// PlaybackFactory creates the playback engine for one session
type PlaybackFactory func() (Playback, error)

// HandoffFunc receives the transcript once the session ends
type HandoffFunc func(ctx context.Context, payload handoff.Payload) error

type connectionReady struct {
	conn Connection
	err  error
}

type sendDeferred struct{ msg any }

func (connectionReady) isEvent() {}
func (sendDeferred) isEvent()    {}

// Controller runs one interview session: it feeds events through the Machine
// and executes the resulting commands.
type Controller struct {
	machine     *Machine
	dial        DialFunc
	capture     Capture
	newPlayback PlaybackFactory
	handoff     HandoffFunc
	logger      *zap.Logger

	// OnChange observes every state transition. It runs on the event loop.
	OnChange func(State)
	// TickInterval is the countdown period
	TickInterval time.Duration

	events chan Event
	done   chan struct{}

	mu    sync.RWMutex
	state State

	// owned by the event loop
	conn          Connection
	player        Playback
	ticker        *time.Ticker
	timers        []*time.Timer
	cancelCapture context.CancelFunc
}

// NewController creates a controller in the idle phase
func NewController(dial DialFunc, capture Capture, newPlayback PlaybackFactory, onHandoff HandoffFunc, logger *zap.Logger) *Controller {
	return &Controller{
		machine:      NewMachine(),
		dial:         dial,
		capture:      capture,
		newPlayback:  newPlayback,
		handoff:      onHandoff,
		logger:       logger,
		TickInterval: time.Second,
		events:       make(chan Event, eventBufferSize),
		done:         make(chan struct{}),
	}
}

// RealtimeDialer adapts realtime.Dial to a DialFunc for the given relay URL
func RealtimeDialer(url string, logger *zap.Logger) DialFunc {
	return func(ctx context.Context, onMessage func([]byte), onClose func(error)) (Connection, error) {
		conn, err := realtime.Dial(ctx, url, nil, logger, onMessage, onClose)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// State returns a snapshot of the session state
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Done is closed once Run returns
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Start begins the session with the given settings
func (c *Controller) Start(settings entities.Settings) error {
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrMissingSessionParameters, err)
	}
	return c.Post(StartRequested{Settings: settings})
}

// BeginAnswer opens a candidate turn
func (c *Controller) BeginAnswer() error {
	return c.Post(BeginAnswer{})
}

// EndAnswer closes the current candidate turn
func (c *Controller) EndAnswer() error {
	return c.Post(EndAnswer{})
}

// End finishes the session and hands off the transcript
func (c *Controller) End() error {
	return c.Post(EndRequested{})
}

// Post queues an event for the event loop
func (c *Controller) Post(e Event) error {
	select {
	case <-c.done:
		return ErrControllerStopped
	default:
	}

	select {
	case c.events <- e:
		return nil
	case <-c.done:
		return ErrControllerStopped
	}
}

// Run processes events until the session ends or ctx is cancelled before it started
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.done)
	defer c.release()

	for {
		var tick <-chan time.Time
		if c.ticker != nil {
			tick = c.ticker.C
		}

		select {
		case <-ctx.Done():
			if c.State().Phase == PhaseIdle {
				return ctx.Err()
			}
			c.dispatch(ctx, EndRequested{})
		case e := <-c.events:
			c.dispatch(ctx, e)
		case <-tick:
			c.dispatch(ctx, Tick{})
		}

		if c.State().Phase == PhaseEnding {
			return nil
		}
	}
}

func (c *Controller) dispatch(ctx context.Context, e Event) {
	switch ev := e.(type) {
	case connectionReady:
		if ev.err != nil {
			e = ConnectionFailed{Err: ev.err}
			break
		}
		if c.State().Phase != PhaseConnecting {
			ev.conn.Close()
			return
		}
		c.conn = ev.conn
		e = Connected{}
	case sendDeferred:
		if c.State().Phase == PhaseActive {
			c.send(ev.msg)
		}
		return
	}

	c.mu.Lock()
	next, cmds := c.machine.Reduce(c.state, e)
	c.state = next
	c.mu.Unlock()

	if c.OnChange != nil {
		c.OnChange(next)
	}

	for _, cmd := range cmds {
		c.execute(ctx, cmd)
	}
}

func (c *Controller) execute(ctx context.Context, cmd Command) {
	switch cmd := cmd.(type) {
	case OpenPlayer:
		player, err := c.newPlayback()
		if err != nil {
			c.logger.Error("Failed to open playback", zap.Error(err))
			c.dispatch(ctx, PlaybackFailed{Err: fmt.Errorf("failed to open playback: %w", err)})
			return
		}
		c.player = player

	case OpenConnection:
		go func() {
			conn, err := c.dial(ctx, c.onMessage, c.onClose)
			if perr := c.Post(connectionReady{conn: conn, err: err}); perr != nil && conn != nil {
				conn.Close()
			}
		}()

	case Send:
		c.send(cmd.Message)

	case SendAfter:
		msg := cmd.Message
		c.timers = append(c.timers, time.AfterFunc(cmd.Delay, func() {
			c.Post(sendDeferred{msg: msg})
		}))

	case StartCapture:
		captureCtx, cancel := context.WithCancel(ctx)
		err := c.capture.Start(captureCtx, func(chunk audio.Chunk) {
			c.Post(AudioCaptured{Chunk: chunk})
		})
		if err != nil {
			cancel()
			c.logger.Warn("Failed to start capture", zap.Error(err))
			c.dispatch(ctx, DeviceFailed{Err: err})
			return
		}
		c.cancelCapture = cancel

	case StopCapture:
		c.stopCapture()

	case PlayAudio:
		if c.player == nil {
			return
		}
		if err := c.player.Play(cmd.Frame); err != nil {
			c.logger.Warn("Failed to play audio frame", zap.Error(err))
		}

	case StartTimer:
		if c.ticker == nil {
			c.ticker = time.NewTicker(c.TickInterval)
		}

	case StopTimer:
		c.stopTimers()

	case CloseConnection:
		if c.conn != nil {
			if err := c.conn.Close(); err != nil {
				c.logger.Debug("Failed to close connection", zap.Error(err))
			}
			c.conn = nil
		}

	case ClosePlayer:
		if c.player != nil {
			if err := c.player.Close(); err != nil {
				c.logger.Debug("Failed to close playback", zap.Error(err))
			}
			c.player = nil
		}

	case Handoff:
		if c.handoff == nil {
			return
		}
		if err := c.handoff(context.WithoutCancel(ctx), cmd.Payload); err != nil {
			c.logger.Error("Failed to hand off transcript", zap.Error(err))
		}
	}
}

func (c *Controller) send(msg any) {
	if c.conn == nil {
		return
	}
	if err := c.conn.Send(msg); err != nil {
		c.logger.Warn("Failed to send message", zap.Error(err))
	}
}

func (c *Controller) onMessage(data []byte) {
	event, err := realtime.ParseServerEvent(data)
	if err != nil {
		c.logger.Warn("Dropping malformed message", zap.Error(err))
		return
	}
	if !event.Known() {
		c.logger.Debug("Ignoring message", zap.String("type", string(event.Type)))
		return
	}
	c.Post(ServerMessage{Event: event})
}

func (c *Controller) onClose(err error) {
	c.Post(ConnectionClosed{Err: err})
}

func (c *Controller) stopCapture() {
	c.capture.Stop()
	if c.cancelCapture != nil {
		c.cancelCapture()
		c.cancelCapture = nil
	}
}

func (c *Controller) stopTimers() {
	if c.ticker != nil {
		c.ticker.Stop()
		c.ticker = nil
	}
	for _, t := range c.timers {
		t.Stop()
	}
	c.timers = nil
}

func (c *Controller) release() {
	c.stopTimers()
	c.stopCapture()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	if c.player != nil {
		c.player.Close()
		c.player = nil
	}
}
