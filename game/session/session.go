package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ugobenoist/quiz/game/quiz"
)

var ErrSessionClosed = errors.New("session closed")

// inboxSize bounds queued work before inbound deliveries start to wait
const inboxSize = 64

// Conn is a quiz.Channel the session owns and closes
type Conn interface {
	quiz.Channel
	Close() error
}

// doner is implemented by connections that report remote closure
type doner interface {
	Done() <-chan struct{}
}

// Session is one local player connected to the quiz server. All state
// changes run on the session's loop goroutine.
type Session struct {
	ID        string
	CreatedAt time.Time

	machine *quiz.Machine
	conn    Conn
	logger  *zap.Logger

	inbox chan func()
	quit  chan struct{}
	done  chan struct{}

	mu             sync.Mutex
	lastAccessedAt time.Time
	subs           map[int]chan quiz.State
	nextSub        int
	closed         bool
	closeOnce      sync.Once
	closeErr       error
}

// New builds a session around conn and starts its loop. Inbound handlers
// are registered before New returns.
func New(id, playerName string, conn Conn, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("session", id))

	machine, err := quiz.NewMachine(conn, playerName, logger)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	s := &Session{
		ID:             id,
		CreatedAt:      now,
		machine:        machine,
		conn:           conn,
		logger:         logger,
		inbox:          make(chan func(), inboxSize),
		quit:           make(chan struct{}),
		done:           make(chan struct{}),
		lastAccessedAt: now,
		subs:           make(map[int]chan quiz.State),
	}

	machine.OnChange(s.publish)
	machine.Attach(s.dispatch)

	go s.run()
	go s.watchConn()

	return s, nil
}

func (s *Session) run() {
	defer close(s.done)
	for {
		select {
		case fn := <-s.inbox:
			fn()
		case <-s.quit:
			return
		}
	}
}

// dispatch queues an inbound transition. Deliveries after Close are dropped.
func (s *Session) dispatch(fn func()) {
	select {
	case s.inbox <- fn:
	case <-s.quit:
	}
}

func (s *Session) watchConn() {
	d, ok := s.conn.(doner)
	if !ok {
		return
	}
	select {
	case <-d.Done():
		s.logger.Warn("connection to quiz server lost")
	case <-s.quit:
	}
}

// Do runs fn on the session loop and waits for its result
func (s *Session) Do(ctx context.Context, fn func(m *quiz.Machine) error) error {
	result := make(chan error, 1)
	task := func() { result <- fn(s.machine) }

	select {
	case <-s.quit:
		return ErrSessionClosed
	default:
	}

	select {
	case s.inbox <- task:
	case <-s.quit:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	s.touch()

	select {
	case err := <-result:
		return err
	case <-s.done:
		select {
		case err := <-result:
			return err
		default:
			return ErrSessionClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns a snapshot taken on the session loop
func (s *Session) State(ctx context.Context) (quiz.State, error) {
	var state quiz.State
	err := s.Do(ctx, func(m *quiz.Machine) error {
		state = m.Snapshot()
		return nil
	})
	return state, err
}

// Command runs one outbound command on the loop and returns whether it was
// emitted along with the state right after it.
func (s *Session) Command(ctx context.Context, cmd func(m *quiz.Machine) (bool, error)) (bool, quiz.State, error) {
	var (
		sent  bool
		state quiz.State
	)
	err := s.Do(ctx, func(m *quiz.Machine) error {
		var err error
		sent, err = cmd(m)
		state = m.Snapshot()
		return err
	})
	return sent, state, err
}

// Subscribe streams snapshots, starting with the current one. A slow reader
// only ever sees the latest snapshot. The stream is closed by cancel or by
// Close.
func (s *Session) Subscribe(ctx context.Context) (<-chan quiz.State, func(), error) {
	ch := make(chan quiz.State, 1)
	var id int

	err := s.Do(ctx, func(m *quiz.Machine) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return ErrSessionClosed
		}
		id = s.nextSub
		s.nextSub++
		s.subs[id] = ch
		ch <- m.Snapshot()
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub)
		}
	}
	return ch, cancel, nil
}

// publish runs on the loop for every machine mutation
func (s *Session) publish(state quiz.State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ch := range s.subs {
		select {
		case ch <- state:
		default:
			// drop the stale snapshot and keep the newest
			select {
			case <-ch:
			default:
			}
			ch <- state
		}
	}
}

// LastAccessedAt returns when a command last ran on the session
func (s *Session) LastAccessedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAccessedAt
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastAccessedAt = time.Now()
	s.mu.Unlock()
}

// Closed reports whether Close has been called
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close removes every inbound handler, stops the loop and closes the
// connection. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		detached := make(chan struct{})
		select {
		case s.inbox <- func() {
			s.machine.Detach()
			close(detached)
		}:
			<-detached
		case <-s.done:
		}

		close(s.quit)
		<-s.done

		s.mu.Lock()
		s.closed = true
		for id, ch := range s.subs {
			delete(s.subs, id)
			close(ch)
		}
		s.mu.Unlock()

		s.closeErr = s.conn.Close()
		s.logger.Info("session closed")
	})
	return s.closeErr
}
