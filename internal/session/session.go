package session

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"biochat/internal/domain"
)

// Fixed replies.
const (
	RefusalText           = "I apologize, but I am an AI agent designed specifically to answer questions about Paul Allen. I cannot assist with other topics."
	AgentUnavailableText  = "Sorry, the agent is not available."
	RouterUnavailableText = "Semantic Router is not initialized. Please check server logs."
	FailureText           = "Sorry, something went wrong while answering. Please try again."
	setupErrorFormat      = "Sorry, an error occurred during setup: %v"
)

// State is the lifecycle position of a Session.
type State int32

const (
	StateUninitialized State = iota
	StateReady
	StateRouting
	StateRejected
	StateAnswering
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateRouting:
		return "routing"
	case StateRejected:
		return "rejected"
	case StateAnswering:
		return "answering"
	default:
		return "uninitialized"
	}
}

// Branding holds the fixed introduction shown when a session starts.
type Branding struct {
	Author        string
	HeaderTitle   string
	HeaderContent string
	ImagePath     string
	Welcome       string
}

// DefaultBranding returns the Paul Allen archive introduction.
func DefaultBranding() Branding {
	return Branding{
		Author:        "Paul Allen AI Agent",
		HeaderTitle:   "Paul Allen Archives",
		HeaderContent: "💡 From Microsoft to Megayachts: Ask Anything",
		ImagePath:     "./public/Paul_Allen.jpg",
		Welcome:       "Hello! Please ask me anything about Microsoft's co-founder - Paul Allen, his life, career, or interests. I am here to help!",
	}
}

// AgentFactory builds the agent for a session. It is called once from Start.
type AgentFactory func(ctx context.Context) (domain.Agent, error)

// Config configures a Session. A nil Classifier means the router failed to
// initialize; a nil NewAgent leaves the session without an agent.
type Config struct {
	Branding   Branding
	Classifier domain.IntentClassifier
	Allowed    []string
	NewAgent   AgentFactory
	Logger     *zap.Logger
}

// Session is one conversation between a user and the agent. Messages are
// handled one at a time.
type Session struct {
	cfg       Config
	presenter Presenter
	log       *zap.Logger
	newID     func() string

	mu    sync.Mutex
	agent domain.Agent
	state atomic.Int32
}

func New(cfg Config, presenter Presenter) *Session {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{
		cfg:       cfg,
		presenter: presenter,
		log:       log.With(zap.String("session", uuid.NewString())),
		newID:     uuid.NewString,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// AuthorName is the display name attached to agent messages.
func (s *Session) AuthorName() string { return s.cfg.Branding.Author }

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

// Start sends the introduction (header, image, welcome) and then builds the
// agent. A setup failure is reported to the user and leaves the session without
// an agent.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.cfg.Branding
	s.presenter.Send(Message{ID: s.newID(), Author: b.Author, Kind: KindHeader, Title: b.HeaderTitle, Content: b.HeaderContent})
	s.presenter.Send(Message{ID: s.newID(), Author: b.Author, Kind: KindImage, Path: b.ImagePath})
	s.presenter.Send(Message{ID: s.newID(), Author: b.Author, Kind: KindText, Content: b.Welcome})

	if s.cfg.NewAgent != nil {
		s.log.Info("setting up the agent")
		agent, err := s.cfg.NewAgent(ctx)
		if err != nil {
			s.log.Error("error during chat start", zap.Error(err))
			s.reply(fmt.Sprintf(setupErrorFormat, err))
		} else {
			s.agent = agent
			s.log.Info("agent setup complete")
		}
	}
	s.setState(StateReady)
}

// HandleMessage routes text and, when the route is allowed, streams the agent's
// answer to the presenter. The returned error has already been reported to the
// user and is meant for logging.
func (s *Session) HandleMessage(ctx context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.setState(StateReady)

	s.setState(StateRouting)
	if s.cfg.Classifier == nil {
		s.reply(RouterUnavailableText)
		return domain.ErrRouterUnavailable
	}
	cls, err := s.cfg.Classifier.Classify(ctx, text)
	if err != nil {
		s.log.Error("routing failed", zap.Error(err))
		s.reply(FailureText)
		return fmt.Errorf("classify message: %w", err)
	}
	if !slices.Contains(s.cfg.Allowed, cls.Route) {
		s.setState(StateRejected)
		s.log.Info("message refused", zap.String("route", cls.Route))
		s.reply(RefusalText)
		return nil
	}
	if s.agent == nil {
		s.reply(AgentUnavailableText)
		return domain.ErrAgentUnavailable
	}

	s.setState(StateAnswering)
	s.log.Debug("answering", zap.String("route", cls.Route), zap.Float64("score", cls.Score))
	id := s.newID()
	msg := Message{ID: id, Author: s.cfg.Branding.Author, Kind: KindText}
	s.presenter.Send(msg)

	var answer strings.Builder
	var streamErr error
	for f := range s.agent.StreamAnswer(ctx, text) {
		if f.Err != nil {
			streamErr = f.Err
			continue
		}
		if f.Text == "" {
			continue
		}
		answer.WriteString(f.Text)
		s.presenter.Stream(id, f.Text)
	}
	msg.Content = answer.String()
	s.presenter.Update(msg)

	if streamErr != nil {
		s.log.Error("answer stream failed", zap.Error(streamErr))
		s.reply(FailureText)
		return fmt.Errorf("stream answer: %w", streamErr)
	}
	return nil
}

func (s *Session) reply(text string) {
	s.presenter.Send(Message{ID: s.newID(), Author: s.cfg.Branding.Author, Kind: KindText, Content: text})
}
