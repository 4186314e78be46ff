package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"biochat/internal/session"
)

// Presenter relays session output into a running Bubble Tea program.
// Output produced before Attach is dropped.
type Presenter struct {
	mu      sync.RWMutex
	program *tea.Program
}

func NewPresenter() *Presenter { return &Presenter{} }

// Attach sets the program that receives session output.
func (p *Presenter) Attach(program *tea.Program) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.program = program
}

func (p *Presenter) Send(msg session.Message) { p.send(SentMsg{Message: msg}) }

func (p *Presenter) Stream(id, token string) { p.send(TokenMsg{ID: id, Token: token}) }

func (p *Presenter) Update(msg session.Message) { p.send(UpdatedMsg{Message: msg}) }

func (p *Presenter) send(msg tea.Msg) {
	p.mu.RLock()
	program := p.program
	p.mu.RUnlock()
	if program != nil {
		program.Send(msg)
	}
}
