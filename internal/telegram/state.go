package telegram

import (
	"sync"

	"github.com/digkill/MoonPathBot/internal/models"
)

// InputMode says what the next plain text message from a chat means.
type InputMode int

const (
	ModeIdle InputMode = iota
	ModeAwaitingName
	ModeAwaitingJournal
	ModeAwaitingCard
)

type Input struct {
	Mode      InputMode
	Name      string
	Mood      models.Mood
	ReadingID string
	Plan      models.Plan
	Page      int
}

type InputManager struct {
	mu     sync.RWMutex
	inputs map[int64]Input
}

func NewInputManager() *InputManager {
	return &InputManager{
		inputs: make(map[int64]Input),
	}
}

func (m *InputManager) Get(chatID int64) Input {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.inputs[chatID]
}

// Update applies fn to the chat's input under the lock.
func (m *InputManager) Update(chatID int64, fn func(*Input)) Input {
	m.mu.Lock()
	defer m.mu.Unlock()
	input := m.inputs[chatID]
	fn(&input)
	m.inputs[chatID] = input
	return input
}

func (m *InputManager) Reset(chatID int64) {
	m.mu.Lock()
	delete(m.inputs, chatID)
	m.mu.Unlock()
}
