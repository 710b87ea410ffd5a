package game

import (
	"errors"
	"fmt"
)

// Базовые категории ошибок игрового ядра. Проверяются через errors.Is.
var (
	ErrNotFound         = errors.New("not found")
	ErrNotAlive         = errors.New("not alive")
	ErrInsufficientMass = errors.New("insufficient mass")
)

// Конкретные ошибки, оборачивающие базовые категории
var (
	ErrConsumerNotFound  = fmt.Errorf("consumer %w", ErrNotFound)
	ErrTargetNotFound    = fmt.Errorf("target %w", ErrNotFound)
	ErrTargetNotAlive    = fmt.Errorf("target %w", ErrNotAlive)
	ErrInvalidName       = errors.New("invalid player name")
	ErrInvalidTargetKind = errors.New("invalid target type")
	ErrInvalidCount      = errors.New("count must be positive")
	ErrWorldFull         = errors.New("world is full")
)

// ErrorMessage возвращает короткое сообщение для клиента по ошибке ядра
func ErrorMessage(err error) string {
	switch {
	case errors.Is(err, ErrConsumerNotFound):
		return "Player not found or not alive"
	case errors.Is(err, ErrTargetNotFound):
		return "Target not found"
	case errors.Is(err, ErrTargetNotAlive):
		return "Target player not alive"
	case errors.Is(err, ErrInsufficientMass):
		return "Player not large enough to consume target"
	case errors.Is(err, ErrInvalidTargetKind):
		return "Invalid target type"
	case errors.Is(err, ErrNotFound):
		return "Player not found"
	case errors.Is(err, ErrInvalidName):
		return fmt.Sprintf("Name must be %d-%d characters", MinNameLength, MaxNameLength)
	case errors.Is(err, ErrWorldFull):
		return "World is full"
	case errors.Is(err, ErrInvalidCount):
		return "Count must be at least 1"
	default:
		return "Server error processing request"
	}
}
