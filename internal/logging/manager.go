package logging

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Компоненты сервера арены, у каждого свой логгер и свои уровни
const (
	ComponentNetwork  = "network"
	ComponentWorld    = "world"
	ComponentAPI      = "api"
	ComponentEventBus = "eventbus"
	ComponentClient   = "client"
)

type levelPair struct {
	console LogLevel
	file    LogLevel
}

// LoggerManager раздаёт логгеры компонентов и хранит переопределения уровней.
// Переопределение действует и на уже созданный логгер, и на созданный позже.
type LoggerManager struct {
	mu        sync.RWMutex
	loggers   map[string]*Logger
	overrides map[string]levelPair
}

var (
	globalManager *LoggerManager
	managerOnce   sync.Once
)

// GetLoggerManager возвращает глобальный менеджер логгеров
func GetLoggerManager() *LoggerManager {
	managerOnce.Do(func() {
		globalManager = newLoggerManager()
	})
	return globalManager
}

func newLoggerManager() *LoggerManager {
	return &LoggerManager{
		loggers:   make(map[string]*Logger),
		overrides: make(map[string]levelPair),
	}
}

// GetLogger возвращает логгер для компонента, создавая его при необходимости
func (lm *LoggerManager) GetLogger(component string) (*Logger, error) {
	lm.mu.RLock()
	if logger, exists := lm.loggers[component]; exists {
		lm.mu.RUnlock()
		return logger, nil
	}
	lm.mu.RUnlock()

	lm.mu.Lock()
	defer lm.mu.Unlock()

	if logger, exists := lm.loggers[component]; exists {
		return logger, nil
	}

	logger, err := NewLogger(component)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger for %s: %w", component, err)
	}
	if lv, ok := lm.overrides[component]; ok {
		logger.setLevels(lv.console, lv.file)
	}

	lm.loggers[component] = logger
	return logger, nil
}

// MustGetLogger возвращает логгер или консольный fallback при ошибке
func (lm *LoggerManager) MustGetLogger(component string) *Logger {
	logger, err := lm.GetLogger(component)
	if err != nil {
		fallback := NewConsoleLogger(component, nil)
		fallback.consoleLogger = defaultLogger.consoleLogger
		return fallback
	}
	return logger
}

// CloseAll закрывает все логгеры. Переопределения уровней сохраняются.
func (lm *LoggerManager) CloseAll() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	var lastErr error
	for component, logger := range lm.loggers {
		if err := logger.Close(); err != nil {
			lastErr = fmt.Errorf("failed to close logger for %s: %w", component, err)
		}
	}

	lm.loggers = make(map[string]*Logger)
	return lastErr
}

// SetLogLevel задаёт уровни компонента
func (lm *LoggerManager) SetLogLevel(component string, consoleLevel, fileLevel LogLevel) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	lm.overrides[component] = levelPair{console: consoleLevel, file: fileLevel}
	if logger, exists := lm.loggers[component]; exists {
		logger.setLevels(consoleLevel, fileLevel)
	}
}

// ApplyLevels применяет уровни из конфигурации вида {"network": "debug"}.
// Уровень компонента задаёт порог и консоли, и файла.
// Неизвестный уровень отклоняет весь набор.
func (lm *LoggerManager) ApplyLevels(levels map[string]string) error {
	parsed := make(map[string]LogLevel, len(levels))
	for component, raw := range levels {
		lvl, err := ParseLevel(raw)
		if err != nil {
			return fmt.Errorf("logging.components.%s: %w", component, err)
		}
		parsed[component] = lvl
	}
	for component, lvl := range parsed {
		lm.SetLogLevel(component, lvl, lvl)
	}
	return nil
}

// Levels описывает текущие пороги консоли всех известных компонентов
func (lm *LoggerManager) Levels() map[string]string {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	out := make(map[string]string, len(lm.loggers)+len(lm.overrides))
	for component, lv := range lm.overrides {
		out[component] = lv.console.String()
	}
	for component, logger := range lm.loggers {
		console, _ := logger.levels()
		out[component] = console.String()
	}
	return out
}

// String удобен для стартового лога: "api=INFO network=DEBUG"
func (lm *LoggerManager) String() string {
	levels := lm.Levels()
	parts := make([]string, 0, len(levels))
	for component, lvl := range levels {
		parts = append(parts, component+"="+lvl)
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}

// GetComponentLogger удобная обёртка над глобальным менеджером
func GetComponentLogger(component string) *Logger {
	return GetLoggerManager().MustGetLogger(component)
}

func GetNetworkLogger() *Logger {
	return GetComponentLogger(ComponentNetwork)
}

func GetWorldLogger() *Logger {
	return GetComponentLogger(ComponentWorld)
}

func GetAPILogger() *Logger {
	return GetComponentLogger(ComponentAPI)
}

func GetEventBusLogger() *Logger {
	return GetComponentLogger(ComponentEventBus)
}

func GetClientLogger() *Logger {
	return GetComponentLogger(ComponentClient)
}
