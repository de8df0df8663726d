package logging

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel определяет уровни логирования
type LogLevel int

const (
	TRACE LogLevel = iota
	DEBUG
	INFO
	WARN
	ERROR
)

// String возвращает строковое представление уровня логирования
func (l LogLevel) String() string {
	switch l {
	case TRACE:
		return "TRACE"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel разбирает уровень из строки конфигурации ("debug", "INFO" ...)
func ParseLevel(s string) LogLevel {
	switch s {
	case "trace", "TRACE":
		return TRACE
	case "debug", "DEBUG":
		return DEBUG
	case "warn", "WARN", "warning":
		return WARN
	case "error", "ERROR":
		return ERROR
	default:
		return INFO
	}
}

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case TRACE:
		return zerolog.TraceLevel
	case DEBUG:
		return zerolog.DebugLevel
	case WARN:
		return zerolog.WarnLevel
	case ERROR:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Logger представляет логгер компонента: консоль + файл с разными порогами
type Logger struct {
	component       string
	consoleLogger   zerolog.Logger
	fileLogger      *zerolog.Logger
	file            *os.File
	minConsoleLevel LogLevel
	minFileLevel    LogLevel
}

// LogDir каталог для файловых логов. Пустая строка отключает запись в файл.
var LogDir = "logs"

// defaultLogger используется пакетными функциями Info/Debug/...
var defaultLogger = newConsoleLogger("default", os.Stderr)

func newConsoleLogger(component string, out io.Writer) *Logger {
	console := zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}).
		With().Timestamp().Str("component", component).Logger()
	return &Logger{
		component:       component,
		consoleLogger:   console,
		minConsoleLevel: INFO,
		minFileLevel:    DEBUG,
	}
}

// NewLogger создаёт логгер компонента с файлом logs/<component>_<timestamp>.log
func NewLogger(component string) (*Logger, error) {
	l := newConsoleLogger(component, os.Stderr)
	if LogDir == "" {
		return l, nil
	}

	if err := os.MkdirAll(LogDir, 0755); err != nil {
		return nil, fmt.Errorf("ошибка создания директории %s: %w", LogDir, err)
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	filename := filepath.Join(LogDir, fmt.Sprintf("%s_%s.log", component, timestamp))

	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания файла логов: %w", err)
	}

	fileLogger := zerolog.New(file).With().Timestamp().Str("component", component).Logger()
	l.file = file
	l.fileLogger = &fileLogger
	return l, nil
}

// NewWriterLogger создаёт логгер, пишущий только в указанный writer (тесты, CLI).
func NewWriterLogger(component string, out io.Writer, level LogLevel) *Logger {
	l := newConsoleLogger(component, out)
	l.minConsoleLevel = level
	return l
}

// Close закрывает файл логгера
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	l.fileLogger = nil
	return err
}

func (l *Logger) log(level LogLevel, format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)

	if l.fileLogger != nil && level >= l.minFileLevel {
		l.fileLogger.WithLevel(level.zerolog()).Msg(message)
	}
	if level >= l.minConsoleLevel {
		l.consoleLogger.WithLevel(level.zerolog()).Msg(message)
	}
}

// Trace логирует сообщение уровня TRACE
func (l *Logger) Trace(format string, args ...interface{}) { l.log(TRACE, format, args...) }

// Debug логирует сообщение уровня DEBUG
func (l *Logger) Debug(format string, args ...interface{}) { l.log(DEBUG, format, args...) }

// Info логирует сообщение уровня INFO
func (l *Logger) Info(format string, args ...interface{}) { l.log(INFO, format, args...) }

// Warn логирует сообщение уровня WARN
func (l *Logger) Warn(format string, args ...interface{}) { l.log(WARN, format, args...) }

// Error логирует сообщение уровня ERROR
func (l *Logger) Error(format string, args ...interface{}) { l.log(ERROR, format, args...) }

// InitDefaultLogger инициализирует глобальный логгер для указанного компонента
func InitDefaultLogger(component string) error {
	l, err := NewLogger(component)
	if err != nil {
		return err
	}
	defaultLogger = l
	return nil
}

// CloseDefaultLogger закрывает глобальный логгер
func CloseDefaultLogger() {
	if defaultLogger != nil {
		_ = defaultLogger.Close()
	}
}

// SetDefaultLogger подменяет глобальный логгер и возвращает восстановление прежнего
func SetDefaultLogger(l *Logger) (restore func()) {
	prev := defaultLogger
	defaultLogger = l
	return func() { defaultLogger = prev }
}

// SetDefaultLevel меняет консольный порог глобального логгера
func SetDefaultLevel(level LogLevel) {
	defaultLogger.minConsoleLevel = level
}

// Trace логирует сообщение уровня TRACE в глобальный логгер
func Trace(format string, args ...interface{}) { defaultLogger.Trace(format, args...) }

// Debug логирует сообщение уровня DEBUG в глобальный логгер
func Debug(format string, args ...interface{}) { defaultLogger.Debug(format, args...) }

// Info логирует сообщение уровня INFO в глобальный логгер
func Info(format string, args ...interface{}) { defaultLogger.Info(format, args...) }

// Warn логирует сообщение уровня WARN в глобальный логгер
func Warn(format string, args ...interface{}) { defaultLogger.Warn(format, args...) }

// Error логирует сообщение уровня ERROR в глобальный логгер
func Error(format string, args ...interface{}) { defaultLogger.Error(format, args...) }

// HexDump создает hex дамп данных
func HexDump(data []byte) string {
	if len(data) == 0 {
		return "No data"
	}

	// Ограничиваем размер дампа до 256 байт
	size := len(data)
	if size > 256 {
		size = 256
	}

	return hex.Dump(data[:size])
}

// LogDecodeError логирует фатальную ошибку разбора реплея с дампом окрестности
func LogDecodeError(source string, err error, data []byte) {
	Error("Ошибка разбора %s: %v", source, err)
	if len(data) > 0 {
		Debug("Raw data (%d bytes):\n%s", len(data), HexDump(data))
	}
}
