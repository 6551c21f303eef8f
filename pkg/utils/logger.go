package utils

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig - конфигурация логгера
type LogConfig struct {
	// Level - минимальный уровень логирования: debug, info, warn, error, fatal
	Level string

	// Format - формат вывода: json (production) или text (console)
	Format string

	// Development - режим разработки (читаемый вывод, stack traces на Warn)
	Development bool

	// Output - путь к файлу лога; пусто = stderr
	Output string
}

// Logger - обёртка над zap.Logger с доменными конструкторами полей
type Logger struct {
	*zap.Logger
	sugar *zap.SugaredLogger
}

// ============================================================
// Инициализация
// ============================================================

// parseLevel преобразует строковый уровень в zapcore.Level
// Неизвестные значения дают InfoLevel
func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// InitLogger создаёт логгер по конфигурации
//
// Не возвращает ошибку: при невалидном Output делается fallback на stderr,
// инициализация логирования не должна ронять процесс
func InitLogger(cfg LogConfig) *Logger {
	level := parseLevel(cfg.Level)

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if cfg.Development {
		encoderCfg = zap.NewDevelopmentEncoderConfig()
	}

	var encoder zapcore.Encoder
	if strings.ToLower(cfg.Format) == "text" {
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	// Вывод: файл или stderr
	sink := zapcore.AddSync(os.Stderr)
	if cfg.Output != "" {
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			sink = zapcore.AddSync(file)
		}
		// При ошибке открытия файла остаёмся на stderr
	}

	core := zapcore.NewCore(encoder, sink, level)

	opts := []zap.Option{zap.AddCaller()}
	if cfg.Development {
		opts = append(opts, zap.Development())
	}

	zl := zap.New(core, opts...)

	return &Logger{
		Logger: zl,
		sugar:  zl.Sugar(),
	}
}

// ============================================================
// Глобальный логгер
// ============================================================

var (
	globalMu     sync.RWMutex
	globalLogger *Logger
)

// GetGlobalLogger возвращает глобальный логгер,
// создавая дефолтный при первом обращении
func GetGlobalLogger() *Logger {
	globalMu.RLock()
	l := globalLogger
	globalMu.RUnlock()
	if l != nil {
		return l
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = InitLogger(LogConfig{Level: "info", Format: "json"})
	}
	return globalLogger
}

// InitGlobalLogger инициализирует глобальный логгер по конфигурации
func InitGlobalLogger(cfg LogConfig) *Logger {
	l := InitLogger(cfg)
	SetGlobalLogger(l)
	return l
}

// SetGlobalLogger устанавливает глобальный логгер
func SetGlobalLogger(l *Logger) {
	globalMu.Lock()
	globalLogger = l
	globalMu.Unlock()
}

// L - короткий алиас для GetGlobalLogger
func L() *Logger {
	return GetGlobalLogger()
}

// ============================================================
// Методы Logger
// ============================================================

// With возвращает новый логгер с добавленными полями
func (l *Logger) With(fields ...zap.Field) *Logger {
	zl := l.Logger.With(fields...)
	return &Logger{
		Logger: zl,
		sugar:  zl.Sugar(),
	}
}

// WithComponent возвращает логгер с полем component
func (l *Logger) WithComponent(component string) *Logger {
	return l.With(Component(component))
}

// WithBroker возвращает логгер с полем broker
func (l *Logger) WithBroker(broker string) *Logger {
	return l.With(Broker(broker))
}

// WithSymbol возвращает логгер с полем symbol
func (l *Logger) WithSymbol(symbol string) *Logger {
	return l.With(Symbol(symbol))
}

// WithUserID возвращает логгер с полем user_id
func (l *Logger) WithUserID(userID string) *Logger {
	return l.With(UserID(userID))
}

// Sugar возвращает sugared-логгер для printf-style логирования
func (l *Logger) Sugar() *zap.SugaredLogger {
	return l.sugar
}

// Sync сбрасывает буферизованные записи
func (l *Logger) Sync() error {
	return l.Logger.Sync()
}

// ============================================================
// Глобальные функции логирования
// ============================================================

func Debug(msg string, fields ...zap.Field) { GetGlobalLogger().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { GetGlobalLogger().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { GetGlobalLogger().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { GetGlobalLogger().Error(msg, fields...) }
func Fatal(msg string, fields ...zap.Field) { GetGlobalLogger().Fatal(msg, fields...) }

func Debugf(template string, args ...interface{}) { GetGlobalLogger().sugar.Debugf(template, args...) }
func Infof(template string, args ...interface{})  { GetGlobalLogger().sugar.Infof(template, args...) }
func Warnf(template string, args ...interface{})  { GetGlobalLogger().sugar.Warnf(template, args...) }
func Errorf(template string, args ...interface{}) { GetGlobalLogger().sugar.Errorf(template, args...) }

// ============================================================
// Доменные конструкторы полей
// ============================================================

// Broker - имя брокера (paper, zerodha)
func Broker(broker string) zap.Field {
	return zap.String("broker", broker)
}

// Symbol - торговый символ
func Symbol(symbol string) zap.Field {
	return zap.String("symbol", symbol)
}

// Identifier - детерминированный ключ инструмента
func Identifier(id string) zap.Field {
	return zap.String("identifier", id)
}

// OrderID - идентификатор ордера
func OrderID(id string) zap.Field {
	return zap.String("order_id", id)
}

// PositionID - идентификатор позиции
func PositionID(id string) zap.Field {
	return zap.String("position_id", id)
}

// Price - цена
func Price(price float64) zap.Field {
	return zap.Float64("price", price)
}

// Quantity - количество
func Quantity(qty int) zap.Field {
	return zap.Int("quantity", qty)
}

// Capital - сумма капитала
func Capital(amount float64) zap.Field {
	return zap.Float64("capital", amount)
}

// PNL - прибыль/убыток
func PNL(pnl float64) zap.Field {
	return zap.Float64("pnl", pnl)
}

// Side - направление сделки (BUY/SELL)
func Side(side string) zap.Field {
	return zap.String("side", side)
}

// State - статус ордера или позиции
func State(state string) zap.Field {
	return zap.String("state", state)
}

// Latency - задержка в миллисекундах
func Latency(ms float64) zap.Field {
	return zap.Float64("latency_ms", ms)
}

// RequestID - идентификатор запроса (postback)
func RequestID(id string) zap.Field {
	return zap.String("request_id", id)
}

// UserID - идентификатор пользователя
func UserID(id string) zap.Field {
	return zap.String("user_id", id)
}

// Component - компонент системы (evaluator, monitor, reconciler...)
func Component(component string) zap.Field {
	return zap.String("component", component)
}

// ============================================================
// Переэкспорт стандартных конструкторов zap
// ============================================================

func String(key, value string) zap.Field          { return zap.String(key, value) }
func Int(key string, value int) zap.Field         { return zap.Int(key, value) }
func Int64(key string, value int64) zap.Field     { return zap.Int64(key, value) }
func Float64(key string, value float64) zap.Field { return zap.Float64(key, value) }
func Bool(key string, value bool) zap.Field       { return zap.Bool(key, value) }
func Err(err error) zap.Field                     { return zap.Error(err) }
func Any(key string, value interface{}) zap.Field { return zap.Any(key, value) }

// fieldsToInterface конвертирует zap-поля в пары key/value для sugared API
func fieldsToInterface(fields []zap.Field) []interface{} {
	result := make([]interface{}, 0, len(fields)*2)
	for _, f := range fields {
		var v interface{}
		switch {
		case f.Interface != nil:
			v = f.Interface
		case f.String != "":
			v = f.String
		default:
			v = f.Integer
		}
		result = append(result, f.Key, v)
	}
	return result
}
