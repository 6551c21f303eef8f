package utils

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// time.go - работа с торговым временем
//
// Торговые окна пользователей задаются в IST (Asia/Kolkata),
// часовом поясе индийских бирж. Все проверки "внутри/вне окна"
// выполняются после конвертации в IST.

// Ошибки разбора времени
var (
	ErrInvalidClock  = errors.New("clock value must be in HH:MM format")
	ErrInvalidWindow = errors.New("trading window end must be after start")
)

// istLocation - часовой пояс индийских бирж.
// При недоступной tzdata используется фиксированное смещение UTC+5:30.
var istLocation = loadIST()

func loadIST() *time.Location {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		return time.FixedZone("IST", 5*3600+30*60)
	}
	return loc
}

// IST возвращает часовой пояс торговой сессии
func IST() *time.Location {
	return istLocation
}

// NowIST возвращает текущее время в IST
func NowIST() time.Time {
	return time.Now().In(istLocation)
}

// ============================================================
// Clock - время суток без даты
// ============================================================

// Clock - минуты с начала суток (00:00 = 0, 15:30 = 930)
type Clock int

// ParseClock разбирает строку "HH:MM" в Clock
func ParseClock(value string) (Clock, error) {
	parts := strings.Split(value, ":")
	if len(parts) != 2 {
		return 0, ErrInvalidClock
	}

	hours, err := strconv.Atoi(parts[0])
	if err != nil || hours < 0 || hours > 23 {
		return 0, ErrInvalidClock
	}

	minutes, err := strconv.Atoi(parts[1])
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, ErrInvalidClock
	}

	return Clock(hours*60 + minutes), nil
}

// ClockOf возвращает Clock для момента времени в IST
func ClockOf(t time.Time) Clock {
	t = t.In(istLocation)
	return Clock(t.Hour()*60 + t.Minute())
}

// String возвращает Clock в формате "HH:MM"
func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// ============================================================
// TradingWindow - торговое окно пользователя
// ============================================================

// TradingWindow - интервал [Start, End) внутри торгового дня в IST
type TradingWindow struct {
	Start Clock
	End   Clock
}

// NewTradingWindow создаёт окно из строк "HH:MM"
func NewTradingWindow(start, end string) (TradingWindow, error) {
	s, err := ParseClock(start)
	if err != nil {
		return TradingWindow{}, fmt.Errorf("start: %w", err)
	}

	e, err := ParseClock(end)
	if err != nil {
		return TradingWindow{}, fmt.Errorf("end: %w", err)
	}

	if e <= s {
		return TradingWindow{}, ErrInvalidWindow
	}

	return TradingWindow{Start: s, End: e}, nil
}

// Contains проверяет попадание момента времени в окно.
// Выходные дни (суббота, воскресенье) всегда вне окна.
func (w TradingWindow) Contains(t time.Time) bool {
	t = t.In(istLocation)

	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}

	c := ClockOf(t)
	return c >= w.Start && c < w.End
}

// IsOpenNow проверяет, открыто ли окно в текущий момент
func (w TradingWindow) IsOpenNow() bool {
	return w.Contains(time.Now())
}

// MarketWindow возвращает окно регулярной сессии NSE (09:15-15:30 IST)
func MarketWindow() TradingWindow {
	return TradingWindow{Start: 9*60 + 15, End: 15*60 + 30}
}

// ============================================================
// Вспомогательные функции для архива
// ============================================================

// GetDayStart возвращает начало текущего торгового дня в IST
func GetDayStart() time.Time {
	return GetDayStartFrom(NowIST())
}

// GetDayStartFrom возвращает начало дня для указанного времени в IST
func GetDayStartFrom(t time.Time) time.Time {
	t = t.In(istLocation)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, istLocation)
}

// FormatDuration форматирует продолжительность в человекочитаемый вид
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	return d.Round(time.Second).String()
}
