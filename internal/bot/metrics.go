package bot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики торгового движка
// ============================================================
//
// Использование:
// - Grafana дашборды для визуализации
// - Alertmanager для уведомлений о проблемах
// - Анализ производительности в production

// ============ Метрики латентности ============

// SignalToOrderLatency - время от получения сигнала до отправки ордера
var SignalToOrderLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "alphaedge",
		Subsystem: "engine",
		Name:      "signal_to_order_latency_ms",
		Help:      "Latency from signal receipt to order submission in milliseconds",
		Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
	},
	[]string{"symbol"},
)

// OrderExecutionLatency - время ответа брокера на размещение ордера
var OrderExecutionLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "alphaedge",
		Subsystem: "broker",
		Name:      "order_execution_latency_ms",
		Help:      "Time to submit order to broker in milliseconds",
		Buckets:   []float64{50, 100, 200, 300, 500, 1000, 2000, 5000},
	},
	[]string{"broker", "kind"}, // kind: entry, exit
)

// ============ Счётчики событий ============

// SignalsEvaluated - исходы оценки сигнала на пользователя
var SignalsEvaluated = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "alphaedge",
		Subsystem: "engine",
		Name:      "signals_evaluated_total",
		Help:      "Signal evaluations per user by outcome",
	},
	[]string{"outcome"}, // placed, market_closed, duplicate, no_slot, risk_reward, zero_quantity, capital, broker_error
)

// OrdersPlaced - размещённые ордера
var OrdersPlaced = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "alphaedge",
		Subsystem: "broker",
		Name:      "orders_placed_total",
		Help:      "Orders accepted by brokers",
	},
	[]string{"broker", "kind"},
)

// OrderFailures - отказы брокера
var OrderFailures = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "alphaedge",
		Subsystem: "broker",
		Name:      "order_failures_total",
		Help:      "Broker order failures by error code",
	},
	[]string{"broker", "code"},
)

// ExitFailures - неудачные попытки закрытия позиций
var ExitFailures = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "alphaedge",
		Subsystem: "engine",
		Name:      "exit_failures_total",
		Help:      "Positions degraded to EXIT_FAILED",
	},
)

// PositionsClosed - закрытые позиции
var PositionsClosed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "alphaedge",
		Subsystem: "engine",
		Name:      "positions_closed_total",
		Help:      "Positions archived by close reason",
	},
	[]string{"reason"}, // stop_loss, take_profit, manual, shutdown, hours
)

// ============ Метрики состояния ============

// PositionsOpen - текущее количество живых позиций
var PositionsOpen = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "alphaedge",
		Subsystem: "engine",
		Name:      "positions_open",
		Help:      "Current number of live positions",
	},
)

// CapitalBlocked - суммарный заблокированный капитал
var CapitalBlocked = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "alphaedge",
		Subsystem: "capital",
		Name:      "blocked_total",
		Help:      "Total capital currently blocked across users",
	},
)

// RealizedPnlTotal - накопленный реализованный P&L
var RealizedPnlTotal = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "alphaedge",
		Subsystem: "capital",
		Name:      "realized_pnl_total",
		Help:      "Cumulative realized P&L since start",
	},
)

// ============ Метрики производительности ============

// BufferOverflows - переполнения буферов каналов
var BufferOverflows = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "alphaedge",
		Subsystem: "engine",
		Name:      "buffer_overflows_total",
		Help:      "Number of channel buffer overflows (events dropped)",
	},
	[]string{"buffer"}, // notification, order_update
)

// GoroutineCount - количество горутин движка
var GoroutineCount = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "alphaedge",
		Subsystem: "runtime",
		Name:      "goroutines",
		Help:      "Current number of goroutines",
	},
)

// ============ Вспомогательные функции ============

// RecordEvaluation записывает исход оценки сигнала
func RecordEvaluation(outcome string) {
	SignalsEvaluated.WithLabelValues(outcome).Inc()
}

// RecordOrderPlaced записывает принятый брокером ордер
func RecordOrderPlaced(broker string, isExit bool, latencyMs float64) {
	kind := "entry"
	if isExit {
		kind = "exit"
	}
	OrdersPlaced.WithLabelValues(broker, kind).Inc()
	OrderExecutionLatency.WithLabelValues(broker, kind).Observe(latencyMs)
}

// RecordOrderFailure записывает отказ брокера
func RecordOrderFailure(broker, code string) {
	OrderFailures.WithLabelValues(broker, code).Inc()
}

// RecordPositionClosed записывает закрытие позиции
func RecordPositionClosed(reason string, pnl float64) {
	PositionsClosed.WithLabelValues(reason).Inc()
	RealizedPnlTotal.Add(pnl)
}

// RecordCapitalBlocked обновляет gauge заблокированного капитала
func RecordCapitalBlocked(amount float64) {
	CapitalBlocked.Add(amount)
}

// RecordCapitalReleased обновляет gauge после release
func RecordCapitalReleased(amount float64) {
	CapitalBlocked.Sub(amount)
}

// RecordBufferOverflow записывает переполнение буфера
func RecordBufferOverflow(bufferName string) {
	BufferOverflows.WithLabelValues(bufferName).Inc()
}

// UpdateOpenPositions обновляет счётчик живых позиций
func UpdateOpenPositions(count int) {
	PositionsOpen.Set(float64(count))
}
