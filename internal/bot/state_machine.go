package bot

import "alphaedge/internal/models"

// ValidOrderTransitions определяет допустимые переходы статуса ордера.
// Терминальные статусы не имеют исходящих переходов: любое повторное
// уведомление брокера по терминальному ордеру игнорируется.
var ValidOrderTransitions = map[string][]string{
	models.OrderStatusOpen: {
		models.OrderStatusPending,
		models.OrderStatusCompleted,
		models.OrderStatusCancelled,
		models.OrderStatusRejected,
	},
	models.OrderStatusPending: {
		models.OrderStatusCompleted,
		models.OrderStatusCancelled,
		models.OrderStatusRejected,
	},
	models.OrderStatusCompleted: {},
	models.OrderStatusCancelled: {},
	models.OrderStatusRejected:  {},
}

// ValidPositionTransitions определяет допустимые переходы статуса позиции.
// EXIT_FAILED допускает повторный переход в себя: каждый неудачный
// retry выхода фиксируется без смены статуса.
var ValidPositionTransitions = map[string][]string{
	models.PositionStatusOpen: {
		models.PositionStatusExitFailed,
		models.PositionStatusClosed,
	},
	models.PositionStatusExitFailed: {
		models.PositionStatusExitFailed,
		models.PositionStatusClosed,
	},
	models.PositionStatusClosed: {},
}

// CanTransitionOrder проверяет допустимость перехода статуса ордера
func CanTransitionOrder(from, to string) bool {
	allowed, ok := ValidOrderTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// CanTransitionPosition проверяет допустимость перехода статуса позиции
func CanTransitionPosition(from, to string) bool {
	allowed, ok := ValidPositionTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}
