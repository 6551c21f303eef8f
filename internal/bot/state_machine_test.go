package bot

import (
	"testing"

	"alphaedge/internal/models"
)

func TestOrderTransitions(t *testing.T) {
	tests := []struct {
		from string
		to   string
		want bool
	}{
		{models.OrderStatusOpen, models.OrderStatusPending, true},
		{models.OrderStatusOpen, models.OrderStatusCompleted, true},
		{models.OrderStatusOpen, models.OrderStatusCancelled, true},
		{models.OrderStatusOpen, models.OrderStatusRejected, true},
		{models.OrderStatusPending, models.OrderStatusCompleted, true},
		{models.OrderStatusPending, models.OrderStatusCancelled, true},
		{models.OrderStatusPending, models.OrderStatusRejected, true},
		{models.OrderStatusPending, models.OrderStatusOpen, false},
		{models.OrderStatusCompleted, models.OrderStatusCancelled, false},
		{models.OrderStatusCancelled, models.OrderStatusCompleted, false},
		{models.OrderStatusRejected, models.OrderStatusPending, false},
		{"BOGUS", models.OrderStatusCompleted, false},
	}

	for _, tt := range tests {
		if got := CanTransitionOrder(tt.from, tt.to); got != tt.want {
			t.Errorf("%s -> %s: expected %v, got %v", tt.from, tt.to, tt.want, got)
		}
	}
}

func TestPositionTransitions(t *testing.T) {
	tests := []struct {
		from string
		to   string
		want bool
	}{
		{models.PositionStatusOpen, models.PositionStatusExitFailed, true},
		{models.PositionStatusOpen, models.PositionStatusClosed, true},
		{models.PositionStatusExitFailed, models.PositionStatusClosed, true},
		// Repeated failed attempts stay in EXIT_FAILED
		{models.PositionStatusExitFailed, models.PositionStatusExitFailed, true},
		{models.PositionStatusClosed, models.PositionStatusOpen, false},
		{models.PositionStatusClosed, models.PositionStatusExitFailed, false},
		{models.PositionStatusExitFailed, models.PositionStatusOpen, false},
	}

	for _, tt := range tests {
		if got := CanTransitionPosition(tt.from, tt.to); got != tt.want {
			t.Errorf("%s -> %s: expected %v, got %v", tt.from, tt.to, tt.want, got)
		}
	}
}

// Every terminal order status must be a dead end.
func TestTerminalOrderStatusesHaveNoExits(t *testing.T) {
	terminals := []string{
		models.OrderStatusCompleted,
		models.OrderStatusCancelled,
		models.OrderStatusRejected,
	}
	all := []string{
		models.OrderStatusOpen,
		models.OrderStatusPending,
		models.OrderStatusCompleted,
		models.OrderStatusCancelled,
		models.OrderStatusRejected,
	}

	for _, from := range terminals {
		for _, to := range all {
			if CanTransitionOrder(from, to) {
				t.Errorf("terminal status %s allows transition to %s", from, to)
			}
		}
	}
}
