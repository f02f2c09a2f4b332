package model_test

import (
	"testing"

	"github.com/komi12345/ChatbotFrance-sub000/internal/model"
)

func TestStatusAdvances(t *testing.T) {
	cases := []struct {
		from, next string
		want       bool
	}{
		{model.StatusPending, model.StatusSent, true},
		{model.StatusSent, model.StatusDelivered, true},
		{model.StatusSent, model.StatusRead, true},
		{model.StatusDelivered, model.StatusRead, true},
		{model.StatusRead, model.StatusDelivered, false},
		{model.StatusDelivered, model.StatusSent, false},
		{model.StatusSent, model.StatusSent, false},
		{model.StatusFailed, model.StatusDelivered, false},
		{model.StatusNoInteraction, model.StatusRead, false},
	}
	for _, tc := range cases {
		if got := model.StatusAdvances(tc.from, tc.next); got != tc.want {
			t.Errorf("StatusAdvances(%s, %s) = %v, want %v", tc.from, tc.next, got, tc.want)
		}
	}
}

func TestIsTerminalStatus(t *testing.T) {
	for _, status := range []string{model.StatusFailed, model.StatusNoInteraction} {
		if !model.IsTerminalStatus(status) {
			t.Errorf("%s should be terminal", status)
		}
	}
	for _, status := range []string{model.StatusPending, model.StatusSent, model.StatusDelivered, model.StatusRead} {
		if model.IsTerminalStatus(status) {
			t.Errorf("%s should not be terminal", status)
		}
	}
}
