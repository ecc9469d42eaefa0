package web

import "testing"

func TestRecentlyUpdatedWindow(t *testing.T) {
	s := NewTrackerState()
	if s.RecentlyUpdated(1, 5000) {
		t.Error("unknown user reported as updated")
	}
	s.SetLastUpdate(1, 5000)

	cases := []struct {
		tm   int64
		want bool
	}{
		{5000, true},
		{4000, true},
		{6000, true},
		{3999, false},
		{6001, false},
	}
	for _, c := range cases {
		if got := s.RecentlyUpdated(1, c.tm); got != c.want {
			t.Errorf("RecentlyUpdated(1, %d) = %v, want %v", c.tm, got, c.want)
		}
	}
	if s.RecentlyUpdated(2, 5000) {
		t.Error("window leaked to another user")
	}
}

func TestToggleLifecycle(t *testing.T) {
	s := NewTrackerState()
	if s.SwitchingMode(1) {
		t.Error("fresh state reports pending toggle")
	}
	s.RequestToggle(1)
	s.RequestToggle(1) // idempotent
	if !s.SwitchingMode(1) {
		t.Error("toggle not pending after request")
	}
	if !s.ConsumeToggle(1) {
		t.Error("consume returned false for pending toggle")
	}
	if s.SwitchingMode(1) || s.ConsumeToggle(1) {
		t.Error("toggle survived consumption")
	}
}
