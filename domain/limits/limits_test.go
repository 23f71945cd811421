package limits

import "testing"

func TestParsePlan(t *testing.T) {
	tests := []struct {
		in   string
		want Plan
	}{
		{"free", PlanFree},
		{"premium", PlanPremium},
		{"", PlanFree},
		{"gold", PlanFree},
		{"PREMIUM", PlanFree}, // case sensitive, unknown falls back
	}
	for _, tt := range tests {
		if got := ParsePlan(tt.in); got != tt.want {
			t.Errorf("ParsePlan(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRegistry_ForPlan(t *testing.T) {
	free := Limits{ChatTokensDaily: 100, ChatTokensMonthly: 1000}
	premium := Limits{ChatTokensDaily: 10_000, ChatTokensMonthly: 500_000}
	r := NewRegistry(free, premium)

	if got := r.ForPlan(PlanFree); got != free {
		t.Errorf("ForPlan(free) = %+v, want %+v", got, free)
	}
	if got := r.ForPlan(PlanPremium); got != premium {
		t.Errorf("ForPlan(premium) = %+v, want %+v", got, premium)
	}
}

func TestRegistry_ForPlanString_UnknownDefaultsToFree(t *testing.T) {
	free := Limits{ChatTokensDaily: 1}
	premium := Limits{ChatTokensDaily: 2}
	r := NewRegistry(free, premium)

	if got := r.ForPlanString("enterprise"); got != free {
		t.Errorf("ForPlanString(enterprise) = %+v, want free tier", got)
	}
	if got := r.ForPlanString("premium"); got != premium {
		t.Errorf("ForPlanString(premium) = %+v, want premium tier", got)
	}
}

func TestDefaults_MonthlyIndependentOfDaily(t *testing.T) {
	// Monthly caps are configured constants, not daily*30.
	free := DefaultFree()
	if free.ChatTokensMonthly == free.ChatTokensDaily*30 {
		t.Log("free monthly happens to equal daily*30; independence is config-level")
	}
	if free.ChatTokensDaily <= 0 || free.ChatTokensMonthly <= 0 {
		t.Error("free defaults must be positive")
	}

	premium := DefaultPremium()
	if premium.ChatTokensDaily <= free.ChatTokensDaily {
		t.Error("premium daily cap should exceed free")
	}
	if premium.ChatTokensMonthly <= free.ChatTokensMonthly {
		t.Error("premium monthly cap should exceed free")
	}
}
