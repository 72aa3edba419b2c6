package frontier

import "testing"

func TestCooldownFor(t *testing.T) {
	policy := DefaultCooldownPolicy()

	tests := []struct {
		name        string
		status      int
		fetchCount  int
		wantSeconds int64
		wantReason  string
	}{
		{"ok clears cooldown", 200, 1, 0, ""},
		{"redirect clears cooldown", 301, 1, 0, ""},
		{"first 404 is 72h", 404, 1, 72 * 3600, ReasonNotFound},
		{"second 404 is still 72h", 404, 2, 72 * 3600, ReasonNotFound},
		{"third 404 escalates to 14d", 404, 3, 14 * 24 * 3600, ReasonNotFound},
		{"410 is 90d", 410, 1, 90 * 24 * 3600, ReasonGone},
		{"451 is 90d", 451, 1, 90 * 24 * 3600, ReasonGone},
		{"first 403 is 30m", 403, 1, 30 * 60, ReasonForbidden},
		{"second 403 doubles", 403, 2, 60 * 60, ReasonForbidden},
		{"403 escalation caps at 2^8", 403, 50, 30 * 60 * 256, ReasonForbidden},
		{"first 429 is 15m", 429, 1, 15 * 60, ReasonRateLimited},
		{"fourth 429 is 15m*8", 429, 4, 15 * 60 * 8, ReasonRateLimited},
		{"timeout is 6h", 0, 1, 6 * 3600, ReasonTimeout},
		{"server error", 503, 1, 3600, ReasonServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seconds, reason := CooldownFor(tt.status, tt.fetchCount, policy)

			if seconds != tt.wantSeconds {
				t.Errorf("CooldownFor(%d, %d) seconds = %d, want %d",
					tt.status, tt.fetchCount, seconds, tt.wantSeconds)
			}

			if reason != tt.wantReason {
				t.Errorf("CooldownFor(%d, %d) reason = %q, want %q",
					tt.status, tt.fetchCount, reason, tt.wantReason)
			}
		})
	}
}

func TestCooldownFor_Deterministic(t *testing.T) {
	policy := DefaultCooldownPolicy()

	for _, status := range []int{0, 200, 403, 404, 410, 429, 451, 500} {
		for fetchCount := 1; fetchCount <= 12; fetchCount++ {
			s1, r1 := CooldownFor(status, fetchCount, policy)
			s2, r2 := CooldownFor(status, fetchCount, policy)

			if s1 != s2 || r1 != r2 {
				t.Fatalf("CooldownFor(%d, %d) is not deterministic", status, fetchCount)
			}
		}
	}
}

func TestCooldownPolicy_ZeroValuesGetDefaults(t *testing.T) {
	seconds, _ := CooldownFor(404, 1, CooldownPolicy{})
	if seconds != 72*3600 {
		t.Errorf("zero policy 404 cooldown = %d, want %d", seconds, 72*3600)
	}
}
