package frontier

import "time"

// Cooldown reasons recorded on URL records.
const (
	ReasonNotFound    = "404_not_found"
	ReasonGone        = "410_gone"
	ReasonForbidden   = "403_forbidden"
	ReasonRateLimited = "429_rate_limited"
	ReasonTimeout     = "network_timeout"
	ReasonServerError = "server_error"
	ReasonPathPenalty = "path_penalty"
	ReasonQueryFresh  = "query_cooldown"
)

// CooldownPolicy holds the base cooldown durations, in seconds. All values
// are configurable; zero values fall back to the defaults below.
type CooldownPolicy struct {
	QueryCooldownSeconds  int64 `yaml:"query_cooldown_seconds"`
	NotFoundSeconds       int64 `yaml:"notfound_seconds"`
	NotFoundRepeatSeconds int64 `yaml:"notfound_repeat_seconds"`
	GoneSeconds           int64 `yaml:"gone_seconds"`
	TimeoutSeconds        int64 `yaml:"timeout_seconds"`
	ForbiddenBaseSeconds  int64 `yaml:"forbidden_base_seconds"`
	RateLimitBaseSeconds  int64 `yaml:"rate_limit_base_seconds"`
	ServerErrorSeconds    int64 `yaml:"server_error_seconds"`
	PathPenaltyThreshold  int   `yaml:"path_penalty_threshold"`
}

// Default cooldown values.
const (
	defaultQueryCooldown       = 6 * 60 * 60       // 6h
	defaultNotFoundCooldown    = 72 * 60 * 60      // 72h
	defaultNotFoundRepeat      = 14 * 24 * 60 * 60 // 14d
	defaultGoneCooldown        = 90 * 24 * 60 * 60 // 90d
	defaultTimeoutCooldown     = 6 * 60 * 60       // 6h
	defaultForbiddenBase       = 30 * 60           // 30m
	defaultRateLimitBase       = 15 * 60           // 15m
	defaultServerErrorCooldown = 60 * 60           // 1h
	defaultPathPenaltyRepeats  = 3

	// notFoundEscalationRepeats is the repeat count at which a 404
	// escalates from the base cooldown to the long repeat cooldown.
	notFoundEscalationRepeats = 3

	// maxBackoffExponent caps the 2^n escalation for 403/429.
	maxBackoffExponent = 8
)

// DefaultCooldownPolicy returns the policy table with spec defaults.
func DefaultCooldownPolicy() CooldownPolicy {
	return CooldownPolicy{
		QueryCooldownSeconds:  defaultQueryCooldown,
		NotFoundSeconds:       defaultNotFoundCooldown,
		NotFoundRepeatSeconds: defaultNotFoundRepeat,
		GoneSeconds:           defaultGoneCooldown,
		TimeoutSeconds:        defaultTimeoutCooldown,
		ForbiddenBaseSeconds:  defaultForbiddenBase,
		RateLimitBaseSeconds:  defaultRateLimitBase,
		ServerErrorSeconds:    defaultServerErrorCooldown,
		PathPenaltyThreshold:  defaultPathPenaltyRepeats,
	}
}

// normalized fills zero values with defaults so partially-configured
// policies behave sensibly.
func (p CooldownPolicy) normalized() CooldownPolicy {
	d := DefaultCooldownPolicy()
	if p.QueryCooldownSeconds <= 0 {
		p.QueryCooldownSeconds = d.QueryCooldownSeconds
	}
	if p.NotFoundSeconds <= 0 {
		p.NotFoundSeconds = d.NotFoundSeconds
	}
	if p.NotFoundRepeatSeconds <= 0 {
		p.NotFoundRepeatSeconds = d.NotFoundRepeatSeconds
	}
	if p.GoneSeconds <= 0 {
		p.GoneSeconds = d.GoneSeconds
	}
	if p.TimeoutSeconds <= 0 {
		p.TimeoutSeconds = d.TimeoutSeconds
	}
	if p.ForbiddenBaseSeconds <= 0 {
		p.ForbiddenBaseSeconds = d.ForbiddenBaseSeconds
	}
	if p.RateLimitBaseSeconds <= 0 {
		p.RateLimitBaseSeconds = d.RateLimitBaseSeconds
	}
	if p.ServerErrorSeconds <= 0 {
		p.ServerErrorSeconds = d.ServerErrorSeconds
	}
	if p.PathPenaltyThreshold <= 0 {
		p.PathPenaltyThreshold = d.PathPenaltyThreshold
	}
	return p
}

// CooldownFor computes the cooldown seconds and reason for a fetch outcome.
// It is a pure function of (status, fetchCount, policy). A zero return
// means no cooldown (the outcome clears any existing one).
func CooldownFor(status, fetchCount int, policy CooldownPolicy) (seconds int64, reason string) {
	p := policy.normalized()

	switch {
	case status >= 200 && status < 400:
		return 0, ""
	case status == 404:
		if fetchCount >= notFoundEscalationRepeats {
			return p.NotFoundRepeatSeconds, ReasonNotFound
		}
		return p.NotFoundSeconds, ReasonNotFound
	case status == 410, status == 451:
		return p.GoneSeconds, ReasonGone
	case status == 403:
		return escalate(p.ForbiddenBaseSeconds, fetchCount), ReasonForbidden
	case status == 429:
		return escalate(p.RateLimitBaseSeconds, fetchCount), ReasonRateLimited
	case status == 0:
		return p.TimeoutSeconds, ReasonTimeout
	case status >= 500:
		return p.ServerErrorSeconds, ReasonServerError
	default:
		return p.TimeoutSeconds, ReasonTimeout
	}
}

// escalate applies the base * 2^min(fetchCount-1, 8) escalation curve.
func escalate(base int64, fetchCount int) int64 {
	exponent := fetchCount - 1
	if exponent < 0 {
		exponent = 0
	}
	if exponent > maxBackoffExponent {
		exponent = maxBackoffExponent
	}
	return base << uint(exponent)
}

// cooldownAfter turns a seconds value into an absolute deadline.
func cooldownAfter(now time.Time, seconds int64) time.Time {
	if seconds <= 0 {
		return time.Time{}
	}
	return now.Add(time.Duration(seconds) * time.Second)
}
