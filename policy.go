package authcore

import "time"

// SessionTimeouts is the pair of windows governing one role's sessions.
// Idle bounds the access token; Absolute bounds the refresh token and is
// measured from the last full login, so no amount of refreshing extends a
// session past it.
type SessionTimeouts struct {
	Idle     time.Duration
	Absolute time.Duration
}

// Privileged roles get short windows; standard accounts trade security
// for convenience. Unknown roles fall back to the standard row.
var defaultTimeouts = map[Role]SessionTimeouts{
	RoleStandard:   {Idle: 30 * time.Minute, Absolute: 216 * time.Hour},
	RoleSubAdmin:   {Idle: 30 * time.Minute, Absolute: 72 * time.Hour},
	RoleSuperAdmin: {Idle: 15 * time.Minute, Absolute: 12 * time.Hour},
}

// sessionPolicy resolves role timeouts, applying config overrides on top
// of the built-in table.
type sessionPolicy struct {
	overrides map[Role]SessionTimeouts
}

func (p sessionPolicy) timeoutsFor(role Role) SessionTimeouts {
	if t, ok := p.overrides[role]; ok {
		return t
	}
	if t, ok := defaultTimeouts[role]; ok {
		return t
	}
	return defaultTimeouts[RoleStandard]
}
