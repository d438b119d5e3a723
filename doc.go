// Package authcore is an embeddable authentication and session-security
// engine: credential verification with brute-force lockout, role-based
// session timeouts, rotated access/refresh JWT pairs, mandatory TOTP
// two-factor for privileged roles, and emailed one-time codes gating
// login escalation, password changes and admin creation.
//
// # Architecture boundaries
//
// The engine owns policy and state transitions, nothing else. Account
// persistence sits behind [AccountStore], outbound mail behind [Mailer],
// audit persistence behind [AuditSink], and ephemeral state (codes,
// tokens, counters) behind the kv.Store interface with Redis and
// in-memory implementations. HTTP transport, cookies and templating are
// the caller's problem.
//
// # Construction
//
//	engine, err := authcore.New().
//		WithConfig(cfg).
//		WithAccountStore(store).
//		WithRedis(redisClient).
//		WithMailer(mailer).
//		Build()
//
// Build validates the configuration; in production mode weak or
// placeholder secrets make it fail with ErrConfiguration, which callers
// must treat as fatal.
//
// # Login ladder
//
// Login never hands out tokens directly for accounts with a second
// factor. The returned LoginOutcome.Status tells the caller which rung
// comes next: VerifyTwoFactor for enrolled accounts,
// BeginTwoFactorSetupWithToken for privileged accounts that have not
// enrolled, VerifyLoginOTP after the emailed code. Standard accounts
// authenticate in one step.
package authcore
