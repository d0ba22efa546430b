// Package passwordauth is the password authentication service for a
// goAccounts engine.
//
// It authenticates identity/password pairs, creates users, and owns the
// single-use token flows for email verification, password reset and
// enrollment. Sessions are always opened by the engine; the service only
// decides which user a credential belongs to.
//
//	svc, err := passwordauth.New(engine, passwordauth.DefaultConfig())
//	if err != nil { ... }
//	_ = engine.RegisterService(svc)
//	res, err := engine.LoginWithService(ctx, passwordauth.ServiceName, passwordauth.LoginParams{
//		User:     "alice@example.com",
//		Password: "secret",
//	}, info)
package passwordauth
