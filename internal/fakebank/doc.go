// Package fakebank provides an in-process test double of the digital wallet
// API that the load scenario targets.
//
// The server keeps users, wallets and transactions in memory and mirrors the
// status codes of the real service: duplicate registrations and invalid
// amounts return 400, bad credentials and missing tokens return 401, unknown
// wallets return 404. Debin requests follow the external services mock: the
// accept wallet succeeds, the reject wallet fails with 500 and any other
// wallet is not found.
//
// Tests can force a status per route, read per-route call counts and inspect
// the last Authorization header. Chaos injects latency or 503 responses at a
// fixed interval.
//
//	srv := fakebank.New(fakebank.DefaultConfig())
//	if err := srv.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	defer srv.Stop()
//	srv.ForceStatus(fakebank.RouteLogin, http.StatusUnauthorized)
package fakebank
