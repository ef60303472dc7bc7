// Package bank is an HTTP client for the digital wallet API exercised by the
// load scenario.
//
// Every call issues exactly one request and returns a *Response that carries
// the status, body and latency. Transport errors are reported with Status 0
// instead of a Go error so that callers can classify them like any other
// response. No retries are performed.
//
//	c := bank.New(bank.Config{BaseURL: "http://localhost:8080", Timeout: 10 * time.Second})
//	resp := c.Login(ctx, bank.LoginRequest{Username: "u", Password: "p"})
//	if resp.OK() {
//	    login, err := bank.DecodeLogin(resp.Body)
//	    ...
//	}
package bank
