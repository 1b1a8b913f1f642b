// Package httpapi exposes a goVerify engine over HTTP with gorilla/mux.
//
// User routes live under /auth and admin routes under /admin/auth. The two
// trees share handlers but never cookies: each realm has its own session,
// challenge and pending-login cookie names.
//
// Errors are JSON objects of the form {"error": "<reason code>"} where the
// reason is goVerify.ReasonCode of the engine error.
package httpapi
