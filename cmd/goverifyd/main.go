// Command goverifyd serves the goVerify HTTP API and carries the operator
// tooling around it: password hashing, principal seeding, passkey listing,
// configuration reports and a session load benchmark.
//
// Configuration comes from an optional YAML file (--config) and GOVERIFY_
// environment variables, e.g. GOVERIFY_JWT_SECRET or GOVERIFY_REDIS_ADDR.
//
// Run a throwaway instance backed by an in-process Redis:
//
//	go run ./cmd/goverifyd serve --dev
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
