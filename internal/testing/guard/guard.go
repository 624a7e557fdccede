// Package guard switches the binaries into test mode when blank-imported
// from a test, so nothing dials Postgres or Redis.
package guard

import "os"

func init() {
	if _, ok := os.LookupEnv("TUTORLEDGER_TEST_MODE"); !ok {
		_ = os.Setenv("TUTORLEDGER_TEST_MODE", "true")
	}
}
