package helpers

import (
	"math/rand"
	"time"
)

// RandUnix is seeded with current time, log the seed source when test fails.
func RandUnix() *rand.Rand {
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}
