package integration

import (
	"fmt"
	"sync/atomic"
	"time"
)

var phoneCounter atomic.Int64

// TestPhone generates a unique US test number in the 555 range so runs
// never collide on the phone unique constraint.
func TestPhone() string {
	n := (time.Now().UnixNano()/1000 + phoneCounter.Add(1)) % 10000000
	return fmt.Sprintf("+1555%07d", n)
}

// TestPassword is a fixed password that passes complexity checks.
const TestPassword = "IntegrationP4ss!"
