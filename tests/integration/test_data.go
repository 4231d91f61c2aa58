package integration

import (
	"fmt"
	"time"
)

// TestUser generates unique test user credentials using timestamp
func TestUser(suffix string) (email, password string) {
	ts := time.Now().UnixNano()
	email = fmt.Sprintf("test-%d-%s@example.com", ts, suffix)
	password = "TestPassword123"
	return
}

// TestIP generates a unique test client address in the documentation range
func TestIP(octet int) string {
	return fmt.Sprintf("203.0.113.%d", octet%256)
}
