package auth

import (
	"fmt"
	"net/http"
	"strconv"
)

// MockClient trusts the uid given by cookie or header `x-uid`, for development only.
type MockClient struct {
	Client
}

func (c *MockClient) Auth(r *http.Request) (int32, error) {
	var uidStr string

	if c, err := r.Cookie("x-uid"); err == nil {
		uidStr = c.Value
	}
	if uidStr == "" {
		uidStr = r.Header.Get("x-uid")
	}

	if uidStr == "" {
		return 0, fmt.Errorf("empty x-uid from cookie or header")
	}
	uid, err := strconv.ParseInt(uidStr, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("error parse x-uid as integer: %v", err)
	}
	if uid <= 0 {
		return 0, fmt.Errorf("x-uid should be positive: %d", uid)
	}
	return int32(uid), nil
}
