package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderRequestID = "Ax-Request-Id"
	HeaderRequestAt = "Ax-Request-At"

	// window either side of server time an Ax-Request-At may fall in
	maxClockSkew = 10 * time.Minute
)

var (
	reUUID  = regexp.MustCompile(`^[a-f0-9]{8}-[a-f0-9]{4}-[1-5][a-f0-9]{3}-[89ab][a-f0-9]{3}-[a-f0-9]{12}$`)
	reHex32 = regexp.MustCompile(`^[a-f0-9]{32}$`)
)

// stamp is the validated pair of idempotency headers.
type stamp struct {
	id string
	at time.Time
}

func digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// validRequestID accepts lowercase uuid (v1-v5) or 32 lowercase hex chars.
func validRequestID(id string) bool {
	return reUUID.MatchString(id) || reHex32.MatchString(id)
}

// parseRequestTime accepts epoch seconds, epoch milliseconds, or RFC3339 with
// a zone. Naive local timestamps are rejected.
func parseRequestTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("missing %s", HeaderRequestAt)
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be epoch (s/ms) or RFC3339 with timezone", HeaderRequestAt)
	}
	return t.UTC(), nil
}

// readStamp validates the idempotency headers against now.
func readStamp(h http.Header, now time.Time) (stamp, error) {
	id := strings.TrimSpace(h.Get(HeaderRequestID))
	switch {
	case id == "":
		return stamp{}, fmt.Errorf("missing %s", HeaderRequestID)
	case !validRequestID(id):
		return stamp{}, fmt.Errorf("invalid %s format", HeaderRequestID)
	}
	at, err := parseRequestTime(h.Get(HeaderRequestAt))
	if err != nil {
		return stamp{}, err
	}
	if skew := now.Sub(at); skew > maxClockSkew || skew < -maxClockSkew {
		return stamp{}, errors.New(HeaderRequestAt + " too skewed")
	}
	return stamp{id: id, at: at}, nil
}
