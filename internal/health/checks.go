package health

import (
	"context"
	"fmt"
	"net"
	"time"
)

// LoopCheck fails when the poll loop has not ticked within maxAge. maxAge is
// evaluated on every check so it can follow a reloaded poll interval. A loop
// that has not ticked at all is reported unknown until startup grace ends.
func LoopCheck(lastTick func() time.Time, maxAge func() time.Duration, grace time.Duration) Check {
	started := time.Now()
	return func(ctx context.Context) CheckResult {
		last := lastTick()
		if last.IsZero() {
			if time.Since(started) < grace {
				return CheckResult{Status: StatusUnknown, Message: "waiting for first tick"}
			}
			return CheckResult{Status: StatusUnhealthy, Message: "poll loop never ticked"}
		}

		age, limit := time.Since(last), maxAge()
		details := map[string]any{"last_tick": last, "age_ms": age.Milliseconds(), "max_age_ms": limit.Milliseconds()}
		if age > limit {
			return CheckResult{
				Status:  StatusUnhealthy,
				Message: fmt.Sprintf("last tick %s ago", age.Truncate(time.Millisecond)),
				Details: details,
			}
		}
		return CheckResult{Status: StatusHealthy, Message: "ticking", Details: details}
	}
}

// AccessibilityCheck reports the platform's permission state. Missing
// permissions degrade the overlay to pointer tracking, so the check is
// degraded rather than unhealthy.
func AccessibilityCheck(available func() (bool, string)) Check {
	return func(ctx context.Context) CheckResult {
		ok, detail := available()
		if !ok {
			return CheckResult{Status: StatusDegraded, Message: detail}
		}
		return CheckResult{Status: StatusHealthy, Message: detail}
	}
}

// SocketCheck dials a unix socket.
func SocketCheck(path string) Check {
	return func(ctx context.Context) CheckResult {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "unix", path)
		if err != nil {
			return CheckResult{
				Status:  StatusUnhealthy,
				Message: "socket not accepting connections",
				Error:   err.Error(),
				Details: map[string]any{"path": path},
			}
		}
		conn.Close()
		return CheckResult{Status: StatusHealthy, Message: "listening", Details: map[string]any{"path": path}}
	}
}
