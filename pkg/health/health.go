package health

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/webpods-org/webpods/pkg/storage"
)

// CheckType represents the type of health check
type CheckType string

const (
	CheckTypeStore CheckType = "store"
	CheckTypeBlob  CheckType = "blob"
)

// Result represents the outcome of a health check
type Result struct {
	Healthy   bool          `json:"healthy"`
	Message   string        `json:"message,omitempty"`
	CheckedAt time.Time     `json:"checkedAt"`
	Duration  time.Duration `json:"duration"`
}

// Checker is the interface that all health checkers must implement
type Checker interface {
	// Check performs the health check and returns the result
	Check(ctx context.Context) Result

	// Type returns the type of health check
	Type() CheckType
}

// StoreChecker probes the catalog database with a cheap read
type StoreChecker struct {
	Store storage.Store
}

func (c *StoreChecker) Type() CheckType { return CheckTypeStore }

func (c *StoreChecker) Check(ctx context.Context) Result {
	start := time.Now()

	if _, err := c.Store.ListPods(); err != nil {
		return Result{
			Healthy:   false,
			Message:   err.Error(),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	return Result{Healthy: true, CheckedAt: start, Duration: time.Since(start)}
}

// BlobChecker verifies the blob root is present and a directory
type BlobChecker struct {
	Root string
}

func (c *BlobChecker) Type() CheckType { return CheckTypeBlob }

func (c *BlobChecker) Check(ctx context.Context) Result {
	start := time.Now()

	info, err := os.Stat(c.Root)
	switch {
	case err != nil:
		return Result{Healthy: false, Message: err.Error(), CheckedAt: start, Duration: time.Since(start)}
	case !info.IsDir():
		return Result{Healthy: false, Message: "blob root is not a directory", CheckedAt: start, Duration: time.Since(start)}
	}
	return Result{Healthy: true, CheckedAt: start, Duration: time.Since(start)}
}

// Handler serves the /health endpoint: 200 when every check passes, 503
// otherwise, with per-check results in the body.
func Handler(checkers ...Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := make(map[string]Result, len(checkers))
		healthy := true
		for _, c := range checkers {
			result := c.Check(r.Context())
			checks[string(c.Type())] = result
			if !result.Healthy {
				healthy = false
			}
		}

		status := "ok"
		code := http.StatusOK
		if !healthy {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": status,
			"checks": checks,
		})
	}
}
