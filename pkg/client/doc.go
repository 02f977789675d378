// Package client wraps the WebPods system HTTP API for CLI usage.
package client
