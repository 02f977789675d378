// Package events provides a buffered fan-out broker for catalog events
// (pod/stream lifecycle, appends, deletions, purges). Slow subscribers
// are skipped rather than blocking publishers.
package events
