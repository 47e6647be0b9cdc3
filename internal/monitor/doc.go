// Package monitor watches the shared screen or window and signals when it is
// closed.
package monitor
