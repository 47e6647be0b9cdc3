// Package deps checks the external binaries autorec shells out to.
package deps
