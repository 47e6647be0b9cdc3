package main

import (
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/mattn/go-isatty"
)

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

// truncate shortens s to at most n runes for table cells.
func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n-1]) + "…"
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w any) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// colorize wraps s in an ANSI color when out is a terminal.
func colorize(out io.Writer, code, s string) string {
	if !isTerminal(out) {
		return s
	}
	return "\x1b[" + code + "m" + s + "\x1b[0m"
}
