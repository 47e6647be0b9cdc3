// Package history persists finished recordings and their transcripts.
//
// Entries live in a SQLite database (modernc.org/sqlite, no cgo). Append
// inserts and trims in one transaction so the table never holds more than
// MaxEntries rows; listings are newest first.
package history
