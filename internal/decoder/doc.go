// Package decoder turns getprices documents into one-minute bars.
//
// A document is a sequence of whitespace-separated lines. Header lines
// (EXCHANGE=, INTERVAL=, COLUMNS=, ...) are skipped. Data lines carry six
// comma-separated fields: time marker, close, high, low, open, volume. A time
// marker prefixed with "a" is an anchor holding absolute Unix seconds; any
// other marker is a minute offset from the most recent anchor.
//
// Decoding is lenient: rows that do not fit the shape are dropped and counted,
// never reported as errors.
package decoder
