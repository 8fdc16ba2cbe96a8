// Package logging configures structured slog output for the index engine.
// Library code logs through the *slog.Logger it is given; the CLI installs
// a JSON logger here, optionally backed by a size-rotated file under
// ~/.nrtindex/logs/.
package logging
