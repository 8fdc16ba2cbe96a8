package errors

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// FormatForCLI formats an error for terminal output.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	ie, ok := As(err)
	if !ok {
		ie = Wrap(ErrCodeInternal, err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Error: %s\n", ie.Message)
	if q, ok := ie.Details["query"]; ok {
		fmt.Fprintf(&sb, "  Query: %s\n", q)
	}
	if ie.Suggestion != "" {
		fmt.Fprintf(&sb, "  Hint: %s\n", ie.Suggestion)
	}
	fmt.Fprintf(&sb, "  Code: %s\n", ie.Code)
	return sb.String()
}

// LogAttrs formats an error as slog attributes.
// Plain errors produce a single "error" attribute.
func LogAttrs(err error) []slog.Attr {
	if err == nil {
		return nil
	}

	ie, ok := As(err)
	if !ok {
		return []slog.Attr{slog.String("error", err.Error())}
	}

	attrs := []slog.Attr{
		slog.String("error_code", ie.Code),
		slog.String("error", ie.Message),
		slog.String("category", string(ie.Category)),
		slog.String("severity", string(ie.Severity)),
	}
	if ie.Cause != nil {
		attrs = append(attrs, slog.String("cause", ie.Cause.Error()))
	}

	keys := make([]string, 0, len(ie.Details))
	for k := range ie.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.String("detail_"+k, ie.Details[k]))
	}
	return attrs
}

// LogArgs is LogAttrs in the form accepted by slog.Logger.Warn and friends.
func LogArgs(err error) []any {
	attrs := LogAttrs(err)
	args := make([]any, len(attrs))
	for i, a := range attrs {
		args[i] = a
	}
	return args
}
