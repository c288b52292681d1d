package saver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/richinex/canvasync/remote"
	"github.com/richinex/canvasync/storage"
)

var (
	// ErrPayloadTooLarge marks a save rejected for its size.
	ErrPayloadTooLarge = errors.New("payload too large")
	// ErrNetwork marks a failed or non-successful request.
	ErrNetwork = errors.New("network failure")
	// ErrConflict marks a save rejected because the server holds a newer version.
	ErrConflict = errors.New("version conflict")
	// ErrStale is returned when the project was switched while work for it
	// was in flight; the result was discarded.
	ErrStale = errors.New("project changed while request was in flight")
)

// Kind is the failure category of a save or load.
type Kind string

const (
	KindUnknown         Kind = "unknown"
	KindNetwork         Kind = "network"
	KindPayloadTooLarge Kind = "payload_too_large"
	KindConflict        Kind = "conflict"
	KindStorage         Kind = "storage"
	KindStale           Kind = "stale"
	KindCanceled        Kind = "canceled"
)

// sizeLimitPhrases are matched case-insensitively against messages of
// errors that carry no status code.
var sizeLimitPhrases = []string{
	"too large",
	"payload too large",
	"entity too large",
	"body limit",
	"size limit",
	"exceeds the limit",
	"maximum size",
}

// Classify maps err to a Kind. Sentinels and status codes win over message
// matching.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	switch {
	case errors.Is(err, ErrStale):
		return KindStale
	case errors.Is(err, ErrPayloadTooLarge):
		return KindPayloadTooLarge
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	case errors.Is(err, storage.ErrChecksum):
		return KindStorage
	}

	var se *remote.StatusError
	if errors.As(err, &se) {
		switch {
		case se.Code == http.StatusRequestEntityTooLarge, hasSizePhrase(se.Message):
			return KindPayloadTooLarge
		case se.Code == http.StatusConflict:
			return KindConflict
		default:
			return KindNetwork
		}
	}
	if hasSizePhrase(err.Error()) {
		return KindPayloadTooLarge
	}

	var nerr net.Error
	if errors.As(err, &nerr) || errors.Is(err, ErrNetwork) {
		return KindNetwork
	}
	return KindUnknown
}

func hasSizePhrase(msg string) bool {
	msg = strings.ToLower(msg)
	for _, p := range sizeLimitPhrases {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// UserMessage renders err as the string recorded in the content store.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch Classify(err) {
	case KindPayloadTooLarge:
		return "Project is too large to save. Remove or compress some large images, then save again."
	case KindConflict:
		return "This project was changed elsewhere. Reload it to get the latest version before saving."
	case KindCanceled:
		return "Save was interrupted before it completed."
	case KindStorage:
		return "Local storage is unavailable; changes are kept in memory only."
	case KindNetwork:
		var se *remote.StatusError
		if errors.As(err, &se) && se.Message != "" {
			return fmt.Sprintf("Save failed (HTTP %d): %s", se.Code, se.Message)
		}
		return "Save failed: the server could not be reached."
	default:
		return "Save failed: " + err.Error()
	}
}

// droppedWarning describes references left out of a save, or "" if none.
func droppedWarning(canvasImages, flowNodes int) string {
	if canvasImages == 0 && flowNodes == 0 {
		return ""
	}
	return fmt.Sprintf("%d canvas %s and %d flow %s were left out of the save because their images were never uploaded.",
		canvasImages, plural(canvasImages, "image", "images"),
		flowNodes, plural(flowNodes, "node", "nodes"))
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
