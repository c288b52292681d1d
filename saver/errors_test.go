package saver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"

	"github.com/richinex/canvasync/remote"
	"github.com/richinex/canvasync/storage"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"413", &remote.StatusError{Code: 413}, KindPayloadTooLarge},
		{"wrapped 413", fmt.Errorf("save: %w", &remote.StatusError{Code: 413}), KindPayloadTooLarge},
		{"phrase in status message", &remote.StatusError{Code: 400, Message: "Request Entity Too Large"}, KindPayloadTooLarge},
		{"phrase in plain error", errors.New("upstream: maximum size reached"), KindPayloadTooLarge},
		{"sentinel too large", fmt.Errorf("x: %w", ErrPayloadTooLarge), KindPayloadTooLarge},
		{"409", &remote.StatusError{Code: 409}, KindConflict},
		{"sentinel conflict", ErrConflict, KindConflict},
		{"500", &remote.StatusError{Code: 500}, KindNetwork},
		{"net error", &net.OpError{Op: "dial", Err: errors.New("refused")}, KindNetwork},
		{"sentinel network", ErrNetwork, KindNetwork},
		{"stale", fmt.Errorf("x: %w", ErrStale), KindStale},
		{"canceled", context.Canceled, KindCanceled},
		{"deadline", fmt.Errorf("x: %w", context.DeadlineExceeded), KindCanceled},
		{"checksum", fmt.Errorf("get: %w", storage.ErrChecksum), KindStorage},
		{"other", errors.New("something odd"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestUserMessage(t *testing.T) {
	if got := UserMessage(nil); got != "" {
		t.Errorf("nil error: %q", got)
	}
	tooLarge := UserMessage(&remote.StatusError{Code: 413})
	generic := UserMessage(&remote.StatusError{Code: 502, Message: "bad gateway"})
	if tooLarge == generic {
		t.Error("payload-too-large message is not distinct")
	}
	if !strings.Contains(generic, "bad gateway") {
		t.Errorf("generic message lost server detail: %q", generic)
	}
	if got := UserMessage(errors.New("weird")); !strings.Contains(got, "weird") {
		t.Errorf("unknown error message = %q", got)
	}
}

func TestDroppedWarning(t *testing.T) {
	if got := droppedWarning(0, 0); got != "" {
		t.Errorf("no drops: %q", got)
	}
	if got := droppedWarning(2, 1); !strings.HasPrefix(got, "2 canvas images and 1 flow node ") {
		t.Errorf("got %q", got)
	}
}
