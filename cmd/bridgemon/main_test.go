package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"
	"time"
)

type orderLog struct {
	calls []string
}

type fakeStopper struct {
	log *orderLog
	err error
}

func (f *fakeStopper) Stop(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		f.log.calls = append(f.log.calls, "stop without deadline")
		return nil
	}
	f.log.calls = append(f.log.calls, "stop")
	return f.err
}

type fakeCloser struct {
	log *orderLog
}

func (f *fakeCloser) Close() error {
	f.log.calls = append(f.log.calls, "close")
	return nil
}

func TestShutdown_StopsHistoryBeforeClosingBridge(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name string
		err  error
	}{
		{"clean stop", nil},
		{"stop fails", errors.New("flush failed")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := &orderLog{}
			shutdown(&fakeStopper{log: log, err: tt.err}, &fakeCloser{log: log}, time.Second, logger)

			want := []string{"stop", "close"}
			if !reflect.DeepEqual(log.calls, want) {
				t.Errorf("calls = %v, want %v", log.calls, want)
			}
		})
	}
}

func TestShutdown_WithoutHistory(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	log := &orderLog{}

	shutdown(nil, &fakeCloser{log: log}, time.Second, logger)

	if !reflect.DeepEqual(log.calls, []string{"close"}) {
		t.Errorf("calls = %v, want [close]", log.calls)
	}
}
