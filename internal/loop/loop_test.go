package loop

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/starford/kitd/internal/apperr"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestLoop_RunsTasksInOrder(t *testing.T) {
	l := New(8, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)
	defer l.Close()

	var got []int
	for i := 0; i < 5; i++ {
		i := i
		l.Post(func() { got = append(got, i) })
	}
	// Call is ordered after every earlier Post.
	var snapshot []int
	if err := l.Call(ctx, func() { snapshot = append(snapshot, got...) }); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(snapshot) != 5 {
		t.Fatalf("ran %d tasks, want 5", len(snapshot))
	}
	for i, v := range snapshot {
		if v != i {
			t.Errorf("task %d ran as %d", i, v)
		}
	}
}

func TestLoop_PanicDoesNotStopLoop(t *testing.T) {
	l := New(8, testLogger())
	ctx := context.Background()
	go l.Run(ctx)
	defer l.Close()

	l.Post(func() { panic("bad script") })

	ran := false
	if err := l.Call(ctx, func() { ran = true }); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !ran {
		t.Error("loop stopped after panic")
	}
}

func TestLoop_CloseRejectsWork(t *testing.T) {
	l := New(8, testLogger())
	go l.Run(context.Background())
	time.Sleep(10 * time.Millisecond)
	l.Close()

	if l.Post(func() {}) {
		t.Error("Post after Close should fail")
	}
	if err := l.Call(context.Background(), func() {}); !errors.Is(err, apperr.ErrClosed) {
		t.Errorf("Call after Close = %v, want ErrClosed", err)
	}
}

func TestLoop_RunTwice(t *testing.T) {
	l := New(1, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	time.Sleep(10 * time.Millisecond)
	if err := l.Run(ctx); err == nil {
		t.Error("second Run should fail")
	}
	cancel()
}

func TestInline(t *testing.T) {
	var in Inline
	n := 0
	in.Post(func() { n++ })
	in.Go(func() { n++ })
	_ = in.Call(context.Background(), func() { n++ })
	if n != 3 {
		t.Errorf("n = %d, want 3", n)
	}
}
