package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

// ask runs ExecuteContext over a group of provider names, failing for the
// names listed in down.
func ask(t *testing.T, fg *FallbackGroup[string], down ...string) (string, []string, error) {
	t.Helper()
	var tried []string
	got, err := ExecuteContext(context.Background(), fg, func(_ context.Context, name, v string) (string, error) {
		tried = append(tried, name)
		for _, d := range down {
			if d == v {
				return "", errTest
			}
		}
		return "from " + v, nil
	})
	return got, tried, err
}

func newGroup(names ...string) *FallbackGroup[string] {
	fg := NewFallbackGroup(names[0], names[0], FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
	})
	for _, n := range names[1:] {
		fg.AddFallback(n, n)
	}
	return fg
}

func TestExecuteContext_PrimaryWins(t *testing.T) {
	t.Parallel()
	fg := newGroup("whisper", "openai", "deepgram")

	got, tried, err := ask(t, fg)
	if err != nil {
		t.Fatalf("ExecuteContext: %v", err)
	}
	if got != "from whisper" || len(tried) != 1 {
		t.Errorf("got %q after %v, want primary only", got, tried)
	}
}

func TestExecuteContext_PreferenceOrder(t *testing.T) {
	t.Parallel()
	fg := newGroup("whisper", "openai", "deepgram")

	got, tried, err := ask(t, fg, "whisper", "openai")
	if err != nil {
		t.Fatalf("ExecuteContext: %v", err)
	}
	if got != "from deepgram" {
		t.Errorf("got %q, want from deepgram", got)
	}
	want := []string{"whisper", "openai", "deepgram"}
	for i := range want {
		if i >= len(tried) || tried[i] != want[i] {
			t.Fatalf("tried = %v, want %v", tried, want)
		}
	}
}

func TestExecuteContext_AllFail(t *testing.T) {
	t.Parallel()
	fg := newGroup("whisper", "openai")

	_, _, err := ask(t, fg, "whisper", "openai")
	if !errors.Is(err, ErrAllFailed) || !errors.Is(err, errTest) {
		t.Fatalf("err = %v, want ErrAllFailed wrapping the last error", err)
	}
}

func TestExecuteContext_SkipsOpenBreaker(t *testing.T) {
	t.Parallel()
	fg := newGroup("whisper", "openai")

	for range 2 {
		_, _, _ = ask(t, fg, "whisper")
	}
	status := fg.Status()
	if status[0].State != StateOpen || status[1].State != StateClosed {
		t.Fatalf("status = %+v, want whisper open", status)
	}

	got, tried, err := ask(t, fg)
	if err != nil || got != "from openai" {
		t.Fatalf("got %q, %v", got, err)
	}
	if len(tried) != 1 || tried[0] != "openai" {
		t.Errorf("tried = %v, want the open primary skipped", tried)
	}
}

func TestExecuteContext_AttemptTimeout(t *testing.T) {
	t.Parallel()
	fg := NewFallbackGroup("slow", "slow", FallbackConfig{AttemptTimeout: 20 * time.Millisecond})
	fg.AddFallback("fast", "fast")

	got, err := ExecuteContext(context.Background(), fg, func(ctx context.Context, name, _ string) (string, error) {
		if name == "slow" {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "ok", nil
	})
	if err != nil || got != "ok" {
		t.Fatalf("got %q, %v; want the fallback after the attempt timeout", got, err)
	}
	if f := fg.Status()[0].Failures; f != 1 {
		t.Errorf("slow failures = %d, want the timeout counted", f)
	}
}

func TestExecuteContext_CancelledContext(t *testing.T) {
	t.Parallel()
	fg := newGroup("whisper", "openai")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := ExecuteContext(ctx, fg, func(context.Context, string, string) (string, error) {
		calls++
		return "", nil
	})
	if !errors.Is(err, context.Canceled) || errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want plain context.Canceled", err)
	}
	if calls != 0 {
		t.Errorf("calls = %d, want none", calls)
	}
}

func TestFallbackGroup_StateChangeHook(t *testing.T) {
	t.Parallel()
	rec := &transitions{}
	fg := NewFallbackGroup("whisper", "whisper", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour, OnStateChange: rec.record},
	})
	if fg.Len() != 1 {
		t.Fatalf("Len = %d", fg.Len())
	}

	_, _ = ExecuteContext(context.Background(), fg, func(context.Context, string, string) (string, error) {
		return "", errTest
	})
	if got := rec.list(); len(got) != 1 || got[0] != "closed>open" {
		t.Errorf("transitions = %v", got)
	}
}
