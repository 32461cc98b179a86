package chunk

import (
	"errors"
	"testing"

	"github.com/vanderheijden86/threadwork/pkg/task"
)

func intRange(n int) []int {
	items := make([]int, n)
	for i := range items {
		items[i] = i
	}
	return items
}

// drive steps the processor to the end, failing the test if it never stops.
func drive[T any](t *testing.T, p *Processor[T]) {
	t.Helper()
	for i := 0; i < 10000; i++ {
		more, err := p.Step()
		if err != nil {
			t.Fatalf("Step failed: %v", err)
		}
		if !more {
			return
		}
	}
	t.Fatal("processor never finished")
}

func TestStepSliceSizes(t *testing.T) {
	var lens []int
	completed := 0
	p := New(intRange(97), func(s []int) error {
		lens = append(lens, len(s))
		return nil
	}, Config{
		Size:       25,
		OnComplete: func() { completed++ },
	})
	drive(t, p)

	want := []int{25, 25, 25, 22}
	if len(lens) != len(want) {
		t.Fatalf("got %d slices %v, want %v", len(lens), lens, want)
	}
	for i := range want {
		if lens[i] != want[i] {
			t.Errorf("slice %d has len %d, want %d", i, lens[i], want[i])
		}
	}
	if completed != 1 {
		t.Errorf("OnComplete fired %d times, want 1", completed)
	}
	if !p.Done() {
		t.Error("Done() = false after full run")
	}
}

func TestProgressReporting(t *testing.T) {
	var processed []int
	var fractions []float64
	total := -1
	p := New(intRange(97), func([]int) error { return nil }, Config{
		Size: 25,
		OnProgress: func(f float64, done, n int) {
			fractions = append(fractions, f)
			processed = append(processed, done)
			total = n
		},
	})
	drive(t, p)

	wantProcessed := []int{25, 50, 75, 97}
	if len(processed) != len(wantProcessed) {
		t.Fatalf("got %d progress calls %v, want %v", len(processed), processed, wantProcessed)
	}
	for i := range wantProcessed {
		if processed[i] != wantProcessed[i] {
			t.Errorf("progress call %d reported %d processed, want %d", i, processed[i], wantProcessed[i])
		}
	}
	if total != 97 {
		t.Errorf("progress reported total %d, want 97", total)
	}
	if last := fractions[len(fractions)-1]; last != 1 {
		t.Errorf("final fraction = %v, want 1", last)
	}
	for i := 1; i < len(fractions); i++ {
		if fractions[i] < fractions[i-1] {
			t.Errorf("fraction decreased from %v to %v", fractions[i-1], fractions[i])
		}
	}
}

func TestEmptyInputCompletesImmediately(t *testing.T) {
	completed := 0
	fnCalls := 0
	var gotFraction float64 = -1
	p := New(nil, func([]int) error {
		fnCalls++
		return nil
	}, Config{
		OnProgress: func(f float64, done, n int) { gotFraction = f },
		OnComplete: func() { completed++ },
	})

	more, err := p.Step()
	if err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if more {
		t.Error("Step on empty input returned more=true, want false")
	}
	if completed != 1 {
		t.Errorf("OnComplete fired %d times, want 1", completed)
	}
	if fnCalls != 0 {
		t.Errorf("slice function called %d times on empty input, want 0", fnCalls)
	}
	if gotFraction != 1 {
		t.Errorf("progress fraction = %v, want 1", gotFraction)
	}
}

func TestCancelMidRunAbandonsWork(t *testing.T) {
	live := task.NewLiveness()
	completed := 0
	var lens []int
	p := New(intRange(100), func(s []int) error {
		lens = append(lens, len(s))
		return nil
	}, Config{
		Size: 25,
		OnProgress: func(f float64, done, n int) {
			if done == 50 {
				live.Cancel()
			}
		},
		OnComplete: func() { completed++ },
		Live:       live,
	})

	for i := 0; i < 100; i++ {
		more, err := p.Step()
		if err != nil {
			t.Fatalf("Step failed: %v", err)
		}
		if !more {
			break
		}
	}

	if len(lens) != 2 {
		t.Errorf("processed %d slices after cancel, want 2", len(lens))
	}
	if completed != 0 {
		t.Errorf("OnComplete fired %d times after cancel, want 0", completed)
	}
	if p.Processed() != 50 {
		t.Errorf("Processed() = %d, want 50", p.Processed())
	}
}

func TestCancelAfterLastSliceSuppressesCompletion(t *testing.T) {
	live := task.NewLiveness()
	completed := 0
	p := New(intRange(40), func([]int) error { return nil }, Config{
		Size:       20,
		OnComplete: func() { completed++ },
		Live:       live,
	})

	for i := 0; i < 2; i++ {
		more, err := p.Step()
		if err != nil {
			t.Fatalf("Step failed: %v", err)
		}
		if !more {
			t.Fatalf("run ended after %d steps, want 2 work steps", i+1)
		}
	}

	// All items are processed but the completion step has not run yet.
	live.Cancel()
	more, err := p.Step()
	if err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if more {
		t.Error("Step after cancel returned more=true")
	}
	if completed != 0 {
		t.Errorf("OnComplete fired %d times for a view that died before the completion step, want 0", completed)
	}
}

func TestSliceErrorStopsRun(t *testing.T) {
	wantErr := errors.New("write failed")
	completed := 0
	calls := 0
	p := New(intRange(60), func([]int) error {
		calls++
		if calls == 2 {
			return wantErr
		}
		return nil
	}, Config{
		Size:       20,
		OnComplete: func() { completed++ },
	})

	if more, err := p.Step(); err != nil || !more {
		t.Fatalf("first Step = (%v, %v), want (true, nil)", more, err)
	}
	more, err := p.Step()
	if !errors.Is(err, wantErr) {
		t.Fatalf("second Step error = %v, want %v", err, wantErr)
	}
	if more {
		t.Error("failing Step returned more=true")
	}

	// The run is over: nothing else is processed and the error is not replayed.
	more, err = p.Step()
	if more || err != nil {
		t.Errorf("Step after failure = (%v, %v), want (false, nil)", more, err)
	}
	if calls != 2 {
		t.Errorf("slice function called %d times, want 2", calls)
	}
	if completed != 0 {
		t.Errorf("OnComplete fired %d times after failure, want 0", completed)
	}
}

func TestDefaultSize(t *testing.T) {
	var first int
	p := New(intRange(120), func(s []int) error {
		if first == 0 {
			first = len(s)
		}
		return nil
	}, Config{})
	drive(t, p)
	if first != DefaultSize {
		t.Errorf("first slice len = %d, want DefaultSize %d", first, DefaultSize)
	}
}

func TestNilSliceFunctionPagesThrough(t *testing.T) {
	completed := 0
	p := New(intRange(10), nil, Config{Size: 4, OnComplete: func() { completed++ }})
	drive(t, p)
	if completed != 1 {
		t.Errorf("OnComplete fired %d times, want 1", completed)
	}
	if p.Processed() != 10 {
		t.Errorf("Processed() = %d, want 10", p.Processed())
	}
}
