package mock

import "testing"

func TestShouldFail(t *testing.T) {
	for i := 0; i < 100; i++ {
		if ShouldFail(0) {
			t.Fatalf("rate 0 must never fail")
		}
		if !ShouldFail(1) {
			t.Fatalf("rate 1 must always fail")
		}
	}
}

func TestPickErrorStatus(t *testing.T) {
	tests := map[string]int{
		"429":          429,
		"rate_limit":   429,
		" 500 ":        500,
		"SERVER_ERROR": 500,
	}
	for mode, want := range tests {
		if got := PickErrorStatus(mode); got != want {
			t.Fatalf("mode %q: got %d want %d", mode, got, want)
		}
	}
	for i := 0; i < 50; i++ {
		if got := PickErrorStatus("mixed"); got != 429 && got != 500 {
			t.Fatalf("mixed produced %d", got)
		}
	}
}
