package monitor

import (
	"fmt"
	"log"
	"reflect"
	"testing"
)

func TestLogBufferRecent(t *testing.T) {
	b := NewLogBuffer(3)
	for i := 1; i <= 5; i++ {
		fmt.Fprintf(b, "line %d\n", i)
	}

	got := b.Recent(0)
	want := []string{"line 3", "line 4", "line 5"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Recent(0) = %v, want %v", got, want)
	}

	got = b.Recent(2)
	want = []string{"line 4", "line 5"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Recent(2) = %v, want %v", got, want)
	}
}

func TestLogBufferPartiallyFilled(t *testing.T) {
	b := NewLogBuffer(10)
	fmt.Fprintf(b, "only\n")
	if got := b.Recent(5); len(got) != 1 || got[0] != "only" {
		t.Fatalf("Recent(5) = %v, want [only]", got)
	}
}

func TestLogBufferBehindStdLogger(t *testing.T) {
	b := NewLogBuffer(4)
	l := log.New(b, "", 0)
	l.Printf("[bot] state change")
	got := b.Recent(1)
	if len(got) != 1 || got[0] != "[bot] state change" {
		t.Fatalf("Recent(1) = %v", got)
	}
}
