package fuzz

import (
	"testing"
)

func collect(t *testing.T, l TestList) []int {
	t.Helper()
	var out []int
	for {
		n, ok := l.Next()
		if !ok {
			return out
		}
		out = append(out, n)
		if len(out) > 1000 {
			t.Fatal("test list does not terminate")
		}
	}
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestStartEndList(t *testing.T) {
	t.Parallel()

	t.Run("open end binds to the last mutation", func(t *testing.T) {
		l := NewStartEndList(0, -1)
		if err := l.Bind(3); err != nil {
			t.Fatalf("Bind() error = %v", err)
		}
		if got := collect(t, l); !equalInts(got, []int{0, 1, 2, 3}) {
			t.Errorf("Next() walk = %v", got)
		}
		if l.Count() != 4 {
			t.Errorf("Count() = %d, want 4", l.Count())
		}
	})

	t.Run("end clamps to the last mutation", func(t *testing.T) {
		l := NewStartEndList(2, 100)
		if err := l.Bind(4); err != nil {
			t.Fatalf("Bind() error = %v", err)
		}
		if got := collect(t, l); !equalInts(got, []int{2, 3, 4}) {
			t.Errorf("Next() walk = %v", got)
		}
	})

	t.Run("start beyond end fails", func(t *testing.T) {
		l := NewStartEndList(10, -1)
		if err := l.Bind(5); err == nil {
			t.Error("Bind() error = nil, want range error")
		}
	})

	t.Run("skip below advances the cursor", func(t *testing.T) {
		l := NewStartEndList(0, 5)
		if err := l.Bind(5); err != nil {
			t.Fatalf("Bind() error = %v", err)
		}
		l.SkipBelow(4)
		if got := collect(t, l); !equalInts(got, []int{4, 5}) {
			t.Errorf("Next() walk = %v", got)
		}
	})
}

func TestParseRanges(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		expr    string
		last    int
		want    []int
		wantErr bool
	}{
		{name: "single numbers", expr: "1,3,5", last: 10, want: []int{1, 3, 5}},
		{name: "mixed ranges", expr: "1,3-5,8", last: 10, want: []int{1, 3, 4, 5, 8}},
		{name: "trailing open range", expr: "2,7-", last: 9, want: []int{2, 7, 8, 9}},
		{name: "spaces are ignored", expr: " 1, 3 - 4 ", last: 10, want: []int{1, 3, 4}},
		{name: "range clamped to last", expr: "8-20", last: 10, want: []int{8, 9, 10}},
		{name: "empty expression", expr: "", wantErr: true},
		{name: "descending ranges", expr: "5,3", wantErr: true},
		{name: "overlapping ranges", expr: "1-5,4-8", wantErr: true},
		{name: "open range not last", expr: "3-,7", wantErr: true},
		{name: "negative number", expr: "-3", wantErr: true},
		{name: "garbage token", expr: "1,x", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			l, err := ParseRanges(tt.expr)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseRanges(%q) error = nil, want error", tt.expr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRanges(%q) error = %v", tt.expr, err)
			}
			if err := l.Bind(tt.last); err != nil {
				t.Fatalf("Bind(%d) error = %v", tt.last, err)
			}
			if got := collect(t, l); !equalInts(got, tt.want) {
				t.Errorf("walk = %v, want %v", got, tt.want)
			}
			if got := l.Count(); got != len(tt.want) {
				t.Errorf("Count() = %d, want %d", got, len(tt.want))
			}
		})
	}

	t.Run("bind rejects start beyond last", func(t *testing.T) {
		t.Parallel()
		l, err := ParseRanges("50-60")
		if err != nil {
			t.Fatalf("ParseRanges() error = %v", err)
		}
		if err := l.Bind(10); err == nil {
			t.Error("Bind() error = nil, want out of range error")
		}
	})

	t.Run("skip below lands inside a later range", func(t *testing.T) {
		t.Parallel()
		l, err := ParseRanges("1-3,7-9")
		if err != nil {
			t.Fatalf("ParseRanges() error = %v", err)
		}
		if err := l.Bind(9); err != nil {
			t.Fatalf("Bind() error = %v", err)
		}
		l.SkipBelow(8)
		if got := collect(t, l); !equalInts(got, []int{8, 9}) {
			t.Errorf("walk = %v", got)
		}
	})
}
