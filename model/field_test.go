package model

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"testing"
)

func renderBytes(t *testing.T, f Field) []byte {
	t.Helper()
	b, err := f.Render(nil)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	return b.Bytes()
}

// walkMutations exhausts the field and checks the walk length matches
// NumMutations.
func walkMutations(t *testing.T, f Field) int {
	t.Helper()
	count := 0
	for f.Mutate() {
		count++
		if _, err := f.Render(nil); err != nil {
			t.Fatalf("Render() during mutation %d: %v", count, err)
		}
	}
	if got := f.NumMutations(); got != count {
		t.Errorf("walked %d mutations, NumMutations() = %d", count, got)
	}
	return count
}

func TestStaticField(t *testing.T) {
	t.Parallel()
	f := NewStatic("magic", []byte("\x7fELF"))

	t.Run("renders its value", func(t *testing.T) {
		if got := renderBytes(t, f); !bytes.Equal(got, []byte("\x7fELF")) {
			t.Errorf("Render() = %q", got)
		}
	})

	t.Run("has no mutations", func(t *testing.T) {
		if f.NumMutations() != 0 {
			t.Errorf("NumMutations() = %d, want 0", f.NumMutations())
		}
		if f.Mutate() {
			t.Error("Mutate() = true, want false")
		}
	})
}

func TestStringField(t *testing.T) {
	t.Parallel()

	t.Run("default renders the value", func(t *testing.T) {
		t.Parallel()
		f := NewString("user", "root")
		if got := renderBytes(t, f); !bytes.Equal(got, []byte("root")) {
			t.Errorf("Render() = %q, want root", got)
		}
	})

	t.Run("walk matches library size", func(t *testing.T) {
		t.Parallel()
		f := NewString("user", "root")
		if n := walkMutations(t, f); n == 0 {
			t.Error("library is empty")
		}
	})

	t.Run("reset restores the default", func(t *testing.T) {
		t.Parallel()
		f := NewString("user", "root")
		f.Mutate()
		f.Reset()
		if got := renderBytes(t, f); !bytes.Equal(got, []byte("root")) {
			t.Errorf("Render() after Reset() = %q, want root", got)
		}
	})

	t.Run("max size caps library entries", func(t *testing.T) {
		t.Parallel()
		f := NewString("user", "root", WithMaxSize(16))
		for f.Mutate() {
			if got := renderBytes(t, f); len(got) > 16 {
				t.Fatalf("mutation longer than cap: %d bytes", len(got))
			}
		}
	})

	t.Run("not fuzzable yields no mutations", func(t *testing.T) {
		t.Parallel()
		f := NewString("user", "root", NotFuzzable())
		if f.NumMutations() != 0 || f.Mutate() {
			t.Error("not fuzzable field still mutates")
		}
	})

	t.Run("skip fast forwards", func(t *testing.T) {
		t.Parallel()
		f := NewString("user", "root")
		total := f.NumMutations()
		if got := f.Skip(3); got != 3 {
			t.Fatalf("Skip(3) = %d", got)
		}
		rest := 0
		for f.Mutate() {
			rest++
		}
		if rest != total-3 {
			t.Errorf("remaining = %d, want %d", rest, total-3)
		}
	})

	t.Run("skip beyond the end reports the remainder", func(t *testing.T) {
		t.Parallel()
		f := NewString("user", "root")
		total := f.NumMutations()
		if got := f.Skip(total + 100); got != total {
			t.Errorf("Skip() = %d, want %d", got, total)
		}
	})
}

func TestBitField(t *testing.T) {
	t.Parallel()

	t.Run("default renders big endian", func(t *testing.T) {
		t.Parallel()
		f := UInt16("len", 0x0102)
		if got := renderBytes(t, f); !bytes.Equal(got, []byte{0x01, 0x02}) {
			t.Errorf("Render() = %x, want 0102", got)
		}
	})

	t.Run("little endian encoder option", func(t *testing.T) {
		t.Parallel()
		f := UInt16("len", 0x0102, WithIntEncoder(EncIntLE))
		if got := renderBytes(t, f); !bytes.Equal(got, []byte{0x02, 0x01}) {
			t.Errorf("Render() = %x, want 0201", got)
		}
	})

	t.Run("library stays in range", func(t *testing.T) {
		t.Parallel()
		f, err := NewBitField("code", 5, 8, WithRange(2, 9))
		if err != nil {
			t.Fatalf("NewBitField() error = %v", err)
		}
		for f.Mutate() {
			if v := f.Value(); v < 2 || v > 9 {
				t.Fatalf("mutation value %d outside [2,9]", v)
			}
		}
	})

	t.Run("rejects default outside range", func(t *testing.T) {
		t.Parallel()
		if _, err := NewBitField("code", 300, 8); err == nil {
			t.Error("NewBitField() expected error for 300 in 8 bits")
		}
	})

	t.Run("rejects bad width", func(t *testing.T) {
		t.Parallel()
		if _, err := NewBitField("code", 0, 65); err == nil {
			t.Error("NewBitField() expected error for width 65")
		}
	})

	t.Run("walk matches library size", func(t *testing.T) {
		t.Parallel()
		walkMutations(t, UInt8("code", 7))
	})

	t.Run("signed keeps negative boundary values", func(t *testing.T) {
		t.Parallel()
		f := SInt8("delta", 0)
		seenNegative := false
		for f.Mutate() {
			if f.Value() < 0 {
				seenNegative = true
			}
		}
		if !seenNegative {
			t.Error("signed library has no negative values")
		}
	})

	t.Run("uint64 rejects defaults above the int64 maximum", func(t *testing.T) {
		t.Parallel()
		defer func() {
			r := recover()
			if r == nil {
				t.Fatal("UInt64() did not panic")
			}
			if !strings.Contains(fmt.Sprint(r), "int64 maximum") {
				t.Errorf("panic = %v, want int64 maximum message", r)
			}
		}()
		UInt64("huge", uint64(math.MaxInt64)+1)
	})

	t.Run("non byte aligned width renders its exact size", func(t *testing.T) {
		t.Parallel()
		f, err := NewBitField("flags", 2, 3)
		if err != nil {
			t.Fatalf("NewBitField() error = %v", err)
		}
		b, err := f.Render(nil)
		if err != nil {
			t.Fatalf("Render() error = %v", err)
		}
		if b.Len() != 3 {
			t.Errorf("Len() = %d, want 3", b.Len())
		}
	})
}

func TestGroupField(t *testing.T) {
	t.Parallel()
	f, err := NewGroup("verb", []string{"GET", "POST", "HEAD"})
	if err != nil {
		t.Fatalf("NewGroup() error = %v", err)
	}

	t.Run("default is the first value", func(t *testing.T) {
		if got := renderBytes(t, f); !bytes.Equal(got, []byte("GET")) {
			t.Errorf("Render() = %q, want GET", got)
		}
	})

	t.Run("every value is a mutation", func(t *testing.T) {
		var seen []string
		for f.Mutate() {
			seen = append(seen, string(renderBytes(t, f)))
		}
		want := []string{"GET", "POST", "HEAD"}
		if len(seen) != len(want) {
			t.Fatalf("walked %d values, want %d", len(seen), len(want))
		}
		for i := range want {
			if seen[i] != want[i] {
				t.Errorf("mutation %d = %q, want %q", i, seen[i], want[i])
			}
		}
		f.Reset()
	})

	t.Run("rejects empty set", func(t *testing.T) {
		if _, err := NewGroup("verb", nil); err == nil {
			t.Error("NewGroup() expected error for empty set")
		}
	})
}

func TestDynamicField(t *testing.T) {
	t.Parallel()

	t.Run("renders the default without session data", func(t *testing.T) {
		t.Parallel()
		f := NewDynamic("sid", "session_id", []byte("0000"))
		if got := renderBytes(t, f); !bytes.Equal(got, []byte("0000")) {
			t.Errorf("Render() = %q, want 0000", got)
		}
	})

	t.Run("session data overrides the default", func(t *testing.T) {
		t.Parallel()
		f := NewDynamic("sid", "session_id", []byte("0000"))
		f.applySessionData(map[string][]byte{"session_id": []byte("cafe")})
		if got := renderBytes(t, f); !bytes.Equal(got, []byte("cafe")) {
			t.Errorf("Render() = %q, want cafe", got)
		}
	})

	t.Run("not fuzzable by default", func(t *testing.T) {
		t.Parallel()
		f := NewDynamic("sid", "session_id", []byte("0000"))
		if f.NumMutations() != 0 {
			t.Errorf("NumMutations() = %d, want 0", f.NumMutations())
		}
	})

	t.Run("fuzzable flips single bits", func(t *testing.T) {
		t.Parallel()
		f := NewDynamic("sid", "session_id", []byte{0x00}, Fuzzable())
		if f.NumMutations() != 8 {
			t.Fatalf("NumMutations() = %d, want 8", f.NumMutations())
		}
		f.Mutate()
		if got := renderBytes(t, f); !bytes.Equal(got, []byte{0x80}) {
			t.Errorf("first mutation = %x, want 80", got)
		}
	})
}

func TestRandomBytesField(t *testing.T) {
	t.Parallel()

	t.Run("mutations are reproducible", func(t *testing.T) {
		t.Parallel()
		a, err := NewRandomBytes("junk", []byte("x"), 1, 16, WithSeed(99))
		if err != nil {
			t.Fatalf("NewRandomBytes() error = %v", err)
		}
		b, err := NewRandomBytes("junk", []byte("x"), 1, 16, WithSeed(99))
		if err != nil {
			t.Fatalf("NewRandomBytes() error = %v", err)
		}
		for a.Mutate() && b.Mutate() {
			if !bytes.Equal(renderBytes(t, a), renderBytes(t, b)) {
				t.Fatal("same seed produced different buffers")
			}
		}
	})

	t.Run("lengths stay in range", func(t *testing.T) {
		t.Parallel()
		f, err := NewRandomBytes("junk", nil, 4, 9)
		if err != nil {
			t.Fatalf("NewRandomBytes() error = %v", err)
		}
		for f.Mutate() {
			if n := len(renderBytes(t, f)); n < 4 || n > 9 {
				t.Fatalf("length %d outside [4,9]", n)
			}
		}
	})

	t.Run("step mode walks lengths deterministically", func(t *testing.T) {
		t.Parallel()
		f, err := NewRandomBytes("junk", nil, 2, 8, WithStep(3))
		if err != nil {
			t.Fatalf("NewRandomBytes() error = %v", err)
		}
		if f.NumMutations() != 3 {
			t.Fatalf("NumMutations() = %d, want 3", f.NumMutations())
		}
		var lengths []int
		for f.Mutate() {
			lengths = append(lengths, len(renderBytes(t, f)))
		}
		want := []int{2, 5, 8}
		for i := range want {
			if lengths[i] != want[i] {
				t.Errorf("length %d = %d, want %d", i, lengths[i], want[i])
			}
		}
	})

	t.Run("rejects inverted range", func(t *testing.T) {
		t.Parallel()
		if _, err := NewRandomBytes("junk", nil, 9, 4); err == nil {
			t.Error("NewRandomBytes() expected error")
		}
	})
}

func TestMutationFields(t *testing.T) {
	t.Parallel()
	payload := []byte{0xaa, 0xbb, 0xcc, 0xdd}

	t.Run("bit flip walks every window position", func(t *testing.T) {
		t.Parallel()
		f, err := NewBitFlip("flip", payload, 3)
		if err != nil {
			t.Fatalf("NewBitFlip() error = %v", err)
		}
		if f.NumMutations() != 4*8-3+1 {
			t.Errorf("NumMutations() = %d, want %d", f.NumMutations(), 4*8-3+1)
		}
		f.Mutate()
		want := []byte{0xaa ^ 0xe0, 0xbb, 0xcc, 0xdd}
		if got := renderBytes(t, f); !bytes.Equal(got, want) {
			t.Errorf("first mutation = %x, want %x", got, want)
		}
	})

	t.Run("byte flip inverts the window", func(t *testing.T) {
		t.Parallel()
		f, err := NewByteFlip("flip", payload, 2)
		if err != nil {
			t.Fatalf("NewByteFlip() error = %v", err)
		}
		f.Mutate()
		want := []byte{0x55, 0x44, 0xcc, 0xdd}
		if got := renderBytes(t, f); !bytes.Equal(got, want) {
			t.Errorf("first mutation = %x, want %x", got, want)
		}
	})

	t.Run("block remove drops the block", func(t *testing.T) {
		t.Parallel()
		f, err := NewBlockRemove("rm", payload, 2)
		if err != nil {
			t.Fatalf("NewBlockRemove() error = %v", err)
		}
		f.Mutate()
		if got := renderBytes(t, f); !bytes.Equal(got, []byte{0xcc, 0xdd}) {
			t.Errorf("first mutation = %x, want ccdd", got)
		}
	})

	t.Run("block duplicate repeats the block", func(t *testing.T) {
		t.Parallel()
		f, err := NewBlockDuplicate("dup", payload, 2, 2)
		if err != nil {
			t.Fatalf("NewBlockDuplicate() error = %v", err)
		}
		f.Mutate()
		want := []byte{0xaa, 0xbb, 0xaa, 0xbb, 0xcc, 0xdd}
		if got := renderBytes(t, f); !bytes.Equal(got, want) {
			t.Errorf("first mutation = %x, want %x", got, want)
		}
	})

	t.Run("block set overwrites with the fill byte", func(t *testing.T) {
		t.Parallel()
		f, err := NewBlockSet("set", payload, 2, 0x00)
		if err != nil {
			t.Fatalf("NewBlockSet() error = %v", err)
		}
		f.Mutate()
		want := []byte{0x00, 0x00, 0xcc, 0xdd}
		if got := renderBytes(t, f); !bytes.Equal(got, want) {
			t.Errorf("first mutation = %x, want %x", got, want)
		}
	})

	t.Run("mutable field combines the mechanical mutations", func(t *testing.T) {
		t.Parallel()
		f, err := NewMutableField("all", payload)
		if err != nil {
			t.Fatalf("NewMutableField() error = %v", err)
		}
		walkMutations(t, f)
	})

	t.Run("rejects oversized window", func(t *testing.T) {
		t.Parallel()
		if _, err := NewByteFlip("flip", payload, 5); err == nil {
			t.Error("NewByteFlip() expected error")
		}
	})
}
