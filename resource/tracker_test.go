package resource

import (
	"errors"
	"strings"
	"testing"
)

func TestTrackAndRelease(t *testing.T) {
	tr := New()
	closed := false
	h := tr.Track(KindBuffer, 1024, func() error {
		closed = true
		return nil
	})

	if tr.OpenCount() != 1 {
		t.Fatalf("OpenCount = %d, want 1", tr.OpenCount())
	}

	if err := tr.Release(h); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if !closed {
		t.Fatalf("closer was not invoked")
	}
	if tr.OpenCount() != 0 {
		t.Fatalf("OpenCount after release = %d, want 0", tr.OpenCount())
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	tr := New()
	calls := 0
	h := tr.Track(KindSocket, 0, func() error {
		calls++
		return nil
	})
	if err := tr.Release(h); err != nil {
		t.Fatalf("first Release: %v", err)
	}
	if err := tr.Release(h); err != nil {
		t.Fatalf("second Release: %v", err)
	}
	if calls != 1 {
		t.Fatalf("closer invoked %d times, want 1", calls)
	}
}

func TestReleaseUnknownHandleIsNoop(t *testing.T) {
	tr := New()
	if err := tr.Release("buffer:999"); err != nil {
		t.Fatalf("Release(unknown) = %v, want nil", err)
	}
}

func TestReleaseAllCollectsErrors(t *testing.T) {
	tr := New()
	tr.Track(KindTempFile, 10, func() error { return nil })
	tr.Track(KindTempFile, 20, func() error { return errors.New("boom") })
	tr.Track(KindSocket, 0, func() error { return nil })

	errs := tr.ReleaseAll()
	if len(errs) != 1 {
		t.Fatalf("ReleaseAll errors = %v, want exactly 1", errs)
	}
	if tr.OpenCount() != 0 {
		t.Fatalf("OpenCount after ReleaseAll = %d, want 0 even though one closer failed", tr.OpenCount())
	}
}

func TestStatsAggregatesByKind(t *testing.T) {
	tr := New()
	tr.Track(KindBuffer, 100, nil)
	tr.Track(KindBuffer, 200, nil)
	tr.Track(KindSocket, 0, nil)

	s := tr.Stats()
	if s.OpenCount != 3 {
		t.Fatalf("OpenCount = %d, want 3", s.OpenCount)
	}
	if s.TotalBytes != 300 {
		t.Fatalf("TotalBytes = %d, want 300", s.TotalBytes)
	}
	if s.ByKind[KindBuffer] != 2 || s.ByKind[KindSocket] != 1 {
		t.Fatalf("ByKind = %v, want buffer=2 socket=1", s.ByKind)
	}
}

func TestChecksumIsDeterministic(t *testing.T) {
	sum1, err := Checksum(strings.NewReader("the quick brown fox"))
	if err != nil {
		t.Fatalf("Checksum: %v", err)
	}
	sum2, err := Checksum(strings.NewReader("the quick brown fox"))
	if err != nil {
		t.Fatalf("Checksum: %v", err)
	}
	if sum1 != sum2 {
		t.Fatalf("Checksum not deterministic: %q vs %q", sum1, sum2)
	}

	sum3, err := Checksum(strings.NewReader("a different fox"))
	if err != nil {
		t.Fatalf("Checksum: %v", err)
	}
	if sum1 == sum3 {
		t.Fatalf("Checksum collided on distinct input")
	}
}
