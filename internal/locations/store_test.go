package locations

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/campusgo/fleetrelay/internal/schema"
)

func sampleAt(busID string, ts time.Time) schema.LocationSample {
	return schema.LocationSample{BusID: busID, Latitude: 30.1, Longitude: 31.2, Timestamp: ts}
}

func TestRecordAndCompareFreshness(t *testing.T) {
	s := NewStore()
	t0 := time.Unix(100, 0)

	res := s.RecordAndCompare(sampleAt("42", t0))
	if !res.Accepted || !res.Fresh {
		t.Fatalf("first sample = %+v, want accepted and fresh", res)
	}

	// strictly newer wins
	res = s.RecordAndCompare(sampleAt("42", t0.Add(time.Second)))
	if !res.Accepted || !res.Fresh {
		t.Fatalf("newer sample = %+v, want accepted and fresh", res)
	}

	// equal timestamp is a duplicate: accepted, not fresh
	res = s.RecordAndCompare(sampleAt("42", t0.Add(time.Second)))
	if !res.Accepted || res.Fresh {
		t.Fatalf("duplicate sample = %+v, want accepted and stale", res)
	}

	// older timestamp never overwrites current
	res = s.RecordAndCompare(sampleAt("42", t0))
	if !res.Accepted || res.Fresh {
		t.Fatalf("stale sample = %+v, want accepted and stale", res)
	}

	cur := s.Current("42")
	if !cur.Known || !cur.Timestamp.Equal(t0.Add(time.Second)) {
		t.Fatalf("current = %+v, want timestamp %v", cur, t0.Add(time.Second))
	}
}

func TestRejectedSampleLeavesCurrentUntouched(t *testing.T) {
	s := NewStore()
	t0 := time.Unix(100, 0)
	s.RecordAndCompare(sampleAt("42", t0))

	bad := schema.LocationSample{BusID: "42", Latitude: math.NaN(), Longitude: 31.2, Timestamp: t0.Add(time.Hour)}
	res := s.RecordAndCompare(bad)
	if res.Accepted {
		t.Fatalf("non-finite sample accepted: %+v", res)
	}
	cur := s.Current("42")
	if !cur.Known || !cur.Timestamp.Equal(t0) {
		t.Fatalf("current changed by rejected sample: %+v", cur)
	}
}

func TestCurrentUnknownSentinel(t *testing.T) {
	s := NewStore()
	cur := s.Current("never-seen")
	if cur.Known {
		t.Fatalf("unknown bus should not be known: %+v", cur)
	}
	if cur.Latitude != 0 || cur.Longitude != 0 || !cur.Timestamp.IsZero() {
		t.Fatalf("sentinel must be zero-valued: %+v", cur)
	}
	if cur.BusID != "never-seen" {
		t.Fatalf("sentinel bus id = %q", cur.BusID)
	}
}

func TestStaleSamplesAudited(t *testing.T) {
	s := NewStore(WithAuditCapacity(2))
	t0 := time.Unix(100, 0)
	s.RecordAndCompare(sampleAt("42", t0.Add(time.Minute)))

	for i := 0; i < 4; i++ {
		s.RecordAndCompare(sampleAt("42", t0.Add(time.Duration(i)*time.Second)))
	}
	stale := s.StaleSamples("42")
	if len(stale) != 2 {
		t.Fatalf("audit ring size = %d, want 2 (bounded)", len(stale))
	}
	// ring keeps the most recent suppressed samples
	if !stale[1].Timestamp.Equal(t0.Add(3 * time.Second)) {
		t.Fatalf("latest audited stale = %v", stale[1].Timestamp)
	}
	if got := s.StaleSamples("other"); got != nil {
		t.Fatalf("unknown bus audit = %v, want nil", got)
	}
}

func TestMonotonicityUnderConcurrency(t *testing.T) {
	s := NewStore()
	const writers = 8
	const perWriter = 100

	var wg sync.WaitGroup
	base := time.Unix(1000, 0)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				ts := base.Add(time.Duration(i*writers+w) * time.Millisecond)
				s.RecordAndCompare(sampleAt("42", ts))
			}
		}(w)
	}
	wg.Wait()

	max := base.Add(time.Duration(perWriter*writers-1) * time.Millisecond)
	cur := s.Current("42")
	if !cur.Timestamp.Equal(max) {
		t.Fatalf("current timestamp = %v, want max %v", cur.Timestamp, max)
	}
}

func TestIndependentBuses(t *testing.T) {
	s := NewStore()
	tA := time.Unix(100, 0)
	tB := time.Unix(50, 0)
	s.RecordAndCompare(sampleAt("a", tA))
	s.RecordAndCompare(sampleAt("b", tB))

	if cur := s.Current("a"); !cur.Timestamp.Equal(tA) {
		t.Fatalf("bus a current = %v", cur.Timestamp)
	}
	if cur := s.Current("b"); !cur.Timestamp.Equal(tB) {
		t.Fatalf("bus b current = %v", cur.Timestamp)
	}
}
