package codec

import (
	"fmt"
	"testing"
	"time"

	"github.com/recera/scattershare/pkg/point"
)

func generateDataset(n int) point.Dataset {
	d := make(point.Dataset, n)
	for i := range d {
		d[i] = point.Point{
			X:     float64(i) * 0.25,
			Y:     float64(i%97) - 48.5,
			Z:     float64(i*i%1013) / 7,
			Label: fmt.Sprintf("group-%d", i%12),
			Color: point.CategoryColor(float64(i % 5)),
		}
	}
	return d
}

func BenchmarkEncode1kPoints(b *testing.B) {
	d := generateDataset(1000)
	for _, s := range []Strategy{Inline, Base64} {
		b.Run(s.String(), func(b *testing.B) {
			c := MustNew(s)
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, err := c.Encode(d); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkDecode1kPoints(b *testing.B) {
	d := generateDataset(1000)
	for _, s := range []Strategy{Inline, Base64} {
		b.Run(s.String(), func(b *testing.B) {
			c := MustNew(s)
			enc, err := c.Encode(d)
			if err != nil {
				b.Fatal(err)
			}
			b.SetBytes(int64(len(enc)))
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := c.Decode(enc); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// TestRoundTrip10kPointsUnder1s keeps a large share usable from a page load.
func TestRoundTrip10kPointsUnder1s(t *testing.T) {
	if testing.Short() {
		t.Skip("timing test")
	}
	d := generateDataset(10000)
	c := MustNew(Base64)

	start := time.Now()
	enc, err := c.Encode(d)
	if err != nil {
		t.Fatal(err)
	}
	got, err := c.Decode(enc)
	if err != nil {
		t.Fatal(err)
	}
	elapsed := time.Since(start)

	if !got.Equal(d) {
		t.Fatal("round trip changed the data")
	}
	if elapsed > time.Second {
		t.Errorf("round trip of 10k points took %v, expected <1s", elapsed)
	} else {
		t.Logf("round trip of 10k points: %v (%d bytes)", elapsed, len(enc))
	}
}
