package internaldefs

import (
	"strings"
	"testing"

	"github.com/MrEthical07/authcore"
)

func TestDefsCoverEveryMetricOnce(t *testing.T) {
	seenID := make(map[authcore.MetricID]bool)
	seenName := make(map[string]bool)

	for _, def := range CounterDefs {
		if seenID[def.ID] || seenName[def.Name] {
			t.Fatalf("duplicate definition %+v", def)
		}
		if !strings.HasPrefix(def.Name, "authcore_") || !strings.HasSuffix(def.Name, "_total") {
			t.Fatalf("bad counter name %q", def.Name)
		}
		seenID[def.ID] = true
		seenName[def.Name] = true
	}
	for _, def := range HistogramDefs {
		if seenID[def.ID] {
			t.Fatalf("histogram %s also defined as counter", def.Name)
		}
		seenID[def.ID] = true
	}

	if len(seenID) != authcore.MetricCount {
		t.Fatalf("defined %d metrics, engine has %d", len(seenID), authcore.MetricCount)
	}
	if len(HistogramBounds) != authcore.MetricHistogramBuckets || len(HistogramBoundSuffix) != authcore.MetricHistogramBuckets {
		t.Fatal("bucket bounds do not match engine buckets")
	}
}

func TestCumulativeBuckets(t *testing.T) {
	got := CumulativeBuckets(NormalizeBuckets([]uint64{1, 2, 3}))
	want := [authcore.MetricHistogramBuckets]uint64{1, 3, 6, 6, 6, 6, 6, 6}
	if got != want {
		t.Fatalf("CumulativeBuckets = %v, want %v", got, want)
	}
}
