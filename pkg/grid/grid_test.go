package grid

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang/snappy"
)

var (
	testLat = []float64{-10.0, -9.9}
	testLon = []float64{-50.0, -49.9, -49.8}
)

func step(t *testing.T, at time.Time, fill float32) *Grid {
	t.Helper()
	g := New("prec", at, testLat, testLon)
	for i := range g.Values {
		g.Values[i] = fill
	}
	return g
}

func day(d int) time.Time {
	return time.Date(2023, time.March, d, 0, 0, 0, 0, time.UTC)
}

func TestConcatAndSum(t *testing.T) {
	cube, err := Concat([]*Grid{step(t, day(1), 1), step(t, day(2), 2), step(t, day(3), 3)})
	if err != nil {
		t.Fatal(err)
	}
	if cube.Steps() != 3 {
		t.Fatalf("cube has %d steps", cube.Steps())
	}

	accum := cube.SumTime("pacum")
	if accum.Steps() != 1 {
		t.Fatalf("accum has %d steps", accum.Steps())
	}
	if !accum.Time[0].Equal(day(1)) {
		t.Errorf("accum reference time = %v, want first input step", accum.Time[0])
	}
	for i, v := range accum.Values {
		if v != 6 {
			t.Fatalf("cell %d = %v, want 6", i, v)
		}
	}
}

func TestConcatMeshMismatch(t *testing.T) {
	other := New("prec", day(1), []float64{0, 1, 2}, testLon)
	if _, err := Concat([]*Grid{step(t, day(1), 1), other}); err == nil {
		t.Fatal("expected mesh mismatch error")
	}
}

func TestMeanAndStdTime(t *testing.T) {
	cube, _ := Concat([]*Grid{step(t, day(1), 2), step(t, day(2), 4)})

	mean := cube.MeanTime("pmed")
	if mean.Values[0] != 3 {
		t.Errorf("mean = %v, want 3", mean.Values[0])
	}
	std := cube.StdTime("pstd")
	if std.Values[0] != 1 {
		t.Errorf("std = %v, want 1", std.Values[0])
	}
}

func TestRollingMeanDropsLeadingWindows(t *testing.T) {
	var steps []*Grid
	for i := 1; i <= 5; i++ {
		steps = append(steps, step(t, day(i), float32(i)))
	}
	cube, _ := Concat(steps)

	rolled, err := cube.RollingMeanTime(3)
	if err != nil {
		t.Fatal(err)
	}
	if rolled.Steps() != 3 {
		t.Fatalf("rolled has %d steps, want 3", rolled.Steps())
	}
	// windows: (1,2,3)=2 (2,3,4)=3 (3,4,5)=4
	for i, want := range []float32{2, 3, 4} {
		if got := rolled.Plane(i)[0]; got != want {
			t.Errorf("window %d = %v, want %v", i, got, want)
		}
	}
	if !rolled.Time[0].Equal(day(3)) {
		t.Errorf("first rolled step stamped %v, want %v", rolled.Time[0], day(3))
	}
}

func TestGroupMonthMean(t *testing.T) {
	jan2021 := step(t, time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), 10)
	jan2022 := step(t, time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC), 20)
	feb2021 := step(t, time.Date(2021, 2, 1, 0, 0, 0, 0, time.UTC), 5)
	cube, _ := Concat([]*Grid{jan2021, feb2021, jan2022})

	means := cube.GroupMonthMean("avg")
	if len(means) != 2 {
		t.Fatalf("expected 2 month groups, got %d", len(means))
	}
	if v := means[time.January].Values[0]; v != 15 {
		t.Errorf("january mean = %v, want 15", v)
	}
	if v := means[time.February].Values[0]; v != 5 {
		t.Errorf("february mean = %v, want 5", v)
	}
}

func TestStandardize(t *testing.T) {
	g := step(t, day(1), 8)
	mean := step(t, day(1), 6)
	std := step(t, day(1), 2)

	spi, err := g.Standardize("spi", mean, std)
	if err != nil {
		t.Fatal(err)
	}
	if spi.Values[0] != 1 {
		t.Errorf("spi = %v, want 1", spi.Values[0])
	}

	std.Values[0] = 0
	spi, err = g.Standardize("spi", mean, std)
	if err != nil {
		t.Fatal(err)
	}
	if !math.IsNaN(float64(spi.Values[0])) {
		t.Errorf("zero deviation should produce NaN, got %v", spi.Values[0])
	}
}

func TestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "artifact"+Ext)

	g := step(t, day(1), 3.5)
	g.Attrs = Attrs{
		Updated: time.Date(2023, 3, 2, 10, 30, 0, 0, time.UTC),
		LastDay: "20230301",
		Days:    1,
	}
	if err := g.WriteFile(path); err != nil {
		t.Fatal(err)
	}

	back, err := ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if back.Var != "prec" || back.Steps() != 1 || back.PlaneSize() != 6 {
		t.Errorf("round trip shape mismatch: %+v", back)
	}
	if back.Values[4] != 3.5 {
		t.Errorf("value = %v, want 3.5", back.Values[4])
	}
	if !back.Attrs.Updated.Equal(g.Attrs.Updated) || back.Attrs.LastDay != "20230301" || back.Attrs.Days != 1 {
		t.Errorf("attrs mismatch: %+v", back.Attrs)
	}
}

func TestReadAttrsOnly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "artifact"+Ext)

	g := step(t, day(1), 1)
	g.Attrs = Attrs{Updated: time.Now().UTC().Truncate(time.Second), LastDay: NA, Days: DaysNA}
	if err := g.WriteFile(path); err != nil {
		t.Fatal(err)
	}

	attrs, err := ReadAttrs(path)
	if err != nil {
		t.Fatal(err)
	}
	if attrs.LastDay != NA || attrs.Days != DaysNA {
		t.Errorf("attrs = %+v", attrs)
	}
}

func TestReadAttrsRejectsMissingDaysKey(t *testing.T) {
	// Hand-built container whose header predates the days attribute.
	head := []byte(`{"var":"prec","time":["2023-03-01T00:00:00Z"],"lat":[-10],"lon":[-50],` +
		`"updated":"2023-03-02T10:00:00Z","last_day":"20230301"}`)
	payload := snappy.Encode(nil, make([]byte, 4))

	var buf bytes.Buffer
	buf.WriteString("MFG1")
	binary.Write(&buf, binary.LittleEndian, uint32(len(head)))
	buf.Write(head)
	buf.Write(payload)

	path := filepath.Join(t.TempDir(), "legacy"+Ext)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := ReadAttrs(path); err == nil {
		t.Fatal("expected error for header without days attribute")
	}
	if _, err := ReadFile(path); err == nil {
		t.Fatal("expected error decoding header without days attribute")
	}
}

func TestReadFileRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken"+Ext)
	if err := os.WriteFile(path, []byte("definitely not a grid"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadFile(path); err == nil {
		t.Fatal("expected error for corrupt artifact")
	}
	if _, err := ReadAttrs(path); err == nil {
		t.Fatal("expected error for corrupt artifact attrs")
	}
}
