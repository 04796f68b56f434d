package grid

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/snappy"
)

// Ext is the filename extension of the native artifact container.
const Ext = ".grd"

// magic identifies the native container format.
var magic = [4]byte{'M', 'F', 'G', '1'}

// header is the JSON preamble of the native container. The payload that
// follows is the snappy-compressed little-endian float32 value block.
type header struct {
	Var     string    `json:"var"`
	Time    []string  `json:"time"` // RFC3339
	Lat     []float64 `json:"lat"`
	Lon     []float64 `json:"lon"`
	Updated string    `json:"updated,omitempty"` // RFC3339
	LastDay string    `json:"last_day"`
	Days    *int      `json:"days"` // pointer so a missing key is detectable
	Run     string    `json:"run,omitempty"`
}

func (g *Grid) encodeHeader() ([]byte, error) {
	h := header{
		Var:     g.Var,
		Lat:     g.Lat,
		Lon:     g.Lon,
		LastDay: g.Attrs.LastDay,
		Days:    &g.Attrs.Days,
		Run:     g.Attrs.Run,
	}
	if h.LastDay == "" {
		h.LastDay = NA
	}
	if !g.Attrs.Updated.IsZero() {
		h.Updated = g.Attrs.Updated.Format(time.RFC3339)
	}
	for _, t := range g.Time {
		h.Time = append(h.Time, t.Format(time.RFC3339))
	}
	return json.Marshal(h)
}

// WriteFile persists the grid to path atomically: the container is written to
// a temporary file in the same directory and renamed into place, so a reader
// never observes a partially written artifact.
func (g *Grid) WriteFile(path string) error {
	if err := g.Validate(); err != nil {
		return err
	}
	head, err := g.encodeHeader()
	if err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	raw := make([]byte, len(g.Values)*4)
	for i, v := range g.Values {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
	}
	payload := snappy.Encode(nil, raw)

	var buf bytes.Buffer
	buf.Write(magic[:])
	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(head))); err != nil {
		return err
	}
	buf.Write(head)
	buf.Write(payload)

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".grd-*")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// readHeader parses the container preamble and returns the header plus the
// offset where the payload starts.
func readHeader(data []byte) (*header, int, error) {
	if len(data) < 8 || !bytes.Equal(data[:4], magic[:]) {
		return nil, 0, fmt.Errorf("not a grid container")
	}
	n := int(binary.LittleEndian.Uint32(data[4:8]))
	if len(data) < 8+n {
		return nil, 0, fmt.Errorf("truncated grid header")
	}
	var h header
	if err := json.Unmarshal(data[8:8+n], &h); err != nil {
		return nil, 0, fmt.Errorf("decode grid header: %w", err)
	}
	return &h, 8 + n, nil
}

func (h *header) attrs() (Attrs, error) {
	// An artifact written before provenance tracking has no days key at all;
	// refusing it here makes the staleness policy treat it as stale.
	if h.Days == nil {
		return Attrs{}, fmt.Errorf("missing days attribute")
	}
	a := Attrs{LastDay: h.LastDay, Days: *h.Days, Run: h.Run}
	if h.Updated != "" {
		updated, err := time.Parse(time.RFC3339, h.Updated)
		if err != nil {
			return Attrs{}, fmt.Errorf("parse updated attr: %w", err)
		}
		a.Updated = updated
	}
	return a, nil
}

// ReadFile loads a native container from disk.
func ReadFile(path string) (*Grid, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	h, offset, err := readHeader(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	raw, err := snappy.Decode(nil, data[offset:])
	if err != nil {
		return nil, fmt.Errorf("%s: decompress payload: %w", path, err)
	}
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("%s: payload not float32-aligned", path)
	}

	g := &Grid{Var: h.Var, Lat: h.Lat, Lon: h.Lon}
	if g.Attrs, err = h.attrs(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	for _, s := range h.Time {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, fmt.Errorf("%s: parse time axis: %w", path, err)
		}
		g.Time = append(g.Time, t)
	}
	g.Values = make([]float32, len(raw)/4)
	for i := range g.Values {
		g.Values[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return g, nil
}

// ReadAttrs reads only the provenance attributes of an artifact, without
// decompressing the value block. The staleness policy uses this on every
// resolution attempt.
func ReadAttrs(path string) (Attrs, error) {
	f, err := os.Open(path)
	if err != nil {
		return Attrs{}, err
	}
	defer f.Close()

	var pre [8]byte
	if _, err := io.ReadFull(f, pre[:]); err != nil {
		return Attrs{}, fmt.Errorf("%s: read preamble: %w", path, err)
	}
	if !bytes.Equal(pre[:4], magic[:]) {
		return Attrs{}, fmt.Errorf("%s: not a grid container", path)
	}
	n := binary.LittleEndian.Uint32(pre[4:8])
	raw := make([]byte, n)
	if _, err := io.ReadFull(f, raw); err != nil {
		return Attrs{}, fmt.Errorf("%s: read header: %w", path, err)
	}
	var h header
	if err := json.Unmarshal(raw, &h); err != nil {
		return Attrs{}, fmt.Errorf("%s: decode header: %w", path, err)
	}
	a, err := h.attrs()
	if err != nil {
		return Attrs{}, fmt.Errorf("%s: %w", path, err)
	}
	return a, nil
}

// Decoder turns a fetched provider file into a Grid. The native format is
// handled by NativeDecoder; provider formats (grib2, netCDF) are supplied by
// the embedding application.
type Decoder interface {
	Decode(path string) (*Grid, error)
}

// NativeDecoder decodes the native .grd container.
type NativeDecoder struct{}

func (NativeDecoder) Decode(path string) (*Grid, error) {
	return ReadFile(path)
}
