package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const lastModified = "Wed, 01 Mar 2023 12:00:00 GMT"

func newTestClient(t *testing.T, server string, mode DownloadMode) *Client {
	t.Helper()
	c, err := New(server, Options{
		Mode:           mode,
		Retries:        3,
		Timeout:        5 * time.Second,
		RequestsPerSec: 1000, // don't slow tests down
	}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestDownloadPreservesTimestamp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Last-Modified", lastModified)
		fmt.Fprint(w, "grib bytes")
	}))
	defer srv.Close()

	dir := t.TempDir()
	c := newTestClient(t, srv.URL, ModeUpdate)

	local, err := c.Download(context.Background(), "/DAILY/2023/03/MERGE_CPTEC_20230301.grib2", dir)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(local) != "MERGE_CPTEC_20230301.grib2" {
		t.Errorf("local path = %q", local)
	}

	info, err := os.Stat(local)
	if err != nil {
		t.Fatal(err)
	}
	want, _ := http.ParseTime(lastModified)
	if !info.ModTime().Equal(want) {
		t.Errorf("mtime = %v, want %v", info.ModTime(), want)
	}
}

func TestDownloadSkipsUnchangedFile(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Last-Modified", lastModified)
		fmt.Fprint(w, "payload")
	}))
	defer srv.Close()

	dir := t.TempDir()
	c := newTestClient(t, srv.URL, ModeUpdate)

	if _, err := c.Download(context.Background(), "/file.nc", dir); err != nil {
		t.Fatal(err)
	}
	first, _ := os.ReadFile(filepath.Join(dir, "file.nc"))

	// Second download sees the same Last-Modified and must not rewrite.
	if _, err := c.Download(context.Background(), "/file.nc", dir); err != nil {
		t.Fatal(err)
	}
	second, _ := os.ReadFile(filepath.Join(dir, "file.nc"))
	if string(first) != string(second) {
		t.Error("file content changed on unchanged download")
	}
	if hits != 2 {
		t.Errorf("expected 2 requests (second one headers-only decision), got %d", hits)
	}
}

func TestDownloadNoUpdateMode(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	defer srv.Close()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "file.nc"), []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	c := newTestClient(t, srv.URL, ModeNoUpdate)
	local, err := c.Download(context.Background(), "/file.nc", dir)
	if err != nil {
		t.Fatal(err)
	}
	if local != filepath.Join(dir, "file.nc") {
		t.Errorf("local = %q", local)
	}
	if hits != 0 {
		t.Errorf("no_update mode still made %d requests", hits)
	}
}

func TestDownloadNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	c := newTestClient(t, srv.URL, ModeUpdate)
	_, err := c.Download(context.Background(), "/missing.grib2", t.TempDir())

	var notFound *ErrNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected *ErrNotFound, got %v", err)
	}
}

func TestDownloadRetriesTransientFailure(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, "finally")
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, ModeUpdate)
	local, err := c.Download(context.Background(), "/flaky.nc", t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(local)
	if string(data) != "finally" {
		t.Errorf("content = %q", data)
	}
	if hits != 3 {
		t.Errorf("expected 3 attempts, got %d", hits)
	}
}

func TestDownloadExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, ModeUpdate)
	_, err := c.Download(context.Background(), "/dead.nc", t.TempDir())

	var failed *ErrFetchFailed
	if !errors.As(err, &failed) {
		t.Fatalf("expected *ErrFetchFailed, got %v", err)
	}
}

func TestExists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("method = %s, want HEAD", r.Method)
		}
		if r.URL.Path != "/DAILY/2023/03/MERGE_CPTEC_20230301.grib2" {
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, ModeUpdate)

	ok, err := c.Exists(context.Background(), "/DAILY/2023/03/MERGE_CPTEC_20230301.grib2")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("present resource reported absent")
	}

	ok, err = c.Exists(context.Background(), "/DAILY/2023/03/MERGE_CPTEC_20230302.grib2")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("absent resource reported present")
	}
}

func TestList(t *testing.T) {
	index := `<html><body><pre>
<a href="?C=N;O=D">Name</a>
<a href="/modelos/tempo/">Parent Directory</a>
<a href="../">..</a>
<a href="sub/">sub</a>
<a href="MERGE_CPTEC_20230301.grib2">MERGE_CPTEC_20230301.grib2</a>
<a href="MERGE_CPTEC_20230302.grib2">MERGE_CPTEC_20230302.grib2</a>
</pre></body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, index)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, ModeUpdate)
	names, err := c.List(context.Background(), "/DAILY/2023/03")
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 {
		t.Fatalf("names = %v", names)
	}

	last, err := c.LastAvailable(context.Background(), "/DAILY/2023/03", "MERGE_CPTEC_")
	if err != nil {
		t.Fatal(err)
	}
	if last != "MERGE_CPTEC_20230302.grib2" {
		t.Errorf("last = %q", last)
	}

	if _, err := c.LastAvailable(context.Background(), "/DAILY/2023/03", "WRF_"); err == nil {
		t.Error("expected not-found for unmatched prefix")
	}
}
