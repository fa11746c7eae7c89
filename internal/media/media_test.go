package media

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/rs/zerolog"

	"telecast/internal/config"
)

func TestOpenNoneDriver(t *testing.T) {
	s, err := Open(config.MediaConfig{Driver: "none"}, zerolog.Nop())
	if err != nil || s != nil {
		t.Fatalf("none driver = %v, %v, want nil store", s, err)
	}
	s, err = Open(config.MediaConfig{}, zerolog.Nop())
	if err != nil || s != nil {
		t.Fatalf("empty driver = %v, %v, want nil store", s, err)
	}
}

func TestFSPutOpenRoundTrip(t *testing.T) {
	s, err := openFS(t.TempDir())
	if err != nil {
		t.Fatalf("open fs: %v", err)
	}
	ctx := context.Background()

	ref, err := s.Put(ctx, []byte("payload"), "photo.JPG")
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if ref == "" || ref[len(ref)-4:] != ".jpg" {
		t.Fatalf("ref = %q, want sha with lowercased extension", ref)
	}

	rc, err := s.Open(ctx, ref)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rc.Close()
	body, err := io.ReadAll(rc)
	if err != nil || string(body) != "payload" {
		t.Fatalf("read back %q, %v", body, err)
	}
}

func TestFSPutDeduplicates(t *testing.T) {
	s, err := openFS(t.TempDir())
	if err != nil {
		t.Fatalf("open fs: %v", err)
	}
	ctx := context.Background()

	a, err := s.Put(ctx, []byte("same bytes"), "a.png")
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	b, err := s.Put(ctx, []byte("same bytes"), "b.png")
	if err != nil {
		t.Fatalf("put again: %v", err)
	}
	if a != b {
		t.Fatalf("identical content produced refs %q and %q", a, b)
	}
}

func TestFSOpenMissing(t *testing.T) {
	s, err := openFS(t.TempDir())
	if err != nil {
		t.Fatalf("open fs: %v", err)
	}
	ref := refFor([]byte("never stored"), "x.mp4")
	if _, err := s.Open(context.Background(), ref); !errors.Is(err, ErrNotFound) {
		t.Fatalf("open missing = %v, want ErrNotFound", err)
	}
}

func TestFSOpenRejectsTraversal(t *testing.T) {
	s, err := openFS(t.TempDir())
	if err != nil {
		t.Fatalf("open fs: %v", err)
	}
	for _, ref := range []string{"", "..", "../etc/passwd", `..\boot.ini`, "a/b"} {
		if _, err := s.Open(context.Background(), ref); err == nil {
			t.Errorf("ref %q accepted", ref)
		}
	}
}
