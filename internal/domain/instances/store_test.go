package instances

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/winnersdraw91/pacs-v2/internal/domain/instances/instancetest"
	"github.com/winnersdraw91/pacs-v2/internal/platform/apperror"
	"github.com/winnersdraw91/pacs-v2/internal/platform/blobstore"
)

func newTestStore() (*Store, *blobstore.Memory) {
	mem := blobstore.NewMemory()
	return NewStore(mem, zerolog.Nop()), mem
}

func TestLocationFor(t *testing.T) {
	loc := LocationFor("Alpha", "AB12CD34")
	if loc != "Alpha/AB12CD34" {
		t.Errorf("unexpected location %q", loc)
	}
	if loc.Key(3) != "Alpha/AB12CD34/instance_0003.dcm" {
		t.Errorf("unexpected key %q", loc.Key(3))
	}
}

func TestPlace_SkipsInvalidAndKeepsPositionsContiguous(t *testing.T) {
	s, mem := newTestStore()
	ctx := context.Background()
	blobs := [][]byte{
		instancetest.Part10("CT", "HEAD", "1.2.3.1"),
		instancetest.Malformed(),
		instancetest.Part10("CT", "HEAD", "1.2.3.2"),
	}

	loc, n, err := s.Place(ctx, "Alpha", "AB12CD34", blobs)
	if err != nil {
		t.Fatalf("Place: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 instances, got %d", n)
	}
	if n > len(blobs) {
		t.Fatal("instance count must never exceed the number of blobs")
	}

	list, err := s.List(ctx, loc)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].Index != 0 || list[1].Index != 1 {
		t.Fatalf("expected positions 0 and 1, got %+v", list)
	}

	// the third upload lands in position 1
	got, err := blobstore.ReadAll(ctx, mem, loc.Key(1))
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != string(blobs[2]) {
		t.Error("expected position 1 to hold the third uploaded blob")
	}
}

func TestPlace_AllRejected(t *testing.T) {
	s, _ := newTestStore()
	loc, n, err := s.Place(context.Background(), "Alpha", "ZZ", [][]byte{instancetest.Malformed()})
	if err != nil {
		t.Fatalf("Place: %v", err)
	}
	if n != 0 || loc != "Alpha/ZZ" {
		t.Errorf("expected empty placement at Alpha/ZZ, got %q %d", loc, n)
	}
}

func TestPlace_RejectsUnsafeSegments(t *testing.T) {
	s, _ := newTestStore()
	for _, tenant := range []string{"", "..", "a/b", `a\b`} {
		_, _, err := s.Place(context.Background(), tenant, "CODE", nil)
		if !apperror.Is(err, apperror.KindValidation) {
			t.Errorf("tenant %q: expected ValidationFailure, got %v", tenant, err)
		}
	}
}

func TestPlace_ExistingLocationConflicts(t *testing.T) {
	s, _ := newTestStore()
	s.SetValidator(func([]byte) error { return nil })
	ctx := context.Background()
	if _, _, err := s.Place(ctx, "Alpha", "DUP", [][]byte{[]byte("a")}); err != nil {
		t.Fatalf("Place: %v", err)
	}
	_, _, err := s.Place(ctx, "Alpha", "DUP", [][]byte{[]byte("b")})
	if !apperror.Is(err, apperror.KindConflict) {
		t.Errorf("expected Conflict, got %v", err)
	}
}

func TestFetch(t *testing.T) {
	s, mem := newTestStore()
	s.SetValidator(func(b []byte) error {
		if strings.HasPrefix(string(b), "bad") {
			return errors.New("bad")
		}
		return nil
	})
	ctx := context.Background()
	loc, _, err := s.Place(ctx, "Alpha", "F1", [][]byte{[]byte("zero"), []byte("bad"), []byte("one")})
	if err != nil {
		t.Fatalf("Place: %v", err)
	}

	data, err := s.Fetch(ctx, loc, 1)
	if err != nil || string(data) != "one" {
		t.Errorf("expected 'one', got %q, %v", data, err)
	}

	if _, err := s.Fetch(ctx, loc, 2); !apperror.Is(err, apperror.KindNotFound) {
		t.Errorf("expected NotFound past the end, got %v", err)
	}
	if _, err := s.Fetch(ctx, loc, -1); !apperror.Is(err, apperror.KindNotFound) {
		t.Errorf("expected NotFound for negative index, got %v", err)
	}

	if err := mem.Delete(ctx, loc.Key(0)); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Fetch(ctx, loc, 0); !apperror.Is(err, apperror.KindNotFound) {
		t.Errorf("expected NotFound once the object is gone from the listing, got %v", err)
	}
}

// vanishingBlobs lists objects whose contents can no longer be read.
type vanishingBlobs struct{ *blobstore.Memory }

func (v vanishingBlobs) Get(ctx context.Context, key string) (io.ReadCloser, blobstore.Info, error) {
	return nil, blobstore.Info{}, fmt.Errorf("%w: %s", blobstore.ErrNotFound, key)
}

func TestFetch_MissingBackingObjectIsIntegrityError(t *testing.T) {
	mem := blobstore.NewMemory()
	s := NewStore(vanishingBlobs{mem}, zerolog.Nop())
	s.SetValidator(func([]byte) error { return nil })
	ctx := context.Background()
	loc, _, err := s.Place(ctx, "Alpha", "GONE", [][]byte{[]byte("a")})
	if err != nil {
		t.Fatalf("Place: %v", err)
	}
	if _, err := s.Fetch(ctx, loc, 0); !apperror.Is(err, apperror.KindIntegrity) {
		t.Errorf("expected IntegrityError, got %v", err)
	}
}

// countingBlobs records how often the store lists objects.
type countingBlobs struct {
	*blobstore.Memory
	lists int
}

func (c *countingBlobs) List(ctx context.Context, prefix string) ([]blobstore.Info, error) {
	c.lists++
	return c.Memory.List(ctx, prefix)
}

func TestFetchListed(t *testing.T) {
	blobs := &countingBlobs{Memory: blobstore.NewMemory()}
	s := NewStore(blobs, zerolog.Nop())
	s.SetValidator(func([]byte) error { return nil })
	ctx := context.Background()
	loc, _, err := s.Place(ctx, "Alpha", "FL", [][]byte{[]byte("a"), []byte("b")})
	if err != nil {
		t.Fatalf("Place: %v", err)
	}
	list, err := s.List(ctx, loc)
	if err != nil {
		t.Fatal(err)
	}

	blobs.lists = 0
	data, err := s.FetchListed(ctx, loc, list, 1)
	if err != nil || string(data) != "b" {
		t.Fatalf("expected 'b', got %q, %v", data, err)
	}
	if blobs.lists != 0 {
		t.Errorf("FetchListed listed storage %d times", blobs.lists)
	}

	if err := blobs.Delete(ctx, loc.Key(0)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.FetchListed(ctx, loc, list, 0); !apperror.Is(err, apperror.KindIntegrity) {
		t.Errorf("expected IntegrityError for a listed object that vanished, got %v", err)
	}
	if _, err := s.FetchListed(ctx, loc, list, 5); !apperror.Is(err, apperror.KindNotFound) {
		t.Errorf("expected NotFound outside the listing, got %v", err)
	}
}

func TestRemove(t *testing.T) {
	s, _ := newTestStore()
	s.SetValidator(func([]byte) error { return nil })
	ctx := context.Background()
	loc, _, _ := s.Place(ctx, "Alpha", "RM", [][]byte{[]byte("a"), []byte("b")})
	if err := s.Remove(ctx, loc); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	list, _ := s.List(ctx, loc)
	if len(list) != 0 {
		t.Errorf("expected no instances after Remove, got %d", len(list))
	}
}

func TestList_IgnoresForeignObjects(t *testing.T) {
	s, mem := newTestStore()
	ctx := context.Background()
	mem.Put(ctx, "Alpha/L1/instance_0001.dcm", strings.NewReader("b"), "")
	mem.Put(ctx, "Alpha/L1/instance_0000.dcm", strings.NewReader("a"), "")
	mem.Put(ctx, "Alpha/L1/thumbnail.png", strings.NewReader("p"), "")
	mem.Put(ctx, "Alpha/L10/instance_0000.dcm", strings.NewReader("other study"), "")

	list, err := s.List(ctx, LocationFor("Alpha", "L1"))
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 instances, got %+v", list)
	}
}

func TestValidateDICOM(t *testing.T) {
	if err := ValidateDICOM(instancetest.Part10("MR", "BRAIN", "1.2.3.4")); err != nil {
		t.Errorf("expected fixture to validate, got %v", err)
	}
	if err := ValidateDICOM(instancetest.Malformed()); !errors.Is(err, ErrNotPart10) {
		t.Errorf("expected ErrNotPart10, got %v", err)
	}
	if HasPart10Header(make([]byte, 100)) {
		t.Error("short blob must not have a Part 10 header")
	}
}

func TestReadMetadata(t *testing.T) {
	md, err := ReadMetadata(instancetest.Part10("CT", "CHEST WITH CONTRAST", "1.2.3.9"))
	if err != nil {
		t.Fatalf("ReadMetadata: %v", err)
	}
	if md.Modality != "CT" {
		t.Errorf("expected modality CT, got %q", md.Modality)
	}
	if md.StudyDescription != "CHEST WITH CONTRAST" {
		t.Errorf("unexpected study description %q", md.StudyDescription)
	}
	if md.BodyPartExamined != "CHEST" {
		t.Errorf("unexpected body part %q", md.BodyPartExamined)
	}
	if md.SOPInstanceUID != "1.2.3.9" {
		t.Errorf("unexpected SOP instance UID %q", md.SOPInstanceUID)
	}
}
