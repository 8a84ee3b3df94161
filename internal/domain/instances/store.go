// Package instances places uploaded image instances under a study's storage
// location and reads them back by position.
package instances

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/winnersdraw91/pacs-v2/internal/platform/apperror"
	"github.com/winnersdraw91/pacs-v2/internal/platform/blobstore"
	"github.com/winnersdraw91/pacs-v2/internal/platform/telemetry"
)

const contentType = "application/dicom"

var instanceName = regexp.MustCompile(`^instance_(\d{4,})\.dcm$`)

// Location is the storage root of one study: "<centre name>/<study code>".
type Location string

// LocationFor derives a study's location from its centre name and code.
func LocationFor(tenant, code string) Location {
	return Location(tenant + "/" + code)
}

func (l Location) prefix() string { return string(l) + "/" }

// Key returns the object key of the instance at index.
func (l Location) Key(index int) string {
	return fmt.Sprintf("%s/instance_%04d.dcm", l, index)
}

// Instance is one stored image.
type Instance struct {
	Index int    `json:"index"`
	Key   string `json:"key"`
	Size  int64  `json:"size_bytes"`
}

// Validator decides whether an uploaded blob is an acceptable instance.
type Validator func(blob []byte) error

type Store struct {
	blobs    blobstore.Store
	validate Validator
	metrics  *telemetry.Metrics
	logger   zerolog.Logger
}

// NewStore validates blobs with ValidateDICOM unless SetValidator is used.
func NewStore(blobs blobstore.Store, logger zerolog.Logger) *Store {
	return &Store{blobs: blobs, validate: ValidateDICOM, logger: logger}
}

func (s *Store) SetValidator(v Validator) { s.validate = v }

func (s *Store) SetMetrics(m *telemetry.Metrics) { s.metrics = m }

func validSegment(seg string) bool {
	return seg != "" && seg != "." && seg != ".." && !strings.ContainsAny(seg, `/\`)
}

// Place writes the acceptable blobs under tenant/code as instance_0000.dcm,
// instance_0001.dcm and so on, in upload order. Rejected blobs are skipped
// without consuming a position. It returns the location and the number of
// instances written.
func (s *Store) Place(ctx context.Context, tenant, code string, blobs [][]byte) (Location, int, error) {
	const op = "instances.place"
	if !validSegment(tenant) || !validSegment(code) {
		return "", 0, apperror.Validation(op, "tenant %q and code %q must be single path segments", tenant, code)
	}
	loc := LocationFor(tenant, code)

	placed := 0
	for i, blob := range blobs {
		if err := s.validate(blob); err != nil {
			s.logger.Warn().Err(err).
				Str("location", string(loc)).
				Int("upload_index", i).
				Msg("skipping blob that is not a valid instance")
			continue
		}
		if _, err := s.blobs.Put(ctx, loc.Key(placed), bytes.NewReader(blob), contentType); err != nil {
			s.cleanup(ctx, loc, placed)
			if errors.Is(err, blobstore.ErrExists) {
				return "", 0, apperror.Conflict(op, "location %s already holds instances", loc)
			}
			return "", 0, apperror.Internal(op, err)
		}
		placed++
	}

	s.metrics.InstancesPlaced(placed, len(blobs)-placed)
	return loc, placed, nil
}

func (s *Store) cleanup(ctx context.Context, loc Location, n int) {
	for i := 0; i < n; i++ {
		if err := s.blobs.Delete(ctx, loc.Key(i)); err != nil {
			s.logger.Error().Err(err).Str("key", loc.Key(i)).Msg("failed to remove partially placed instance")
		}
	}
}

// Remove deletes every instance under loc.
func (s *Store) Remove(ctx context.Context, loc Location) error {
	list, err := s.List(ctx, loc)
	if err != nil {
		return err
	}
	for _, inst := range list {
		if err := s.blobs.Delete(ctx, inst.Key); err != nil && !errors.Is(err, blobstore.ErrNotFound) {
			return apperror.Internal("instances.remove", err)
		}
	}
	return nil
}

// List returns the instances under loc ordered by position. Objects that do
// not follow the instance naming scheme are ignored.
func (s *Store) List(ctx context.Context, loc Location) ([]Instance, error) {
	infos, err := s.blobs.List(ctx, loc.prefix())
	if err != nil {
		return nil, apperror.Internal("instances.list", err)
	}
	out := make([]Instance, 0, len(infos))
	for _, info := range infos {
		name := strings.TrimPrefix(info.Key, loc.prefix())
		m := instanceName.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		out = append(out, Instance{Index: idx, Key: info.Key, Size: info.Size})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

// Fetch reads the instance at position index. A position outside the listed
// instances is NotFound; a listed instance whose object has disappeared is an
// integrity error.
func (s *Store) Fetch(ctx context.Context, loc Location, index int) ([]byte, error) {
	list, err := s.List(ctx, loc)
	if err != nil {
		return nil, err
	}
	return s.FetchListed(ctx, loc, list, index)
}

// FetchListed is Fetch over a listing the caller already holds.
func (s *Store) FetchListed(ctx context.Context, loc Location, list []Instance, index int) ([]byte, error) {
	const op = "instances.fetch"
	key := ""
	for _, inst := range list {
		if inst.Index == index {
			key = inst.Key
			break
		}
	}
	if key == "" {
		return nil, apperror.NotFound(op, "instance %d of %s", index, loc)
	}
	data, err := blobstore.ReadAll(ctx, s.blobs, key)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			s.logger.Error().Err(err).Str("key", key).Msg("listed instance has no backing object")
			return nil, apperror.Integrity(op, err, "instance %d of %s is missing", index, loc)
		}
		return nil, apperror.Internal(op, err)
	}
	return data, nil
}
