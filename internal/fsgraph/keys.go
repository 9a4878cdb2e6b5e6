package fsgraph

import (
	"context"
	"fmt"
	"iter"
	"path"
	"strings"

	"github.com/dmitrymomot/filevault/pkg/id"
	"github.com/dmitrymomot/filevault/pkg/sanitizer"
)

const (
	maxNumberedSuffix = 99
	maxRandomSuffix   = 3
)

// KeyPrefix is the blob key namespace of a tenant.
func KeyPrefix(ownerID string) string {
	return "user_" + ownerID + "/"
}

// CandidateKey returns the n-th key candidate for filename: the plain
// name first, then name_1.ext through name_99.ext, then random suffixes.
func CandidateKey(ownerID, filename string, n int) string {
	segment := sanitizer.KeySegment(filename)
	if n == 0 {
		return KeyPrefix(ownerID) + segment
	}

	ext := path.Ext(segment)
	stem := strings.TrimSuffix(segment, ext)
	if stem == "" {
		stem, ext = segment, ""
	}
	suffix := id.NewShortID()
	if n <= maxNumberedSuffix {
		suffix = fmt.Sprint(n)
	}
	return fmt.Sprintf("%s%s_%s%s", KeyPrefix(ownerID), stem, suffix, ext)
}

// BlobKeys yields candidate keys not yet recorded in the database nor, when
// a checker is configured, present in the blob store. The caller still
// writes conditionally: a candidate may be claimed concurrently, in which
// case it moves on to the next one.
func (s *Service) BlobKeys(ctx context.Context, ownerID, filename string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for n := 0; n <= maxNumberedSuffix+maxRandomSuffix; n++ {
			key := CandidateKey(ownerID, filename, n)
			taken, err := s.keyTaken(ctx, key)
			if err != nil {
				yield("", err)
				return
			}
			if taken {
				continue
			}
			if !yield(key, nil) {
				return
			}
		}
		yield("", fmt.Errorf("no free blob key for %q", filename))
	}
}

// BlobKey returns the first free candidate key.
func (s *Service) BlobKey(ctx context.Context, ownerID, filename string) (string, error) {
	for key, err := range s.BlobKeys(ctx, ownerID, filename) {
		return key, err
	}
	return "", nil
}

func (s *Service) keyTaken(ctx context.Context, key string) (bool, error) {
	taken, err := s.store.BlobKeyTaken(ctx, key)
	if err != nil || taken {
		return taken, err
	}
	if s.blobs == nil {
		return false, nil
	}
	return s.blobs.Exists(ctx, key)
}
