package definitions

import (
	"context"
	"fmt"

	"github.com/irjudson/lumina/internal/analysis/duplicates"
	"github.com/irjudson/lumina/internal/analysis/hashing"
	"github.com/irjudson/lumina/internal/catalog"
	"github.com/irjudson/lumina/internal/database"
	"github.com/irjudson/lumina/internal/jobs"
	"github.com/irjudson/lumina/internal/media"
)

// detectDuplicatesDefinition hashes images that lack perceptual hashes,
// then regroups the whole catalog in the finalizer: exact groups by
// checksum, perceptual groups by Hamming distance on the chosen hash.
// Stored groups are replaced wholesale, so reruns converge on the same
// result.
//
// Parameters: similarity_threshold (default 5) is the max Hamming
// distance; hash_kind (dhash, ahash, whash; default dhash) picks the
// hash compared; recompute_hashes (default false) rehashes every image
// instead of only the unhashed ones.
func detectDuplicatesDefinition(deps Deps) jobs.Definition {
	return jobs.Definition{
		Name: JobDetectDuplicates,
		Discover: func(ctx context.Context, rc *jobs.RunContext) ([]string, error) {
			if _, err := groupingKind(rc.Params); err != nil {
				return nil, err
			}
			if !rc.Params.Bool("recompute_hashes", false) {
				return deps.Store.ListImagesWithoutHashes(rc.CatalogID)
			}
			rows, err := deps.Store.ListImages(rc.CatalogID, "", 0, 0)
			if err != nil {
				return nil, err
			}
			var ids []string
			for _, row := range rows {
				if row.FileType == database.FileTypeImage {
					ids = append(ids, row.ID)
				}
			}
			return ids, nil
		},
		Process: func(ctx context.Context, rc *jobs.RunContext, item string) (map[string]interface{}, error) {
			return nil, hashImage(deps, rc.CatalogID, item)
		},
		Finalize: func(ctx context.Context, rc *jobs.RunContext, results []map[string]interface{}) (map[string]interface{}, error) {
			return regroupDuplicates(deps, rc)
		},
	}
}

func groupingKind(params jobs.Params) (hashing.Kind, error) {
	return hashing.ParseKind(params.String("hash_kind", string(hashing.KindDHash)))
}

func hashImage(deps Deps, catalogID, imageID string) error {
	path, err := deps.Store.GetImagePath(catalogID, imageID)
	if err != nil {
		return err
	}
	img, err := media.DecodeImage(path)
	if err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	h, err := hashing.ComputeAll(img)
	if err != nil {
		return fmt.Errorf("hash %s: %w", path, err)
	}
	return deps.Store.UpdateImageHashes(imageID, h.DHash, h.AHash, h.WHash)
}

func regroupDuplicates(deps Deps, rc *jobs.RunContext) (map[string]interface{}, error) {
	kind, err := groupingKind(rc.Params)
	if err != nil {
		return nil, err
	}
	threshold := rc.Params.Int("similarity_threshold", duplicates.DefaultThreshold)

	images, err := deps.Store.ListImagesWithHashes(rc.CatalogID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]duplicates.Image, len(images))
	for _, img := range images {
		byID[img.ID] = img
	}

	exact := duplicates.GroupByChecksum(images)
	perceptual, err := duplicates.GroupBySimilarity(images, kind, threshold)
	if err != nil {
		return nil, err
	}

	var records []catalog.DuplicateGroupRecord
	flagged := map[string]bool{}
	for _, g := range append(exact, perceptual...) {
		rec, err := resolveGroup(g, byID, kind)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
		for _, id := range g.ImageIDs {
			flagged[id] = true
		}
	}

	if err := deps.Store.ReplaceDuplicateGroups(rc.CatalogID, records); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"exact_groups":      len(exact),
		"perceptual_groups": len(perceptual),
		"duplicate_images":  len(flagged),
	}, nil
}

// resolveGroup turns a grouping result into a persistable record:
// picks the primary and scores every member against it.
func resolveGroup(g duplicates.Group, byID map[string]duplicates.Image, kind hashing.Kind) (catalog.DuplicateGroupRecord, error) {
	members := make([]duplicates.Image, 0, len(g.ImageIDs))
	for _, id := range g.ImageIDs {
		img, ok := byID[id]
		if !ok {
			return catalog.DuplicateGroupRecord{}, fmt.Errorf("grouped image %s missing from projection", id)
		}
		members = append(members, img)
	}

	primaryID, err := duplicates.SelectPrimary(members)
	if err != nil {
		return catalog.DuplicateGroupRecord{}, err
	}
	primary := byID[primaryID]

	rec := catalog.DuplicateGroupRecord{
		PrimaryImageID: primaryID,
		SimilarityType: g.SimilarityType,
		Confidence:     g.Confidence,
	}
	for _, m := range members {
		rec.Members = append(rec.Members, catalog.DuplicateMemberRecord{
			ImageID:         m.ID,
			SimilarityScore: duplicates.MemberScore(m, primary, g.SimilarityType, kind),
		})
	}
	return rec, nil
}
