// Package duplicates groups images by checksum and perceptual hash
// similarity. The functions here are pure grouping logic; persistence
// belongs to the catalog store.
package duplicates

import (
	"fmt"
	"sort"

	"github.com/irjudson/lumina/internal/analysis/hashing"
)

// Similarity types recorded on a duplicate group
const (
	TypeExact      = "exact"
	TypePerceptual = "perceptual"
)

// DefaultThreshold is the maximum Hamming distance treated as similar
const DefaultThreshold = 5

// Image is the slim projection grouping operates on
type Image struct {
	ID           string
	Checksum     string
	DHash        string
	AHash        string
	WHash        string
	SizeBytes    int64
	QualityScore *float64
}

func (img Image) hash(kind hashing.Kind) string {
	switch kind {
	case hashing.KindAHash:
		return img.AHash
	case hashing.KindWHash:
		return img.WHash
	default:
		return img.DHash
	}
}

// Group is a set of images considered duplicates of each other
type Group struct {
	ImageIDs       []string
	SimilarityType string
	Confidence     int
}

// GroupByChecksum groups images whose checksums match exactly.
// Groups are emitted in first-seen checksum order with confidence 100.
func GroupByChecksum(images []Image) []Group {
	byChecksum := make(map[string][]string)
	var order []string

	for _, img := range images {
		if img.Checksum == "" {
			continue
		}
		if _, seen := byChecksum[img.Checksum]; !seen {
			order = append(order, img.Checksum)
		}
		byChecksum[img.Checksum] = append(byChecksum[img.Checksum], img.ID)
	}

	var groups []Group
	for _, checksum := range order {
		ids := byChecksum[checksum]
		if len(ids) < 2 {
			continue
		}
		groups = append(groups, Group{
			ImageIDs:       ids,
			SimilarityType: TypeExact,
			Confidence:     100,
		})
	}
	return groups
}

// GroupBySimilarity groups images whose perceptual hashes are within
// threshold Hamming distance of each other, using union-find so that
// chains of similar images collapse into one group. Images without the
// requested hash are skipped. Group confidence derives from the average
// pairwise distance inside the group.
func GroupBySimilarity(images []Image, kind hashing.Kind, threshold int) ([]Group, error) {
	hashes := make(map[string]string)
	var ids []string
	for _, img := range images {
		h := img.hash(kind)
		if h == "" {
			continue
		}
		hashes[img.ID] = h
		ids = append(ids, img.ID)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	uf := newUnionFind(ids)
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			d, err := hashing.HammingDistance(hashes[ids[i]], hashes[ids[j]])
			if err != nil {
				return nil, fmt.Errorf("comparing %s and %s: %w", ids[i], ids[j], err)
			}
			if d <= threshold {
				uf.union(ids[i], ids[j])
			}
		}
	}

	members := make(map[string][]string)
	for _, id := range ids {
		root := uf.find(id)
		members[root] = append(members[root], id)
	}

	var roots []string
	for root, ms := range members {
		if len(ms) > 1 {
			roots = append(roots, root)
		}
	}
	sort.Strings(roots)

	var groups []Group
	for _, root := range roots {
		ms := members[root]
		sort.Strings(ms)

		totalDist := 0
		comparisons := 0
		for i := 0; i < len(ms); i++ {
			for j := i + 1; j < len(ms); j++ {
				d, err := hashing.HammingDistance(hashes[ms[i]], hashes[ms[j]])
				if err != nil {
					return nil, err
				}
				totalDist += d
				comparisons++
			}
		}
		avgDist := 0.0
		if comparisons > 0 {
			avgDist = float64(totalDist) / float64(comparisons)
		}
		confidence := int(100 * (1 - avgDist/float64(hashing.HashBits)))
		if confidence < 0 {
			confidence = 0
		}
		if confidence > 100 {
			confidence = 100
		}

		groups = append(groups, Group{
			ImageIDs:       ms,
			SimilarityType: TypePerceptual,
			Confidence:     confidence,
		})
	}
	return groups, nil
}

// SelectPrimary picks the representative image of a group: highest
// quality score, then largest file, then greatest ID.
func SelectPrimary(images []Image) (string, error) {
	if len(images) == 0 {
		return "", fmt.Errorf("cannot select primary from empty group")
	}

	best := images[0]
	for _, img := range images[1:] {
		if primaryLess(best, img) {
			best = img
		}
	}
	return best.ID, nil
}

// MemberScore computes the 0..100 similarity of a member to the group
// primary. Exact groups and the primary itself score 100.
func MemberScore(member, primary Image, similarityType string, kind hashing.Kind) int {
	if similarityType == TypeExact || member.ID == primary.ID {
		return 100
	}
	mh, ph := member.hash(kind), primary.hash(kind)
	if mh == "" || ph == "" {
		return 0
	}
	score, err := hashing.SimilarityScore(mh, ph)
	if err != nil {
		return 0
	}
	return score
}

func primaryLess(a, b Image) bool {
	qa, qb := 0.0, 0.0
	if a.QualityScore != nil {
		qa = *a.QualityScore
	}
	if b.QualityScore != nil {
		qb = *b.QualityScore
	}
	if qa != qb {
		return qa < qb
	}
	if a.SizeBytes != b.SizeBytes {
		return a.SizeBytes < b.SizeBytes
	}
	return a.ID < b.ID
}

type unionFind struct {
	parent map[string]string
}

func newUnionFind(ids []string) *unionFind {
	parent := make(map[string]string, len(ids))
	for _, id := range ids {
		parent[id] = id
	}
	return &unionFind{parent: parent}
}

func (u *unionFind) find(x string) string {
	if u.parent[x] != x {
		u.parent[x] = u.find(u.parent[x])
	}
	return u.parent[x]
}

func (u *unionFind) union(x, y string) {
	px, py := u.find(x), u.find(y)
	if px != py {
		u.parent[px] = py
	}
}
