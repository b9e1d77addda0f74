package recognition

import (
	"github.com/coder/hnsw"

	"github.com/camden-git/kioskbackend/models"
)

// number of approximate neighbors pulled from the graph before the
// exact threshold and tie-break rules are applied
const hnswSearchK = 8

const hnswMaxNeighbors = 16

// Gallery is a snapshot of one population's enrolled embeddings, built
// fresh per match attempt. Small galleries are scanned linearly; above
// the cutoff an HNSW graph answers the nearest-neighbor query and the
// exact rules are applied to its candidates.
type Gallery struct {
	subjects []models.Subject
	byID     map[uint]*models.Subject
	graph    *hnsw.Graph[uint]
}

// NewGallery builds a gallery index over the given subjects. Subjects
// without a recorded embedding are kept out of the index entirely.
func NewGallery(subjects []models.Subject, hnswCutoff int) *Gallery {
	g := &Gallery{byID: make(map[uint]*models.Subject, len(subjects))}
	for i := range subjects {
		if !subjects[i].HasEmbedding() {
			continue
		}
		g.subjects = append(g.subjects, subjects[i])
	}
	for i := range g.subjects {
		g.byID[g.subjects[i].ID] = &g.subjects[i]
	}

	if hnswCutoff > 0 && len(g.subjects) > hnswCutoff {
		graph := hnsw.NewGraph[uint]()
		graph.M = hnswMaxNeighbors
		graph.Ml = 1.0 / float64(hnswMaxNeighbors) // standard HNSW formula
		graph.Distance = hnsw.EuclideanDistance
		for i := range g.subjects {
			graph.Add(hnsw.MakeNode(g.subjects[i].ID, g.subjects[i].GetEmbedding()))
		}
		g.graph = graph
	}
	return g
}

// Size returns the number of indexed subjects.
func (g *Gallery) Size() int {
	return len(g.subjects)
}

// Match resolves a probe against the gallery under the same contract as
// the package-level Match function.
func (g *Gallery) Match(probe []float32, threshold float64) *Candidate {
	if g.graph == nil {
		return Match(probe, g.subjects, threshold)
	}

	neighbors := g.graph.Search(probe, hnswSearchK)
	var best *Candidate
	for _, n := range neighbors {
		subject, ok := g.byID[n.Key]
		if !ok {
			continue
		}
		// exact distance, not the graph's; the strict-threshold and
		// tie-break rules need the real value
		dist := EuclideanDistance(probe, subject.GetEmbedding())
		if best == nil ||
			dist < best.Distance ||
			(dist == best.Distance && subject.ID < best.Subject.ID) {
			best = &Candidate{Subject: subject, Distance: dist}
		}
	}
	if best == nil || best.Distance >= threshold {
		return nil
	}
	return best
}
