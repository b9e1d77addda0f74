package recognition

import (
	"math"

	"github.com/camden-git/kioskbackend/models"
)

var inf = math.Inf(1)

// Candidate is a gallery subject paired with its distance to the probe.
type Candidate struct {
	Subject  *models.Subject
	Distance float64
}

// Match finds the gallery subject nearest to the probe under Euclidean
// distance. It returns nil when the gallery is empty, when no candidate
// has a recorded embedding, or when the minimum distance is not
// strictly below threshold.
//
// When several candidates tie at the minimum distance the one with the
// lowest subject ID wins. The rule is deliberate: selection must not
// depend on iteration order.
//
// Match never mutates the gallery.
func Match(probe []float32, gallery []models.Subject, threshold float64) *Candidate {
	var best *Candidate
	for i := range gallery {
		subject := &gallery[i]
		if !subject.HasEmbedding() {
			continue
		}
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
