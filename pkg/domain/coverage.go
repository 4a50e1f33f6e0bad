package domain

import "time"

// CoverageSnapshot is one point-in-time measure of container coverage.
// Hit entities are the visited containers that were also declared by the application.
type CoverageSnapshot struct {
	Timestamp       time.Time `json:"timestamp"`
	DeclaredCount   int       `json:"declaredCount"`
	VisitedCount    int       `json:"visitedCount"`
	HitCount        int       `json:"hitCount"`
	CoverageRatio   float64   `json:"coverageRatio"`
	HitEntities     []string  `json:"hitEntities"`
	VisitedEntities []string  `json:"visitedEntities"`
}
