package detector

import (
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Suite bundles the five heuristic detectors over one repository.
type Suite struct {
	Ghost       *GhostDetector
	Split       *SplitDetector
	Duplicate   *DuplicateDetector
	RoundNumber *RoundNumberDetector
	Vendor      *VendorDetector
}

// NewSuite wires every detector to the same record source and store.
func NewSuite(records domain.RecordRepository, store Store, cfg domain.DetectionConfig) *Suite {
	return &Suite{
		Ghost:       NewGhostDetector(records, store, cfg),
		Split:       NewSplitDetector(records, store, cfg),
		Duplicate:   NewDuplicateDetector(records, store, cfg),
		RoundNumber: NewRoundNumberDetector(records, store, cfg),
		Vendor:      NewVendorDetector(records, store, cfg),
	}
}

// All returns the detectors in reporting order.
func (s *Suite) All() []Detector {
	return []Detector{s.Ghost, s.Split, s.Duplicate, s.RoundNumber, s.Vendor}
}

// SetClock overrides the time source of every detector.
func (s *Suite) SetClock(now func() time.Time) {
	s.Ghost.setClock(now)
	s.Split.setClock(now)
	s.Duplicate.setClock(now)
	s.RoundNumber.setClock(now)
	s.Vendor.setClock(now)
}
