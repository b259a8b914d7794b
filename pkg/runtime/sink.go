package runtime

import (
	"sync"

	"github.com/marmos91/flashwear/pkg/journal"
	"github.com/marmos91/flashwear/pkg/metrics"
	"github.com/marmos91/flashwear/pkg/wearlevel"
)

// journalSink forwards bad-block records to the journal. The mutex keeps
// appends out of the window between a snapshot save and the journal reset
// that follows it.
type journalSink struct {
	mu      sync.Mutex
	journal journal.Journal
	metrics metrics.StoreMetrics
	entries int
}

func (s *journalSink) AppendBadBlock(rec wearlevel.BadBlockRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.journal.AppendBadBlock(rec)
	metrics.RecordJournalAppend(s.metrics, err)
	if err == nil && s.journal.IsEnabled() {
		s.entries++
		metrics.SetJournalEntries(s.metrics, s.entries)
	}
	return err
}

// truncate drops journal records already covered by snap. Records appended
// after snap was taken are written back. It returns the number kept.
func (s *journalSink) truncate(snap *wearlevel.Snapshot) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.journal.IsEnabled() {
		return 0, nil
	}

	recs, err := s.journal.Recover()
	if err != nil {
		return 0, err
	}

	covered := make(map[uint32]struct{}, len(snap.BadBlocks))
	for _, r := range snap.BadBlocks {
		covered[r.BlockID] = struct{}{}
	}
	var pending []wearlevel.BadBlockRecord
	for _, r := range recs {
		if _, ok := covered[r.BlockID]; !ok {
			pending = append(pending, r)
		}
	}

	if err := s.journal.Reset(); err != nil {
		return 0, err
	}
	s.entries = 0
	for _, r := range pending {
		if err := s.journal.AppendBadBlock(r); err != nil {
			return s.entries, err
		}
		s.entries++
	}
	metrics.SetJournalEntries(s.metrics, s.entries)
	return s.entries, nil
}
