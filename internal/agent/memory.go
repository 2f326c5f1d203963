package agent

import (
	"context"
	"slices"
	"strings"
	"sync"
	"unicode"
)

// LocalMemoryIndex is an in-process MemoryIndex ranking records by word overlap.
// Each learner keeps at most perLearner records; the oldest are dropped first.
type LocalMemoryIndex struct {
	mu         sync.RWMutex
	perLearner int
	records    map[string][]indexedRecord
}

type indexedRecord struct {
	MemoryRecord
	words map[string]struct{}
}

// NewLocalMemoryIndex returns an empty index. perLearner <= 0 means 200.
func NewLocalMemoryIndex(perLearner int) *LocalMemoryIndex {
	if perLearner <= 0 {
		perLearner = 200
	}
	return &LocalMemoryIndex{perLearner: perLearner, records: make(map[string][]indexedRecord)}
}

// Remember implements MemoryIndex.
func (x *LocalMemoryIndex) Remember(ctx context.Context, rec MemoryRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	list := append(x.records[rec.LearnerID], indexedRecord{MemoryRecord: rec, words: wordSet(rec.Text)})
	if over := len(list) - x.perLearner; over > 0 {
		list = slices.Delete(list, 0, over)
	}
	x.records[rec.LearnerID] = list
	return nil
}

// Search implements MemoryIndex. Records sharing no words with query are skipped;
// equal overlap favours the newer record.
func (x *LocalMemoryIndex) Search(ctx context.Context, learnerID, query string, limit int) ([]MemoryRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q := wordSet(query)
	if len(q) == 0 || limit <= 0 {
		return nil, nil
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	type hit struct {
		rec     MemoryRecord
		overlap int
		order   int
	}
	var hits []hit
	for i, r := range x.records[learnerID] {
		n := 0
		for w := range q {
			if _, ok := r.words[w]; ok {
				n++
			}
		}
		if n > 0 {
			hits = append(hits, hit{rec: r.MemoryRecord, overlap: n, order: i})
		}
	}
	slices.SortFunc(hits, func(a, b hit) int {
		if a.overlap != b.overlap {
			return b.overlap - a.overlap
		}
		return b.order - a.order
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]MemoryRecord, len(hits))
	for i, h := range hits {
		out[i] = h.rec
	}
	return out, nil
}

func wordSet(s string) map[string]struct{} {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		if len(w) > 2 {
			set[w] = struct{}{}
		}
	}
	return set
}
