// Package rotation selects developers for a batch. It is pure: callers load
// eligible pools and cursors, and persist the returned picks and cursor
// advances themselves.
package rotation

import (
	"sort"

	"devmatch/internal/domain"
)

// Pool is the eligible developers for one (skill, level) pair together
// with that pair's rotation cursor.
type Pool struct {
	SkillID      string
	Level        domain.Level
	DeveloperIDs []string
	// Cursor is the last developer offered a slot from this pool, "" if none.
	Cursor string
}

type Input struct {
	Counts domain.LevelCounts
	// Pools holds, per level, one pool per required skill in the project's
	// skill order. A skill with no eligible developers may be omitted.
	Pools map[domain.Level][]Pool
	// Deferred developers are only offered once every other eligible
	// developer, promotions included, has been considered.
	Deferred map[string]bool
}

// Pick is one selected developer. Level is the slot filled; SourceLevel is
// the pool the developer was drawn from.
type Pick struct {
	DeveloperID string
	SkillID     string
	Level       domain.Level
	SourceLevel domain.Level
}

// Advance moves the cursor of (SkillID, Level) to DeveloperID.
type Advance struct {
	SkillID     string
	Level       domain.Level
	DeveloperID string
}

type Result struct {
	Picks     []Pick
	Advances  []Advance
	Shortfall domain.LevelCounts
}

// Counts tallies picks by slot level.
func (r Result) Counts() domain.LevelCounts {
	var c domain.LevelCounts
	for _, p := range r.Picks {
		c.Add(p.Level, 1)
	}
	return c
}

type entry struct {
	developerID string
	skillID     string
}

type cursorKey struct {
	skillID string
	level   domain.Level
}

// Rotate orders ids deterministically and returns them starting just after
// cursor, wrapping to the front. The start is found by value, so a cursor
// naming a developer that left the pool still resumes at the next id.
func Rotate(ids []string, cursor string) []string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	if cursor == "" || len(sorted) == 0 {
		return sorted
	}
	start := sort.Search(len(sorted), func(i int) bool { return sorted[i] > cursor })
	if start >= len(sorted) {
		return sorted
	}
	out := make([]string, 0, len(sorted))
	out = append(out, sorted[start:]...)
	return append(out, sorted[:start]...)
}

// queue is one level's rotated candidates with a read position.
type queue struct {
	entries []entry
	next    int
}

type selector struct {
	primary  map[domain.Level]*queue
	deferred map[domain.Level]*queue
	taken    map[string]bool
	picks    []Pick
	advanced map[cursorKey]string
	order    []cursorKey
}

// buildQueues rotates each pool and splits the level's developers into those
// offered first and the deferred ones held back for the final pass.
func buildQueues(pools []Pool, deferred map[string]bool) (primary, later *queue) {
	seen := map[string]bool{}
	primary, later = &queue{}, &queue{}
	for _, p := range pools {
		for _, id := range Rotate(p.DeveloperIDs, p.Cursor) {
			if seen[id] {
				continue
			}
			seen[id] = true
			e := entry{developerID: id, skillID: p.SkillID}
			if deferred[id] {
				later.entries = append(later.entries, e)
				continue
			}
			primary.entries = append(primary.entries, e)
		}
	}
	return primary, later
}

// take draws up to n developers from q (holding source-level developers)
// into slot.
func (s *selector) take(q *queue, source, slot domain.Level, n int) int {
	got := 0
	for got < n && q.next < len(q.entries) {
		e := q.entries[q.next]
		q.next++
		if s.taken[e.developerID] {
			continue
		}
		s.taken[e.developerID] = true
		s.picks = append(s.picks, Pick{
			DeveloperID: e.developerID,
			SkillID:     e.skillID,
			Level:       slot,
			SourceLevel: source,
		})
		key := cursorKey{skillID: e.skillID, level: source}
		if _, ok := s.advanced[key]; !ok {
			s.order = append(s.order, key)
		}
		s.advanced[key] = e.developerID
		got++
	}
	return got
}

// fill covers each level's shortfall from queues, trying the level itself,
// then lower levels (nearest first), then higher levels.
func (s *selector) fill(queues map[domain.Level]*queue, short *domain.LevelCounts) {
	for i, l := range domain.Levels {
		if short.Get(l) > 0 {
			short.Add(l, -s.take(queues[l], l, l, short.Get(l)))
		}
		for j := i + 1; j < len(domain.Levels) && short.Get(l) > 0; j++ {
			src := domain.Levels[j]
			short.Add(l, -s.take(queues[src], src, l, short.Get(l)))
		}
		for j := i - 1; j >= 0 && short.Get(l) > 0; j-- {
			src := domain.Levels[j]
			short.Add(l, -s.take(queues[src], src, l, short.Get(l)))
		}
	}
}

// Select fills each level's requested count from its own queue, then covers
// any shortfall from lower levels (nearest first) and from leftover
// higher-level developers. Deferred developers are only drawn once every
// other eligible developer of every level has been considered, so a batch
// stays full whenever the combined pool allows it.
func Select(in Input) Result {
	s := &selector{
		primary:  map[domain.Level]*queue{},
		deferred: map[domain.Level]*queue{},
		taken:    map[string]bool{},
		advanced: map[cursorKey]string{},
	}
	for _, l := range domain.Levels {
		s.primary[l], s.deferred[l] = buildQueues(in.Pools[l], in.Deferred)
	}

	var short domain.LevelCounts
	for _, l := range domain.Levels {
		want := in.Counts.Get(l)
		if want <= 0 {
			continue
		}
		short.Add(l, want-s.take(s.primary[l], l, l, want))
	}
	s.fill(s.primary, &short)
	s.fill(s.deferred, &short)

	res := Result{Picks: s.picks, Shortfall: short}
	for _, k := range s.order {
		res.Advances = append(res.Advances, Advance{SkillID: k.skillID, Level: k.level, DeveloperID: s.advanced[k]})
	}
	return res
}
