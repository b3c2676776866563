package rotation_test

import (
	"fmt"
	"reflect"
	"testing"

	"devmatch/internal/domain"
	"devmatch/internal/rotation"
)

func ids(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s-%02d", prefix, i+1)
	}
	return out
}

func TestRotateStartsAfterCursor(t *testing.T) {
	pool := []string{"d3", "d1", "d5", "d2", "d4"}
	cases := []struct {
		cursor string
		want   []string
	}{
		{"", []string{"d1", "d2", "d3", "d4", "d5"}},
		{"d2", []string{"d3", "d4", "d5", "d1", "d2"}},
		{"d5", []string{"d1", "d2", "d3", "d4", "d5"}},
		// cursor names a developer no longer in the pool
		{"d25", []string{"d3", "d4", "d5", "d1", "d2"}},
		{"zz", []string{"d1", "d2", "d3", "d4", "d5"}},
	}
	for _, tc := range cases {
		got := rotation.Rotate(pool, tc.cursor)
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("cursor %q: got %v want %v", tc.cursor, got, tc.want)
		}
	}
	if !reflect.DeepEqual(pool, []string{"d3", "d1", "d5", "d2", "d4"}) {
		t.Fatalf("input slice mutated: %v", pool)
	}
}

func TestSelectExactCountsPerLevel(t *testing.T) {
	in := rotation.Input{
		Counts: domain.LevelCounts{Expert: 3, Mid: 5, Fresher: 5},
		Pools: map[domain.Level][]rotation.Pool{
			domain.LevelExpert:  {{SkillID: "js", Level: domain.LevelExpert, DeveloperIDs: ids("e", 7)}},
			domain.LevelMid:     {{SkillID: "js", Level: domain.LevelMid, DeveloperIDs: ids("m", 9)}},
			domain.LevelFresher: {{SkillID: "js", Level: domain.LevelFresher, DeveloperIDs: ids("f", 12)}},
		},
	}
	res := rotation.Select(in)
	if len(res.Picks) != 13 {
		t.Fatalf("expected 13 picks, got %d", len(res.Picks))
	}
	if got := res.Counts(); got != in.Counts {
		t.Fatalf("unexpected counts %+v", got)
	}
	for _, p := range res.Picks {
		if p.Level != p.SourceLevel {
			t.Fatalf("unexpected promotion %+v", p)
		}
	}
	if res.Shortfall.Total() != 0 {
		t.Fatalf("unexpected shortfall %+v", res.Shortfall)
	}
	want := map[domain.Level]string{
		domain.LevelExpert:  "e-03",
		domain.LevelMid:     "m-05",
		domain.LevelFresher: "f-05",
	}
	for _, a := range res.Advances {
		if want[a.Level] != a.DeveloperID {
			t.Fatalf("cursor %s/%s advanced to %s, want %s", a.SkillID, a.Level, a.DeveloperID, want[a.Level])
		}
	}
}

func TestSelectPromotesFromLowerLevel(t *testing.T) {
	res := rotation.Select(rotation.Input{
		Counts: domain.LevelCounts{Expert: 3, Mid: 2, Fresher: 1},
		Pools: map[domain.Level][]rotation.Pool{
			domain.LevelExpert:  {{SkillID: "go", DeveloperIDs: ids("e", 1)}},
			domain.LevelMid:     {{SkillID: "go", DeveloperIDs: ids("m", 5)}},
			domain.LevelFresher: {{SkillID: "go", DeveloperIDs: ids("f", 2)}},
		},
	})
	if len(res.Picks) != 6 {
		t.Fatalf("expected 6 picks, got %d", len(res.Picks))
	}
	var bySource domain.LevelCounts
	promoted := 0
	for _, p := range res.Picks {
		bySource.Add(p.SourceLevel, 1)
		if p.Level == domain.LevelExpert && p.SourceLevel == domain.LevelMid {
			promoted++
		}
	}
	if promoted != 2 {
		t.Fatalf("expected 2 mids promoted to expert, got %d", promoted)
	}
	if bySource.Mid != 4 || bySource.Expert != 1 || bySource.Fresher != 1 {
		t.Fatalf("unexpected source distribution %+v", bySource)
	}
	if got := res.Counts(); got != (domain.LevelCounts{Expert: 3, Mid: 2, Fresher: 1}) {
		t.Fatalf("slot counts %+v", got)
	}
}

func TestSelectFillsFresherFromHigherLeftovers(t *testing.T) {
	res := rotation.Select(rotation.Input{
		Counts: domain.LevelCounts{Expert: 1, Mid: 1, Fresher: 2},
		Pools: map[domain.Level][]rotation.Pool{
			domain.LevelExpert: {{SkillID: "go", DeveloperIDs: ids("e", 4)}},
		},
	})
	if len(res.Picks) != 4 {
		t.Fatalf("expected 4 picks, got %d", len(res.Picks))
	}
	if res.Shortfall.Total() != 0 {
		t.Fatalf("unexpected shortfall %+v", res.Shortfall)
	}
}

func TestSelectReportsShortfallWhenPoolTooSmall(t *testing.T) {
	res := rotation.Select(rotation.Input{
		Counts: domain.LevelCounts{Expert: 2, Mid: 2, Fresher: 2},
		Pools: map[domain.Level][]rotation.Pool{
			domain.LevelMid: {{SkillID: "go", DeveloperIDs: ids("m", 3)}},
		},
	})
	if len(res.Picks) != 3 {
		t.Fatalf("expected 3 picks, got %d", len(res.Picks))
	}
	if res.Shortfall.Total() != 3 {
		t.Fatalf("expected shortfall 3, got %+v", res.Shortfall)
	}
}

func TestSelectEmptyPoolSelectsNothing(t *testing.T) {
	res := rotation.Select(rotation.Input{Counts: domain.LevelCounts{Expert: 1, Mid: 1, Fresher: 1}})
	if len(res.Picks) != 0 || len(res.Advances) != 0 {
		t.Fatalf("expected empty result, got %+v", res)
	}
}

func TestSelectFallsThroughSkills(t *testing.T) {
	res := rotation.Select(rotation.Input{
		Counts: domain.LevelCounts{Mid: 3},
		Pools: map[domain.Level][]rotation.Pool{
			domain.LevelMid: {
				{SkillID: "rust", DeveloperIDs: nil},
				{SkillID: "go", DeveloperIDs: []string{"m-01", "m-02"}},
				// m-02 also knows python; it must not be offered twice
				{SkillID: "python", DeveloperIDs: []string{"m-02", "m-03"}},
			},
		},
	})
	got := []string{}
	for _, p := range res.Picks {
		got = append(got, p.SkillID+":"+p.DeveloperID)
	}
	want := []string{"go:m-01", "go:m-02", "python:m-03"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
	if len(res.Advances) != 2 {
		t.Fatalf("expected two cursor advances, got %+v", res.Advances)
	}
}

func TestCursorStrictlyAdvancesAcrossGenerations(t *testing.T) {
	pool := ids("e", 5)
	cursor := ""
	seen := []string{}
	for i := 0; i < 3; i++ {
		res := rotation.Select(rotation.Input{
			Counts: domain.LevelCounts{Expert: 2},
			Pools: map[domain.Level][]rotation.Pool{
				domain.LevelExpert: {{SkillID: "js", DeveloperIDs: pool, Cursor: cursor}},
			},
		})
		if len(res.Advances) != 1 {
			t.Fatalf("round %d: expected one advance", i)
		}
		next := res.Advances[0].DeveloperID
		if next == cursor {
			t.Fatalf("round %d: cursor did not move from %s", i, cursor)
		}
		cursor = next
		for _, p := range res.Picks {
			seen = append(seen, p.DeveloperID)
		}
	}
	want := []string{"e-01", "e-02", "e-03", "e-04", "e-05", "e-01"}
	if !reflect.DeepEqual(seen, want) {
		t.Fatalf("round-robin order %v, want %v", seen, want)
	}
}

func TestDeferredDevelopersGoLast(t *testing.T) {
	pool := ids("f", 4)
	res := rotation.Select(rotation.Input{
		Counts:   domain.LevelCounts{Fresher: 2},
		Pools:    map[domain.Level][]rotation.Pool{domain.LevelFresher: {{SkillID: "js", DeveloperIDs: pool}}},
		Deferred: map[string]bool{"f-01": true, "f-02": true},
	})
	if res.Picks[0].DeveloperID != "f-03" || res.Picks[1].DeveloperID != "f-04" {
		t.Fatalf("deferred developers offered first: %+v", res.Picks)
	}

	small := rotation.Select(rotation.Input{
		Counts:   domain.LevelCounts{Fresher: 3},
		Pools:    map[domain.Level][]rotation.Pool{domain.LevelFresher: {{SkillID: "js", DeveloperIDs: ids("f", 3)}}},
		Deferred: map[string]bool{"f-01": true},
	})
	if len(small.Picks) != 3 || small.Picks[2].DeveloperID != "f-01" {
		t.Fatalf("deferred developer should fill the last slot: %+v", small.Picks)
	}
}

func TestDeferredDevelopersYieldToPromotion(t *testing.T) {
	experts := ids("e", 3)
	deferred := map[string]bool{}
	for _, id := range experts {
		deferred[id] = true
	}
	res := rotation.Select(rotation.Input{
		Counts: domain.LevelCounts{Expert: 3},
		Pools: map[domain.Level][]rotation.Pool{
			domain.LevelExpert: {{SkillID: "js", DeveloperIDs: experts}},
			domain.LevelMid:    {{SkillID: "js", DeveloperIDs: ids("m", 10)}},
		},
		Deferred: deferred,
	})
	if len(res.Picks) != 3 || res.Shortfall.Total() != 0 {
		t.Fatalf("expected a full batch, got %+v", res)
	}
	for i, p := range res.Picks {
		want := fmt.Sprintf("m-%02d", i+1)
		if p.DeveloperID != want || p.Level != domain.LevelExpert || p.SourceLevel != domain.LevelMid {
			t.Fatalf("pick %d: expected promoted %s, got %+v", i, want, p)
		}
	}

	// With only one mid available the remaining expert slots go back to the
	// deferred experts.
	mixed := rotation.Select(rotation.Input{
		Counts: domain.LevelCounts{Expert: 3},
		Pools: map[domain.Level][]rotation.Pool{
			domain.LevelExpert: {{SkillID: "js", DeveloperIDs: experts}},
			domain.LevelMid:    {{SkillID: "js", DeveloperIDs: []string{"m-01"}}},
		},
		Deferred: deferred,
	})
	got := make([]string, 0, len(mixed.Picks))
	for _, p := range mixed.Picks {
		got = append(got, p.DeveloperID)
	}
	if !reflect.DeepEqual(got, []string{"m-01", "e-01", "e-02"}) {
		t.Fatalf("unexpected fallback order %v", got)
	}
}
