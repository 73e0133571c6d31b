package veritas

import "testing"

func TestMIRResolveSingleValueNoConflict(t *testing.T) {
	m := NewMIR()
	now := NowUnix()
	obs := []Observation{
		{Value: "Morten", Authority: AuthorityLongTerm, Source: SourceChatUser, Timestamp: now},
	}
	res := m.Resolve("identity", "name", obs)

	if res.Winner != "Morten" {
		t.Errorf("Winner = %q, want Morten", res.Winner)
	}
	if res.DistinctValues != 1 {
		t.Errorf("DistinctValues = %d, want 1", res.DistinctValues)
	}
	if res.Conflict != nil {
		t.Error("single-value resolution should not construct a Conflict")
	}
}

func TestMIRResolveNoObservationsReturnsEmpty(t *testing.T) {
	m := NewMIR()
	res := m.Resolve("identity", "name", nil)
	if res.Winner != "" || res.DistinctValues != 0 {
		t.Errorf("empty observations should yield zero-value Resolution, got %+v", res)
	}
}

func TestMIRResolveWeightedWinnerCLITestLosesToChatUser(t *testing.T) {
	m := NewMIR()
	now := NowUnix()
	var obs []Observation
	for i := 0; i < 10; i++ {
		obs = append(obs, Observation{Value: "Morpheus", Authority: AuthorityTest, Source: SourceCLITest, Timestamp: now})
	}
	obs = append(obs, Observation{Value: "Morten", Authority: AuthorityShortTerm, Source: SourceChatUser, Timestamp: now})

	res := m.Resolve("identity", "name", obs)

	if res.Winner != "Morten" {
		t.Fatalf("Winner = %q, want Morten (testable property #4)", res.Winner)
	}
	if res.Conflict == nil {
		t.Fatal("two distinct values should produce a Conflict")
	}
	if res.Conflict.Resolution != ConflictResolutionWeighted {
		t.Errorf("Resolution = %q, want weighted", res.Conflict.Resolution)
	}
}

func TestMIRResolveTieIsUnresolvable(t *testing.T) {
	m := NewMIR()
	now := NowUnix()
	obs := []Observation{
		{Value: "A", Authority: AuthorityShortTerm, Source: SourceChatUser, Timestamp: now},
		{Value: "B", Authority: AuthorityShortTerm, Source: SourceChatUser, Timestamp: now},
	}
	res := m.Resolve("family", "pet_name", obs)

	if res.Conflict == nil {
		t.Fatal("expected a Conflict for two equally-weighted values")
	}
	if res.Conflict.Resolution != ConflictResolutionUnresolvable {
		t.Errorf("Resolution = %q, want unresolvable", res.Conflict.Resolution)
	}
}

func TestMIRResolveTieBreaksByDistinctSupportersThenRecency(t *testing.T) {
	m := NewMIR()
	now := NowUnix()
	// One SHORT_TERM/CHAT_USER supporter each, both old enough to sit on the
	// 0.1 temporal-factor floor, so weight and supporter count tie exactly;
	// the newer observation must win. The supporter-count rule is covered
	// by the next test.
	obs := []Observation{
		{Value: "A", Authority: AuthorityShortTerm, Source: SourceChatUser, Timestamp: now - 400*86400},
		{Value: "B", Authority: AuthorityShortTerm, Source: SourceChatUser, Timestamp: now - 399*86400},
	}
	res := m.Resolve("family", "pet_name", obs)
	if res.Winner != "B" {
		t.Errorf("Winner = %q, want B (newer observation breaks the tie)", res.Winner)
	}
}

func TestMIRResolveMoreDistinctSupportersWinsOverFewerHeavier(t *testing.T) {
	m := NewMIR()
	now := NowUnix()
	obs := []Observation{
		// Two SHORT_TERM/CHAT_USER observations for "A": weight 2.0, 2 supporters.
		{Value: "A", Authority: AuthorityShortTerm, Source: SourceChatUser, Timestamp: now},
		{Value: "A", Authority: AuthorityShortTerm, Source: SourceChatUser, Timestamp: now},
		// One MEDIUM_TERM/CHAT_USER observation for "B": the same weight 2.0, 1 supporter.
		{Value: "B", Authority: AuthorityMediumTerm, Source: SourceChatUser, Timestamp: now},
	}
	res := m.Resolve("family", "pet_name", obs)
	if res.Winner != "A" {
		t.Errorf("Winner = %q, want A (more distinct supporters at equal total weight)", res.Winner)
	}
}
