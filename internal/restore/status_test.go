package restore

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/any-hub/pkg-restore/internal/identity"
)

func TestStatusTableTransitions(t *testing.T) {
	table := NewStatusTable()

	prev, ok := table.Claim(idA)
	require.True(t, ok)
	require.Equal(t, StateNotStarted, prev.State)

	prev, ok = table.Claim(idA)
	require.False(t, ok)
	require.Equal(t, StateInProgress, prev.State)

	table.MarkFailed(idA, "boom")
	prev, ok = table.Claim(idA)
	require.True(t, ok, "failed identities are claimable again")
	require.Equal(t, StateFailed, prev.State)

	table.Release(idA)
	require.Equal(t, StateNotStarted, table.Get(idA).State)

	table.MarkPresent(idA)
	table.Release(idA)
	prev, ok = table.Claim(idA)
	require.False(t, ok)
	require.Equal(t, StatePresent, prev.State)
}

func TestStatusTableSnapshot(t *testing.T) {
	table := NewStatusTable()
	table.MarkPresent(idA)
	table.MarkFailed(idB, "status 404")

	want := map[string]Status{
		"PackageA@1.0.0": {State: StatePresent},
		"PackageB@2.0.0": {State: StateFailed, Reason: "status 404"},
	}
	if diff := cmp.Diff(want, table.Snapshot()); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, map[string]int{"present": 1, "failed": 1}, table.Counts())

	raw, err := json.Marshal(table.Snapshot())
	require.NoError(t, err)
	require.Contains(t, string(raw), `"state":"failed"`)
}

func TestReportAggregation(t *testing.T) {
	var report Report
	report.Merge(Report{Outcomes: []Outcome{
		{Identity: idA, Kind: OutcomeFailed, Reason: "status 404"},
		{Identity: idB, Kind: OutcomeRestored},
	}})
	report.Merge(Report{
		Outcomes: []Outcome{
			{Identity: idB, Kind: OutcomeSkipped},
			{Identity: idA, Kind: OutcomeFailed, Reason: "status 404"},
		},
		Rejected: []identity.Rejected{{Record: identity.Record{Name: "x"}, Reason: "missing package version"}},
	})

	require.Len(t, report.Failures(), 2)
	require.Equal(t, []identity.Identity{idA}, report.FailedIdentities())
	require.Equal(t, []identity.Identity{idA, idB}, report.Identities())
	require.Equal(t, "restored=1 already-present=0 skipped=1 failed=2 missing=0 rejected=1", report.Summary())

	raw, err := json.Marshal(report)
	require.NoError(t, err)
	var decoded Report
	require.NoError(t, json.Unmarshal(raw, &decoded))
	if diff := cmp.Diff(report, decoded); diff != "" {
		t.Fatalf("report JSON mismatch (-want +got):\n%s", diff)
	}
}
