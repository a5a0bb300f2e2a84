package chunk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestProcessCoversAllItems(t *testing.T) {
	cases := []struct {
		n, size    int
		wantGroups int
	}{
		{n: 10, size: 3, wantGroups: 4},
		{n: 9, size: 3, wantGroups: 3},
		{n: 1, size: 500, wantGroups: 1},
		{n: 500, size: 500, wantGroups: 1},
		{n: 501, size: 500, wantGroups: 2},
	}

	for _, tc := range cases {
		covered := 0
		results, err := Process(context.Background(), tc.n, tc.size, func(_ context.Context, g Group) (int, error) {
			covered += g.Size()
			return g.Size(), nil
		}, Options{})
		require.NoError(t, err)
		require.Len(t, results, tc.wantGroups, "n=%d size=%d", tc.n, tc.size)
		require.Equal(t, tc.n, covered, "group sizes must sum to n")
	}
}

func TestProcessEmptyInput(t *testing.T) {
	calls := 0
	for _, n := range []int{0, -1, -100} {
		results, err := Process(context.Background(), n, 10, func(_ context.Context, _ Group) (int, error) {
			calls++
			return 0, nil
		}, Options{})
		require.NoError(t, err)
		require.Empty(t, results)
	}
	require.Zero(t, calls, "transform must not run for non-positive n")
}

func TestProcessProgressMonotonicReaches100(t *testing.T) {
	var percents []int
	_, err := Process(context.Background(), 103, 10, func(_ context.Context, g Group) (int, error) {
		return g.Index, nil
	}, Options{Progress: func(p int, _ string) {
		percents = append(percents, p)
	}})
	require.NoError(t, err)
	require.Len(t, percents, 11)
	for i := 1; i < len(percents); i++ {
		require.GreaterOrEqual(t, percents[i], percents[i-1], "progress must be non-decreasing")
	}
	require.Equal(t, 100, percents[len(percents)-1])
}

func TestProcessProgressMessage(t *testing.T) {
	var messages []string
	_, err := Process(context.Background(), 7, 3, func(_ context.Context, g Group) (int, error) {
		return g.Index, nil
	}, Options{Progress: func(_ int, msg string) {
		messages = append(messages, msg)
	}})
	require.NoError(t, err)
	require.Equal(t, []string{
		"Processing chunk 1/3 (1-3 of 7)",
		"Processing chunk 2/3 (4-6 of 7)",
		"Processing chunk 3/3 (7-7 of 7)",
	}, messages)
}

func TestProcessAbortsOnTransformFailure(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	results, err := Process(context.Background(), 10, 2, func(_ context.Context, g Group) (int, error) {
		calls++
		if g.Index == 2 {
			return 0, boom
		}
		return g.Index, nil
	}, Options{})

	require.Nil(t, results, "no partial results on failure")
	require.Equal(t, 3, calls, "no group runs after the failing one")

	var ge *GroupError
	require.ErrorAs(t, err, &ge)
	require.Equal(t, 2, ge.Index)
	require.Equal(t, 5, ge.Total)
	require.ErrorIs(t, err, boom)
	require.Contains(t, err.Error(), "chunk 3/5")
}

func TestProcessSequentialOrdering(t *testing.T) {
	var order []int
	results, err := Process(context.Background(), 12, 4, func(_ context.Context, g Group) (int, error) {
		order = append(order, g.Index)
		return g.Start, nil
	}, Options{})
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2}, order)
	require.Equal(t, []int{0, 4, 8}, results)
}

func TestProcessCanceledHook(t *testing.T) {
	calls := 0
	_, err := Process(context.Background(), 10, 2, func(_ context.Context, g Group) (int, error) {
		calls++
		return g.Index, nil
	}, Options{Canceled: func(_ context.Context) bool {
		return calls >= 2
	}})
	require.ErrorIs(t, err, ErrCanceled)
	require.Equal(t, 2, calls)
}

func TestProcessContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Process(ctx, 10, 2, func(_ context.Context, g Group) (int, error) {
		calls++
		if calls == 1 {
			cancel()
		}
		return g.Index, nil
	}, Options{})
	require.ErrorIs(t, err, ErrCanceled)
	require.Equal(t, 1, calls)
}

func TestRowSpan(t *testing.T) {
	// 2 header rows, chunk of data rows [0,500) maps to sheet rows 3-502.
	first, last := RowSpan(Group{Index: 0, Total: 2, Start: 0, End: 500}, 2)
	require.Equal(t, 3, first)
	require.Equal(t, 502, last)

	first, last = RowSpan(Group{Index: 1, Total: 2, Start: 500, End: 750}, 2)
	require.Equal(t, 503, first)
	require.Equal(t, 752, last)
}

func TestFlatten(t *testing.T) {
	out := Flatten([][]string{{"a", "b"}, nil, {"c"}})
	require.Equal(t, []string{"a", "b", "c"}, out)
}

func TestProcessObservesGroupDurations(t *testing.T) {
	var observed []Group
	_, err := Process(context.Background(), 5, 2, func(_ context.Context, g Group) (int, error) {
		return g.Index, nil
	}, Options{Observe: func(g Group, d time.Duration) {
		require.GreaterOrEqual(t, d, time.Duration(0))
		observed = append(observed, g)
	}})
	require.NoError(t, err)
	require.Len(t, observed, 3)
	require.Equal(t, 0, observed[0].Index)
	require.Equal(t, 2, observed[2].Index)
}
