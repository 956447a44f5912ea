package deals

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestActionForIsTotal(t *testing.T) {
	counts := make(map[Action]int)
	for s := StorageDealUnknown; s <= StorageDealCompleted+5; s++ {
		a := ActionFor(s)
		require.NotEqual(t, "unknown", a.String(), "status %s", s)
		counts[a]++
	}

	require.Equal(t, 1, counts[ActionSucceed])
	require.Equal(t, 1, counts[ActionCleanup])
	require.Equal(t, 2, counts[ActionDropLocalFile])
	require.Equal(t, 1, counts[ActionFail])
}

func TestActionTable(t *testing.T) {
	for s, want := range map[Status]Action{
		StorageDealActive:           ActionSucceed,
		StorageDealCompleted:        ActionCleanup,
		StorageDealStaged:           ActionDropLocalFile,
		StorageDealSealing:          ActionDropLocalFile,
		StorageDealError:            ActionFail,
		StorageDealProposalRejected: ActionWait,
		StorageDealFailing:          ActionWait,
		StorageDealValidating:       ActionWait,
		StorageDealTransferring:     ActionWait,
		StorageDealPublishing:       ActionWait,
		StorageDealUnknown:          ActionWait,
		Status(1000):                ActionWait,
	} {
		require.Equal(t, want, ActionFor(s), "status %s", s)
	}
}

func TestStatusString(t *testing.T) {
	require.Equal(t, "StorageDealError", StorageDealError.String())
	require.Equal(t, "StorageDealCompleted", StorageDealCompleted.String())
	require.Equal(t, "StorageDealUnknown", Status(0).String())
	require.Equal(t, "Status(42)", Status(42).String())
}
