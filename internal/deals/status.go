package deals

//go:generate go run golang.org/x/tools/cmd/stringer -type=Status -output=status_gen.go

// Status is the storage-market deal state as reported by the node
type Status uint64

const (
	StorageDealUnknown Status = iota
	StorageDealProposalNotFound
	StorageDealProposalRejected
	StorageDealProposalAccepted
	StorageDealStaged
	StorageDealSealing
	StorageDealActive
	StorageDealFailing
	StorageDealNotFound

	// client/provider internal
	StorageDealFundsEnsured
	StorageDealWaitingForDataRequest
	StorageDealValidating
	StorageDealAcceptWait
	StorageDealTransferring
	StorageDealWaitingForData
	StorageDealVerifyData
	StorageDealEnsureProviderFunds
	StorageDealEnsureClientFunds
	StorageDealProviderFunding
	StorageDealClientFunding
	StorageDealPublish
	StorageDealPublishing
	StorageDealError
	StorageDealCompleted
)

// Action is what the tracker does with a pending deal after a poll
type Action int

const (
	// ActionWait keeps the deal pending, unless it is past the deal timeout
	ActionWait Action = iota
	// ActionSucceed records success and hands the data over to retrieval
	ActionSucceed
	// ActionCleanup silently forgets the deal and any pending retrieval of it
	ActionCleanup
	// ActionDropLocalFile deletes the local test file but keeps waiting
	ActionDropLocalFile
	// ActionFail records a failure and forgets the deal
	ActionFail
)

func (a Action) String() string {
	switch a {
	case ActionWait:
		return "wait"
	case ActionSucceed:
		return "succeed"
	case ActionCleanup:
		return "cleanup"
	case ActionDropLocalFile:
		return "drop-local-file"
	case ActionFail:
		return "fail"
	default:
		return "unknown"
	}
}

// ActionFor maps every status, including ones outside the known range, to
// exactly one action
func ActionFor(s Status) Action {
	switch s {
	case StorageDealActive:
		return ActionSucceed
	case StorageDealCompleted:
		return ActionCleanup
	case StorageDealStaged, StorageDealSealing:
		return ActionDropLocalFile
	case StorageDealError:
		return ActionFail
	default:
		return ActionWait
	}
}
