package apitypes

import "time"

func (ResponseStatus) is() isResponsePayload { return isResponsePayload{} }

// ResponseStatus is the response payload returned by the /status endpoint
type ResponseStatus struct {
	Version           string             `json:"version"`
	Cycle             uint64             `json:"cycle"`
	CycleEndedAt      time.Time          `json:"cycle_ended_at"`
	Counters          Counters           `json:"counters"`
	Providers         []ProviderSummary  `json:"providers"`
	PendingDeals      []PendingDeal      `json:"pending_deals"`
	PendingRetrievals []PendingRetrieval `json:"pending_retrievals"`
	RecentFailures    []Failure          `json:"recent_failures,omitempty"`
}

// ResponseProviders is the response payload returned by the /providers endpoint
type ResponseProviders []ProviderSummary

func (ResponseProviders) is() isResponsePayload { return isResponsePayload{} }

type Counters struct {
	StoragePending     int64 `json:"storage_pending"`
	StorageSucceeded   int64 `json:"storage_succeeded"`
	StorageFailed      int64 `json:"storage_failed"`
	StorageTotal       int64 `json:"storage_total"`
	RetrievalPending   int64 `json:"retrieval_pending"`
	RetrievalSucceeded int64 `json:"retrieval_succeeded"`
	RetrievalFailed    int64 `json:"retrieval_failed"`
	RetrievalTotal     int64 `json:"retrieval_total"`
}

type ProviderSummary struct {
	Provider     string  `json:"provider"`
	PeerID       *string `json:"peerid"`
	Capacity     int64   `json:"capacity_bytes"`
	SectorSize   uint64  `json:"sector_size,omitempty"`
	LastAskPrice string  `json:"last_ask_price"`
	Reachable    bool    `json:"reachable"`

	Allowance *Allowance `json:"allowance,omitempty"`
}

type Allowance struct {
	DailyAllowance          int64     `json:"daily_allowance_bytes"`
	DailyAllowanceHuman     string    `json:"daily_allowance"`
	LastObservedCapacity    int64     `json:"last_observed_capacity_bytes"`
	OutstandingCount        int64     `json:"current_outstanding_count"`
	OutstandingVolume       int64     `json:"current_outstanding_bytes"`
	LifetimeProposedCount   int64     `json:"lifetime_proposed_count"`
	LifetimeProposedVolume  int64     `json:"lifetime_proposed_bytes"`
	LifetimeSucceededCount  int64     `json:"lifetime_succeeded_count"`
	LifetimeSucceededVolume int64     `json:"lifetime_succeeded_bytes"`
	LastRecomputedAt        time.Time `json:"last_recomputed_at"`
	Exhausted               bool      `json:"exhausted"`
}

type PendingDeal struct {
	ProposalCid  string    `json:"deal_proposal_cid"`
	DataCid      string    `json:"data_cid"`
	Provider     string    `json:"provider"`
	SizeBytes    int64     `json:"size_bytes"`
	CreatedAt    time.Time `json:"created_at"`
	HoursPending int       `json:"hours_pending"`
}

type PendingRetrieval struct {
	DataCid   string    `json:"data_cid"`
	Provider  string    `json:"provider"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

type Failure struct {
	TimeStamp time.Time `json:"timestamp"`
	Provider  string    `json:"provider"`
	Kind      string    `json:"kind"`
	Error     string    `json:"error"`
}
