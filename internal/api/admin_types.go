package api

// ReconcileRequest is the body of POST /v1/admin/reconcile.
type ReconcileRequest struct {
	DryRun    bool `json:"dry_run"`
	BatchSize int  `json:"batch_size,omitempty"`
}

// ReconcileResponse reports one reconciliation sweep.
type ReconcileResponse struct {
	DryRun            bool  `json:"dry_run"`
	RepairedRows      int   `json:"repaired_rows"`
	ReclaimCandidates int   `json:"reclaim_candidates"`
	ReclaimedBlobs    int   `json:"reclaimed_blobs"`
	ReclaimedBytes    int64 `json:"reclaimed_bytes"`
	OrphanFiles       int   `json:"orphan_files"`
	TempFiles         int   `json:"temp_files"`
	Failed            int   `json:"failed"`
}
