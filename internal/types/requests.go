package types

// SessionRequest creates or resumes a user session
type SessionRequest struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
}

// SubmitIdeaRequest is the body of POST /api/ideas
type SubmitIdeaRequest struct {
	Text     string   `json:"text" binding:"required"`
	Tags     []string `json:"tags"`
	Language string   `json:"language"`
}

// RemixRequest is the body of POST /api/ideas/:id/remix
type RemixRequest struct {
	Text string `json:"text" binding:"required"`
}

// ModuleRequest creates or edits a module
type ModuleRequest struct {
	Type         string   `json:"module_type" binding:"required"`
	Content      string   `json:"content" binding:"required"`
	Tags         []string `json:"tags"`
	QualityScore *float64 `json:"quality_score"`
}

// CombinationRequest is the body of POST /api/combinations/evaluate
type CombinationRequest struct {
	ModuleIDs []string `json:"module_ids" binding:"required"`
}

// RepairRequest is the body of POST /admin/repair-scores
type RepairRequest struct {
	DryRun bool `json:"dry_run"`
	Limit  int  `json:"limit"`
}

// BackfillRequest is the body of POST /admin/embeddings/backfill
type BackfillRequest struct {
	BatchSize int `json:"batch_size"`
	Limit     int `json:"limit"`
}
