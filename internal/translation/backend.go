package translation

import (
	"context"

	"github.com/lingodoc/lingodoc-go/internal/api"
)

// Backend is the slice of the HTTP client the translation flow uses.
// *api.Client is the production implementation.
type Backend interface {
	SubmitTranslation(ctx context.Context, req api.SubmitRequest) (*api.SubmitResponse, error)
	JobStatus(ctx context.Context, jobID string) (*api.JobStatus, error)
	FindJobByFilename(ctx context.Context, filename string) (*api.JobSummary, error)
	ActiveJobs(ctx context.Context) ([]api.JobSummary, error)
	FetchResult(ctx context.Context, jobID string, partial bool) (*api.ResultDocument, error)
	CancelJob(ctx context.Context, jobID string) error
}
