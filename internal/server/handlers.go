package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	apperrors "github.com/assetstage/assetstage/internal/errors"
	"github.com/assetstage/assetstage/internal/logging"
	"github.com/assetstage/assetstage/internal/pipeline"
)

// HealthCheck is the result of probing one dependency.
type HealthCheck struct {
	Status    string `json:"status" example:"ok" doc:"ok or error"`
	LatencyMS int64  `json:"latency_ms" doc:"Probe latency in milliseconds"`
	Error     string `json:"error,omitempty" doc:"Probe error, if any"`
}

// HealthBody is the JSON body returned by the health check endpoint.
type HealthBody struct {
	Status string                 `json:"status" example:"ok" doc:"Health status"`
	Checks map[string]HealthCheck `json:"checks,omitempty" doc:"Per-dependency probe results"`
}

// HealthOutput is the Huma output struct for the health check endpoint.
type HealthOutput struct {
	Status int
	Body   HealthBody
}

func (s *Server) health(ctx context.Context, _ *struct{}) (*HealthOutput, error) {
	out := &HealthOutput{Status: http.StatusOK, Body: HealthBody{Status: "ok"}}
	if !s.cfg.Observability.HealthCheck {
		return out, nil
	}

	out.Body.Checks = make(map[string]HealthCheck)
	if s.store != nil {
		out.Body.Checks["storage"] = probe(ctx, s.store.HealthCheck)
	}
	if s.registry != nil {
		out.Body.Checks["registry"] = probe(ctx, s.registry.Ping)
	}
	for _, c := range out.Body.Checks {
		if c.Status != "ok" {
			out.Status = http.StatusServiceUnavailable
			out.Body.Status = "degraded"
		}
	}
	return out, nil
}

func probe(ctx context.Context, fn func(context.Context) error) HealthCheck {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	c := HealthCheck{Status: "ok", LatencyMS: time.Since(start).Milliseconds()}
	if err != nil {
		c.Status = "error"
		c.Error = err.Error()
	}
	return c
}

// UploadInput is the request for a signed upload URL.
type UploadInput struct {
	Body struct {
		FileName string `json:"fileName" doc:"Client file name; path separators are replaced"`
	}
}

// UploadBody carries the staging key and the URL to PUT the file to.
type UploadBody struct {
	StagingKey string    `json:"stagingKey" doc:"Key to pass to confirm and commit"`
	URL        string    `json:"url" doc:"Signed PUT URL"`
	ExpiresAt  time.Time `json:"expiresAt" doc:"When the URL stops working"`
}

// UploadOutput is the Huma output struct for issuing an upload URL.
type UploadOutput struct {
	Body UploadBody
}

func (s *Server) issueUploadURL(ctx context.Context, in *UploadInput) (*UploadOutput, error) {
	ticket, err := s.pipeline.Coordinator.IssueUploadURL(ctx, in.Body.FileName)
	if err != nil {
		return nil, toHumaError("issue-upload-url", err)
	}
	return &UploadOutput{Body: UploadBody{
		StagingKey: ticket.StagingKey,
		URL:        ticket.URL,
		ExpiresAt:  ticket.ExpiresAt,
	}}, nil
}

// ConfirmInput names the staging key whose upload finished.
type ConfirmInput struct {
	Body struct {
		StagingKey string `json:"stagingKey" doc:"Staging key returned by the upload endpoint"`
	}
}

func (s *Server) confirmUpload(ctx context.Context, in *ConfirmInput) (*struct{}, error) {
	if err := s.pipeline.Coordinator.ConfirmUpload(ctx, in.Body.StagingKey); err != nil {
		return nil, toHumaError("confirm-upload", err)
	}
	return nil, nil
}

// CommitInput lists the assets to promote.
type CommitInput struct {
	Body pipeline.CommitRequest
}

// CommitResult is the outcome for one reference.
type CommitResult struct {
	FileName string `json:"fileName"`
	FileKey  string `json:"fileKey"`
	Status   string `json:"status" enum:"promoted,failed"`
	Code     string `json:"code,omitempty" doc:"Error kind when the promotion failed"`
	Error    string `json:"error,omitempty" doc:"Description of the error kind"`
}

// CommitBody reports every reference in request order.
type CommitBody struct {
	Results []CommitResult `json:"results"`
	Failed  int            `json:"failed"`
}

// CommitOutput is 200 when every promotion succeeded. Otherwise the status
// is the most severe one among the failed references.
type CommitOutput struct {
	Status int
	Body   CommitBody
}

func (s *Server) commitAssets(ctx context.Context, in *CommitInput) (*CommitOutput, error) {
	results := s.pipeline.Promoter.PromoteAll(ctx, in.Body.References())

	out := &CommitOutput{
		Status: http.StatusOK,
		Body:   CommitBody{Results: make([]CommitResult, len(results))},
	}
	for i, r := range results {
		res := CommitResult{FileName: r.Ref.DisplayName, FileKey: r.Ref.StorageKey, Status: "promoted"}
		if r.Err != nil {
			res.Status = "failed"
			res.Error = "internal error"
			if kind := apperrors.KindOf(r.Err); kind != nil {
				res.Code = kind.Code
				res.Error = kind.Message
			}
			if status := apperrors.HTTPStatus(r.Err); status > out.Status {
				out.Status = status
			}
			out.Body.Failed++
		}
		out.Body.Results[i] = res
	}
	return out, nil
}

// SweepInput controls an on-demand sweep.
type SweepInput struct {
	DryRun bool `query:"dryRun" doc:"List orphans without deleting them"`
}

// SweepBody summarizes an on-demand sweep.
type SweepBody struct {
	Scanned    int      `json:"scanned"`
	Claimed    int      `json:"claimed"`
	Reclaimed  []string `json:"reclaimed"`
	Failed     int      `json:"failed"`
	Purged     int64    `json:"purged"`
	DryRun     bool     `json:"dryRun"`
	DurationMS int64    `json:"durationMs"`
}

// SweepOutput is the Huma output struct for the sweep endpoint.
type SweepOutput struct {
	Body SweepBody
}

func (s *Server) runSweep(ctx context.Context, in *SweepInput) (*SweepOutput, error) {
	report, err := s.pipeline.Sweeper.Sweep(ctx, pipeline.SweepOptions{DryRun: in.DryRun})
	if err != nil {
		logging.Component("server").Error("On-demand sweep failed", "error", err)
		return nil, huma.Error502BadGateway("sweep failed")
	}
	return &SweepOutput{Body: SweepBody{
		Scanned:    report.Scanned,
		Claimed:    report.Claimed,
		Reclaimed:  report.Reclaimed,
		Failed:     report.Failed,
		Purged:     report.Purged,
		DryRun:     in.DryRun,
		DurationMS: report.Duration.Milliseconds(),
	}}, nil
}

// toHumaError maps a pipeline error to a huma status error carrying only
// the error kind's code and message. The underlying cause can name store
// endpoints or credentials, so it is logged and never sent to the client.
func toHumaError(op string, err error) error {
	logger := logging.Component("server")
	kind := apperrors.KindOf(err)
	if kind == nil {
		logger.Error("Unclassified pipeline error", "op", op, "error", err)
		return huma.Error500InternalServerError("internal error")
	}
	if kind.HTTPStatus >= http.StatusInternalServerError {
		logger.Warn("Pipeline operation failed", "op", op, "code", kind.Code, "error", err)
	} else {
		logger.Debug("Pipeline request rejected", "op", op, "code", kind.Code, "error", err)
	}
	return huma.NewError(kind.HTTPStatus, kind.Code+": "+kind.Message)
}
