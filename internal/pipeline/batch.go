package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/dgallion1/docintake/internal/ingest"
)

// BatchItem is the outcome for one document of a batch.
type BatchItem struct {
	DocumentID string         `json:"documentId"`
	Status     string         `json:"status"` // success | error
	Report     *ingest.Report `json:"report,omitempty"`
	Error      string         `json:"error,omitempty"`
	Kind       ingest.Kind    `json:"kind,omitempty"`
}

// BatchSummary counts batch outcomes. SuccessRate is a rounded percentage.
type BatchSummary struct {
	Total       int `json:"total"`
	Processed   int `json:"processed"`
	Failed      int `json:"failed"`
	SuccessRate int `json:"successRate"`
}

type BatchResult struct {
	Summary BatchSummary `json:"summary"`
	Results []BatchItem  `json:"results"`
}

// ProcessBatch processes documents independently with bounded
// concurrency. The result always covers every id, in input order; the
// error is a PartialBatchFailure when any item failed.
func (s *Service) ProcessBatch(ctx context.Context, ids []string, opts ProcessOptions) (BatchResult, error) {
	items := make([]BatchItem, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.batchConc)
	for i, id := range ids {
		g.Go(func() error {
			rep, err := s.ProcessDocument(gctx, id, opts)
			item := BatchItem{DocumentID: id, Status: "success"}
			if err != nil {
				item.Status = "error"
				item.Error = err.Error()
				item.Kind = ingest.KindOf(err)
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					item.Kind = ingest.KindExtractionFailed
				}
				s.log.Warn("batch item failed", "doc_id", id, "error", err)
			}
			if rep.DocumentID != "" {
				item.Report = &rep
			}
			items[i] = item
			return nil
		})
	}
	_ = g.Wait()

	res := BatchResult{Results: items, Summary: BatchSummary{Total: len(ids)}}
	for _, it := range items {
		if it.Status == "success" {
			res.Summary.Processed++
		} else {
			res.Summary.Failed++
		}
	}
	if len(ids) > 0 {
		res.Summary.SuccessRate = int(math.Round(float64(res.Summary.Processed) / float64(len(ids)) * 100))
	}
	s.log.Info("batch complete", "total", res.Summary.Total, "processed", res.Summary.Processed, "failed", res.Summary.Failed)

	if res.Summary.Failed > 0 {
		err := ingest.NewError(ingest.KindPartialBatchFailure, "",
			fmt.Sprintf("%d of %d documents failed", res.Summary.Failed, res.Summary.Total), nil)
		return res, err
	}
	return res, nil
}
