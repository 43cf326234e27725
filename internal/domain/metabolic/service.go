package metabolic

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/metabolic-panel/internal/platform/auth"
	"github.com/ehr/metabolic-panel/internal/platform/blobstore"
)

// Assembler lays out a report. pdfreport.Assembler is the production
// implementation.
type Assembler interface {
	Assemble(in ReportInput) (*Document, error)
}

// GeneratedReport describes a stored report and the signed link to fetch it.
type GeneratedReport struct {
	ArtifactID    string
	FileName      string
	ContentType   string
	Size          int64
	DownloadToken string
	ExpiresAt     time.Time
	Interpretation
}

// Service runs a submission through the Index Engine and the Report
// Assembler, then stores the artifact for download.
type Service struct {
	assembler Assembler
	store     blobstore.BlobStore
	signer    *auth.TokenSigner
	logger    zerolog.Logger
}

func NewService(assembler Assembler, store blobstore.BlobStore, signer *auth.TokenSigner, logger zerolog.Logger) *Service {
	return &Service{
		assembler: assembler,
		store:     store,
		signer:    signer,
		logger:    logger.With().Str("component", "metabolic-service").Logger(),
	}
}

// Compute runs the Index Engine on raw lab strings.
func (s *Service) Compute(raw RawLabValues) (*Interpretation, error) {
	_, interp, err := Evaluate(raw)
	if err != nil {
		return nil, err
	}
	return interp, nil
}

// BuildReportInput validates the lab values of a submission and aggregates
// everything the assembler needs.
func BuildReportInput(sub Submission) (ReportInput, error) {
	values, interp, err := Evaluate(sub.Labs)
	if err != nil {
		return ReportInput{}, err
	}
	return ReportInput{
		Patient:            sub.Patient,
		Raw:                sub.Labs,
		Values:             values,
		Indices:            interp.Indices,
		Comments:           interp.Comments,
		VitalSigns:         sub.VitalSigns,
		ComplementaryExams: sub.ComplementaryExams,
	}, nil
}

// Render builds the report document without storing it.
func (s *Service) Render(ctx context.Context, sub Submission) (*Document, *Interpretation, error) {
	in, err := BuildReportInput(sub)
	if err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, &UnexpectedError{Op: "assemble", Err: err}
	}
	doc, err := s.assembler.Assemble(in)
	if err != nil {
		return nil, nil, &UnexpectedError{Op: "assemble", Err: err}
	}
	return doc, &Interpretation{Indices: in.Indices, Comments: in.Comments}, nil
}

// Generate renders, stores and signs a report. Nothing is stored when the
// lab values are invalid or the context is cancelled before storage.
func (s *Service) Generate(ctx context.Context, sub Submission, requestID string) (*GeneratedReport, error) {
	doc, interp, err := s.Render(ctx, sub)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			s.logger.Info().
				Str("request_id", requestID).
				Int("invalid_fields", len(verr.Fields)).
				Msg("submission rejected")
		}
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, &UnexpectedError{Op: "store", Err: err}
	}

	meta, err := s.store.Put(ctx, blobstore.BlobMetadata{
		FileName:    doc.FileName,
		ContentType: doc.ContentType,
		RequestID:   requestID,
	}, bytes.NewReader(doc.Content))
	if err != nil {
		return nil, &UnexpectedError{Op: "store", Err: err}
	}

	token, expires, err := s.signer.Issue(meta.ID)
	if err != nil {
		if delErr := s.store.Delete(context.WithoutCancel(ctx), meta.ID); delErr != nil {
			s.logger.Error().Err(delErr).Str("artifact_id", meta.ID).Msg("removing unsigned report")
		}
		return nil, &UnexpectedError{Op: "sign", Err: err}
	}

	s.logger.Info().
		Str("request_id", requestID).
		Str("artifact_id", meta.ID).
		Int64("size", meta.Size).
		Int("comments", len(interp.Comments)).
		Msg("report generated")

	return &GeneratedReport{
		ArtifactID:     meta.ID,
		FileName:       meta.FileName,
		ContentType:    meta.ContentType,
		Size:           meta.Size,
		DownloadToken:  token,
		ExpiresAt:      expires,
		Interpretation: *interp,
	}, nil
}

// DownloadPath returns the relative link for a generated report.
func (r *GeneratedReport) DownloadPath() string {
	return fmt.Sprintf("/reports/%s/download?token=%s", r.ArtifactID, r.DownloadToken)
}
