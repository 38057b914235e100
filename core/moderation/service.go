package moderation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kat-co/vala"

	"github.com/nithadya/classsync/core"
	"github.com/nithadya/classsync/core/user"
)

var (
	ErrNotFound  = errors.New("flagged content not found")
	ErrForbidden = errors.New("permission denied")

	NowFunc = time.Now // mockable
)

type (
	// Classifier is the external content classification service.
	Classifier interface {
		Classify(ctx context.Context, content string, contentType ContentType) (Verdict, error)
	}

	Repository interface {
		CreateFlaggedContent(ctx context.Context, fc FlaggedContent) (FlaggedContent, error)
		GetFlaggedContent(ctx context.Context, id string) (FlaggedContent, error)
		QueryFlaggedContent(ctx context.Context, filter QueryFilter) ([]FlaggedContent, error)
		UpdateFlaggedContent(ctx context.Context, fc FlaggedContent) (FlaggedContent, error)
	}

	Service struct {
		classifier Classifier // nil disables classification
		repo       Repository
		logger     core.Logger
	}
)

func NewService(classifier Classifier, repo Repository, logger core.Logger) *Service {
	vala.BeginValidation().Validate(
		vala.IsNotNil(repo, "repo"),
		vala.IsNotNil(logger, "logger"),
	).CheckAndPanic()

	return &Service{
		classifier: classifier,
		repo:       repo,
		logger:     logger,
	}
}

// Moderate asks the classifier about content. Flagged content is stored for review and not allowed.
// Moderate fails open: without a classifier, or when it fails, content is allowed.
func (svc *Service) Moderate(ctx context.Context, content string, contentType ContentType, contentID string) Result {
	if svc.classifier == nil {
		return Result{Allowed: true}
	}

	verdict, err := svc.classifier.Classify(ctx, content, contentType)
	if err != nil {
		svc.logger.Warn(fmt.Sprintf("classifying %s %s (allowed): %v", contentType, contentID, err), err)
		return Result{Allowed: true}
	}
	if !verdict.IsFlagged {
		return Result{Allowed: true, Verdict: &verdict}
	}

	reason := "Automatically flagged for " + verdict.Category
	fc := FlaggedContent{
		ContentID:   contentID,
		ContentType: contentType,
		Content:     content,
		Reason:      reason,
		Status:      StatusPending,
		Analysis:    &verdict,
		CreatedAt:   NowFunc().UTC(),
	}
	if _, err = svc.repo.CreateFlaggedContent(ctx, fc); err != nil {
		svc.logger.Error(fmt.Sprintf("storing flagged %s %s: %v", contentType, contentID, err), err)
	}
	return Result{Allowed: false, Reason: reason, Verdict: &verdict}
}

// Report stores a user's manual flag.
func (svc *Service) Report(ctx context.Context, reporter user.Principal, nr NewReport, validate *validator.Validate) (FlaggedContent, error) {
	nr.Clean()
	if err := validate.Struct(nr); err != nil {
		return FlaggedContent{}, err
	}
	return svc.repo.CreateFlaggedContent(ctx, FlaggedContent{
		ContentID:   nr.ContentID,
		ContentType: nr.ContentType,
		Content:     nr.Content,
		Reason:      nr.Reason,
		Status:      StatusPending,
		ReportedBy:  reporter.UserID,
		CreatedAt:   NowFunc().UTC(),
	})
}

func (svc *Service) Query(ctx context.Context, moderator user.Principal, filter QueryFilter) ([]FlaggedContent, error) {
	if !moderator.Can(user.CapModerate) {
		return nil, ErrForbidden
	}
	return svc.repo.QueryFlaggedContent(ctx, filter)
}

// Resolve records an admin's decision on a flag.
func (svc *Service) Resolve(ctx context.Context, moderator user.Principal, id string, res Resolution, validate *validator.Validate) (FlaggedContent, error) {
	if !moderator.Can(user.CapModerate) {
		return FlaggedContent{}, ErrForbidden
	}
	if err := validate.Struct(res); err != nil {
		return FlaggedContent{}, err
	}

	fc, err := svc.repo.GetFlaggedContent(ctx, id)
	if err != nil {
		return FlaggedContent{}, err
	}
	now := NowFunc().UTC()
	fc.Status = res.Status
	fc.ReviewedBy = moderator.UserID
	fc.ReviewedAt = &now
	return svc.repo.UpdateFlaggedContent(ctx, fc)
}
