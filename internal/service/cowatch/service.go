// Package cowatch exposes presence, co-viewing groups, matching and quota
// over gRPC as cowatch.v1.CoWatch.
package cowatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"google.golang.org/grpc"

	"github.com/oggyb/cowatch/internal/app"
	"github.com/oggyb/cowatch/internal/content"
	svcErr "github.com/oggyb/cowatch/internal/errors"
	"github.com/oggyb/cowatch/internal/identity"
	"github.com/oggyb/cowatch/internal/match"
	"github.com/oggyb/cowatch/internal/presence"
	"github.com/oggyb/cowatch/internal/quota"
)

// Service implements the CoWatch gRPC API on top of the domain components.
// The caller is the user named in the x-user-id metadata, except for purchase
// grants which name their target and require a trusted internal caller.
type Service struct {
	comps    *app.Components
	log      *slog.Logger
	validate *validator.Validate
}

var _ CoWatchServer = (*Service)(nil)

// NewService creates the service over already wired components.
func NewService(comps *app.Components, log *slog.Logger) *Service {
	return &Service{
		comps:    comps,
		log:      log,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// caller returns the authenticated user id.
func (s *Service) caller(ctx context.Context) (string, error) {
	id, err := identity.UserID(ctx)
	if err != nil {
		return "", svcErr.Map(err)
	}
	return id, nil
}

func (s *Service) check(req any) error {
	if err := s.validate.Struct(req); err != nil {
		return svcErr.InvalidArgument(err.Error())
	}
	return nil
}

// begin resolves the caller and validates req in one step.
func (s *Service) begin(ctx context.Context, req any) (string, error) {
	userID, err := s.caller(ctx)
	if err != nil {
		return "", err
	}
	if err := s.check(req); err != nil {
		return "", err
	}
	return userID, nil
}

// StartWatching replaces the caller's session.
func (s *Service) StartWatching(ctx context.Context, req *StartWatchingRequest) (*SessionResponse, error) {
	userID, err := s.begin(ctx, req)
	if err != nil {
		return nil, err
	}
	mediaType, err := content.ParseMediaType(req.MediaType)
	if err != nil {
		return nil, svcErr.InvalidArgument(err.Error())
	}
	s.log.Debug("StartWatching called", "user", userID, "content", req.ContentID)

	sess, err := s.comps.Tracker.StartWatching(ctx, startRequest(userID, mediaType, req))
	if err != nil {
		return nil, svcErr.Map(err)
	}
	return &SessionResponse{Session: sessionFrom(sess)}, nil
}

func startRequest(userID string, mediaType content.MediaType, req *StartWatchingRequest) presence.StartRequest {
	return presence.StartRequest{
		UserID:          userID,
		ContentID:       string(req.ContentID),
		MediaType:       mediaType,
		PositionSeconds: req.PositionSeconds,
		DurationSeconds: req.DurationSeconds,
		Title:           req.Title,
		PosterPath:      req.PosterPath,
	}
}

// UpdateProgress moves the caller's position. Stale updates are dropped.
func (s *Service) UpdateProgress(ctx context.Context, req *UpdateProgressRequest) (*UpdateProgressResponse, error) {
	userID, err := s.begin(ctx, req)
	if err != nil {
		return nil, err
	}
	ok, err := s.comps.Tracker.UpdateProgress(ctx, userID, string(req.ContentID), req.PositionSeconds)
	if err != nil {
		return nil, svcErr.Map(err)
	}
	return &UpdateProgressResponse{Applied: ok}, nil
}

// StopWatching ends the caller's session on the given content.
func (s *Service) StopWatching(ctx context.Context, req *StopWatchingRequest) (*Empty, error) {
	userID, err := s.begin(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.comps.Tracker.StopWatching(ctx, userID, string(req.ContentID)); err != nil {
		return nil, svcErr.Map(err)
	}
	return &Empty{}, nil
}

// GetCurrentSession returns the caller's session, or a nil session.
func (s *Service) GetCurrentSession(ctx context.Context, _ *Empty) (*SessionResponse, error) {
	userID, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	return &SessionResponse{Session: sessionFrom(s.comps.Tracker.Current(ctx, userID))}, nil
}

// GetCurrentlyWatching returns the current co-viewing groups.
func (s *Service) GetCurrentlyWatching(ctx context.Context, _ *Empty) (*GroupsResponse, error) {
	if _, err := s.caller(ctx); err != nil {
		return nil, err
	}
	return groupsFrom(s.comps.Aggregator.Snapshot()), nil
}

// WatchCurrentlyWatching streams the groups every time they change. The
// first message is the current state.
func (s *Service) WatchCurrentlyWatching(_ *Empty, stream grpc.ServerStream) error {
	ctx := stream.Context()
	userID, err := s.caller(ctx)
	if err != nil {
		return err
	}

	sub := s.comps.Aggregator.Subscribe(4)
	defer sub.Close()
	s.log.Debug("groups stream opened", "user", userID)

	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-sub.C:
			if !ok {
				return nil
			}
			if err := stream.SendMsg(groupsFrom(snap)); err != nil {
				return err
			}
		}
	}
}

// GetRealTimeMatches returns shuffled compatible viewers for the caller.
func (s *Service) GetRealTimeMatches(ctx context.Context, _ *Empty) (*MatchesResponse, error) {
	userID, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	candidates, err := s.comps.Selector.RealTimeMatches(ctx, userID)
	if err != nil {
		return nil, svcErr.Map(err)
	}
	return &MatchesResponse{Candidates: candidates}, nil
}

func (s *Service) CanSwipe(ctx context.Context, _ *Empty) (*quota.Decision, error) {
	userID, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	d, err := s.comps.Quotas.CanSwipe(ctx, userID)
	if err != nil {
		return nil, svcErr.Map(err)
	}
	return &d, nil
}

func (s *Service) CanUndo(ctx context.Context, _ *Empty) (*quota.Decision, error) {
	userID, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	d, err := s.comps.Quotas.CanUndo(ctx, userID)
	if err != nil {
		return nil, svcErr.Map(err)
	}
	return &d, nil
}

// GetSwipeLimits returns the caller's quota record after day rollover.
func (s *Service) GetSwipeLimits(ctx context.Context, _ *Empty) (*Limits, error) {
	userID, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	rec, err := s.comps.Quotas.Limits(ctx, userID)
	if err != nil {
		return nil, svcErr.Map(err)
	}
	return limitsFrom(rec), nil
}

// Like charges a swipe and likes the target, matching on a mutual like.
func (s *Service) Like(ctx context.Context, req *LikeRequest) (*match.Result, error) {
	userID, err := s.begin(ctx, req)
	if err != nil {
		return nil, err
	}
	contentID, err := optionalContentID(req.ContentID)
	if err != nil {
		return nil, err
	}
	return result(s.comps.Machine.Like(ctx, userID, req.TargetUserID, contentID))
}

func (s *Service) Pass(ctx context.Context, req *TargetRequest) (*match.Result, error) {
	userID, err := s.begin(ctx, req)
	if err != nil {
		return nil, err
	}
	return result(s.comps.Machine.Pass(ctx, userID, req.TargetUserID))
}

// Undo reverses the caller's newest swipe.
func (s *Service) Undo(ctx context.Context, _ *Empty) (*UndoResponse, error) {
	userID, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	res, swipe, err := s.comps.Machine.UndoLastSwipe(ctx, userID)
	if err != nil {
		return nil, svcErr.Map(err)
	}
	return &UndoResponse{
		Allowed:   res.Allowed,
		Reason:    string(res.Reason),
		Message:   res.Message,
		Remaining: res.Remaining,
		Swipe:     swipeFrom(swipe),
	}, nil
}

func (s *Service) Unmatch(ctx context.Context, req *TargetRequest) (*match.Result, error) {
	userID, err := s.begin(ctx, req)
	if err != nil {
		return nil, err
	}
	return result(s.comps.Machine.Unmatch(ctx, userID, req.TargetUserID))
}

func (s *Service) Block(ctx context.Context, req *TargetRequest) (*match.Result, error) {
	userID, err := s.begin(ctx, req)
	if err != nil {
		return nil, err
	}
	return result(s.comps.Machine.Block(ctx, userID, req.TargetUserID))
}

func (s *Service) Unblock(ctx context.Context, req *TargetRequest) (*match.Result, error) {
	userID, err := s.begin(ctx, req)
	if err != nil {
		return nil, err
	}
	return result(s.comps.Machine.Unblock(ctx, userID, req.TargetUserID))
}

func (s *Service) RestoreMatch(ctx context.Context, req *RestoreMatchRequest) (*match.Result, error) {
	userID, err := s.begin(ctx, req)
	if err != nil {
		return nil, err
	}
	contentID, err := optionalContentID(req.ContentID)
	if err != nil {
		return nil, err
	}
	return result(s.comps.Machine.RestoreMatch(ctx, userID, req.TargetUserID, contentID))
}

// trusted rejects callers that did not present the internal token.
func (s *Service) trusted(ctx context.Context, caller string) error {
	if identity.Trusted(ctx) {
		return nil
	}
	s.log.Warn("untrusted caller tried to grant a purchase", "user", caller)
	return svcErr.Map(fmt.Errorf("%w: purchases are granted by internal callers only", svcErr.ErrPermissionDenied))
}

// AddExtraSwipes credits purchased swipes to req.UserID.
func (s *Service) AddExtraSwipes(ctx context.Context, req *AddExtraSwipesRequest) (*Limits, error) {
	caller, err := s.begin(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.trusted(ctx, caller); err != nil {
		return nil, err
	}
	rec, err := s.comps.Quotas.AddExtraSwipes(ctx, req.UserID, req.Amount)
	if err != nil {
		return nil, svcErr.Map(err)
	}
	return limitsFrom(rec), nil
}

// SetPremium grants premium to req.UserID.
func (s *Service) SetPremium(ctx context.Context, req *SetPremiumRequest) (*Limits, error) {
	caller, err := s.begin(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.trusted(ctx, caller); err != nil {
		return nil, err
	}
	rec, err := s.comps.Quotas.SetPremium(ctx, req.UserID, req.ExpiresAt)
	if err != nil {
		return nil, svcErr.Map(err)
	}
	return limitsFrom(rec), nil
}

// ListSwipeHistory pages through the caller's swipes, newest first.
func (s *Service) ListSwipeHistory(ctx context.Context, req *ListSwipeHistoryRequest) (*ListSwipeHistoryResponse, error) {
	userID, err := s.begin(ctx, req)
	if err != nil {
		return nil, err
	}
	swipes, next, err := s.comps.Machine.ListSwipeHistory(ctx, userID, req.PaginationToken, req.Limit)
	if err != nil {
		return nil, svcErr.Map(err)
	}

	resp := &ListSwipeHistoryResponse{Swipes: make([]Swipe, 0, len(swipes)), NextPaginationToken: next}
	for i := range swipes {
		resp.Swipes = append(resp.Swipes, *swipeFrom(&swipes[i]))
	}
	return resp, nil
}

func (s *Service) GetRelationships(ctx context.Context, _ *Empty) (*match.Relationships, error) {
	userID, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	rel, err := s.comps.Machine.GetRelationships(ctx, userID)
	if err != nil {
		return nil, svcErr.Map(err)
	}
	return rel, nil
}

func result(res match.Result, err error) (*match.Result, error) {
	if err != nil {
		return nil, svcErr.Map(err)
	}
	return &res, nil
}

// optionalContentID canonicalizes an optional content id.
func optionalContentID(raw content.RawID) (string, error) {
	if raw == "" {
		return "", nil
	}
	id, err := content.ParseID(string(raw))
	if err != nil {
		return "", svcErr.InvalidArgument(fmt.Sprintf("content_id: %v", err))
	}
	return content.FormatID(id), nil
}
