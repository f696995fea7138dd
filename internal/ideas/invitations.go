package ideas

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/ZanzyTHEbar/idea-forge/internal/database"
	"github.com/ZanzyTHEbar/idea-forge/internal/errors"
	"github.com/ZanzyTHEbar/idea-forge/internal/realtime"
	"github.com/ZanzyTHEbar/idea-forge/internal/types"
)

// InvitationRepository is the persistence needed by InvitationService
type InvitationRepository interface {
	CreateInvitation(ctx context.Context, inviterID string) (*types.Invitation, error)
	GetInvitation(ctx context.Context, code string) (*types.Invitation, error)
	AcceptInvitation(ctx context.Context, code, inviteeID string) (*types.Invitation, error)
}

// Acceptance is an accepted invitation and any award that did not complete
type Acceptance struct {
	Invitation *types.Invitation `json:"invitation"`
	Warnings   []string          `json:"warnings,omitempty"`
}

// InvitationService issues and redeems invitation codes
type InvitationService struct {
	repo      InvitationRepository
	awarder   Awarder
	publisher realtime.Publisher
}

// NewInvitationService creates a service. awarder and publisher may be nil.
func NewInvitationService(repo InvitationRepository, awarder Awarder, publisher realtime.Publisher) *InvitationService {
	return &InvitationService{repo: repo, awarder: awarder, publisher: publisher}
}

// Create issues a new code for inviterID
func (s *InvitationService) Create(ctx context.Context, inviterID string) (*types.Invitation, error) {
	if strings.TrimSpace(inviterID) == "" {
		return nil, errors.NewValidationError("inviter id is required")
	}
	invitation, err := s.repo.CreateInvitation(ctx, inviterID)
	if err != nil {
		return nil, err
	}
	realtime.Notify(ctx, s.publisher,
		realtime.NewEvent(realtime.TableInvitations, realtime.ChangeInsert, inviterID, invitation))
	return invitation, nil
}

// Accept redeems code for inviteeID and awards the inviter
func (s *InvitationService) Accept(ctx context.Context, code, inviteeID string) (*Acceptance, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" || strings.TrimSpace(inviteeID) == "" {
		return nil, errors.NewValidationError("invitation code and invitee are required")
	}

	invitation, err := s.repo.AcceptInvitation(ctx, code, inviteeID)
	switch {
	case stderrors.Is(err, database.ErrNotFound):
		return nil, errors.NewNotFoundError("invitation", code)
	case stderrors.Is(err, database.ErrInvitationUsed):
		return nil, errors.NewValidationError("invitation already used", code)
	case stderrors.Is(err, database.ErrConflict):
		return nil, errors.NewValidationError("cannot accept your own invitation")
	case err != nil:
		return nil, err
	}

	result := &Acceptance{Invitation: invitation}
	if s.awarder != nil {
		if _, err := s.awarder.AwardAction(ctx, invitation.InviterID, types.ActionInviteSuccess, 1, invitation.Code); err != nil {
			result.Warnings = append(result.Warnings, errors.NewPartialFailureError("award inviter", err).Error())
		}
	}
	realtime.Notify(ctx, s.publisher,
		realtime.NewEvent(realtime.TableInvitations, realtime.ChangeUpdate, invitation.InviterID, invitation))
	return result, nil
}

// Get loads an invitation
func (s *InvitationService) Get(ctx context.Context, code string) (*types.Invitation, error) {
	invitation, err := s.repo.GetInvitation(ctx, strings.ToLower(strings.TrimSpace(code)))
	if stderrors.Is(err, database.ErrNotFound) {
		return nil, errors.NewNotFoundError("invitation", code)
	}
	return invitation, err
}
