package database

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base32"
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/idea-forge/internal/types"
)

// ErrInvitationUsed is returned when accepting a code that was already accepted
var ErrInvitationUsed = fmt.Errorf("invitation already accepted: %w", ErrConflict)

func newInviteCode() (string, error) {
	buf := make([]byte, 5)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate invitation code: %w", err)
	}
	return strings.ToLower(base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf)), nil
}

// CreateInvitation issues a new pending code for inviterID
func (r *Repository) CreateInvitation(ctx context.Context, inviterID string) (*types.Invitation, error) {
	code, err := newInviteCode()
	if err != nil {
		return nil, err
	}

	invitation := &types.Invitation{
		Code:      code,
		InviterID: inviterID,
		Status:    types.InvitationPending,
		CreatedAt: now(),
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO invitations (code, inviter_id, status, created_at) VALUES (?, ?, ?, ?)
	`, invitation.Code, invitation.InviterID, string(invitation.Status), invitation.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create invitation: %w", err)
	}
	return invitation, nil
}

// GetInvitation loads an invitation by code
func (r *Repository) GetInvitation(ctx context.Context, code string) (*types.Invitation, error) {
	var (
		invitation types.Invitation
		status     string
		invitee    sql.NullString
		acceptedAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT code, inviter_id, invitee_id, status, created_at, accepted_at
		FROM invitations WHERE code = ?
	`, code).Scan(&invitation.Code, &invitation.InviterID, &invitee, &status,
		&invitation.CreatedAt, &acceptedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load invitation: %w", err)
	}

	invitation.Status = types.InvitationStatus(status)
	invitation.InviteeID = invitee.String
	if acceptedAt.Valid {
		t := acceptedAt.Time
		invitation.AcceptedAt = &t
	}
	return &invitation, nil
}

// AcceptInvitation marks code accepted by inviteeID and records the inviter
// on the invitee. Only a pending code can be accepted.
func (r *Repository) AcceptInvitation(ctx context.Context, code, inviteeID string) (*types.Invitation, error) {
	ts := now()
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		var inviterID, status string
		err := tx.QueryRowContext(ctx, `SELECT inviter_id, status FROM invitations WHERE code = ?`, code).
			Scan(&inviterID, &status)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load invitation: %w", err)
		}
		if status != string(types.InvitationPending) {
			return ErrInvitationUsed
		}
		if inviterID == inviteeID {
			return fmt.Errorf("cannot accept own invitation: %w", ErrConflict)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE invitations SET status = ?, invitee_id = ?, accepted_at = ?
			WHERE code = ? AND status = ?
		`, string(types.InvitationAccepted), inviteeID, ts, code, string(types.InvitationPending)); err != nil {
			return fmt.Errorf("failed to accept invitation: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE users SET invited_by = ?, updated_at = ? WHERE id = ? AND invited_by = ''
		`, inviterID, ts, inviteeID); err != nil {
			return fmt.Errorf("failed to record inviter: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.GetInvitation(ctx, code)
}

// InviterOf returns who invited userID, or "" when nobody did
func (r *Repository) InviterOf(ctx context.Context, userID string) (string, error) {
	var inviter string
	err := r.db.QueryRowContext(ctx, `SELECT invited_by FROM users WHERE id = ?`, userID).Scan(&inviter)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load inviter: %w", err)
	}
	return inviter, nil
}
