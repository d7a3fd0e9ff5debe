package library

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// NewMember is the input for registering a borrower.
type NewMember struct {
	Name      string `json:"name" validate:"required"`
	StudentID string `json:"student_id" validate:"required"`
	Grade     string `json:"grade" validate:"required"`
	Email     string `json:"email" validate:"omitempty,email"`
	Phone     string `json:"phone"`
	Picture   string `json:"picture"`
}

func (in *NewMember) normalize() {
	in.Name = strings.TrimSpace(in.Name)
	in.StudentID = strings.TrimSpace(in.StudentID)
	in.Grade = strings.TrimSpace(in.Grade)
	in.Email = strings.TrimSpace(in.Email)
	in.Phone = strings.TrimSpace(in.Phone)
}

// MemberUpdate carries the mutable member fields. The student id is identity
// and cannot be changed.
type MemberUpdate struct {
	Name    string `json:"name" validate:"required"`
	Grade   string `json:"grade" validate:"required"`
	Email   string `json:"email" validate:"omitempty,email"`
	Phone   string `json:"phone"`
	Picture string `json:"picture"`
}

func (in *MemberUpdate) normalize() {
	in.Name = strings.TrimSpace(in.Name)
	in.Grade = strings.TrimSpace(in.Grade)
	in.Email = strings.TrimSpace(in.Email)
	in.Phone = strings.TrimSpace(in.Phone)
}

// Roster holds member records.
type Roster struct {
	deps
}

// Register adds a member. A student id can only be registered once.
func (r *Roster) Register(ctx context.Context, in NewMember) (*Member, error) {
	in.normalize()
	if err := validate.Struct(&in); err != nil {
		return nil, fromValidator(err)
	}

	m := &Member{
		ID:        uuid.NewString(),
		Name:      in.Name,
		StudentID: in.StudentID,
		Grade:     in.Grade,
		Email:     in.Email,
		Phone:     in.Phone,
		Picture:   in.Picture,
		CreatedAt: r.now().UTC(),
	}
	if err := r.db.AddMember(ctx, m); err != nil {
		return nil, err
	}
	r.log.Info("member registered", "member_id", m.ID, "student_id", m.StudentID)
	return m, nil
}

func (r *Roster) Get(ctx context.Context, id string) (*Member, error) {
	return r.db.GetMember(ctx, r.db.db, id)
}

// List returns a snapshot of the roster taken at call time.
func (r *Roster) List(ctx context.Context, f MemberFilter) ([]Member, error) {
	f.Query = strings.TrimSpace(f.Query)
	f.Grade = strings.TrimSpace(f.Grade)
	return r.db.ListMembers(ctx, f)
}

func (r *Roster) Update(ctx context.Context, id string, in MemberUpdate) (*Member, error) {
	in.normalize()
	if err := validate.Struct(&in); err != nil {
		return nil, fromValidator(err)
	}

	m, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	m.Name, m.Grade, m.Email, m.Phone, m.Picture = in.Name, in.Grade, in.Email, in.Phone, in.Picture
	if err := r.db.UpdateMember(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Delete removes a member who holds no books. The record stays resolvable
// from the lending history.
func (r *Roster) Delete(ctx context.Context, id string) error {
	return r.retry.do(ctx, func(ctx context.Context) error {
		return r.db.inTx(ctx, func(tx *sqlx.Tx) error {
			if _, err := r.db.GetMember(ctx, tx, id); err != nil {
				return err
			}
			n, err := r.db.CountActiveLoans(ctx, tx, "member_id", id)
			if err != nil {
				return err
			}
			if n > 0 {
				return fmt.Errorf("member %s has %d books on loan: %w", id, n, ErrConflict)
			}
			return r.db.DeleteMember(ctx, tx, id, r.now().UTC())
		})
	})
}
