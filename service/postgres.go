package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/upshift01/upshift-sub003/model"
)

// PostgresStore is the production Store, backed by gorm. Optimistic
// versioning is enforced in SQL: every update is conditioned on the version
// the caller read, and zero affected rows means a concurrent writer won.
type PostgresStore struct {
	db *gorm.DB
}

// NewPostgresStore connects to Postgres, configures the pool and migrates
// the engine tables.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&model.Contract{}, &model.Milestone{}, &model.PaymentSession{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	slog.Info("postgres store initialized")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) CreateContract(ctx context.Context, c *model.Contract, milestones []*model.Milestone) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(c).Error; err != nil {
			return err
		}
		if len(milestones) > 0 {
			if err := tx.Create(milestones).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStore) GetContract(ctx context.Context, id string) (*model.Contract, error) {
	var c model.Contract
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: contract %s", model.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) ListContractsByParty(ctx context.Context, userID string) ([]*model.Contract, error) {
	var result []*model.Contract
	err := s.db.WithContext(ctx).
		Where("employer_id = ? OR contractor_id = ?", userID, userID).
		Order("created_at DESC").
		Find(&result).Error
	return result, err
}

func (s *PostgresStore) UpdateContract(ctx context.Context, c *model.Contract) error {
	return s.updateContract(s.db.WithContext(ctx), c)
}

func (s *PostgresStore) updateContract(tx *gorm.DB, c *model.Contract) error {
	res := tx.Model(&model.Contract{}).
		Where("id = ? AND version = ?", c.ID, c.Version).
		Updates(map[string]any{
			"status":            c.Status,
			"employer_signed":   c.EmployerSigned,
			"contractor_signed": c.ContractorSigned,
			"total_paid":        c.TotalPaid,
			"cancel_reason":     c.CancelReason,
			"version":           c.Version + 1,
			"updated_at":        time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return s.staleWriteError(tx, &model.Contract{}, "contract", c.ID)
	}
	c.Version++
	return nil
}

func (s *PostgresStore) GetMilestone(ctx context.Context, id string) (*model.Milestone, error) {
	var m model.Milestone
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: milestone %s", model.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *PostgresStore) ListMilestones(ctx context.Context, contractID string) ([]*model.Milestone, error) {
	var result []*model.Milestone
	err := s.db.WithContext(ctx).
		Where("contract_id = ?", contractID).
		Order("created_at ASC").
		Find(&result).Error
	return result, err
}

func (s *PostgresStore) UpdateMilestone(ctx context.Context, m *model.Milestone) error {
	return s.updateMilestone(s.db.WithContext(ctx), m)
}

func (s *PostgresStore) updateMilestone(tx *gorm.DB, m *model.Milestone) error {
	res := tx.Model(&model.Milestone{}).
		Where("id = ? AND version = ?", m.ID, m.Version).
		Updates(map[string]any{
			"status":             m.Status,
			"notes":              m.Notes,
			"deliverable_object": m.DeliverableObject,
			"deliverable_name":   m.DeliverableName,
			"submitted_at":       m.SubmittedAt,
			"approved_at":        m.ApprovedAt,
			"paid_at":            m.PaidAt,
			"version":            m.Version + 1,
			"updated_at":         time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return s.staleWriteError(tx, &model.Milestone{}, "milestone", m.ID)
	}
	m.Version++
	return nil
}

// staleWriteError distinguishes a missing row from a version conflict after
// an update matched nothing.
func (s *PostgresStore) staleWriteError(tx *gorm.DB, probe any, kind, id string) error {
	var count int64
	if err := tx.Model(probe).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%w: %s %s", model.ErrNotFound, kind, id)
	}
	return fmt.Errorf("%w: %s %s was modified concurrently", model.ErrConflict, kind, id)
}

func (s *PostgresStore) CreateSession(ctx context.Context, sess *model.PaymentSession) error {
	return s.db.WithContext(ctx).Create(sess).Error
}

func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (*model.PaymentSession, error) {
	var sess model.PaymentSession
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: payment session %s", model.ErrNotFound, sessionID)
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *PostgresStore) FindOpenSession(ctx context.Context, contractID, milestoneID string) (*model.PaymentSession, error) {
	var sess model.PaymentSession
	err := s.db.WithContext(ctx).
		Where("contract_id = ? AND milestone_id = ? AND status = ?", contractID, milestoneID, model.SessionPending).
		First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *PostgresStore) UpdateSession(ctx context.Context, sess *model.PaymentSession) error {
	res := s.db.WithContext(ctx).Model(&model.PaymentSession{}).
		Where("session_id = ?", sess.SessionID).
		Updates(map[string]any{
			"status":     sess.Status,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: payment session %s", model.ErrNotFound, sess.SessionID)
	}
	return nil
}

func (s *PostgresStore) ListPendingSessions(ctx context.Context, createdBefore time.Time) ([]*model.PaymentSession, error) {
	var result []*model.PaymentSession
	err := s.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", model.SessionPending, createdBefore).
		Order("created_at ASC").
		Find(&result).Error
	return result, err
}

func (s *PostgresStore) CommitPayment(ctx context.Context, sessionID string) (*model.PaymentSession, error) {
	var committed *model.PaymentSession

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sess model.PaymentSession
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("session_id = ?", sessionID).
			First(&sess).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: payment session %s", model.ErrNotFound, sessionID)
		}
		if err != nil {
			return err
		}

		// Idempotence: a session credits its target exactly once.
		if sess.Status == model.SessionPaid {
			committed = &sess
			return nil
		}

		var contract model.Contract
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", sess.ContractID).
			First(&contract).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: contract %s", model.ErrNotFound, sess.ContractID)
		}
		if err != nil {
			return err
		}
		if contract.Status != model.ContractActive {
			return fmt.Errorf("%w: cannot credit a payment while the contract is %q", model.ErrInvalidTransition, contract.Status)
		}
		if contract.TotalPaid+sess.Amount > contract.PaymentAmount {
			return fmt.Errorf("%w: crediting %d would exceed payment_amount %d (total_paid %d)",
				model.ErrValidation, sess.Amount, contract.PaymentAmount, contract.TotalPaid)
		}

		var milestone *model.Milestone
		if sess.MilestoneID != "" {
			var m model.Milestone
			err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("id = ?", sess.MilestoneID).
				First(&m).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: milestone %s", model.ErrNotFound, sess.MilestoneID)
			}
			if err != nil {
				return err
			}
			if m.Status == model.MilestonePaid {
				return fmt.Errorf("%w: milestone %s is already paid by another session", model.ErrConflict, m.ID)
			}
			milestone = &m
		}

		now := time.Now()
		contract.TotalPaid += sess.Amount
		if err := s.updateContract(tx, &contract); err != nil {
			return err
		}

		if milestone != nil {
			milestone.Status = model.MilestonePaid
			milestone.PaidAt = &now
			if err := s.updateMilestone(tx, milestone); err != nil {
				return err
			}
		}

		sess.Status = model.SessionPaid
		res := tx.Model(&model.PaymentSession{}).
			Where("session_id = ? AND status = ?", sess.SessionID, model.SessionPending).
			Updates(map[string]any{"status": model.SessionPaid, "updated_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: payment session %s changed state concurrently", model.ErrConflict, sess.SessionID)
		}

		committed = &sess
		return nil
	})
	if err != nil {
		return nil, err
	}
	return committed, nil
}
