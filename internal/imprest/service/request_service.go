package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bitfantasy/imprest/internal/imprest/entity"
	"github.com/bitfantasy/imprest/internal/imprest/lifecycle"
	"github.com/bitfantasy/imprest/internal/imprest/repository"
	"github.com/bitfantasy/imprest/internal/notify"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// sweepLockKey overdue扫描分布式锁，多实例部署时只有一个实例执行
const (
	sweepLockKey = "imprest:overdue-sweep:lock"
	sweepLockTTL = 10 * time.Minute
)

// RequestService the access layer around the lifecycle engine: fetches the
// aggregate, invokes the engine, commits with compare-and-set, then hands the
// emitted intents to the dispatcher. It never mutates aggregate fields
// directly.
type RequestService struct {
	repo       *repository.RequestRepository
	users      *repository.UserRepository
	engine     *lifecycle.Engine
	rdb        *redis.Client
	dispatcher *notify.Dispatcher
	logger     *zap.Logger
}

func NewRequestService(repo *repository.RequestRepository, users *repository.UserRepository, rdb *redis.Client, dispatcher *notify.Dispatcher, logger *zap.Logger) *RequestService {
	return &RequestService{
		repo:       repo,
		users:      users,
		engine:     lifecycle.NewEngine(),
		rdb:        rdb,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// CreateRequest 创建申请单请求
type CreateRequest struct {
	PaymentReason string              `json:"payment_reason" binding:"required"`
	Currency      string              `json:"currency"`
	Amount        float64             `json:"amount" binding:"required"`
	PaymentType   string              `json:"payment_type" binding:"required"`
	Explanation   string              `json:"explanation"`
	Attachments   []entity.Attachment `json:"attachments"`
}

// CommentRequest 带备注的审批类请求
type CommentRequest struct {
	Comments string `json:"comments"`
}

// RejectRequest 驳回请求
type RejectRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// DisburseRequest 放款请求，金额缺省为申请金额
type DisburseRequest struct {
	Amount   *float64 `json:"amount"`
	Comments string   `json:"comments"`
}

// AcknowledgeRequest 收款确认请求
type AcknowledgeRequest struct {
	Received *bool  `json:"received" binding:"required"`
	Comments string `json:"comments"`
}

// ResolveDisputeRequest 争议处理请求
type ResolveDisputeRequest struct {
	Resolution string `json:"resolution" binding:"required"`
	Comments   string `json:"comments"`
}

// AccountingRequest 核销提交请求
type AccountingRequest struct {
	Receipts []entity.Receipt `json:"receipts" binding:"required"`
	Comments string           `json:"comments"`
}

// List 查询申请单列表
func (s *RequestService) List(ctx context.Context, page, pageSize int, filters map[string]string) ([]entity.ImprestRequest, int64, error) {
	return s.repo.FindAll(ctx, page, pageSize, filters)
}

// Get 查询申请单详情
func (s *RequestService) Get(ctx context.Context, id string) (*entity.ImprestRequest, error) {
	req, err := s.repo.FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, lifecycle.NotFoundf("imprest request %s not found", id)
	}
	return req, err
}

// Create 创建申请单并通知部门HOD
func (s *RequestService) Create(ctx context.Context, actor lifecycle.Actor, req *CreateRequest) (*entity.ImprestRequest, error) {
	requester, err := s.users.FindByID(ctx, actor.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, lifecycle.NotFoundf("requester %s not found", actor.ID)
		}
		return nil, err
	}

	code, err := s.repo.GenerateCode(ctx)
	if err != nil {
		return nil, fmt.Errorf("generate code: %w", err)
	}

	imprest, intents, err := s.engine.Create(lifecycle.CreateInput{
		ID:            uuid.New().String()[:32],
		Code:          code,
		RequesterID:   requester.ID,
		EmployeeName:  requester.Name,
		Department:    requester.Department,
		PaymentReason: req.PaymentReason,
		Currency:      req.Currency,
		Amount:        req.Amount,
		PaymentType:   req.PaymentType,
		Explanation:   req.Explanation,
		Attachments:   req.Attachments,
	})
	if err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, imprest); err != nil {
		return nil, fmt.Errorf("create imprest request: %w", err)
	}

	s.dispatcher.DispatchAsync(intents)
	return imprest, nil
}

// ApproveByHod HOD审批通过
func (s *RequestService) ApproveByHod(ctx context.Context, actor lifecycle.Actor, id, comments string) (*entity.ImprestRequest, error) {
	return s.transition(ctx, id, func(r *entity.ImprestRequest) ([]lifecycle.Intent, error) {
		return s.engine.ApproveByHod(r, actor, comments)
	})
}

// ApproveByAccountant 会计审批通过
func (s *RequestService) ApproveByAccountant(ctx context.Context, actor lifecycle.Actor, id, comments string) (*entity.ImprestRequest, error) {
	return s.transition(ctx, id, func(r *entity.ImprestRequest) ([]lifecycle.Intent, error) {
		return s.engine.ApproveByAccountant(r, actor, comments)
	})
}

// Reject 驳回（终态）
func (s *RequestService) Reject(ctx context.Context, actor lifecycle.Actor, id, reason string) (*entity.ImprestRequest, error) {
	return s.transition(ctx, id, func(r *entity.ImprestRequest) ([]lifecycle.Intent, error) {
		return s.engine.Reject(r, actor, reason)
	})
}

// RequestRevision 退回修改
func (s *RequestService) RequestRevision(ctx context.Context, actor lifecycle.Actor, id, comments string) (*entity.ImprestRequest, error) {
	return s.transition(ctx, id, func(r *entity.ImprestRequest) ([]lifecycle.Intent, error) {
		return s.engine.RequestRevision(r, actor, comments)
	})
}

// Resubmit 修改后重新提交
func (s *RequestService) Resubmit(ctx context.Context, actor lifecycle.Actor, id string) (*entity.ImprestRequest, error) {
	return s.transition(ctx, id, func(r *entity.ImprestRequest) ([]lifecycle.Intent, error) {
		return s.engine.Resubmit(r, actor)
	})
}

// RecordDisbursement 记录放款
func (s *RequestService) RecordDisbursement(ctx context.Context, actor lifecycle.Actor, id string, req *DisburseRequest) (*entity.ImprestRequest, error) {
	return s.transition(ctx, id, func(r *entity.ImprestRequest) ([]lifecycle.Intent, error) {
		amount := r.Amount
		if req.Amount != nil {
			amount = *req.Amount
		}
		return s.engine.RecordDisbursement(r, actor, amount, req.Comments)
	})
}

// AcknowledgeReceipt 收款确认或发起争议
func (s *RequestService) AcknowledgeReceipt(ctx context.Context, actor lifecycle.Actor, id string, received bool, comments string) (*entity.ImprestRequest, error) {
	return s.transition(ctx, id, func(r *entity.ImprestRequest) ([]lifecycle.Intent, error) {
		return s.engine.AcknowledgeReceipt(r, actor, received, comments)
	})
}

// ResolveDispute 管理员处理争议
func (s *RequestService) ResolveDispute(ctx context.Context, actor lifecycle.Actor, id, resolution, comments string) (*entity.ImprestRequest, error) {
	return s.transition(ctx, id, func(r *entity.ImprestRequest) ([]lifecycle.Intent, error) {
		return s.engine.ResolveDispute(r, actor, resolution, comments)
	})
}

// SubmitAccounting 提交核销
func (s *RequestService) SubmitAccounting(ctx context.Context, actor lifecycle.Actor, id string, req *AccountingRequest) (*entity.ImprestRequest, error) {
	return s.transition(ctx, id, func(r *entity.ImprestRequest) ([]lifecycle.Intent, error) {
		return s.engine.SubmitAccounting(r, actor, req.Receipts, req.Comments)
	})
}

// RequestAccountingRevision 核销退回
func (s *RequestService) RequestAccountingRevision(ctx context.Context, actor lifecycle.Actor, id, comments string) (*entity.ImprestRequest, error) {
	return s.transition(ctx, id, func(r *entity.ImprestRequest) ([]lifecycle.Intent, error) {
		return s.engine.RequestAccountingRevision(r, actor, comments)
	})
}

// ApproveAccounting 核销通过（终态）
func (s *RequestService) ApproveAccounting(ctx context.Context, actor lifecycle.Actor, id, comments string) (*entity.ImprestRequest, error) {
	return s.transition(ctx, id, func(r *entity.ImprestRequest) ([]lifecycle.Intent, error) {
		return s.engine.ApproveAccounting(r, actor, comments)
	})
}

// RunOverdueSweep transitions every disbursed request past its due date to
// overdue. Each candidate is handled independently: a conflict or save error
// on one is logged and the sweep continues. Returns the number swept.
func (s *RequestService) RunOverdueSweep(ctx context.Context) (int, error) {
	if !s.acquireSweepLock(ctx) {
		s.logger.Info("Overdue sweep skipped, lock held elsewhere")
		return 0, nil
	}
	defer s.releaseSweepLock(ctx)

	candidates, err := s.repo.FindOverdueCandidates(ctx, time.Now())
	if err != nil {
		return 0, fmt.Errorf("find overdue candidates: %w", err)
	}

	swept := 0
	for i := range candidates {
		r := &candidates[i]
		intents, err := s.engine.MarkOverdue(r)
		if err != nil {
			// precondition may have changed between scan and transition
			s.logger.Warn("Overdue transition skipped",
				zap.String("code", r.Code), zap.Error(err))
			continue
		}
		if err := s.repo.Save(ctx, r); err != nil {
			s.logger.Warn("Overdue save failed",
				zap.String("code", r.Code), zap.Error(err))
			continue
		}
		s.dispatcher.DispatchAsync(intents)
		swept++
	}

	if swept > 0 {
		s.logger.Info("Overdue sweep completed", zap.Int("swept", swept))
	}
	return swept, nil
}

func (s *RequestService) acquireSweepLock(ctx context.Context) bool {
	if s.rdb == nil {
		return true
	}
	ok, err := s.rdb.SetNX(ctx, sweepLockKey, "1", sweepLockTTL).Result()
	if err != nil {
		// redis不可用时放行，依靠CAS兜底
		s.logger.Warn("Sweep lock unavailable, proceeding without it", zap.Error(err))
		return true
	}
	return ok
}

func (s *RequestService) releaseSweepLock(ctx context.Context) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Del(ctx, sweepLockKey).Err(); err != nil {
		s.logger.Warn("Failed to release sweep lock", zap.Error(err))
	}
}

// transition 统一的取出-执行-CAS提交-派发流程
func (s *RequestService) transition(ctx context.Context, id string, fn func(*entity.ImprestRequest) ([]lifecycle.Intent, error)) (*entity.ImprestRequest, error) {
	r, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, lifecycle.NotFoundf("imprest request %s not found", id)
		}
		return nil, err
	}

	intents, err := fn(r)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Save(ctx, r); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, lifecycle.Conflictf("imprest request %s was modified concurrently", id)
		}
		return nil, fmt.Errorf("save imprest request: %w", err)
	}

	// 通知在提交之后派发，失败只记日志，绝不回滚状态
	s.dispatcher.DispatchAsync(intents)
	return r, nil
}
