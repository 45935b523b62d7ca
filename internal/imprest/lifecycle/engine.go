package lifecycle

import (
	"fmt"
	"strings"
	"time"

	"github.com/bitfantasy/imprest/internal/imprest/entity"
)

// AcknowledgeWindow 放款确认期限，到期未核销转overdue
const AcknowledgeWindow = 72 * time.Hour

// Engine drives the request lifecycle: every operation validates against the
// transition table first, then writes the new status plus its event record and
// returns the notification intents for the dispatcher. The engine only
// mutates the in-memory aggregate; persistence and dispatch belong to the
// caller, so a failed save leaves the stored request untouched.
type Engine struct {
	// Now is overridable in tests
	Now func() time.Time
}

func NewEngine() *Engine {
	return &Engine{Now: time.Now}
}

// CreateInput 创建申请单输入，ID/Code由调用方（access layer）生成
type CreateInput struct {
	ID            string
	Code          string
	RequesterID   string
	EmployeeName  string
	Department    string
	PaymentReason string
	Currency      string
	Amount        float64
	PaymentType   string
	Explanation   string
	Attachments   []entity.Attachment
}

// Create builds a new aggregate in pending_hod and emits the notify-HOD
// intent. DueDate stays nil until disbursement (see DESIGN.md).
func (e *Engine) Create(in CreateInput) (*entity.ImprestRequest, []Intent, error) {
	if in.Amount <= 0 {
		return nil, nil, ValidationFailedf("amount must be greater than zero")
	}
	if strings.TrimSpace(in.PaymentReason) == "" {
		return nil, nil, ValidationFailedf("payment reason is required")
	}
	validType := false
	for _, pt := range entity.PaymentTypes {
		if in.PaymentType == pt {
			validType = true
			break
		}
	}
	if !validType {
		return nil, nil, ValidationFailedf("unknown payment type %q", in.PaymentType)
	}
	for _, a := range in.Attachments {
		if a.FileName == "" || a.FileURL == "" {
			return nil, nil, ValidationFailedf("attachment requires both file name and url")
		}
	}

	now := e.Now()
	r := &entity.ImprestRequest{
		ID:            in.ID,
		Code:          in.Code,
		RequesterID:   in.RequesterID,
		EmployeeName:  in.EmployeeName,
		Department:    in.Department,
		RequestDate:   now,
		PaymentReason: in.PaymentReason,
		Currency:      in.Currency,
		Amount:        in.Amount,
		PaymentType:   in.PaymentType,
		Explanation:   in.Explanation,
		Attachments:   in.Attachments,
		Status:        entity.StatusPendingHod,
	}
	if r.Currency == "" {
		r.Currency = "USD"
	}

	intents := []Intent{
		toRole(entity.RoleHod, r.Department, TplRequestSubmitted, e.payload(r)),
	}
	return r, intents, nil
}

// ApproveByHod pending_hod → pending_accountant
func (e *Engine) ApproveByHod(r *entity.ImprestRequest, actor Actor, comments string) ([]Intent, error) {
	if err := Validate(r, OpApproveByHod, actor); err != nil {
		return nil, err
	}

	r.Status = entity.StatusPendingAccountant
	r.HodApproval = &entity.ApprovalRecord{
		ApproverID: actor.ID,
		Comments:   comments,
		Timestamp:  e.Now(),
	}

	return []Intent{
		toRole(entity.RoleAccountant, "", TplAwaitingAccountant, e.payload(r)),
		toRequester(r.RequesterID, TplHodApproved, e.payload(r)),
	}, nil
}

// ApproveByAccountant pending_accountant → approved
func (e *Engine) ApproveByAccountant(r *entity.ImprestRequest, actor Actor, comments string) ([]Intent, error) {
	if err := Validate(r, OpApproveByAccountant, actor); err != nil {
		return nil, err
	}

	r.Status = entity.StatusApproved
	r.AccountantApproval = &entity.ApprovalRecord{
		ApproverID: actor.ID,
		Comments:   comments,
		Timestamp:  e.Now(),
	}

	return []Intent{toRequester(r.RequesterID, TplAccountantApproved, e.payload(r))}, nil
}

// Reject {pending_hod, pending_accountant} → rejected (terminal)
func (e *Engine) Reject(r *entity.ImprestRequest, actor Actor, reason string) ([]Intent, error) {
	if err := Validate(r, OpReject, actor); err != nil {
		return nil, err
	}
	if strings.TrimSpace(reason) == "" {
		return nil, ValidationFailedf("rejection reason is required")
	}

	role := entity.RoleHod
	if r.Status == entity.StatusPendingAccountant {
		role = entity.RoleAccountant
	}
	r.Status = entity.StatusRejected
	r.Rejection = &entity.RejectionRecord{
		RejectedBy: actor.ID,
		Role:       role,
		Reason:     reason,
		Timestamp:  e.Now(),
	}

	p := e.payload(r)
	p["reason"] = reason
	return []Intent{toRequester(r.RequesterID, TplRequestRejected, p)}, nil
}

// RequestRevision {pending_hod, pending_accountant} → revision_requested
func (e *Engine) RequestRevision(r *entity.ImprestRequest, actor Actor, comments string) ([]Intent, error) {
	if err := Validate(r, OpRequestRevision, actor); err != nil {
		return nil, err
	}

	role := entity.RoleHod
	if r.Status == entity.StatusPendingAccountant {
		role = entity.RoleAccountant
	}
	r.Status = entity.StatusRevisionRequested
	r.Revision = &entity.RevisionRecord{
		RequestedBy: actor.ID,
		Role:        role,
		Comments:    comments,
		Timestamp:   e.Now(),
	}

	p := e.payload(r)
	p["comments"] = comments
	return []Intent{toRequester(r.RequesterID, TplRevisionRequested, p)}, nil
}

// Resubmit revision_requested → pending_hod，重新走完整审批链
func (e *Engine) Resubmit(r *entity.ImprestRequest, actor Actor) ([]Intent, error) {
	if err := Validate(r, OpResubmit, actor); err != nil {
		return nil, err
	}

	now := e.Now()
	r.Status = entity.StatusPendingHod
	if r.Revision != nil {
		r.Revision.ResubmittedAt = &now
	}

	return []Intent{toRole(entity.RoleHod, r.Department, TplRequestSubmitted, e.payload(r))}, nil
}

// RecordDisbursement approved → pending_acknowledgment. The accountant may
// disburse less than requested; dueDate = disbursement timestamp + 72h,
// computed once and never moved by later disputes.
func (e *Engine) RecordDisbursement(r *entity.ImprestRequest, actor Actor, amount float64, comments string) ([]Intent, error) {
	if err := Validate(r, OpRecordDisbursement, actor); err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, ValidationFailedf("disbursement amount must be greater than zero")
	}

	now := e.Now()
	due := now.Add(AcknowledgeWindow)
	r.Status = entity.StatusPendingAcknowledgment
	r.DueDate = &due
	r.Disbursement = &entity.DisbursementRecord{
		AccountantID: actor.ID,
		Amount:       amount,
		Comments:     comments,
		Timestamp:    now,
	}

	return []Intent{toRequester(r.RequesterID, TplFundsDisbursed, e.payload(r))}, nil
}

// AcknowledgeReceipt resolves the acknowledgment step:
//
//	received=true  → disbursed, or resolved_dispute when the request has
//	                 dispute history (the marker stays visible in status)
//	received=false → disputed, only from pending_acknowledgment
func (e *Engine) AcknowledgeReceipt(r *entity.ImprestRequest, actor Actor, received bool, comments string) ([]Intent, error) {
	if err := Validate(r, OpAcknowledgeReceipt, actor); err != nil {
		return nil, err
	}

	if !received && r.Status != entity.StatusPendingAcknowledgment {
		// re-disputing a resolved dispute goes through the admin, not here
		return nil, PreconditionFailedf("operation acknowledge_receipt(received=false) not allowed in status %s", r.Status)
	}

	now := e.Now()
	r.Acknowledgment = &entity.AcknowledgmentRecord{
		RequesterID: actor.ID,
		Received:    received,
		Comments:    comments,
		Timestamp:   now,
	}

	if !received {
		r.Status = entity.StatusDisputed
		r.HasDisputeHistory = true
		p := e.payload(r)
		p["comments"] = comments
		return []Intent{
			{Template: TplDisputeRaised, Role: entity.RoleAdmin, Urgent: true, Payload: p},
			toRequester(r.RequesterID, TplDisputeLogged, p),
		}, nil
	}

	if r.HasDisputeHistory {
		r.Status = entity.StatusResolvedDispute
	} else {
		r.Status = entity.StatusDisbursed
	}
	return []Intent{toRequester(r.RequesterID, TplReceiptConfirmed, e.payload(r))}, nil
}

// ResolveDispute disputed → resolved_dispute when resolution is "disbursed"
// (loops back to acknowledgment), anything else → cancelled (terminal).
func (e *Engine) ResolveDispute(r *entity.ImprestRequest, actor Actor, resolution, comments string) ([]Intent, error) {
	if err := Validate(r, OpResolveDispute, actor); err != nil {
		return nil, err
	}
	if strings.TrimSpace(resolution) == "" {
		return nil, ValidationFailedf("dispute resolution is required")
	}

	r.DisputeResolution = &entity.DisputeResolutionRecord{
		AdminID:    actor.ID,
		Resolution: resolution,
		Comments:   comments,
		Timestamp:  e.Now(),
	}

	p := e.payload(r)
	p["resolution"] = resolution
	if resolution == "disbursed" {
		r.Status = entity.StatusResolvedDispute
		return []Intent{toRequester(r.RequesterID, TplDisputeResolved, p)}, nil
	}

	r.Status = entity.StatusCancelled
	return []Intent{toRequester(r.RequesterID, TplDisputeCancelled, p)}, nil
}

// SubmitAccounting disbursed → pending_accounting_approval. Totals come from
// the financial calculator; balance may be negative (overspend is reported,
// not forbidden).
func (e *Engine) SubmitAccounting(r *entity.ImprestRequest, actor Actor, receipts []entity.Receipt, comments string) ([]Intent, error) {
	if err := Validate(r, OpSubmitAccounting, actor); err != nil {
		return nil, err
	}
	if len(receipts) == 0 {
		return nil, ValidationFailedf("at least one receipt is required")
	}
	for i, rc := range receipts {
		if strings.TrimSpace(rc.Description) == "" {
			return nil, ValidationFailedf("receipt %d: description is required", i+1)
		}
		if rc.Amount < 0 {
			return nil, ValidationFailedf("receipt %d: amount must not be negative", i+1)
		}
		if rc.FileURL == "" {
			return nil, ValidationFailedf("receipt %d: file reference is required", i+1)
		}
	}

	total := TotalAmount(receipts)
	r.Status = entity.StatusPendingAccounting
	r.Accounting = &entity.AccountingRecord{
		SubmittedBy: actor.ID,
		Receipts:    receipts,
		TotalAmount: total,
		Balance:     Balance(r.Disbursement.Amount, total),
		Comments:    comments,
		Timestamp:   e.Now(),
	}

	return []Intent{toRole(entity.RoleAccountant, "", TplAccountingSent, e.payload(r))}, nil
}

// RequestAccountingRevision pending_accounting_approval → disbursed，要求
// 申请人重新提交核销
func (e *Engine) RequestAccountingRevision(r *entity.ImprestRequest, actor Actor, comments string) ([]Intent, error) {
	if err := Validate(r, OpRequestAcctRevision, actor); err != nil {
		return nil, err
	}

	r.Status = entity.StatusDisbursed
	r.AccountingRevision = &entity.AccountingRevisionRecord{
		AccountantID: actor.ID,
		Comments:     comments,
		Timestamp:    e.Now(),
	}

	p := e.payload(r)
	p["comments"] = comments
	return []Intent{toRequester(r.RequesterID, TplAccountingRevision, p)}, nil
}

// ApproveAccounting pending_accounting_approval → accounted (terminal). The
// approval comment is appended to the submitter's comments, never replacing
// them.
func (e *Engine) ApproveAccounting(r *entity.ImprestRequest, actor Actor, comments string) ([]Intent, error) {
	if err := Validate(r, OpApproveAccounting, actor); err != nil {
		return nil, err
	}

	now := e.Now()
	r.Status = entity.StatusAccounted
	r.Accounting.ApprovedBy = actor.ID
	r.Accounting.ApprovedAt = &now
	if comments != "" {
		if r.Accounting.Comments != "" {
			r.Accounting.Comments = r.Accounting.Comments + "\n" + comments
		} else {
			r.Accounting.Comments = comments
		}
	}

	return []Intent{toRequester(r.RequesterID, TplAccountingApproved, e.payload(r))}, nil
}

// MarkOverdue the sweep transition: disbursed AND dueDate < now → overdue.
// Idempotent — an already-overdue request no longer satisfies the status
// precondition, so re-running the sweep is a no-op.
func (e *Engine) MarkOverdue(r *entity.ImprestRequest) ([]Intent, error) {
	if err := Validate(r, OpCheckOverdue, System); err != nil {
		return nil, err
	}
	if r.DueDate == nil || !r.DueDate.Before(e.Now()) {
		return nil, PreconditionFailedf("request %s is not past due", r.Code)
	}

	r.Status = entity.StatusOverdue

	p := e.payload(r)
	return []Intent{
		toRequester(r.RequesterID, TplRequestOverdue, p),
		toRole(entity.RoleHod, r.Department, TplRequestOverdue, p),
	}, nil
}

// payload builds the flat key/value map every intent carries. Values are
// already formatted; the dispatcher never computes anything from them.
func (e *Engine) payload(r *entity.ImprestRequest) map[string]string {
	p := map[string]string{
		"code":          r.Code,
		"employee_name": r.EmployeeName,
		"department":    r.Department,
		"amount":        fmt.Sprintf("%.2f", r.Amount),
		"currency":      r.Currency,
		"payment_type":  r.PaymentType,
		"status":        string(r.Status),
	}
	if r.Disbursement != nil {
		p["disbursed_amount"] = fmt.Sprintf("%.2f", r.Disbursement.Amount)
	}
	if r.DueDate != nil {
		p["due_date"] = r.DueDate.Format("2006-01-02 15:04")
	}
	if r.Accounting != nil {
		p["total_spent"] = fmt.Sprintf("%.2f", r.Accounting.TotalAmount)
		p["balance"] = fmt.Sprintf("%.2f", r.Accounting.Balance)
	}
	return p
}
