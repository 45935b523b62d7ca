package lifecycle

import (
	"strings"
	"testing"
	"time"

	"github.com/bitfantasy/imprest/internal/imprest/entity"
)

func testEngine(now time.Time) *Engine {
	return &Engine{Now: func() time.Time { return now }}
}

func createTestRequest(t *testing.T, e *Engine, amount float64) *entity.ImprestRequest {
	t.Helper()
	r, _, err := e.Create(CreateInput{
		ID:            "imp-0001",
		Code:          "IMP-202601-0001",
		RequesterID:   "req-001",
		EmployeeName:  "张伟",
		Department:    "Engineering",
		PaymentReason: "field equipment purchase",
		Currency:      "USD",
		Amount:        amount,
		PaymentType:   entity.PaymentTypePurchase,
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	return r
}

func TestCreateValidation(t *testing.T) {
	e := NewEngine()

	tests := []struct {
		name string
		in   CreateInput
	}{
		{"zero amount", CreateInput{Amount: 0, PaymentReason: "x", PaymentType: entity.PaymentTypeOthers}},
		{"negative amount", CreateInput{Amount: -50, PaymentReason: "x", PaymentType: entity.PaymentTypeOthers}},
		{"blank reason", CreateInput{Amount: 100, PaymentReason: "   ", PaymentType: entity.PaymentTypeOthers}},
		{"unknown payment type", CreateInput{Amount: 100, PaymentReason: "x", PaymentType: "Petty Cash"}},
		{"attachment missing url", CreateInput{
			Amount: 100, PaymentReason: "x", PaymentType: entity.PaymentTypeOthers,
			Attachments: []entity.Attachment{{FileName: "quote.pdf"}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := e.Create(tt.in)
			if KindOf(err) != KindValidationFailed {
				t.Fatalf("expected ValidationFailed, got %v", err)
			}
		})
	}
}

func TestCreateDefaults(t *testing.T) {
	e := NewEngine()
	r, intents, err := e.Create(CreateInput{
		ID: "i1", Code: "IMP-202601-0002", RequesterID: "req-001",
		Department: "Finance", PaymentReason: "travel advance",
		Amount: 250, PaymentType: entity.PaymentTypeTravel,
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if r.Status != entity.StatusPendingHod {
		t.Fatalf("expected pending_hod, got %s", r.Status)
	}
	if r.Currency != "USD" {
		t.Fatalf("expected default currency USD, got %s", r.Currency)
	}
	if r.DueDate != nil {
		t.Fatal("due date must stay nil before disbursement")
	}
	if len(intents) != 1 || intents[0].Template != TplRequestSubmitted || intents[0].Role != entity.RoleHod {
		t.Fatalf("expected one notify-HOD intent, got %+v", intents)
	}
	if intents[0].Department != "Finance" {
		t.Fatalf("HOD intent must carry the department, got %q", intents[0].Department)
	}
}

// TestFullLifecycleHappyPath 申请1000 → 放款900 → 核销700 → 余额200
func TestFullLifecycleHappyPath(t *testing.T) {
	now := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	e := testEngine(now)
	r := createTestRequest(t, e, 1000)

	if _, err := e.ApproveByHod(r, hodActor, "ok"); err != nil {
		t.Fatalf("hod approval failed: %v", err)
	}
	if r.Status != entity.StatusPendingAccountant {
		t.Fatalf("expected pending_accountant, got %s", r.Status)
	}
	if r.HodApproval == nil || r.HodApproval.ApproverID != hodActor.ID {
		t.Fatal("hod approval record not written")
	}

	if _, err := e.ApproveByAccountant(r, accountantActor, ""); err != nil {
		t.Fatalf("accountant approval failed: %v", err)
	}
	if r.Status != entity.StatusApproved {
		t.Fatalf("expected approved, got %s", r.Status)
	}

	intents, err := e.RecordDisbursement(r, accountantActor, 900, "partial disbursement")
	if err != nil {
		t.Fatalf("disbursement failed: %v", err)
	}
	if r.Status != entity.StatusPendingAcknowledgment {
		t.Fatalf("expected pending_acknowledgment, got %s", r.Status)
	}
	wantDue := now.Add(72 * time.Hour)
	if r.DueDate == nil || !r.DueDate.Equal(wantDue) {
		t.Fatalf("expected due date %v, got %v", wantDue, r.DueDate)
	}
	if len(intents) != 1 || intents[0].UserID != r.RequesterID {
		t.Fatalf("expected notify-requester intent, got %+v", intents)
	}

	if _, err := e.AcknowledgeReceipt(r, requesterActor, true, ""); err != nil {
		t.Fatalf("acknowledge failed: %v", err)
	}
	if r.Status != entity.StatusDisbursed {
		t.Fatalf("expected disbursed, got %s", r.Status)
	}

	receipts := []entity.Receipt{
		{Description: "drill press", Amount: 400, FileURL: "/files/r1.pdf"},
		{Description: "consumables", Amount: 300, FileURL: "/files/r2.pdf"},
	}
	if _, err := e.SubmitAccounting(r, requesterActor, receipts, "done"); err != nil {
		t.Fatalf("accounting failed: %v", err)
	}
	if r.Status != entity.StatusPendingAccounting {
		t.Fatalf("expected pending_accounting_approval, got %s", r.Status)
	}
	if r.Accounting.TotalAmount != 700 {
		t.Fatalf("expected total 700, got %v", r.Accounting.TotalAmount)
	}
	if r.Accounting.Balance != 200 {
		t.Fatalf("expected balance 200 (900 disbursed - 700 spent), got %v", r.Accounting.Balance)
	}

	if _, err := e.ApproveAccounting(r, accountantActor, "verified"); err != nil {
		t.Fatalf("accounting approval failed: %v", err)
	}
	if r.Status != entity.StatusAccounted {
		t.Fatalf("expected accounted, got %s", r.Status)
	}
	if !r.Status.IsTerminal() {
		t.Fatal("accounted must be terminal")
	}
}

// TestDisputeLoop 未收到款 → 争议 → 处理为已放款 → 再次确认停留在resolved_dispute
func TestDisputeLoop(t *testing.T) {
	e := NewEngine()
	r := createTestRequest(t, e, 500)
	mustAdvanceToAcknowledgment(t, e, r, 500)

	intents, err := e.AcknowledgeReceipt(r, requesterActor, false, "nothing arrived")
	if err != nil {
		t.Fatalf("dispute failed: %v", err)
	}
	if r.Status != entity.StatusDisputed {
		t.Fatalf("expected disputed, got %s", r.Status)
	}
	if !r.HasDisputeHistory {
		t.Fatal("dispute history flag must be set")
	}
	if len(intents) != 2 {
		t.Fatalf("expected admin + requester intents, got %d", len(intents))
	}
	if !intents[0].Urgent || intents[0].Role != entity.RoleAdmin {
		t.Fatalf("first intent must be urgent admin escalation, got %+v", intents[0])
	}

	if _, err := e.ResolveDispute(r, adminActor, "disbursed", "bank confirmed transfer"); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if r.Status != entity.StatusResolvedDispute {
		t.Fatalf("expected resolved_dispute, got %s", r.Status)
	}

	// 争议历史存在时，再次确认不会回到disbursed
	if _, err := e.AcknowledgeReceipt(r, requesterActor, true, "found it"); err != nil {
		t.Fatalf("re-acknowledge failed: %v", err)
	}
	if r.Status != entity.StatusResolvedDispute {
		t.Fatalf("expected resolved_dispute to stick, got %s", r.Status)
	}
}

func TestResolveDisputeCancels(t *testing.T) {
	e := NewEngine()
	r := createTestRequest(t, e, 500)
	mustAdvanceToAcknowledgment(t, e, r, 500)
	if _, err := e.AcknowledgeReceipt(r, requesterActor, false, ""); err != nil {
		t.Fatalf("dispute failed: %v", err)
	}

	// resolution 不是精确的 "disbursed" 一律取消
	if _, err := e.ResolveDispute(r, adminActor, "funds returned", ""); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if r.Status != entity.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", r.Status)
	}
	if !r.Status.IsTerminal() {
		t.Fatal("cancelled must be terminal")
	}
}

func TestResolveDisputeRequiresResolution(t *testing.T) {
	e := NewEngine()
	r := createTestRequest(t, e, 500)
	mustAdvanceToAcknowledgment(t, e, r, 500)
	if _, err := e.AcknowledgeReceipt(r, requesterActor, false, ""); err != nil {
		t.Fatalf("dispute failed: %v", err)
	}
	if _, err := e.ResolveDispute(r, adminActor, "  ", ""); KindOf(err) != KindValidationFailed {
		t.Fatalf("expected ValidationFailed for blank resolution, got %v", err)
	}
}

func TestRedisputeAfterResolutionIsRejected(t *testing.T) {
	e := NewEngine()
	r := createTestRequest(t, e, 500)
	mustAdvanceToAcknowledgment(t, e, r, 500)
	if _, err := e.AcknowledgeReceipt(r, requesterActor, false, ""); err != nil {
		t.Fatalf("dispute failed: %v", err)
	}
	if _, err := e.ResolveDispute(r, adminActor, "disbursed", ""); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	// resolved_dispute 状态下不能再次报告未收到，需走管理员
	_, err := e.AcknowledgeReceipt(r, requesterActor, false, "still nothing")
	if KindOf(err) != KindPreconditionFailed {
		t.Fatalf("expected PreconditionFailed, got %v", err)
	}
	if r.Status != entity.StatusResolvedDispute {
		t.Fatalf("status must be unchanged, got %s", r.Status)
	}
}

func TestRejectRequiresReason(t *testing.T) {
	e := NewEngine()
	r := createTestRequest(t, e, 300)
	if _, err := e.Reject(r, hodActor, ""); KindOf(err) != KindValidationFailed {
		t.Fatalf("expected ValidationFailed, got %v", err)
	}
	if r.Status != entity.StatusPendingHod {
		t.Fatal("failed reject must not change status")
	}

	if _, err := e.Reject(r, hodActor, "no budget"); err != nil {
		t.Fatalf("reject failed: %v", err)
	}
	if r.Status != entity.StatusRejected {
		t.Fatalf("expected rejected, got %s", r.Status)
	}
	if r.Rejection.Role != entity.RoleHod {
		t.Fatalf("rejection role should record the stage, got %s", r.Rejection.Role)
	}
}

func TestRejectRecordsAccountantStage(t *testing.T) {
	e := NewEngine()
	r := createTestRequest(t, e, 300)
	if _, err := e.ApproveByHod(r, hodActor, ""); err != nil {
		t.Fatalf("hod approval failed: %v", err)
	}
	if _, err := e.Reject(r, accountantActor, "missing quotes"); err != nil {
		t.Fatalf("reject failed: %v", err)
	}
	if r.Rejection.Role != entity.RoleAccountant {
		t.Fatalf("expected accountant stage, got %s", r.Rejection.Role)
	}
}

func TestRevisionRoundTrip(t *testing.T) {
	e := NewEngine()
	r := createTestRequest(t, e, 300)

	if _, err := e.RequestRevision(r, hodActor, "split into line items"); err != nil {
		t.Fatalf("request revision failed: %v", err)
	}
	if r.Status != entity.StatusRevisionRequested {
		t.Fatalf("expected revision_requested, got %s", r.Status)
	}

	// 只有申请人能重新提交
	if _, err := e.Resubmit(r, hodActor); KindOf(err) != KindUnauthorized {
		t.Fatalf("expected Unauthorized for non-requester resubmit, got %v", err)
	}

	intents, err := e.Resubmit(r, requesterActor)
	if err != nil {
		t.Fatalf("resubmit failed: %v", err)
	}
	if r.Status != entity.StatusPendingHod {
		t.Fatalf("resubmit must restart the chain at pending_hod, got %s", r.Status)
	}
	if r.Revision.ResubmittedAt == nil {
		t.Fatal("resubmitted_at not recorded")
	}
	if len(intents) != 1 || intents[0].Template != TplRequestSubmitted {
		t.Fatalf("expected notify-HOD intent, got %+v", intents)
	}
}

func TestSubmitAccountingValidation(t *testing.T) {
	e := NewEngine()
	r := createTestRequest(t, e, 500)
	mustAdvanceToAcknowledgment(t, e, r, 500)
	if _, err := e.AcknowledgeReceipt(r, requesterActor, true, ""); err != nil {
		t.Fatalf("acknowledge failed: %v", err)
	}

	tests := []struct {
		name     string
		receipts []entity.Receipt
	}{
		{"no receipts", nil},
		{"blank description", []entity.Receipt{{Description: " ", Amount: 10, FileURL: "/f.pdf"}}},
		{"negative amount", []entity.Receipt{{Description: "taxi", Amount: -5, FileURL: "/f.pdf"}}},
		{"missing file", []entity.Receipt{{Description: "taxi", Amount: 5}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.SubmitAccounting(r, requesterActor, tt.receipts, "")
			if KindOf(err) != KindValidationFailed {
				t.Fatalf("expected ValidationFailed, got %v", err)
			}
			if r.Status != entity.StatusDisbursed {
				t.Fatal("failed submission must not change status")
			}
		})
	}
}

func TestOverspendIsReportedNotForbidden(t *testing.T) {
	e := NewEngine()
	r := createTestRequest(t, e, 500)
	mustAdvanceToAcknowledgment(t, e, r, 500)
	if _, err := e.AcknowledgeReceipt(r, requesterActor, true, ""); err != nil {
		t.Fatalf("acknowledge failed: %v", err)
	}

	receipts := []entity.Receipt{{Description: "emergency parts", Amount: 620, FileURL: "/f.pdf"}}
	if _, err := e.SubmitAccounting(r, requesterActor, receipts, ""); err != nil {
		t.Fatalf("overspend submission failed: %v", err)
	}
	if r.Accounting.Balance != -120 {
		t.Fatalf("expected balance -120, got %v", r.Accounting.Balance)
	}
}

func TestApproveAccountingAppendsComment(t *testing.T) {
	e := NewEngine()
	r := createTestRequest(t, e, 500)
	mustAdvanceToAcknowledgment(t, e, r, 500)
	if _, err := e.AcknowledgeReceipt(r, requesterActor, true, ""); err != nil {
		t.Fatalf("acknowledge failed: %v", err)
	}
	receipts := []entity.Receipt{{Description: "parts", Amount: 100, FileURL: "/f.pdf"}}
	if _, err := e.SubmitAccounting(r, requesterActor, receipts, "all receipts attached"); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	if _, err := e.ApproveAccounting(r, accountantActor, "checked against bank statement"); err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	got := r.Accounting.Comments
	if !strings.Contains(got, "all receipts attached") || !strings.Contains(got, "checked against bank statement") {
		t.Fatalf("approval comment must append, not overwrite: %q", got)
	}
	if r.Accounting.ApprovedBy != accountantActor.ID || r.Accounting.ApprovedAt == nil {
		t.Fatal("approval metadata not recorded")
	}
}

func TestMarkOverdue(t *testing.T) {
	now := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	e := testEngine(now)
	r := createTestRequest(t, e, 500)
	mustAdvanceToAcknowledgment(t, e, r, 500)
	if _, err := e.AcknowledgeReceipt(r, requesterActor, true, ""); err != nil {
		t.Fatalf("acknowledge failed: %v", err)
	}

	// 未到期：拒绝
	if _, err := e.MarkOverdue(r); KindOf(err) != KindPreconditionFailed {
		t.Fatalf("expected PreconditionFailed before due date, got %v", err)
	}

	// 过期后：转overdue并通知申请人+部门HOD
	e.Now = func() time.Time { return now.Add(73 * time.Hour) }
	intents, err := e.MarkOverdue(r)
	if err != nil {
		t.Fatalf("mark overdue failed: %v", err)
	}
	if r.Status != entity.StatusOverdue {
		t.Fatalf("expected overdue, got %s", r.Status)
	}
	if len(intents) != 2 {
		t.Fatalf("expected requester + hod intents, got %d", len(intents))
	}
	if intents[1].Role != entity.RoleHod || intents[1].Department != r.Department {
		t.Fatalf("second intent must target the department HOD, got %+v", intents[1])
	}

	// 幂等：再跑一遍是no-op
	if _, err := e.MarkOverdue(r); KindOf(err) != KindPreconditionFailed {
		t.Fatalf("expected PreconditionFailed on second sweep, got %v", err)
	}
	if r.Status != entity.StatusOverdue {
		t.Fatalf("second sweep must not change status, got %s", r.Status)
	}
}

func TestDueDateFixedAtDisbursement(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)
	e := testEngine(now)
	r := createTestRequest(t, e, 500)
	mustAdvanceToAcknowledgment(t, e, r, 500)

	due := *r.DueDate

	// 争议来回不会移动dueDate
	if _, err := e.AcknowledgeReceipt(r, requesterActor, false, ""); err != nil {
		t.Fatalf("dispute failed: %v", err)
	}
	if _, err := e.ResolveDispute(r, adminActor, "disbursed", ""); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if !r.DueDate.Equal(due) {
		t.Fatalf("due date moved from %v to %v", due, r.DueDate)
	}
}

func mustAdvanceToAcknowledgment(t *testing.T, e *Engine, r *entity.ImprestRequest, amount float64) {
	t.Helper()
	if _, err := e.ApproveByHod(r, hodActor, ""); err != nil {
		t.Fatalf("hod approval failed: %v", err)
	}
	if _, err := e.ApproveByAccountant(r, accountantActor, ""); err != nil {
		t.Fatalf("accountant approval failed: %v", err)
	}
	if _, err := e.RecordDisbursement(r, accountantActor, amount, ""); err != nil {
		t.Fatalf("disbursement failed: %v", err)
	}
}
