package entity

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Status imprest request lifecycle status
type Status string

const (
	StatusPendingHod            Status = "pending_hod"
	StatusPendingAccountant     Status = "pending_accountant"
	StatusApproved              Status = "approved"
	StatusRejected              Status = "rejected"
	StatusDisbursed             Status = "disbursed"
	StatusPendingAcknowledgment Status = "pending_acknowledgment"
	StatusDisputed              Status = "disputed"
	StatusResolvedDispute       Status = "resolved_dispute"
	StatusCancelled             Status = "cancelled"
	StatusPendingAccounting     Status = "pending_accounting_approval"
	StatusAccounted             Status = "accounted"
	StatusOverdue               Status = "overdue"
	StatusRevisionRequested     Status = "revision_requested"
)

// AllStatuses 全部合法状态
var AllStatuses = []Status{
	StatusPendingHod, StatusPendingAccountant, StatusApproved, StatusRejected,
	StatusDisbursed, StatusPendingAcknowledgment, StatusDisputed,
	StatusResolvedDispute, StatusCancelled, StatusPendingAccounting,
	StatusAccounted, StatusOverdue, StatusRevisionRequested,
}

// IsTerminal reports whether no further transition may leave this status.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusRejected, StatusCancelled, StatusAccounted:
		return true
	}
	return false
}

// 付款类型
const (
	PaymentTypeContingency = "Contingency Cash"
	PaymentTypeTravel      = "Travel Cash"
	PaymentTypePurchase    = "Purchase Cash"
	PaymentTypeOthers      = "Others"
)

// PaymentTypes 固定付款类型枚举
var PaymentTypes = []string{
	PaymentTypeContingency, PaymentTypeTravel, PaymentTypePurchase, PaymentTypeOthers,
}

// ImprestRequest 备用金申请单 (the aggregate)
type ImprestRequest struct {
	ID   string `json:"id" gorm:"primaryKey;size:32"`
	Code string `json:"code" gorm:"size:32;uniqueIndex;not null"` // IMP-202608-0001

	// Static fields, fixed at creation
	RequesterID   string         `json:"requester_id" gorm:"size:32;not null;index"`
	EmployeeName  string         `json:"employee_name" gorm:"size:100;not null"`
	Department    string         `json:"department" gorm:"size:100;index"`
	RequestDate   time.Time      `json:"request_date"`
	PaymentReason string         `json:"payment_reason" gorm:"size:200;not null"`
	Currency      string         `json:"currency" gorm:"size:10;default:USD"`
	Amount        float64        `json:"amount" gorm:"type:decimal(15,2);not null"`
	PaymentType   string         `json:"payment_type" gorm:"size:30;not null"`
	Explanation   string         `json:"explanation" gorm:"type:text"`
	Attachments   AttachmentList `json:"attachments" gorm:"type:jsonb"`

	// Mutable lifecycle fields
	Status            Status     `json:"status" gorm:"size:30;not null;default:pending_hod;index"`
	DueDate           *time.Time `json:"due_date"`
	HasDisputeHistory bool       `json:"has_dispute_history" gorm:"default:false"`

	// One record per lifecycle event the request has passed through
	HodApproval        *ApprovalRecord           `json:"hod_approval,omitempty" gorm:"type:jsonb"`
	AccountantApproval *ApprovalRecord           `json:"accountant_approval,omitempty" gorm:"type:jsonb"`
	Rejection          *RejectionRecord          `json:"rejection,omitempty" gorm:"type:jsonb"`
	Revision           *RevisionRecord           `json:"revision,omitempty" gorm:"type:jsonb"`
	Disbursement       *DisbursementRecord       `json:"disbursement,omitempty" gorm:"type:jsonb"`
	Acknowledgment     *AcknowledgmentRecord     `json:"acknowledgment,omitempty" gorm:"type:jsonb"`
	DisputeResolution  *DisputeResolutionRecord  `json:"dispute_resolution,omitempty" gorm:"type:jsonb"`
	AccountingRevision *AccountingRevisionRecord `json:"accounting_revision,omitempty" gorm:"type:jsonb"`
	Accounting         *AccountingRecord         `json:"accounting,omitempty" gorm:"type:jsonb"`

	// Optimistic concurrency: compare-and-set on save
	Version int `json:"version" gorm:"not null;default:0"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ImprestRequest) TableName() string {
	return "imprest_requests"
}

// Attachment 已上传的附件引用（上传本身在外部完成）
type Attachment struct {
	FileName   string    `json:"file_name"`
	FileURL    string    `json:"file_url"`
	UploadedAt time.Time `json:"uploaded_at"`
}

type AttachmentList []Attachment

func (a AttachmentList) Value() (driver.Value, error)  { return jsonbValue(a) }
func (a *AttachmentList) Scan(value interface{}) error { return jsonbScan(a, value) }

// Receipt 报销凭证行
type Receipt struct {
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
	FileName    string  `json:"file_name"`
	FileURL     string  `json:"file_url"`
}

// ApprovalRecord HOD或会计审批记录
type ApprovalRecord struct {
	ApproverID string    `json:"approver_id"`
	Comments   string    `json:"comments,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

func (r ApprovalRecord) Value() (driver.Value, error)  { return jsonbValue(r) }
func (r *ApprovalRecord) Scan(value interface{}) error { return jsonbScan(r, value) }

// RejectionRecord 驳回记录
type RejectionRecord struct {
	RejectedBy string    `json:"rejected_by"`
	Role       string    `json:"role"`
	Reason     string    `json:"reason"`
	Timestamp  time.Time `json:"timestamp"`
}

func (r RejectionRecord) Value() (driver.Value, error)  { return jsonbValue(r) }
func (r *RejectionRecord) Scan(value interface{}) error { return jsonbScan(r, value) }

// RevisionRecord 退回修改记录
type RevisionRecord struct {
	RequestedBy   string     `json:"requested_by"`
	Role          string     `json:"role"`
	Comments      string     `json:"comments,omitempty"`
	Timestamp     time.Time  `json:"timestamp"`
	ResubmittedAt *time.Time `json:"resubmitted_at,omitempty"`
}

func (r RevisionRecord) Value() (driver.Value, error)  { return jsonbValue(r) }
func (r *RevisionRecord) Scan(value interface{}) error { return jsonbScan(r, value) }

// DisbursementRecord 放款记录
type DisbursementRecord struct {
	AccountantID string    `json:"accountant_id"`
	Amount       float64   `json:"amount"`
	Comments     string    `json:"comments,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

func (r DisbursementRecord) Value() (driver.Value, error)  { return jsonbValue(r) }
func (r *DisbursementRecord) Scan(value interface{}) error { return jsonbScan(r, value) }

// AcknowledgmentRecord 收款确认记录
type AcknowledgmentRecord struct {
	RequesterID string    `json:"requester_id"`
	Received    bool      `json:"received"`
	Comments    string    `json:"comments,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

func (r AcknowledgmentRecord) Value() (driver.Value, error)  { return jsonbValue(r) }
func (r *AcknowledgmentRecord) Scan(value interface{}) error { return jsonbScan(r, value) }

// DisputeResolutionRecord 争议处理记录
type DisputeResolutionRecord struct {
	AdminID    string    `json:"admin_id"`
	Resolution string    `json:"resolution"`
	Comments   string    `json:"comments,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

func (r DisputeResolutionRecord) Value() (driver.Value, error)  { return jsonbValue(r) }
func (r *DisputeResolutionRecord) Scan(value interface{}) error { return jsonbScan(r, value) }

// AccountingRevisionRecord 核销退回记录
type AccountingRevisionRecord struct {
	AccountantID string    `json:"accountant_id"`
	Comments     string    `json:"comments,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

func (r AccountingRevisionRecord) Value() (driver.Value, error)  { return jsonbValue(r) }
func (r *AccountingRevisionRecord) Scan(value interface{}) error { return jsonbScan(r, value) }

// AccountingRecord 核销记录，金额由财务计算器推导
type AccountingRecord struct {
	SubmittedBy string     `json:"submitted_by"`
	Receipts    []Receipt  `json:"receipts"`
	TotalAmount float64    `json:"total_amount"`
	Balance     float64    `json:"balance"`
	Comments    string     `json:"comments,omitempty"`
	ApprovedBy  string     `json:"approved_by,omitempty"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	Timestamp   time.Time  `json:"timestamp"`
}

func (r AccountingRecord) Value() (driver.Value, error)  { return jsonbValue(r) }
func (r *AccountingRecord) Scan(value interface{}) error { return jsonbScan(r, value) }

func jsonbValue(v interface{}) (driver.Value, error) {
	return json.Marshal(v)
}

func jsonbScan(dst interface{}, value interface{}) error {
	if value == nil {
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("failed to scan JSONB: %v", value)
	}
	return json.Unmarshal(bytes, dst)
}
