package lifecycle

// TemplateKind 通知模板类型
type TemplateKind string

const (
	TplRequestSubmitted   TemplateKind = "request_submitted"   // → department HOD
	TplHodApproved        TemplateKind = "hod_approved"        // → requester
	TplAwaitingAccountant TemplateKind = "awaiting_accountant" // → accountants
	TplAccountantApproved TemplateKind = "accountant_approved" // → requester
	TplRequestRejected    TemplateKind = "request_rejected"    // → requester
	TplRevisionRequested  TemplateKind = "revision_requested"  // → requester
	TplFundsDisbursed     TemplateKind = "funds_disbursed"     // → requester, ack prompt
	TplReceiptConfirmed   TemplateKind = "receipt_confirmed"   // → requester
	TplDisputeRaised      TemplateKind = "dispute_raised"      // → admins, urgent
	TplDisputeLogged      TemplateKind = "dispute_logged"      // → requester
	TplDisputeResolved    TemplateKind = "dispute_resolved"    // → requester, re-confirm
	TplDisputeCancelled   TemplateKind = "dispute_cancelled"   // → requester
	TplAccountingSent     TemplateKind = "accounting_submitted" // → accountants
	TplAccountingRevision TemplateKind = "accounting_revision" // → requester
	TplAccountingApproved TemplateKind = "accounting_approved" // → requester
	TplRequestOverdue     TemplateKind = "request_overdue"     // → requester + department HOD
)

// Intent a notification the engine wants sent. Dispatch is fire-and-forget
// and happens after the transition has committed; the payload carries only
// already-computed values and never triggers further core logic.
type Intent struct {
	Template TemplateKind `json:"template"`
	// Exactly one of UserID / Role is set. Role fan-out may be narrowed to a
	// department (HOD notifications).
	UserID     string            `json:"user_id,omitempty"`
	Role       string            `json:"role,omitempty"`
	Department string            `json:"department,omitempty"`
	Urgent     bool              `json:"urgent,omitempty"`
	Payload    map[string]string `json:"payload"`
}

func toRequester(r string, tpl TemplateKind, payload map[string]string) Intent {
	return Intent{Template: tpl, UserID: r, Payload: payload}
}

func toRole(role, department string, tpl TemplateKind, payload map[string]string) Intent {
	return Intent{Template: tpl, Role: role, Department: department, Payload: payload}
}
