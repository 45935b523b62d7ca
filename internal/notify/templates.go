package notify

import (
	"fmt"
	"strings"

	"github.com/bitfantasy/imprest/internal/imprest/lifecycle"
)

// Template 通知文案，{key}占位符由intent payload填充
type Template struct {
	Subject string
	Body    string
}

// templates 模板目录 — 每个生命周期通知一条
var templates = map[lifecycle.TemplateKind]Template{
	lifecycle.TplRequestSubmitted: {
		Subject: "Imprest {code} awaiting your approval",
		Body:    "{employee_name} ({department}) has requested an imprest of {currency} {amount} ({payment_type}). Please review and approve.",
	},
	lifecycle.TplHodApproved: {
		Subject: "Imprest {code} approved by your HOD",
		Body:    "Your imprest request {code} for {currency} {amount} was approved by your head of department and forwarded to accounts.",
	},
	lifecycle.TplAwaitingAccountant: {
		Subject: "Imprest {code} awaiting accounts approval",
		Body:    "Imprest {code} from {employee_name} ({department}) for {currency} {amount} has HOD approval and awaits accounts review.",
	},
	lifecycle.TplAccountantApproved: {
		Subject: "Imprest {code} fully approved",
		Body:    "Your imprest request {code} for {currency} {amount} has been approved by accounts. Disbursement will follow.",
	},
	lifecycle.TplRequestRejected: {
		Subject: "Imprest {code} rejected",
		Body:    "Your imprest request {code} was rejected. Reason: {reason}",
	},
	lifecycle.TplRevisionRequested: {
		Subject: "Imprest {code} returned for revision",
		Body:    "Your imprest request {code} was returned for revision. Comments: {comments}",
	},
	lifecycle.TplFundsDisbursed: {
		Subject: "Imprest {code}: funds disbursed — please confirm receipt",
		Body:    "{currency} {disbursed_amount} has been disbursed for imprest {code}. Please confirm receipt in the system. Accounting is due by {due_date}.",
	},
	lifecycle.TplReceiptConfirmed: {
		Subject: "Imprest {code}: receipt confirmed",
		Body:    "Receipt of funds for imprest {code} is confirmed. Submit your accounting with receipts by {due_date}.",
	},
	lifecycle.TplDisputeRaised: {
		Subject: "URGENT: disputed disbursement on imprest {code}",
		Body:    "{employee_name} reports not having received the funds disbursed for imprest {code} ({currency} {disbursed_amount}). Please investigate. Comments: {comments}",
	},
	lifecycle.TplDisputeLogged: {
		Subject: "Imprest {code}: dispute logged",
		Body:    "Your non-receipt report for imprest {code} has been logged and escalated to an administrator.",
	},
	lifecycle.TplDisputeResolved: {
		Subject: "Imprest {code}: dispute resolved — please re-confirm receipt",
		Body:    "The dispute on imprest {code} has been resolved as disbursed. Please re-confirm receipt of the funds.",
	},
	lifecycle.TplDisputeCancelled: {
		Subject: "Imprest {code} cancelled",
		Body:    "Following dispute review, imprest {code} has been cancelled. Resolution: {resolution}",
	},
	lifecycle.TplAccountingSent: {
		Subject: "Imprest {code}: accounting submitted",
		Body:    "{employee_name} submitted accounting for imprest {code}: spent {currency} {total_spent} of {currency} {disbursed_amount}, balance {currency} {balance}. Please review.",
	},
	lifecycle.TplAccountingRevision: {
		Subject: "Imprest {code}: accounting returned",
		Body:    "Your accounting for imprest {code} was returned for revision. Comments: {comments}",
	},
	lifecycle.TplAccountingApproved: {
		Subject: "Imprest {code} accounted",
		Body:    "Accounting for imprest {code} has been approved. Balance: {currency} {balance}. The request is now closed.",
	},
	lifecycle.TplRequestOverdue: {
		Subject: "Imprest {code} is overdue",
		Body:    "Accounting for imprest {code} ({employee_name}, {department}) was due by {due_date} and has not been submitted. The request is now marked overdue.",
	},
}

// Render fills the template for the given kind with payload values.
func Render(kind lifecycle.TemplateKind, payload map[string]string) (subject, body string, err error) {
	tpl, ok := templates[kind]
	if !ok {
		return "", "", fmt.Errorf("unknown template kind %q", kind)
	}
	return expand(tpl.Subject, payload), expand(tpl.Body, payload), nil
}

func expand(s string, payload map[string]string) string {
	for k, v := range payload {
		s = strings.ReplaceAll(s, "{"+k+"}", v)
	}
	return s
}
