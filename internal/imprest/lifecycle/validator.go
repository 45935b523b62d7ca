package lifecycle

import (
	"github.com/bitfantasy/imprest/internal/imprest/entity"
)

// Operation 生命周期操作名
type Operation string

const (
	OpApproveByHod        Operation = "approve_by_hod"
	OpApproveByAccountant Operation = "approve_by_accountant"
	OpReject              Operation = "reject"
	OpRequestRevision     Operation = "request_revision"
	OpResubmit            Operation = "resubmit"
	OpRecordDisbursement  Operation = "record_disbursement"
	OpAcknowledgeReceipt  Operation = "acknowledge_receipt"
	OpResolveDispute      Operation = "resolve_dispute"
	OpSubmitAccounting    Operation = "submit_accounting"
	OpRequestAcctRevision Operation = "request_accounting_revision"
	OpApproveAccounting   Operation = "approve_accounting"
	OpCheckOverdue        Operation = "check_overdue"
)

// Actor 当前操作人（来自身份源，核心只消费id+角色）
type Actor struct {
	ID    string
	Roles []string
}

// System is the scheduler actor for the overdue sweep.
var System = Actor{ID: "system", Roles: []string{"system"}}

func (a Actor) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// transitionRule one row of the transition table: which prior statuses permit
// the operation and who may perform it. Exactly one of Roles / RequesterOnly /
// SystemOnly applies.
type transitionRule struct {
	From          []entity.Status
	Roles         []string
	RequesterOnly bool
	SystemOnly    bool
}

// transitions 唯一的状态转换表 — 非法转换在这里统一拒绝
var transitions = map[Operation]transitionRule{
	OpApproveByHod: {
		From:  []entity.Status{entity.StatusPendingHod},
		Roles: []string{entity.RoleHod},
	},
	OpApproveByAccountant: {
		From:  []entity.Status{entity.StatusPendingAccountant},
		Roles: []string{entity.RoleAccountant},
	},
	OpReject: {
		From:  []entity.Status{entity.StatusPendingHod, entity.StatusPendingAccountant},
		Roles: []string{entity.RoleHod, entity.RoleAccountant},
	},
	OpRequestRevision: {
		From:  []entity.Status{entity.StatusPendingHod, entity.StatusPendingAccountant},
		Roles: []string{entity.RoleHod, entity.RoleAccountant},
	},
	OpResubmit: {
		From:          []entity.Status{entity.StatusRevisionRequested},
		RequesterOnly: true,
	},
	OpRecordDisbursement: {
		From:  []entity.Status{entity.StatusApproved},
		Roles: []string{entity.RoleAccountant},
	},
	OpAcknowledgeReceipt: {
		From:          []entity.Status{entity.StatusPendingAcknowledgment, entity.StatusResolvedDispute},
		RequesterOnly: true,
	},
	OpResolveDispute: {
		From:  []entity.Status{entity.StatusDisputed},
		Roles: []string{entity.RoleAdmin},
	},
	OpSubmitAccounting: {
		From:          []entity.Status{entity.StatusDisbursed},
		RequesterOnly: true,
	},
	OpRequestAcctRevision: {
		From:  []entity.Status{entity.StatusPendingAccounting},
		Roles: []string{entity.RoleAccountant},
	},
	OpApproveAccounting: {
		From:  []entity.Status{entity.StatusPendingAccounting},
		Roles: []string{entity.RoleAccountant},
	},
	OpCheckOverdue: {
		From:       []entity.Status{entity.StatusDisbursed},
		SystemOnly: true,
	},
}

// Validate checks the transition table for the requested operation. It returns
// nil on allow, a PreconditionFailed error when the current status does not
// permit the operation, and an Unauthorized error on an actor mismatch.
// It never mutates the aggregate.
func Validate(r *entity.ImprestRequest, op Operation, actor Actor) error {
	rule, ok := transitions[op]
	if !ok {
		return PreconditionFailedf("unknown operation %q", op)
	}

	allowed := false
	for _, from := range rule.From {
		if r.Status == from {
			allowed = true
			break
		}
	}
	if !allowed {
		return PreconditionFailedf("operation %s not allowed in status %s", op, r.Status)
	}

	switch {
	case rule.SystemOnly:
		if !actor.HasRole("system") {
			return Unauthorizedf("operation %s is scheduler-only", op)
		}
	case rule.RequesterOnly:
		if actor.ID == "" || actor.ID != r.RequesterID {
			return Unauthorizedf("only the original requester may perform %s", op)
		}
	default:
		ok := false
		for _, role := range rule.Roles {
			if actor.HasRole(role) {
				ok = true
				break
			}
		}
		if !ok {
			return Unauthorizedf("actor %s lacks required role for %s", actor.ID, op)
		}
	}

	return nil
}
