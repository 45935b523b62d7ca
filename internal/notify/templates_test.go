package notify

import (
	"strings"
	"testing"

	"github.com/bitfantasy/imprest/internal/imprest/lifecycle"
)

func TestRenderFillsPlaceholders(t *testing.T) {
	subject, body, err := Render(lifecycle.TplRequestSubmitted, map[string]string{
		"code":          "IMP-202601-0001",
		"employee_name": "张伟",
		"department":    "Engineering",
		"currency":      "USD",
		"amount":        "1000.00",
		"payment_type":  "Purchase Cash",
	})
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if !strings.Contains(subject, "IMP-202601-0001") {
		t.Fatalf("subject missing code: %q", subject)
	}
	if !strings.Contains(body, "张伟") || !strings.Contains(body, "USD 1000.00") {
		t.Fatalf("body missing payload values: %q", body)
	}
	if strings.Contains(body, "{") {
		t.Fatalf("unfilled placeholder left in body: %q", body)
	}
}

func TestRenderUnknownKind(t *testing.T) {
	if _, _, err := Render(lifecycle.TemplateKind("no_such_template"), nil); err == nil {
		t.Fatal("expected error for unknown template kind")
	}
}

// 每个生命周期通知都必须有文案，少一条就是静默丢通知
func TestEveryTemplateKindHasTemplate(t *testing.T) {
	kinds := []lifecycle.TemplateKind{
		lifecycle.TplRequestSubmitted,
		lifecycle.TplHodApproved,
		lifecycle.TplAwaitingAccountant,
		lifecycle.TplAccountantApproved,
		lifecycle.TplRequestRejected,
		lifecycle.TplRevisionRequested,
		lifecycle.TplFundsDisbursed,
		lifecycle.TplReceiptConfirmed,
		lifecycle.TplDisputeRaised,
		lifecycle.TplDisputeLogged,
		lifecycle.TplDisputeResolved,
		lifecycle.TplDisputeCancelled,
		lifecycle.TplAccountingSent,
		lifecycle.TplAccountingRevision,
		lifecycle.TplAccountingApproved,
		lifecycle.TplRequestOverdue,
	}
	for _, kind := range kinds {
		if _, _, err := Render(kind, map[string]string{}); err != nil {
			t.Errorf("missing template for %s", kind)
		}
	}
}
