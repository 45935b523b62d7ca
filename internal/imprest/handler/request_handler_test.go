package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/bitfantasy/imprest/internal/imprest/entity"
	"github.com/bitfantasy/imprest/internal/imprest/repository"
	"github.com/bitfantasy/imprest/internal/imprest/service"
	"github.com/bitfantasy/imprest/internal/imprest/testutil"
	"github.com/bitfantasy/imprest/internal/notify"
	"go.uber.org/zap"
)

func setupRequestTest(t *testing.T) *testutil.TestEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)

	repos := repository.NewRepositories(db)
	// 网关为空：通知静默丢弃；redis为空：扫描不加锁
	dispatcher := notify.NewDispatcher(nil, repos.User, zap.NewNop())
	services := service.NewServices(repos, nil, dispatcher, zap.NewNop())

	h := NewRequestHandler(services.Request, services.Export)

	router := testutil.SetupRouter()
	api := testutil.AuthGroup(router, "/api/v1")
	imprests := api.Group("/imprests")
	imprests.GET("", h.ListRequests)
	imprests.POST("", h.CreateRequest)
	imprests.POST("/sweep-overdue", h.SweepOverdue)
	imprests.GET("/:id", h.GetRequest)
	imprests.POST("/:id/approve-hod", h.ApproveByHod)
	imprests.POST("/:id/approve-accountant", h.ApproveByAccountant)
	imprests.POST("/:id/reject", h.RejectRequest)
	imprests.POST("/:id/disburse", h.Disburse)
	imprests.POST("/:id/acknowledge", h.Acknowledge)
	imprests.POST("/:id/resolve-dispute", h.ResolveDispute)
	imprests.POST("/:id/accounting", h.SubmitAccounting)
	imprests.POST("/:id/accounting/approve", h.ApproveAccounting)

	return &testutil.TestEnv{DB: db, Router: router, T: t}
}

func seedLifecycleUsers(t *testing.T, env *testutil.TestEnv) {
	t.Helper()
	testutil.SeedTestUser(t, env.DB, "req-001", "张伟", "Engineering")
	testutil.SeedTestUser(t, env.DB, "hod-001", "李娜", "Engineering", entity.RoleHod)
	testutil.SeedTestUser(t, env.DB, "acc-001", "王芳", "Finance", entity.RoleAccountant)
	testutil.SeedTestUser(t, env.DB, "adm-001", "赵强", "IT", entity.RoleAdmin)
}

func requesterToken() string {
	return testutil.GenerateTestToken("req-001", "张伟", "Engineering", nil)
}

func hodToken() string {
	return testutil.GenerateTestToken("hod-001", "李娜", "Engineering", []string{entity.RoleHod})
}

func accountantToken() string {
	return testutil.GenerateTestToken("acc-001", "王芳", "Finance", []string{entity.RoleAccountant})
}

func adminToken() string {
	return testutil.GenerateTestToken("adm-001", "赵强", "IT", []string{entity.RoleAdmin})
}

func createImprest(t *testing.T, env *testutil.TestEnv, amount float64) string {
	t.Helper()
	body := map[string]interface{}{
		"payment_reason": "field equipment purchase",
		"amount":         amount,
		"payment_type":   entity.PaymentTypePurchase,
	}
	w := testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/imprests", body, requesterToken())
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	resp := testutil.ParseResponse(w)
	data := resp["data"].(map[string]interface{})
	return data["id"].(string)
}

// TestImprestLifecycleOverHTTP 走一遍完整生命周期：申请1000 → 放款900 →
// 核销700 → 余额200
func TestImprestLifecycleOverHTTP(t *testing.T) {
	env := setupRequestTest(t)
	seedLifecycleUsers(t, env)

	id := createImprest(t, env, 1000)

	w := testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/imprests/"+id+"/approve-hod",
		map[string]interface{}{"comments": "approved"}, hodToken())
	if w.Code != http.StatusOK {
		t.Fatalf("hod approval: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/imprests/"+id+"/approve-accountant",
		map[string]interface{}{}, accountantToken())
	if w.Code != http.StatusOK {
		t.Fatalf("accountant approval: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/imprests/"+id+"/disburse",
		map[string]interface{}{"amount": 900}, accountantToken())
	if w.Code != http.StatusOK {
		t.Fatalf("disburse: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	data := testutil.ParseResponse(w)["data"].(map[string]interface{})
	if data["status"] != string(entity.StatusPendingAcknowledgment) {
		t.Fatalf("expected pending_acknowledgment, got %v", data["status"])
	}
	if data["due_date"] == nil {
		t.Fatal("due date must be set at disbursement")
	}

	w = testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/imprests/"+id+"/acknowledge",
		map[string]interface{}{"received": true}, requesterToken())
	if w.Code != http.StatusOK {
		t.Fatalf("acknowledge: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/imprests/"+id+"/accounting",
		map[string]interface{}{
			"receipts": []map[string]interface{}{
				{"description": "drill press", "amount": 400, "file_url": "/files/r1.pdf"},
				{"description": "consumables", "amount": 300, "file_url": "/files/r2.pdf"},
			},
		}, requesterToken())
	if w.Code != http.StatusOK {
		t.Fatalf("accounting: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/imprests/"+id+"/accounting/approve",
		map[string]interface{}{"comments": "verified"}, accountantToken())
	if w.Code != http.StatusOK {
		t.Fatalf("accounting approval: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	data = testutil.ParseResponse(w)["data"].(map[string]interface{})
	if data["status"] != string(entity.StatusAccounted) {
		t.Fatalf("expected accounted, got %v", data["status"])
	}
	accounting := data["accounting"].(map[string]interface{})
	if accounting["total_amount"].(float64) != 700 {
		t.Fatalf("expected total 700, got %v", accounting["total_amount"])
	}
	if accounting["balance"].(float64) != 200 {
		t.Fatalf("expected balance 200, got %v", accounting["balance"])
	}
}

func TestRoleGateOverHTTP(t *testing.T) {
	env := setupRequestTest(t)
	seedLifecycleUsers(t, env)

	id := createImprest(t, env, 500)

	// 会计不能做HOD审批 → 403
	w := testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/imprests/"+id+"/approve-hod",
		map[string]interface{}{}, accountantToken())
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", w.Code, w.Body.String())
	}

	// 顺序错误 → 409
	w = testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/imprests/"+id+"/approve-accountant",
		map[string]interface{}{}, accountantToken())
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for out-of-order approval, got %d: %s", w.Code, w.Body.String())
	}

	// 状态未被污染
	w = testutil.DoRequest(env.Router, http.MethodGet, "/api/v1/imprests/"+id, nil, requesterToken())
	data := testutil.ParseResponse(w)["data"].(map[string]interface{})
	if data["status"] != string(entity.StatusPendingHod) {
		t.Fatalf("denied operations must not change status, got %v", data["status"])
	}
}

func TestRejectOverHTTP(t *testing.T) {
	env := setupRequestTest(t)
	seedLifecycleUsers(t, env)

	id := createImprest(t, env, 500)

	// 缺原因 → 400
	w := testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/imprests/"+id+"/reject",
		map[string]interface{}{}, hodToken())
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without reason, got %d: %s", w.Code, w.Body.String())
	}

	w = testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/imprests/"+id+"/reject",
		map[string]interface{}{"reason": "no budget"}, hodToken())
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	data := testutil.ParseResponse(w)["data"].(map[string]interface{})
	if data["status"] != string(entity.StatusRejected) {
		t.Fatalf("expected rejected, got %v", data["status"])
	}
}

func TestGetMissingRequest(t *testing.T) {
	env := setupRequestTest(t)
	seedLifecycleUsers(t, env)

	w := testutil.DoRequest(env.Router, http.MethodGet, "/api/v1/imprests/nope", nil, requesterToken())
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestListFilters(t *testing.T) {
	env := setupRequestTest(t)
	seedLifecycleUsers(t, env)

	id := createImprest(t, env, 200)
	createImprest(t, env, 300)

	// 驳回一单，再按状态过滤
	w := testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/imprests/"+id+"/reject",
		map[string]interface{}{"reason": "duplicate"}, hodToken())
	if w.Code != http.StatusOK {
		t.Fatalf("reject failed: %d: %s", w.Code, w.Body.String())
	}

	w = testutil.DoRequest(env.Router, http.MethodGet, "/api/v1/imprests?status=pending_hod", nil, accountantToken())
	if w.Code != http.StatusOK {
		t.Fatalf("list failed: %d: %s", w.Code, w.Body.String())
	}
	data := testutil.ParseResponse(w)["data"].(map[string]interface{})
	items := data["items"].([]interface{})
	if len(items) != 1 {
		t.Fatalf("expected 1 pending_hod request, got %d", len(items))
	}
	pagination := data["pagination"].(map[string]interface{})
	if pagination["total"].(float64) != 1 {
		t.Fatalf("expected total 1, got %v", pagination["total"])
	}
}

// TestSweepOverdueHTTP 到期未核销的放款单被扫描置为overdue，重复扫描无副作用
func TestSweepOverdueHTTP(t *testing.T) {
	env := setupRequestTest(t)
	seedLifecycleUsers(t, env)

	id := createImprest(t, env, 500)
	advance := []struct {
		path  string
		body  map[string]interface{}
		token string
	}{
		{"/approve-hod", map[string]interface{}{}, hodToken()},
		{"/approve-accountant", map[string]interface{}{}, accountantToken()},
		{"/disburse", map[string]interface{}{"amount": 500}, accountantToken()},
		{"/acknowledge", map[string]interface{}{"received": true}, requesterToken()},
	}
	for _, step := range advance {
		w := testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/imprests/"+id+step.path, step.body, step.token)
		if w.Code != http.StatusOK {
			t.Fatalf("%s failed: %d: %s", step.path, w.Code, w.Body.String())
		}
	}

	// 把due_date改到过去，模拟72小时已过
	if err := env.DB.Exec("UPDATE imprest_requests SET due_date = NOW() - INTERVAL '1 hour' WHERE id = ?", id).Error; err != nil {
		t.Fatalf("failed to backdate due date: %v", err)
	}

	w := testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/imprests/sweep-overdue", nil, adminToken())
	if w.Code != http.StatusOK {
		t.Fatalf("sweep failed: %d: %s", w.Code, w.Body.String())
	}
	data := testutil.ParseResponse(w)["data"].(map[string]interface{})
	if data["swept"].(float64) != 1 {
		t.Fatalf("expected 1 swept, got %v", data["swept"])
	}

	// 再跑一遍：无候选
	w = testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/imprests/sweep-overdue", nil, adminToken())
	data = testutil.ParseResponse(w)["data"].(map[string]interface{})
	if data["swept"].(float64) != 0 {
		t.Fatalf("second sweep must be a no-op, got %v", data["swept"])
	}

	w = testutil.DoRequest(env.Router, http.MethodGet, "/api/v1/imprests/"+id, nil, requesterToken())
	detail := testutil.ParseResponse(w)["data"].(map[string]interface{})
	if detail["status"] != string(entity.StatusOverdue) {
		t.Fatalf("expected overdue, got %v", detail["status"])
	}
}

// TestConcurrentModificationConflict 两个副本同时保存，后写的拿到409
func TestConcurrentModificationConflict(t *testing.T) {
	env := setupRequestTest(t)
	seedLifecycleUsers(t, env)

	id := createImprest(t, env, 500)

	repos := repository.NewRepositories(env.DB)
	ctx := context.Background()

	first, err := repos.Request.FindByID(ctx, id)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	second, err := repos.Request.FindByID(ctx, id)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	first.Status = entity.StatusPendingAccountant
	if err := repos.Request.Save(ctx, first); err != nil {
		t.Fatalf("first save failed: %v", err)
	}

	second.Status = entity.StatusRejected
	if err := repos.Request.Save(ctx, second); !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("expected ErrConflict on stale save, got %v", err)
	}

	// 存储中保留第一次写入
	current, err := repos.Request.FindByID(ctx, id)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if current.Status != entity.StatusPendingAccountant {
		t.Fatalf("stale save must not win, got %s", current.Status)
	}
}
