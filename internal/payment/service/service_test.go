package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"venerapay/internal/account"
	"venerapay/internal/account/repository"
	"venerapay/internal/payment/tinkoff"
	"venerapay/internal/payment/token"
)

var testTokens = token.Generator{TerminalKey: "terminal", SecretKey: "secret"}

type fakeGateway struct {
	initResp   *tinkoff.Response
	chargeResp *tinkoff.Response
	err        error
	initReqs   []tinkoff.InitRequest
	chargeReqs []tinkoff.ChargeRequest
}

func (g *fakeGateway) Init(ctx context.Context, req tinkoff.InitRequest) (*tinkoff.Response, error) {
	g.initReqs = append(g.initReqs, req)
	return g.initResp, g.err
}

func (g *fakeGateway) Charge(ctx context.Context, req tinkoff.ChargeRequest) (*tinkoff.Response, error) {
	g.chargeReqs = append(g.chargeReqs, req)
	return g.chargeResp, g.err
}

type fakeNotifier struct {
	userMessages  map[string][]string
	adminMessages []string
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{userMessages: make(map[string][]string)}
}

func (n *fakeNotifier) SendMessage(ctx context.Context, chatID, text string) {
	n.userMessages[chatID] = append(n.userMessages[chatID], text)
}

func (n *fakeNotifier) NotifyAdmins(ctx context.Context, text string) {
	n.adminMessages = append(n.adminMessages, text)
}

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestService(repo repository.Repository, gw *fakeGateway, n *fakeNotifier) *Service {
	s := NewService(repo, gw, n, testTokens)
	s.now = func() time.Time { return testNow }
	return s
}

// подписанный подтверждённый колбэк для пользователя key
func confirmedPayload(key, orderID, paymentID string, amount int64) map[string]interface{} {
	payload := map[string]interface{}{
		"Amount":      float64(amount),
		"OrderId":     orderID,
		"CustomerKey": key,
		"PaymentId":   paymentID,
		"Status":      "CONFIRMED",
	}
	payload["Token"] = testTokens.Init(amount, orderID, key, "")
	return payload
}

func TestInitPaymentSuccess(t *testing.T) {
	repo := repository.NewMemoryRepository()
	gw := &fakeGateway{initResp: &tinkoff.Response{
		Success: true, PaymentID: "700001", PaymentURL: "https://pay.example/700001",
	}}
	svc := newTestService(repo, gw, newFakeNotifier())

	res, err := svc.InitPayment(context.Background(), InitPaymentRequest{
		OrderID:     "order-1",
		Amount:      500,
		Description: "Прогноз",
		Email:       "user@example.com",
		CustomerKey: "12345",
		ProductType: account.ProductOneTime,
	})
	if err != nil {
		t.Fatalf("InitPayment: %v", err)
	}
	if res.PaymentURL != "https://pay.example/700001" || res.PaymentID != "700001" {
		t.Errorf("unexpected result: %+v", res)
	}

	req := gw.initReqs[0]
	if req.Recurrent != "N" {
		t.Errorf("one-time product must not be recurrent, got %q", req.Recurrent)
	}
	if req.Description != "Прогноз | one-time" {
		t.Errorf("unexpected description %q", req.Description)
	}
	if req.Receipt == nil || len(req.Receipt.Items) != 1 || req.Receipt.Items[0].Amount != 500 {
		t.Errorf("receipt line item missing or wrong: %+v", req.Receipt)
	}
	if req.Token != testTokens.Init(500, "order-1", "12345", "Прогноз | one-time") {
		t.Error("init request signed with wrong token")
	}

	acc, err := repo.Get(context.Background(), "12345")
	if err != nil {
		t.Fatalf("account not persisted: %v", err)
	}
	if acc.Tinkoff.PaymentID != "700001" || acc.OrderID != "order-1" || acc.ProductType != account.ProductOneTime {
		t.Errorf("account fields not merged: %+v", acc)
	}
}

func TestInitPaymentSubscriptionSetsRecurrent(t *testing.T) {
	repo := repository.NewMemoryRepository()
	gw := &fakeGateway{initResp: &tinkoff.Response{Success: true, PaymentID: "1", PaymentURL: "u"}}
	svc := newTestService(repo, gw, newFakeNotifier())

	_, err := svc.InitPayment(context.Background(), InitPaymentRequest{
		OrderID: "o", Amount: 990, Description: "Подписка", Email: "e@e.com",
		CustomerKey: "12345", ProductType: account.ProductSubscription,
	})
	if err != nil {
		t.Fatalf("InitPayment: %v", err)
	}
	if gw.initReqs[0].Recurrent != "Y" {
		t.Errorf("subscription product must set Recurrent=Y, got %q", gw.initReqs[0].Recurrent)
	}
}

func TestInitPaymentGatewayRejection(t *testing.T) {
	repo := repository.NewMemoryRepository()
	gw := &fakeGateway{initResp: &tinkoff.Response{
		Success: false, ErrorCode: "9999", Message: "Неверные параметры",
	}}
	svc := newTestService(repo, gw, newFakeNotifier())

	_, err := svc.InitPayment(context.Background(), InitPaymentRequest{
		OrderID: "o", Amount: 500, CustomerKey: "12345", ProductType: account.ProductOneTime,
	})

	var gwErr *GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("expected GatewayError, got %v", err)
	}
	if gwErr.Message != "Неверные параметры" {
		t.Errorf("gateway message lost: %v", gwErr)
	}
	if _, err := repo.Get(context.Background(), "12345"); !errors.Is(err, repository.ErrAccountNotFound) {
		t.Error("account must not be created on gateway rejection")
	}
}

func TestCallbackMissingToken(t *testing.T) {
	repo := repository.NewMemoryRepository()
	repo.Put("12345", &account.Account{ProductType: account.ProductOneTime})
	svc := newTestService(repo, &fakeGateway{}, newFakeNotifier())

	res, err := svc.HandleCallback(context.Background(), map[string]interface{}{
		"CustomerKey": "12345", "Status": "CONFIRMED",
	})
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if res.Success {
		t.Error("expected Success=false without Token")
	}

	acc, _ := repo.Get(context.Background(), "12345")
	if acc.Balance != 0 {
		t.Error("rejected callback must not mutate state")
	}
}

func TestCallbackInvalidSignature(t *testing.T) {
	repo := repository.NewMemoryRepository()
	repo.Put("12345", &account.Account{ProductType: account.ProductOneTime})
	notifier := newFakeNotifier()
	svc := newTestService(repo, &fakeGateway{}, notifier)

	payload := confirmedPayload("12345", "order-1", "700001", 500)
	payload["Token"] = "forged"

	res, err := svc.HandleCallback(context.Background(), payload)
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if res.Success || res.Error != "Invalid token" {
		t.Errorf("unexpected result: %+v", res)
	}

	acc, _ := repo.Get(context.Background(), "12345")
	if acc.Balance != 0 || acc.Tinkoff.LastCallbackPayload != nil {
		t.Error("forged callback must leave no trace in storage")
	}
	if len(notifier.adminMessages) != 0 {
		t.Error("forged callback must not notify anyone")
	}
}

func TestCallbackUnknownAccount(t *testing.T) {
	repo := repository.NewMemoryRepository()
	svc := newTestService(repo, &fakeGateway{}, newFakeNotifier())

	res, err := svc.HandleCallback(context.Background(), confirmedPayload("ghost", "o", "p", 500))
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if res.Success || res.Error != "User not found" {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestCallbackConfirmedOneTime(t *testing.T) {
	repo := repository.NewMemoryRepository()
	repo.Put("12345", &account.Account{ProductType: account.ProductOneTime, Balance: 2})
	notifier := newFakeNotifier()
	svc := newTestService(repo, &fakeGateway{}, notifier)

	res, err := svc.HandleCallback(context.Background(), confirmedPayload("12345", "order-1", "700001", 500))
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}

	acc, _ := repo.Get(context.Background(), "12345")
	if acc.Balance != 3 {
		t.Errorf("balance must increment by exactly 1, got %d", acc.Balance)
	}
	if acc.Subscription.Status != "" || !acc.Subscription.ExpiresAt.IsZero() {
		t.Error("one-time payment must not touch subscription fields")
	}
	if !acc.Tinkoff.ProcessedPayments["700001"] {
		t.Error("payment must be marked processed")
	}
	if len(notifier.userMessages["12345"]) != 1 || len(notifier.adminMessages) != 1 {
		t.Errorf("expected one user and one admin notification, got %+v / %+v",
			notifier.userMessages, notifier.adminMessages)
	}
	if len(repo.Orders) != 1 || repo.Orders[0].Status != "CONFIRMED" || repo.Orders[0].Amount != 500 {
		t.Errorf("order record wrong: %+v", repo.Orders)
	}
}

func TestCallbackConfirmedSubscription(t *testing.T) {
	repo := repository.NewMemoryRepository()
	repo.Put("12345", &account.Account{
		ProductType: account.ProductSubscription,
		Subscription: account.Subscription{
			Status:    account.StatusExpired,
			ExpiresAt: testNow.Add(-24 * time.Hour),
		},
	})
	svc := newTestService(repo, &fakeGateway{}, newFakeNotifier())

	payload := confirmedPayload("12345", "order-1", "700001", 990)
	payload["RebillId"] = "rebill-9"

	if _, err := svc.HandleCallback(context.Background(), payload); err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}

	acc, _ := repo.Get(context.Background(), "12345")
	if acc.Subscription.Status != account.StatusPremium {
		t.Errorf("status = %q, want Premium", acc.Subscription.Status)
	}
	if want := testNow.Add(30 * 24 * time.Hour); !acc.Subscription.ExpiresAt.Equal(want) {
		t.Errorf("expiresAt = %v, want %v (prior value must be overwritten)", acc.Subscription.ExpiresAt, want)
	}
	if acc.Tinkoff.RebillID != "rebill-9" || !acc.Tinkoff.HasRecurrent {
		t.Errorf("rebillId not captured: %+v", acc.Tinkoff)
	}
	if acc.Balance != 0 {
		t.Error("subscription payment must not touch balance")
	}
}

func TestCallbackDuplicateDelivery(t *testing.T) {
	repo := repository.NewMemoryRepository()
	repo.Put("12345", &account.Account{ProductType: account.ProductOneTime})
	notifier := newFakeNotifier()
	svc := newTestService(repo, &fakeGateway{}, notifier)

	payload := confirmedPayload("12345", "order-1", "700001", 500)
	for i := 0; i < 3; i++ {
		res, err := svc.HandleCallback(context.Background(), payload)
		if err != nil {
			t.Fatalf("HandleCallback #%d: %v", i+1, err)
		}
		if !res.Success {
			t.Fatalf("redelivery must still answer Success=true, got %+v", res)
		}
	}

	acc, _ := repo.Get(context.Background(), "12345")
	if acc.Balance != 1 {
		t.Errorf("balance = %d after 3 deliveries, want 1", acc.Balance)
	}
	if len(repo.Orders) != 1 {
		t.Errorf("orders = %d, want 1", len(repo.Orders))
	}
	if len(notifier.userMessages["12345"]) != 1 {
		t.Errorf("user notified %d times, want 1", len(notifier.userMessages["12345"]))
	}
}

func TestCallbackNonConfirmedOnlyMergesMetadata(t *testing.T) {
	repo := repository.NewMemoryRepository()
	repo.Put("12345", &account.Account{ProductType: account.ProductOneTime})
	svc := newTestService(repo, &fakeGateway{}, newFakeNotifier())

	payload := map[string]interface{}{
		"Amount":      float64(500),
		"OrderId":     "order-1",
		"CustomerKey": "12345",
		"Status":      "REJECTED",
	}
	payload["Token"] = testTokens.Init(500, "order-1", "12345", "")

	res, err := svc.HandleCallback(context.Background(), payload)
	if err != nil || !res.Success {
		t.Fatalf("HandleCallback: %v %+v", err, res)
	}

	acc, _ := repo.Get(context.Background(), "12345")
	if acc.Balance != 0 || len(repo.Orders) != 0 {
		t.Error("non-confirmed callback must not mutate business state")
	}
	if acc.Tinkoff.LastCallbackPayload == nil {
		t.Error("callback metadata must still be merged onto the account")
	}
}

func TestPullCallbackNoMatch(t *testing.T) {
	repo := repository.NewMemoryRepository()
	svc := newTestService(repo, &fakeGateway{}, newFakeNotifier())

	res, err := svc.HandleCallbackParams(context.Background(), map[string]string{
		"OrderId": "missing", "Success": "true",
	})
	if err != nil {
		t.Fatalf("HandleCallbackParams: %v", err)
	}
	if res.Success {
		t.Errorf("expected Success=false, got %+v", res)
	}
}

func TestPullCallbackSingleMatch(t *testing.T) {
	repo := repository.NewMemoryRepository()
	repo.Put("12345", &account.Account{OrderID: "order-1", ProductType: account.ProductOneTime})
	repo.Put("67890", &account.Account{OrderID: "order-2", ProductType: account.ProductOneTime})
	svc := newTestService(repo, &fakeGateway{}, newFakeNotifier())

	res, err := svc.HandleCallbackParams(context.Background(), map[string]string{
		"OrderId": "order-1", "Success": "true", "Amount": "500", "PaymentId": "700001",
	})
	if err != nil || !res.Success {
		t.Fatalf("HandleCallbackParams: %v %+v", err, res)
	}

	hit, _ := repo.Get(context.Background(), "12345")
	miss, _ := repo.Get(context.Background(), "67890")
	if hit.Balance != 1 {
		t.Errorf("matched account balance = %d, want 1", hit.Balance)
	}
	if miss.Balance != 0 {
		t.Error("non-matching account must be untouched")
	}
}

func TestPullCallbackMultipleMatches(t *testing.T) {
	repo := repository.NewMemoryRepository()
	repo.Put("a", &account.Account{OrderID: "order-1", ProductType: account.ProductOneTime})
	repo.Put("b", &account.Account{OrderID: "order-1", ProductType: account.ProductOneTime})
	svc := newTestService(repo, &fakeGateway{}, newFakeNotifier())

	res, err := svc.HandleCallbackParams(context.Background(), map[string]string{
		"OrderId": "order-1", "Success": "true", "Amount": "500",
	})
	if err != nil || !res.Success {
		t.Fatalf("HandleCallbackParams: %v %+v", err, res)
	}

	for _, key := range []string{"a", "b"} {
		acc, _ := repo.Get(context.Background(), key)
		if acc.Balance != 1 {
			t.Errorf("account %s balance = %d, want 1", key, acc.Balance)
		}
	}
}

func TestChargeRecurrentSuccess(t *testing.T) {
	repo := repository.NewMemoryRepository()
	repo.Put("12345", &account.Account{
		ProductType: account.ProductSubscription,
		Tinkoff:     account.TinkoffInfo{RebillID: "rebill-9"},
	})
	notifier := newFakeNotifier()
	gw := &fakeGateway{chargeResp: &tinkoff.Response{Success: true, PaymentID: "800001"}}
	svc := newTestService(repo, gw, notifier)

	paymentID, err := svc.ChargeRecurrent(context.Background(), "12345", 990, "rebill-9")
	if err != nil {
		t.Fatalf("ChargeRecurrent: %v", err)
	}
	if paymentID != "800001" {
		t.Errorf("paymentID = %q", paymentID)
	}

	req := gw.chargeReqs[0]
	if req.RebillID != "rebill-9" || req.Amount != 990 {
		t.Errorf("charge request wrong: %+v", req)
	}
	wantOrderID := "recurrent_12345_" + "1709294400" // testNow.Unix()
	if req.OrderID != wantOrderID {
		t.Errorf("orderID = %q, want %q", req.OrderID, wantOrderID)
	}
	if req.Token != testTokens.Charge(990, "12345", wantOrderID, "rebill-9") {
		t.Error("charge request signed with wrong token")
	}

	acc, _ := repo.Get(context.Background(), "12345")
	if acc.Subscription.Status != account.StatusPremium {
		t.Errorf("status = %q, want Premium", acc.Subscription.Status)
	}
	if want := testNow.Add(30 * 24 * time.Hour); !acc.Subscription.ExpiresAt.Equal(want) {
		t.Errorf("expiresAt = %v, want %v", acc.Subscription.ExpiresAt, want)
	}
	if len(repo.Charges) != 1 || repo.Charges[0].Status != "success" {
		t.Errorf("charge log wrong: %+v", repo.Charges)
	}
	if len(notifier.userMessages["12345"]) != 1 || len(notifier.adminMessages) != 1 {
		t.Error("expected user and admin notifications")
	}
}

func TestChargeRecurrentFailure(t *testing.T) {
	repo := repository.NewMemoryRepository()
	repo.Put("12345", &account.Account{ProductType: account.ProductSubscription})
	notifier := newFakeNotifier()
	gw := &fakeGateway{chargeResp: &tinkoff.Response{
		Success: false, ErrorCode: "103", Message: "Недостаточно средств",
	}}
	svc := newTestService(repo, gw, notifier)

	_, err := svc.ChargeRecurrent(context.Background(), "12345", 990, "rebill-9")
	var gwErr *GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("expected GatewayError, got %v", err)
	}

	if len(repo.Charges) != 1 || repo.Charges[0].Status != "failed" || repo.Charges[0].Error != "Недостаточно средств" {
		t.Errorf("failed charge log wrong: %+v", repo.Charges)
	}
	if len(notifier.adminMessages) != 1 {
		t.Error("admins must be notified about the failure")
	}
	acc, _ := repo.Get(context.Background(), "12345")
	if acc.Subscription.Status != "" {
		t.Error("failed charge must not extend the subscription")
	}
}

// Сквозной сценарий: init платежа one-time на 500 → шлюз отвечает PaymentId X →
// подтверждённый колбэк с корректной подписью → баланс +1 и запись в orders.
func TestEndToEndOneTimeFlow(t *testing.T) {
	repo := repository.NewMemoryRepository()
	gw := &fakeGateway{initResp: &tinkoff.Response{
		Success: true, PaymentID: "X", PaymentURL: "https://pay.example/X",
	}}
	svc := newTestService(repo, gw, newFakeNotifier())

	_, err := svc.InitPayment(context.Background(), InitPaymentRequest{
		OrderID: "order-42", Amount: 500, Description: "Прогноз", Email: "u@e.com",
		CustomerKey: "12345", ProductType: account.ProductOneTime,
	})
	if err != nil {
		t.Fatalf("InitPayment: %v", err)
	}

	acc, _ := repo.Get(context.Background(), "12345")
	if acc.Tinkoff.PaymentID != "X" {
		t.Fatalf("tinkoff.PaymentId = %q, want X", acc.Tinkoff.PaymentID)
	}

	res, err := svc.HandleCallback(context.Background(), confirmedPayload("12345", "order-42", "X", 500))
	if err != nil || !res.Success {
		t.Fatalf("HandleCallback: %v %+v", err, res)
	}

	acc, _ = repo.Get(context.Background(), "12345")
	if acc.Balance != 1 {
		t.Errorf("balance = %d, want 1", acc.Balance)
	}
	if len(repo.Orders) != 1 || repo.Orders[0].OrderID != "order-42" {
		t.Errorf("order log wrong: %+v", repo.Orders)
	}
}
