package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"venerapay/internal/account"
	"venerapay/internal/account/repository"
	"venerapay/internal/metrics"
	"venerapay/internal/notify"
	"venerapay/internal/payment/tinkoff"
	"venerapay/internal/payment/token"
)

const subscriptionPeriod = 30 * 24 * time.Hour

// Gateway — платёжный шлюз (Init/Charge)
type Gateway interface {
	Init(ctx context.Context, req tinkoff.InitRequest) (*tinkoff.Response, error)
	Charge(ctx context.Context, req tinkoff.ChargeRequest) (*tinkoff.Response, error)
}

// GatewayError — отказ шлюза (Success=false). Наружу уходит как 4xx
// с сообщением шлюза, в отличие от транспортных и внутренних ошибок.
type GatewayError struct {
	Code    string
	Message string
	Details string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("Tinkoff error: %s - %s - %s", e.Code, e.Message, e.Details)
}

type Service struct {
	repo     repository.Repository
	gateway  Gateway
	notifier notify.Notifier
	tokens   token.Generator
	now      func() time.Time
}

func NewService(repo repository.Repository, gateway Gateway, notifier notify.Notifier, tokens token.Generator) *Service {
	return &Service{
		repo:     repo,
		gateway:  gateway,
		notifier: notifier,
		tokens:   tokens,
		now:      time.Now,
	}
}

type InitPaymentRequest struct {
	OrderID     string
	Amount      int64
	Description string
	Email       string
	CustomerKey string
	ProductType string
}

type InitPaymentResult struct {
	PaymentURL string
	PaymentID  string
}

// InitPayment подписывает и отправляет Init, на успех сохраняет
// PaymentId/PaymentURL на аккаунте (merge, чужие поля не трогаются).
func (s *Service) InitPayment(ctx context.Context, req InitPaymentRequest) (*InitPaymentResult, error) {
	description := req.Description + " | " + req.ProductType

	recurrent := "N"
	if req.ProductType == account.ProductSubscription {
		recurrent = "Y"
	}

	resp, err := s.gateway.Init(ctx, tinkoff.InitRequest{
		TerminalKey: s.tokens.TerminalKey,
		Amount:      req.Amount,
		OrderID:     req.OrderID,
		CustomerKey: req.CustomerKey,
		Description: description,
		Recurrent:   recurrent,
		Token:       s.tokens.Init(req.Amount, req.OrderID, req.CustomerKey, description),
		Receipt: &tinkoff.Receipt{
			Email:    req.Email,
			Taxation: "osn",
			Items: []tinkoff.ReceiptItem{{
				Name:     description,
				Price:    req.Amount,
				Quantity: 1,
				Amount:   req.Amount,
				Tax:      "none",
			}},
		},
	})
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, &GatewayError{Code: resp.ErrorCode, Message: resp.Message, Details: resp.Details}
	}

	metrics.PaymentsInitiated.WithLabelValues(req.ProductType).Inc()

	err = s.repo.Merge(ctx, req.CustomerKey, map[string]interface{}{
		"orderId":     req.OrderID,
		"productType": req.ProductType,
		"tinkoff": map[string]interface{}{
			"PaymentId":  resp.PaymentID,
			"PaymentURL": resp.PaymentURL,
			"Recurrent":  req.ProductType == account.ProductSubscription,
		},
	})
	if err != nil {
		return nil, err
	}

	return &InitPaymentResult{PaymentURL: resp.PaymentURL, PaymentID: resp.PaymentID}, nil
}

// ChargeRecurrent списывает средства по сохранённому RebillId.
// OrderId синтезируется на каждое списание, попытка всегда попадает
// в журнал recurrentCharges.
func (s *Service) ChargeRecurrent(ctx context.Context, customerKey string, amount int64, rebillID string) (string, error) {
	orderID := fmt.Sprintf("recurrent_%s_%d", customerKey, s.now().Unix())

	resp, err := s.gateway.Charge(ctx, tinkoff.ChargeRequest{
		TerminalKey: s.tokens.TerminalKey,
		Amount:      amount,
		OrderID:     orderID,
		RebillID:    rebillID,
		CustomerKey: customerKey,
		Token:       s.tokens.Charge(amount, customerKey, orderID, rebillID),
	})
	if err != nil {
		return "", err
	}

	if !resp.Success {
		metrics.RecurrentCharges.WithLabelValues("failed").Inc()
		if err := s.repo.AddCharge(ctx, account.Charge{
			CustomerKey: customerKey,
			OrderID:     orderID,
			Amount:      amount,
			RebillID:    rebillID,
			Status:      "failed",
			Error:       resp.Message,
			Details:     resp.Details,
		}); err != nil {
			log.Printf("PaymentService: failed to record charge failure for %s: %v", customerKey, err)
		}
		s.notifier.NotifyAdmins(ctx, fmt.Sprintf(
			"❌ Ошибка рекуррентного списания:\nUser: %s\nAmount: %d\nRebillId: %s\nError: %s\nDetails: %s",
			customerKey, amount, rebillID, resp.Message, resp.Details))
		return "", &GatewayError{Code: resp.ErrorCode, Message: resp.Message, Details: resp.Details}
	}

	metrics.RecurrentCharges.WithLabelValues("success").Inc()

	acc, err := s.repo.Get(ctx, customerKey)
	if err != nil && !errors.Is(err, repository.ErrAccountNotFound) {
		return "", err
	}

	if acc != nil && productTypeOf(acc) == account.ProductSubscription {
		expireAt := s.now().Add(subscriptionPeriod)
		err := s.repo.Update(ctx, customerKey, []repository.Update{
			{Path: "subscription.status", Value: account.StatusPremium},
			{Path: "subscription.expiresAt", Value: expireAt},
			{Path: "tinkoff.lastCharge", Value: map[string]interface{}{
				"amount":    amount,
				"rebillId":  rebillID,
				"orderId":   orderID,
				"chargedAt": repository.ServerTimestamp,
			}},
		})
		if err != nil {
			return "", err
		}
		s.notifier.SendMessage(ctx, customerKey, fmt.Sprintf(
			"🔄 Подписка продлена до %s.", expireAt.Format("02.01.2006 15:04")))
	}

	s.notifier.NotifyAdmins(ctx, fmt.Sprintf(
		"🔄 Рекуррентное списание:\nUser: %s\nAmount: %d\nRebillId: %s\nStatus: success",
		customerKey, amount, rebillID))

	if err := s.repo.AddCharge(ctx, account.Charge{
		CustomerKey: customerKey,
		OrderID:     orderID,
		Amount:      amount,
		RebillID:    rebillID,
		Status:      "success",
	}); err != nil {
		log.Printf("PaymentService: failed to record charge for %s: %v", customerKey, err)
	}

	return resp.PaymentID, nil
}

// CallbackResult — ответ шлюзу в его протоколе: ошибки валидации не
// поднимаются как HTTP-ошибки, а сигнализируются полем Success
type CallbackResult struct {
	Success bool   `json:"Success"`
	Error   string `json:"error,omitempty"`
}

func callbackRejected(reason string) CallbackResult {
	metrics.CallbacksTotal.WithLabelValues("rejected").Inc()
	return CallbackResult{Success: false, Error: reason}
}

// HandleCallback обрабатывает push-колбэк (POST). Любой отказ до проверки
// подписи включительно не оставляет следов в хранилище.
func (s *Service) HandleCallback(ctx context.Context, payload map[string]interface{}) (CallbackResult, error) {
	if len(payload) == 0 {
		return callbackRejected("Empty payload"), nil
	}

	receivedToken, _ := payload["Token"].(string)
	customerKey := token.FieldString(payload["CustomerKey"])
	if receivedToken == "" || customerKey == "" {
		return callbackRejected("Missing Token or CustomerKey"), nil
	}

	if !s.tokens.VerifyCallback(payload, receivedToken) {
		return callbackRejected("Invalid token"), nil
	}

	acc, err := s.repo.Get(ctx, customerKey)
	if errors.Is(err, repository.ErrAccountNotFound) {
		return callbackRejected("User not found"), nil
	}
	if err != nil {
		return CallbackResult{}, err
	}

	updates := []repository.Update{
		{Path: "tinkoff.lastCallbackPayload", Value: payload},
		{Path: "tinkoff.updatedAt", Value: repository.ServerTimestamp},
	}

	status := token.FieldString(payload["Status"])
	if strings.EqualFold(status, "confirmed") {
		confirmedUpdates, err := s.applyConfirmed(ctx, customerKey, acc, confirmedPayment{
			PaymentID: token.FieldString(payload["PaymentId"]),
			OrderID:   token.FieldString(payload["OrderId"]),
			Amount:    amountValue(payload["Amount"]),
			RebillID:  token.FieldString(payload["RebillId"]),
			Status:    status,
			Payload:   payload,
		})
		if err != nil {
			return CallbackResult{}, err
		}
		updates = append(updates, confirmedUpdates...)
	} else {
		metrics.CallbacksTotal.WithLabelValues("ignored").Inc()
	}

	if err := s.repo.Update(ctx, customerKey, updates); err != nil {
		return CallbackResult{}, err
	}
	return CallbackResult{Success: true}, nil
}

// HandleCallbackParams обрабатывает pull-колбэк (GET, query-параметры).
// Аккаунт ищется по orderId; совпадений может быть несколько — обновляются все.
func (s *Service) HandleCallbackParams(ctx context.Context, params map[string]string) (CallbackResult, error) {
	orderID := params["OrderId"]
	if orderID == "" {
		return callbackRejected("Missing OrderId"), nil
	}

	matches, err := s.repo.FindByOrderID(ctx, orderID)
	if err != nil {
		return CallbackResult{}, err
	}
	if len(matches) == 0 {
		return callbackRejected("User with this OrderId not found"), nil
	}

	for _, m := range matches {
		updates := []repository.Update{
			{Path: "tinkoff.lastCallbackParams", Value: params},
			{Path: "tinkoff.updatedAt", Value: repository.ServerTimestamp},
		}

		if strings.EqualFold(params["Success"], "true") {
			amount, _ := strconv.ParseInt(params["Amount"], 10, 64)
			confirmedUpdates, err := s.applyConfirmed(ctx, m.Key, m.Account, confirmedPayment{
				PaymentID: params["PaymentId"],
				OrderID:   params["OrderId"],
				Amount:    amount,
				RebillID:  params["RebillId"],
				Status:    "confirmed",
				Payload:   paramsPayload(params),
			})
			if err != nil {
				return CallbackResult{}, err
			}
			updates = append(updates, confirmedUpdates...)
		} else {
			metrics.CallbacksTotal.WithLabelValues("ignored").Inc()
		}

		if err := s.repo.Update(ctx, m.Key, updates); err != nil {
			return CallbackResult{}, err
		}
	}

	return CallbackResult{Success: true}, nil
}

type confirmedPayment struct {
	PaymentID string
	OrderID   string
	Amount    int64
	RebillID  string
	Status    string
	Payload   map[string]interface{}
}

// applyConfirmed — общая ветка подтверждённого платежа для push- и
// pull-колбэков: продление подписки либо инкремент баланса, уведомления
// и append-only запись в orders. Повторная доставка того же PaymentId
// не мутирует состояние (дедупликация по processedPayments).
func (s *Service) applyConfirmed(ctx context.Context, customerKey string, acc *account.Account, p confirmedPayment) ([]repository.Update, error) {
	if p.PaymentID != "" && acc.Tinkoff.ProcessedPayments[p.PaymentID] {
		log.Printf("PaymentService: duplicate callback for payment %s (user %s), skipping", p.PaymentID, customerKey)
		metrics.CallbacksTotal.WithLabelValues("duplicate").Inc()
		return nil, nil
	}

	productType := productTypeOf(acc)
	var updates []repository.Update

	if p.RebillID != "" && productType == account.ProductSubscription {
		updates = append(updates,
			repository.Update{Path: "tinkoff.rebillId", Value: p.RebillID},
			repository.Update{Path: "tinkoff.hasRecurrent", Value: true},
		)
	}

	if productType == account.ProductSubscription {
		expireAt := s.now().Add(subscriptionPeriod)
		updates = append(updates,
			repository.Update{Path: "subscription.status", Value: account.StatusPremium},
			repository.Update{Path: "subscription.expiresAt", Value: expireAt},
		)
		s.notifier.SendMessage(ctx, customerKey, fmt.Sprintf(
			"🎉 Ваша подписка активирована до %s.", expireAt.Format("02.01.2006 15:04")))
	} else {
		updates = append(updates, repository.Update{Path: "balance", Value: repository.Increment(1)})
		s.notifier.SendMessage(ctx, customerKey, "✅ Оплата успешна, баланс пополнен на 1 прогноз.")
	}

	adminMessage := fmt.Sprintf(
		"💰 Новый платеж:\nUser: %s\nProduct: %s\nAmount: %d\nStatus: %s",
		customerKey, productType, p.Amount, p.Status)
	if p.RebillID != "" {
		adminMessage += "\nRebillId: " + p.RebillID
	}
	s.notifier.NotifyAdmins(ctx, adminMessage)

	err := s.repo.AddOrder(ctx, account.Order{
		CustomerKey: customerKey,
		OrderID:     p.OrderID,
		Amount:      p.Amount,
		Status:      p.Status,
		ProductType: productType,
		RebillID:    p.RebillID,
		Payload:     p.Payload,
	})
	if err != nil {
		return nil, err
	}

	if p.PaymentID != "" {
		updates = append(updates, repository.Update{
			Path:  "tinkoff.processedPayments." + p.PaymentID,
			Value: true,
		})
	}

	metrics.CallbacksTotal.WithLabelValues("confirmed").Inc()
	return updates, nil
}

// продукт по умолчанию — подписка, как в исходных данных
func productTypeOf(acc *account.Account) string {
	if acc.ProductType == "" {
		return account.ProductSubscription
	}
	return acc.ProductType
}

func amountValue(v interface{}) int64 {
	switch x := v.(type) {
	case float64:
		return int64(x)
	case int64:
		return x
	case int:
		return int64(x)
	case string:
		n, _ := strconv.ParseInt(x, 10, 64)
		return n
	default:
		return 0
	}
}

func paramsPayload(params map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
