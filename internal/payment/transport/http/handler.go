// internal/payment/transport/http/handler.go
package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"venerapay/internal/payment/service"
)

var validate = validator.New()

type Handler struct {
	PaymentService *service.Service
}

func NewPaymentHandler(svc *service.Service) *Handler {
	return &Handler{PaymentService: svc}
}

// InitPaymentRequest структура запроса на создание платежа
type InitPaymentRequest struct {
	OrderID     string `json:"orderId" validate:"required"`
	Amount      int64  `json:"amount" validate:"required,gt=0"`
	Description string `json:"description" validate:"required"`
	Email       string `json:"email" validate:"required,email"`
	CustomerKey string `json:"customerKey" validate:"required"`
	ProductType string `json:"productType" validate:"required,oneof=one-time subscription"`
}

// ChargeRequest структура запроса на рекуррентное списание
type ChargeRequest struct {
	Amount      int64  `json:"amount" validate:"required,gt=0"`
	RebillID    string `json:"rebillId" validate:"required"`
	CustomerKey string `json:"customerKey" validate:"required"`
}

// InitPayment создаёт платёж в шлюзе и возвращает PaymentURL
func (h *Handler) InitPayment(w http.ResponseWriter, r *http.Request) {
	var req InitPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.addErrorResponse(w, http.StatusBadRequest, "invalid JSON format: "+err.Error())
		return
	}

	// Валидация
	if err := validate.Struct(req); err != nil {
		h.addErrorResponse(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	res, err := h.PaymentService.InitPayment(r.Context(), service.InitPaymentRequest{
		OrderID:     req.OrderID,
		Amount:      req.Amount,
		Description: req.Description,
		Email:       req.Email,
		CustomerKey: req.CustomerKey,
		ProductType: req.ProductType,
	})
	if err != nil {
		var gwErr *service.GatewayError
		if errors.As(err, &gwErr) {
			h.addErrorResponse(w, http.StatusBadRequest, gwErr.Error())
			return
		}
		log.Printf("PaymentHandler: InitPayment failed for %s: %v", req.CustomerKey, err)
		h.addErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{
		"PaymentURL": res.PaymentURL,
		"PaymentId":  res.PaymentID,
	})
}

// ChargeRecurrent списывает средства по сохранённому RebillId
func (h *Handler) ChargeRecurrent(w http.ResponseWriter, r *http.Request) {
	var req ChargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.addErrorResponse(w, http.StatusBadRequest, "invalid JSON format: "+err.Error())
		return
	}

	if err := validate.Struct(req); err != nil {
		h.addErrorResponse(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	paymentID, err := h.PaymentService.ChargeRecurrent(r.Context(), req.CustomerKey, req.Amount, req.RebillID)
	if err != nil {
		var gwErr *service.GatewayError
		if errors.As(err, &gwErr) {
			h.addErrorResponse(w, http.StatusBadRequest, gwErr.Error())
			return
		}
		log.Printf("PaymentHandler: ChargeRecurrent failed for %s: %v", req.CustomerKey, err)
		h.addErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"Success":   true,
		"PaymentId": paymentID,
	})
}

// Callback принимает push-колбэк шлюза (POST JSON).
// Протокол шлюза: ошибки валидации отдаются как 200 с {Success:false}.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	var payload map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		payload = nil
	}
	log.Printf("PaymentHandler: callback POST получен: %v", payload)

	res, err := h.PaymentService.HandleCallback(r.Context(), payload)
	if err != nil {
		log.Printf("PaymentHandler: callback failed: %v", err)
		h.addErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

// CallbackGet принимает pull-колбэк шлюза (GET, query-параметры)
func (h *Handler) CallbackGet(w http.ResponseWriter, r *http.Request) {
	params := make(map[string]string)
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}
	log.Printf("PaymentHandler: callback GET получен: %v", params)

	res, err := h.PaymentService.HandleCallbackParams(r.Context(), params)
	if err != nil {
		log.Printf("PaymentHandler: callback GET failed: %v", err)
		h.addErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("PaymentHandler: encode response: %v", err)
	}
}

func (h *Handler) addErrorResponse(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	messages := make([]string, 0, len(verrs))
	for _, verr := range verrs {
		field := strings.ToLower(verr.Field())
		if verr.Tag() == "required" {
			messages = append(messages, field+" is required")
		} else {
			messages = append(messages, field+" is invalid")
		}
	}
	return strings.Join(messages, "; ")
}
