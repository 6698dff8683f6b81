package token

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
)

// Generator подписывает запросы к Тинькофф и проверяет подписи колбэков.
// Токен — sha256 от конкатенации полей в фиксированном порядке, hex-кодировка.
type Generator struct {
	TerminalKey string
	SecretKey   string
}

// Init — токен для метода Init: Amount + OrderId + CustomerKey + Description
func (g Generator) Init(amount int64, orderID, customerKey, description string) string {
	return g.digest(
		strconv.FormatInt(amount, 10),
		orderID,
		customerKey,
		description,
	)
}

// Charge — токен для метода Charge: Amount + CustomerKey + OrderId + RebillId
func (g Generator) Charge(amount int64, customerKey, orderID, rebillID string) string {
	return g.digest(
		strconv.FormatInt(amount, 10),
		customerKey,
		orderID,
		rebillID,
	)
}

// VerifyCallback пересчитывает токен по полям колбэка (без самого Token)
// и сравнивает с полученным за константное время.
func (g Generator) VerifyCallback(payload map[string]interface{}, received string) bool {
	expected := g.digest(
		FieldString(payload["Amount"]),
		FieldString(payload["OrderId"]),
		FieldString(payload["CustomerKey"]),
		FieldString(payload["Description"]),
	)
	return subtle.ConstantTimeCompare([]byte(received), []byte(expected)) == 1
}

func (g Generator) digest(fields ...string) string {
	h := sha256.New()
	for _, f := range fields {
		h.Write([]byte(f))
	}
	h.Write([]byte(g.SecretKey))
	h.Write([]byte(g.TerminalKey))
	return hex.EncodeToString(h.Sum(nil))
}

// FieldString приводит поле JSON-пэйлоада к строке так же, как это делает
// шлюз: числа без дробной части — без точки, отсутствующее поле — "".
func FieldString(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		if x {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", x)
	}
}
