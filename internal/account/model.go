package account

import "time"

const (
	ProductOneTime      = "one-time"
	ProductSubscription = "subscription"

	StatusPremium = "Premium"
	StatusExpired = "expired"
)

// Account — документ пользователя в коллекции telegramUsers.
// Ключ документа — customerKey (он же chat_id в Telegram).
type Account struct {
	OrderID      string       `firestore:"orderId"`
	ProductType  string       `firestore:"productType"`
	Balance      int64        `firestore:"balance"`
	Subscription Subscription `firestore:"subscription"`
	Tinkoff      TinkoffInfo  `firestore:"tinkoff"`
}

type Subscription struct {
	Status    string    `firestore:"status"`
	ExpiresAt time.Time `firestore:"expiresAt"`
	CheckedAt time.Time `firestore:"checkedAt"`
}

// TinkoffInfo — корреляционные поля платёжного шлюза.
// ProcessedPayments хранит отметки об уже обработанных PaymentId,
// чтобы повторная доставка колбэка не мутировала состояние второй раз.
type TinkoffInfo struct {
	PaymentID           string                 `firestore:"PaymentId"`
	PaymentURL          string                 `firestore:"PaymentURL"`
	Recurrent           bool                   `firestore:"Recurrent"`
	RebillID            string                 `firestore:"rebillId"`
	HasRecurrent        bool                   `firestore:"hasRecurrent"`
	ProcessedPayments   map[string]bool        `firestore:"processedPayments"`
	LastCharge          map[string]interface{} `firestore:"lastCharge"`
	LastCallbackPayload map[string]interface{} `firestore:"lastCallbackPayload"`
	LastCallbackParams  map[string]string      `firestore:"lastCallbackParams"`
	UpdatedAt           time.Time              `firestore:"updatedAt"`
}

// Order — append-only запись в коллекции orders по завершённой транзакции
type Order struct {
	CustomerKey string                 `firestore:"customerKey"`
	OrderID     string                 `firestore:"orderId"`
	Amount      int64                  `firestore:"amount"`
	Status      string                 `firestore:"status"`
	ProductType string                 `firestore:"productType"`
	RebillID    string                 `firestore:"rebillId"`
	Payload     map[string]interface{} `firestore:"tinkoffPayload"`
	CreatedAt   time.Time              `firestore:"createdAt,serverTimestamp"`
}

// Charge — append-only запись в коллекции recurrentCharges по попытке списания
type Charge struct {
	CustomerKey string    `firestore:"customerKey"`
	OrderID     string    `firestore:"orderId"`
	Amount      int64     `firestore:"amount"`
	RebillID    string    `firestore:"rebillId"`
	Status      string    `firestore:"status"`
	Error       string    `firestore:"error,omitempty"`
	Details     string    `firestore:"details,omitempty"`
	ChargedAt   time.Time `firestore:"chargedAt,serverTimestamp"`
}
