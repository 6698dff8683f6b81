package token

import "testing"

var gen = Generator{TerminalKey: "1691507148627", SecretKey: "rlkzhollw74x8uvv"}

func TestInitDeterministic(t *testing.T) {
	a := gen.Init(500, "order-1", "12345", "Премиум | one-time")
	b := gen.Init(500, "order-1", "12345", "Премиум | one-time")
	if a != b {
		t.Errorf("same inputs produced different tokens: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
}

func TestInitFieldSensitivity(t *testing.T) {
	base := gen.Init(500, "order-1", "12345", "desc")

	variants := map[string]string{
		"amount":      gen.Init(501, "order-1", "12345", "desc"),
		"orderId":     gen.Init(500, "order-2", "12345", "desc"),
		"customerKey": gen.Init(500, "order-1", "12346", "desc"),
		"description": gen.Init(500, "order-1", "12345", "desc2"),
	}
	for field, tok := range variants {
		if tok == base {
			t.Errorf("changing %s did not change the token", field)
		}
	}

	other := Generator{TerminalKey: gen.TerminalKey, SecretKey: "different"}
	if other.Init(500, "order-1", "12345", "desc") == base {
		t.Error("changing secret did not change the token")
	}
}

func TestChargeUsesOwnFieldOrder(t *testing.T) {
	a := gen.Charge(500, "cust", "order", "rebill")
	if a != gen.Charge(500, "cust", "order", "rebill") {
		t.Error("charge token is not deterministic")
	}
	// Charge: Amount+CustomerKey+OrderId+RebillId — порядок полей значим
	b := gen.Charge(500, "order", "cust", "rebill")
	if a == b {
		t.Error("swapping customerKey and orderId did not change the charge token")
	}
	if a == gen.Charge(500, "cust", "order", "rebill2") {
		t.Error("changing rebillId did not change the charge token")
	}
}

func TestVerifyCallback(t *testing.T) {
	payload := map[string]interface{}{
		"Amount":      float64(500),
		"OrderId":     "order-1",
		"CustomerKey": "12345",
		"Status":      "CONFIRMED",
	}
	valid := gen.Init(500, "order-1", "12345", "")

	if !gen.VerifyCallback(payload, valid) {
		t.Error("valid token rejected")
	}
	if gen.VerifyCallback(payload, "deadbeef") {
		t.Error("invalid token accepted")
	}

	payload["Amount"] = float64(501)
	if gen.VerifyCallback(payload, valid) {
		t.Error("token accepted after payload mutation")
	}
}

func TestFieldString(t *testing.T) {
	cases := []struct {
		in   interface{}
		want string
	}{
		{nil, ""},
		{"abc", "abc"},
		{float64(500), "500"},
		{float64(500.5), "500.5"},
		{int64(7), "7"},
		{true, "true"},
	}
	for _, c := range cases {
		if got := FieldString(c.in); got != c.want {
			t.Errorf("FieldString(%v) = %q, want %q", c.in, got, c.want)
		}
	}
}
