package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"credential-server/backend/internal/gateway/domain"
)

func testGateway(apiURL, apiKey string) *domain.Gateway {
	return &domain.Gateway{
		ID: "gw1", Name: "fb1", Provider: "firebase",
		Options: map[string]string{
			domain.OptionAPIURL: apiURL,
			domain.OptionAPIKey: apiKey,
		},
	}
}

func TestFirebaseClient_Send(t *testing.T) {
	var gotAuth string
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewFirebaseClient()
	err := c.Send(context.Background(), "firebaseT",
		map[string]string{"nonce": "abc", "serial": "PUSH00001"}, testGateway(srv.URL, "key1"))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotAuth != "key=key1" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "key=key1")
	}
	if gotBody["to"] != "firebaseT" {
		t.Errorf("to = %v, want firebaseT", gotBody["to"])
	}
	data, _ := gotBody["data"].(map[string]interface{})
	if data["serial"] != "PUSH00001" {
		t.Errorf("data.serial = %v, want PUSH00001", data["serial"])
	}
}

func TestFirebaseClient_DeliveryError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewFirebaseClient()
	err := c.Send(context.Background(), "firebaseT", map[string]string{}, testGateway(srv.URL, "key1"))
	if !errors.Is(err, ErrDelivery) {
		t.Errorf("Send = %v, want ErrDelivery", err)
	}
}

func TestFirebaseClient_MissingAPIKeyIsConfigError(t *testing.T) {
	c := NewFirebaseClient()
	err := c.Send(context.Background(), "firebaseT", map[string]string{}, testGateway("http://unused", ""))
	if !errors.Is(err, ErrConfig) {
		t.Errorf("Send = %v, want ErrConfig", err)
	}
	if errors.Is(err, ErrDelivery) {
		t.Error("config error must not be a delivery error")
	}
}
