package telnyx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func testClient(serverURL string) *Client {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewClient(&Config{
		BaseURL:   serverURL,
		APIKey:    "KEY_test",
		ProfileID: "profile-1",
		Timeout:   2 * time.Second,
	}, logger)
}

func TestSend(t *testing.T) {
	var captured messageRequest
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v2/messages" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"id":"msg-40017"}}`))
	}))
	defer server.Close()

	id, err := testClient(server.URL).Send(context.Background(), "+15550101234", "+15550100000", "您的预约已确认")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	assert.Equal(t, "msg-40017", id)
	assert.Equal(t, "Bearer KEY_test", gotAuth)
	assert.Equal(t, "+15550101234", captured.To)
	assert.Equal(t, "+15550100000", captured.From)
	assert.Equal(t, "您的预约已确认", captured.Text)
	assert.Equal(t, "profile-1", captured.MessagingProfileID)
}

func TestSend_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"errors":[{"title":"Invalid phone number","detail":"The to number is not valid"}]}`))
	}))
	defer server.Close()

	_, err := testClient(server.URL).Send(context.Background(), "bogus", "+15550100000", "hi")
	if err == nil {
		t.Fatal("expected error")
	}
	assert.Contains(t, err.Error(), "Invalid phone number")
	assert.Contains(t, err.Error(), "422")
}

func TestSend_OpaqueError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream timeout"))
	}))
	defer server.Close()

	_, err := testClient(server.URL).Send(context.Background(), "+15550101234", "+15550100000", "hi")
	if err == nil {
		t.Fatal("expected error")
	}
	assert.Contains(t, err.Error(), "upstream timeout")
}

func TestHealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/messaging_profiles", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	if err := testClient(server.URL).HealthCheck(context.Background()); err != nil {
		t.Fatalf("health check: %v", err)
	}
}

func TestHealthCheck_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	err := testClient(server.URL).HealthCheck(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	assert.Contains(t, err.Error(), "HTTP 500")
}
