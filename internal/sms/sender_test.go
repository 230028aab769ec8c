package sms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogSender_LogsCode(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	sender := NewLogSender(zap.New(core))

	err := sender.Send(context.Background(), Message{Mobile: "919876543210", Name: "Asha", Code: "4321"})
	require.NoError(t, err)

	entries := logs.FilterMessage("otp issued").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "4321", fields["code"])
	assert.Equal(t, "91********10", fields["phone"], "phone must be masked")
}

func TestMSG91Sender_PostsFlowRequest(t *testing.T) {
	var got flowRequest
	var authKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		authKey = r.Header.Get("authkey")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"type":"success"}`))
	}))
	defer srv.Close()

	sender := NewMSG91Sender(srv.URL, "key-123", "tmpl-1")
	err := sender.Send(context.Background(), Message{Mobile: "919876543210", Name: "user", Code: "4321"})
	require.NoError(t, err)

	assert.Equal(t, "key-123", authKey)
	assert.Equal(t, "tmpl-1", got.TemplateID)
	assert.Equal(t, "0", got.ShortURL)
	require.Len(t, got.Recipients, 1)
	assert.Equal(t, flowRecipient{Mobiles: "919876543210", Name: "user", Code: "4321"}, got.Recipients[0])
}

func TestMSG91Sender_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"type":"error","message":"invalid authkey"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	sender := NewMSG91Sender(srv.URL, "bad", "tmpl-1")
	err := sender.Send(context.Background(), Message{Mobile: "919876543210", Name: "user", Code: "4321"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}
