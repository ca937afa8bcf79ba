package mailer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendGridBuild(t *testing.T) {
	s := NewSendGrid("key", "Student Services", "noreply@uni.test")
	m := s.build(Message{ToName: "Ana", ToAddress: "ana@uni.test", Subject: "Request overdue", Text: "body"})

	require.Len(t, m.Personalizations, 1)
	assert.Equal(t, "[Student Services] Request overdue", m.Personalizations[0].Subject)
	assert.Equal(t, "ana@uni.test", m.Personalizations[0].To[0].Address)
	require.Len(t, m.Content, 1)
	assert.Equal(t, "text/plain", m.Content[0].Type)
}

func TestSendGridSend(t *testing.T) {
	var payload map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, sendGridEndpoint, r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &payload)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewSendGrid("key", "Student Services", "noreply@uni.test")
	s.host = srv.URL
	require.NoError(t, s.Send(context.Background(), Message{ToAddress: "ana@uni.test", Subject: "s", Text: "t"}))
	assert.NotNil(t, payload["personalizations"])
}

func TestSendGridSendFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	s := NewSendGrid("bad", "Student Services", "noreply@uni.test")
	s.host = srv.URL
	assert.Error(t, s.Send(context.Background(), Message{ToAddress: "ana@uni.test"}))
	assert.ErrorIs(t, s.Send(context.Background(), Message{}), ErrNoRecipient)
}
