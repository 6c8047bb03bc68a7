package dispatcher

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ashish-frozo/frozo-zendesk/internal/fault"
)

func TestValidateURL(t *testing.T) {
	n := NewSlackNotifier([]string{"hooks.slack.com"}, zaptest.NewLogger(t))

	assert.NoError(t, n.ValidateURL("https://hooks.slack.com/services/T0/B0/xyz"))

	err := n.ValidateURL("http://hooks.slack.com/services/T0/B0/xyz")
	require.Error(t, err)
	assert.Equal(t, fault.CategoryInvalid, fault.CategoryOf(err))

	err = n.ValidateURL("https://evil.example.com/services/T0/B0/xyz")
	require.Error(t, err)
	assert.Equal(t, fault.CategoryInvalid, fault.CategoryOf(err))

	assert.Error(t, n.ValidateURL("://not-a-url"))
}

func TestDispatchDelivers(t *testing.T) {
	var got Message
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	u, err := url.Parse(server.URL)
	require.NoError(t, err)

	n := NewSlackNotifier([]string{u.Hostname()}, zaptest.NewLogger(t))
	n.client = server.Client()

	err = n.Dispatch(context.Background(), server.URL, Message{Text: "Run ready for review: 3 redactions"})
	require.NoError(t, err)
	assert.Equal(t, "Run ready for review: 3 redactions", got.Text)
}

func TestDispatchNon2xx(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer server.Close()

	u, err := url.Parse(server.URL)
	require.NoError(t, err)

	n := NewSlackNotifier([]string{u.Hostname()}, zaptest.NewLogger(t))
	n.client = server.Client()

	err = n.Dispatch(context.Background(), server.URL, Message{Text: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 410")
}

func TestDispatchRejectsUnlistedHost(t *testing.T) {
	n := NewSlackNotifier([]string{"hooks.slack.com"}, zaptest.NewLogger(t))

	err := n.Dispatch(context.Background(), "https://attacker.example.com/hook", Message{Text: "x"})
	require.Error(t, err)
	assert.Equal(t, fault.CategoryInvalid, fault.CategoryOf(err))
}
