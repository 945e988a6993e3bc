package jitsi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nelsonblaha/homepage/internal/integrations"
)

func TestNoAccountManagement(t *testing.T) {
	c := New("http://meet.local", "")

	_, err := c.CreateAccount(context.Background(), "ana")
	require.Error(t, err)
	assert.ErrorIs(t, err, integrations.ErrTargetRejected)

	err = c.DeleteAccount(context.Background(), "whatever")
	require.Error(t, err)
	assert.ErrorIs(t, err, integrations.ErrTargetRejected)
}

func TestCheckStatusUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>jitsi meet</html>"))
	}))
	defer srv.Close()

	st := New(srv.URL, "").CheckStatus(context.Background())
	assert.True(t, st.Connected)
}

func TestCheckStatusIncludesParticipants(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/colibri/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"participants":4,"conferences":1}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	st := New(srv.URL, srv.URL+"/colibri/stats").CheckStatus(context.Background())
	require.True(t, st.Connected)
	assert.Equal(t, "4 participants", st.Detail)
}

func TestParticipantCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"participants":2,"conferences":1}`))
	}))
	defer srv.Close()

	n, err := New("http://meet.local", srv.URL).ParticipantCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Sin stats endpoint configurado.
	_, err = New("http://meet.local", "").ParticipantCount(context.Background())
	assert.ErrorIs(t, err, integrations.ErrConfigurationMissing)

	// Stats endpoint caído.
	_, err = New("http://meet.local", "http://127.0.0.1:1/stats").ParticipantCount(context.Background())
	assert.ErrorIs(t, err, integrations.ErrTargetUnreachable)
}

func TestCheckStatusDown(t *testing.T) {
	st := New("http://127.0.0.1:1", "").CheckStatus(context.Background())
	assert.False(t, st.Connected)
	assert.NotEmpty(t, st.Detail)
}
