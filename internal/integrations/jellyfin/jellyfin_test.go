package jellyfin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nelsonblaha/homepage/internal/integrations"
)

func TestCreateAccountYPassword(t *testing.T) {
	var passwordSet bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "key", r.Header.Get("X-Emby-Token"))
		switch r.URL.Path {
		case "/Users/New":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			assert.Equal(t, "ana_jellyfin", body["Name"])
			_ = json.NewEncoder(w).Encode(map[string]string{"Id": "jf-1", "Name": "ana_jellyfin"})
		case "/Users/jf-1/Password":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			assert.NotEmpty(t, body["NewPw"])
			passwordSet = true
		default:
			t.Errorf("path inesperado: %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "key")
	acc, err := c.CreateAccount(context.Background(), "ana_jellyfin")
	require.NoError(t, err)
	assert.Equal(t, "jf-1", acc.ExternalID)
	assert.NotEmpty(t, acc.Password)
	assert.True(t, passwordSet)
}

func TestCreateAccountPasswordFallaNoEsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/Users/New":
			_ = json.NewEncoder(w).Encode(map[string]string{"Id": "jf-2"})
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "key")
	acc, err := c.CreateAccount(context.Background(), "bob_jellyfin")
	require.NoError(t, err, "el set de password es best-effort")
	assert.Equal(t, "jf-2", acc.ExternalID)
}

func TestCreateAccountDuplicada(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/Users/New":
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte("A user with the name ana_jellyfin already exists."))
		case "/Users":
			_ = json.NewEncoder(w).Encode([]map[string]string{
				{"Id": "jf-7", "Name": "Ana_Jellyfin"},
			})
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "key")
	acc, err := c.CreateAccount(context.Background(), "ana_jellyfin")
	require.NoError(t, err)
	assert.True(t, acc.AlreadyExisted)
	assert.Equal(t, "jf-7", acc.ExternalID)
}

func TestLoginConstruyeCredencialesWeb(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/Users/AuthenticateByName", r.URL.Path)
		require.Contains(t, r.Header.Get("X-Emby-Authorization"), "MediaBrowser")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"AccessToken": "tok-55",
			"ServerId":    "srv-9",
			"User":        map[string]string{"Id": "jf-1"},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "key")
	grant, err := c.Login(context.Background(), "ana_jellyfin", "pwd")
	require.NoError(t, err)

	raw, ok := grant.LocalStorage["jellyfin_credentials"]
	require.True(t, ok)

	var creds storedCredentials
	require.NoError(t, json.Unmarshal([]byte(raw), &creds))
	require.Len(t, creds.Servers, 1)
	assert.Equal(t, "tok-55", creds.Servers[0].AccessToken)
	assert.Equal(t, "srv-9", creds.Servers[0].ServerID)
	assert.Equal(t, "jf-1", creds.Servers[0].UserID)
}

func TestLoginRechazado(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(srv.URL, "key")
	_, err := c.Login(context.Background(), "ana", "mala")
	assert.True(t, errors.Is(err, integrations.ErrTargetRejected))
}

func TestDeleteAccountIdempotente(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "DELETE", r.Method)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, "key")
	assert.NoError(t, c.DeleteAccount(context.Background(), "jf-gone"))
}

func TestCheckStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/System/Info/Public", r.URL.Path)
		assert.Empty(t, r.Header.Get("X-Emby-Token"), "el endpoint público no necesita token")
		_ = json.NewEncoder(w).Encode(map[string]string{"Version": "10.9"})
	}))
	defer srv.Close()

	c := New(srv.URL, "key")
	assert.True(t, c.CheckStatus(context.Background()).Connected)
}
