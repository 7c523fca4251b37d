package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestNewOAuth2Config(t *testing.T) {
	credPath := "/path/to/credentials.json"
	tokenPath := "/path/to/token.json"

	config := NewOAuth2Config(credPath, tokenPath, ReadOnlyScope)

	assert.Equal(t, credPath, config.CredentialsPath)
	assert.Equal(t, tokenPath, config.TokenPath)
	assert.Equal(t, []string{ReadOnlyScope}, config.Scopes)
	assert.Equal(t, defaultListenAddr, config.ListenAddr)
	assert.Equal(t, os.Stderr, config.Prompt)
	assert.Equal(t, 5*time.Minute, config.AuthTimeout)
}

func TestOAuth2Config_LoadCredentials_ValidationErrors(t *testing.T) {
	t.Run("empty_credentials_path", func(t *testing.T) {
		config := &OAuth2Config{CredentialsPath: ""}

		oauthConfig, err := config.LoadCredentials()
		assert.Nil(t, oauthConfig)
		assert.ErrorContains(t, err, "could not read credentials file")
	})

	t.Run("invalid_credentials_content", func(t *testing.T) {
		credPath := filepath.Join(t.TempDir(), "invalid_credentials.json")
		require.NoError(t, os.WriteFile(credPath, []byte("invalid json content"), 0600))

		config := &OAuth2Config{CredentialsPath: credPath}

		oauthConfig, err := config.LoadCredentials()
		assert.Nil(t, oauthConfig)
		assert.ErrorContains(t, err, "could not parse credentials file")
	})
}

func TestOAuth2Config_LoadCredentials_Valid(t *testing.T) {
	credPath := filepath.Join(t.TempDir(), "credentials.json")
	require.NoError(t, os.WriteFile(credPath, []byte(`{"installed":{
		"client_id":"id.apps.googleusercontent.com",
		"client_secret":"secret",
		"auth_uri":"https://accounts.google.com/o/oauth2/auth",
		"token_uri":"https://oauth2.googleapis.com/token",
		"redirect_uris":["http://localhost"]}}`), 0600))

	config := NewOAuth2Config(credPath, "", ReadOnlyScope)
	oauthConfig, err := config.LoadCredentials()
	require.NoError(t, err)
	assert.Equal(t, "id.apps.googleusercontent.com", oauthConfig.ClientID)
	assert.Equal(t, []string{ReadOnlyScope}, oauthConfig.Scopes)
}

func TestOAuth2Config_LoadToken(t *testing.T) {
	t.Run("missing", func(t *testing.T) {
		config := &OAuth2Config{TokenPath: filepath.Join(t.TempDir(), "absent.json")}
		token, err := config.LoadToken()
		assert.Error(t, err)
		assert.Nil(t, token)
	})

	t.Run("invalid_content", func(t *testing.T) {
		tokenPath := filepath.Join(t.TempDir(), "token.json")
		require.NoError(t, os.WriteFile(tokenPath, []byte("{not json"), 0600))

		config := &OAuth2Config{TokenPath: tokenPath}
		token, err := config.LoadToken()
		assert.Nil(t, token)
		assert.ErrorContains(t, err, "could not decode token file")
	})
}

func TestOAuth2Config_SaveToken(t *testing.T) {
	tokenPath := filepath.Join(t.TempDir(), "nested", "dir", "token.json")
	config := &OAuth2Config{TokenPath: tokenPath}

	assert.ErrorContains(t, config.SaveToken(nil), "nil token")

	token := &oauth2.Token{
		AccessToken:  "access",
		TokenType:    "Bearer",
		RefreshToken: "refresh",
		Expiry:       time.Now().Add(time.Hour),
	}
	require.NoError(t, config.SaveToken(token))

	info, err := os.Stat(tokenPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := config.LoadToken()
	require.NoError(t, err)
	assert.Equal(t, token.AccessToken, loaded.AccessToken)
	assert.Equal(t, token.RefreshToken, loaded.RefreshToken)
	assert.True(t, loaded.Valid())
}

func TestOAuth2Config_SaveToken_ExpiredStaysInvalid(t *testing.T) {
	config := &OAuth2Config{TokenPath: filepath.Join(t.TempDir(), "expired.json")}
	require.NoError(t, config.SaveToken(&oauth2.Token{
		AccessToken: "expired",
		Expiry:      time.Now().Add(-time.Hour),
	}))

	loaded, err := config.LoadToken()
	require.NoError(t, err)
	assert.False(t, loaded.Valid())
}

func TestOAuth2Config_GetToken_InvalidCredentials(t *testing.T) {
	config := &OAuth2Config{
		CredentialsPath: "/nonexistent/credentials.json",
		TokenPath:       filepath.Join(t.TempDir(), "token.json"),
	}

	token, err := config.GetToken(context.Background())
	assert.Nil(t, token)
	assert.ErrorContains(t, err, "could not read credentials file")
}

func TestNewGmailService_ValidationErrors(t *testing.T) {
	ctx := context.Background()

	service, err := NewGmailService(ctx, "/nonexistent/cred.json", "/tmp/token.json")
	assert.Error(t, err)
	assert.Nil(t, service)

	service, err = NewGmailService(ctx, "", "/tmp/token.json", ReadOnlyScope)
	assert.Error(t, err)
	assert.Nil(t, service)
}

func TestCallbackHandler(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantCode   string
		wantErr    string
	}{
		{"success", "?state=s1&code=abc", http.StatusOK, "abc", ""},
		{"state_mismatch", "?state=other&code=abc", http.StatusBadRequest, "", "authorization state mismatch"},
		{"missing_code", "?state=s1", http.StatusBadRequest, "", "authorization code not received"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			codeChan := make(chan string, 1)
			errorChan := make(chan error, 1)
			h := callbackHandler("s1", codeChan, errorChan)

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/"+tt.query, nil))
			assert.Equal(t, tt.wantStatus, rec.Code)

			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, <-codeChan)
				return
			}
			assert.ErrorContains(t, <-errorChan, tt.wantErr)
		})
	}
}

func TestIsRevoked(t *testing.T) {
	assert.True(t, isRevoked(&oauth2.RetrieveError{ErrorCode: "invalid_grant"}))
	assert.True(t, isRevoked(fmt.Errorf("oauth2: Token has been expired or revoked.")))
	assert.False(t, isRevoked(fmt.Errorf("connection refused")))
}
