package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// ReadOnlyScope is enough for identifier lookups
const ReadOnlyScope = gmail.GmailReadonlyScope

const defaultListenAddr = "localhost:8080"

// OAuth2Config holds OAuth2 configuration
type OAuth2Config struct {
	CredentialsPath string
	TokenPath       string
	Scopes          []string

	// ListenAddr is where the authorization redirect is captured
	ListenAddr string

	// Prompt receives the interactive authorization instructions
	Prompt io.Writer

	// AuthTimeout bounds the wait for the browser redirect
	AuthTimeout time.Duration
}

// NewOAuth2Config creates a new OAuth2 configuration
func NewOAuth2Config(credentialsPath string, tokenPath string, scopes ...string) *OAuth2Config {
	return &OAuth2Config{
		CredentialsPath: credentialsPath,
		TokenPath:       tokenPath,
		Scopes:          scopes,
		ListenAddr:      defaultListenAddr,
		Prompt:          os.Stderr,
		AuthTimeout:     5 * time.Minute,
	}
}

// LoadCredentials loads OAuth2 credentials from file
func (c *OAuth2Config) LoadCredentials() (*oauth2.Config, error) {
	data, err := os.ReadFile(c.CredentialsPath)
	if err != nil {
		return nil, fmt.Errorf("could not read credentials file: %w", err)
	}

	config, err := google.ConfigFromJSON(data, c.Scopes...)
	if err != nil {
		return nil, fmt.Errorf("could not parse credentials file: %w", err)
	}

	return config, nil
}

// LoadToken loads the cached token from file
func (c *OAuth2Config) LoadToken() (*oauth2.Token, error) {
	f, err := os.Open(c.TokenPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	token := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(token); err != nil {
		return nil, fmt.Errorf("could not decode token file: %w", err)
	}
	return token, nil
}

// SaveToken saves the token with owner-only permissions
func (c *OAuth2Config) SaveToken(token *oauth2.Token) error {
	if token == nil {
		return fmt.Errorf("nil token")
	}
	dir := filepath.Dir(c.TokenPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	f, err := os.OpenFile(c.TokenPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("could not save OAuth token: %w", err)
	}
	defer f.Close()

	return json.NewEncoder(f).Encode(token)
}

// GetToken retrieves a token, refreshing or re-authorizing if necessary
func (c *OAuth2Config) GetToken(ctx context.Context) (*oauth2.Token, error) {
	config, err := c.LoadCredentials()
	if err != nil {
		return nil, err
	}

	token, err := c.LoadToken()
	if err != nil {
		token, err = c.authenticate(ctx, config)
		if err != nil {
			return nil, err
		}
	}

	if !token.Valid() {
		token, err = config.TokenSource(ctx, token).Token()
		if err != nil {
			if !isRevoked(err) {
				return nil, fmt.Errorf("token refresh failed: %w", err)
			}
			c.printf("\nStored Gmail authorization has expired or been revoked.\n")
			token, err = c.authenticate(ctx, config)
			if err != nil {
				return nil, fmt.Errorf("re-authentication failed: %w", err)
			}
		}
	}

	if err := c.SaveToken(token); err != nil {
		return nil, err
	}

	return token, nil
}

func isRevoked(err error) bool {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.ErrorCode == "invalid_grant" {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "invalid_grant") || strings.Contains(msg, "Token has been expired or revoked")
}

func (c *OAuth2Config) printf(format string, args ...any) {
	if c.Prompt != nil {
		fmt.Fprintf(c.Prompt, format, args...)
	}
}

// authenticate runs the browser consent flow against a local redirect listener
func (c *OAuth2Config) authenticate(ctx context.Context, config *oauth2.Config) (*oauth2.Token, error) {
	addr := c.ListenAddr
	if addr == "" {
		addr = defaultListenAddr
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("local server error: %w", err)
	}

	state := uuid.NewString()
	codeChan := make(chan string, 1)
	errorChan := make(chan error, 1)

	server := &http.Server{Handler: callbackHandler(state, codeChan, errorChan)}
	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			select {
			case errorChan <- err:
			default:
			}
		}
	}()
	defer func() { _ = server.Shutdown(context.Background()) }()

	localConfig := *config
	localConfig.RedirectURL = "http://" + ln.Addr().String()

	c.printf("\nAuthorization required\n")
	c.printf("1. Open this link: %s\n", localConfig.AuthCodeURL(state, oauth2.AccessTypeOffline))
	c.printf("2. Grant read-only access to the application\n")
	c.printf("\nWaiting for authorization...\n")

	timeout := c.AuthTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	var authCode string
	select {
	case authCode = <-codeChan:
	case err := <-errorChan:
		return nil, fmt.Errorf("authorization failed: %w", err)
	case <-time.After(timeout):
		return nil, fmt.Errorf("authorization timeout exceeded")
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	token, err := localConfig.Exchange(ctx, authCode)
	if err != nil {
		return nil, fmt.Errorf("could not exchange authorization code for token: %w", err)
	}

	c.printf("Authorization successful.\n")
	return token, nil
}

func callbackHandler(state string, codeChan chan<- string, errorChan chan<- error) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		code := q.Get("code")
		var err error
		switch {
		case q.Get("state") != state:
			err = fmt.Errorf("authorization state mismatch")
		case code == "":
			err = fmt.Errorf("authorization code not received")
		}
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte("<html><body><h2>Authorization error</h2><p>" + err.Error() + "</p></body></html>"))
			select {
			case errorChan <- err:
			default:
			}
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html><body><h2>Authorization successful</h2><p>You can close this window.</p></body></html>"))
		select {
		case codeChan <- code:
		default:
		}
	})
}

// NewGmailService creates a Gmail service authorized with the stored token
func NewGmailService(ctx context.Context, credentialsPath, tokenPath string, scopes ...string) (*gmail.Service, error) {
	if len(scopes) == 0 {
		scopes = []string{ReadOnlyScope}
	}
	oauthConfig := NewOAuth2Config(credentialsPath, tokenPath, scopes...)

	token, err := oauthConfig.GetToken(ctx)
	if err != nil {
		return nil, err
	}

	config, err := oauthConfig.LoadCredentials()
	if err != nil {
		return nil, err
	}

	service, err := gmail.NewService(ctx, option.WithTokenSource(config.TokenSource(ctx, token)))
	if err != nil {
		return nil, fmt.Errorf("could not create Gmail service: %w", err)
	}

	return service, nil
}
