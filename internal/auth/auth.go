package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/gmail/v1"
)

// Scopes needed to read schedule emails and write shift events.
var Scopes = []string{
	gmail.GmailReadonlyScope,
	calendar.CalendarScope,
}

// authorizationTimeout bounds how long the loopback flow waits for the browser.
const authorizationTimeout = 5 * time.Minute

// NewOAuthConfig builds the installed-app OAuth configuration for Google.
// The redirect URL is filled in once the loopback listener is bound.
func NewOAuthConfig(clientID, clientSecret string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scopes:       Scopes,
		Endpoint:     google.Endpoint,
	}
}

// autoSaveTokenSource wraps an oauth2.TokenSource and automatically saves refreshed tokens.
type autoSaveTokenSource struct {
	source     oauth2.TokenSource
	tokenStore TokenStore
	lastToken  *oauth2.Token
}

// Token implements oauth2.TokenSource and saves the token if it was refreshed.
func (a *autoSaveTokenSource) Token() (*oauth2.Token, error) {
	token, err := a.source.Token()
	if err != nil {
		return nil, err
	}

	if a.lastToken == nil || a.lastToken.AccessToken != token.AccessToken {
		if err := a.tokenStore.SaveToken(token); err != nil {
			return nil, fmt.Errorf("failed to save refreshed token: %w", err)
		}
		log.Debug("Saved refreshed OAuth token")
		a.lastToken = token
	}

	return token, nil
}

// startLocalServer starts a local HTTP server to receive the OAuth callback.
// Returns the redirect URL, a channel for the authorization code, and a channel for errors.
// Uses the preferred port, or a random port if it is unavailable.
func startLocalServer(port int) (string, <-chan string, <-chan error, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		listener, err = net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return "", nil, nil, fmt.Errorf("failed to start local server: %w", err)
		}
	}

	boundPort := listener.Addr().(*net.TCPAddr).Port
	redirectURL := fmt.Sprintf("http://127.0.0.1:%d", boundPort)

	codeChan := make(chan string, 1)
	errorChan := make(chan error, 1)

	server := &http.Server{
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  10 * time.Second,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		switch {
		case query.Get("code") != "":
			fmt.Fprint(w, "<html><body><h1>Authorization successful!</h1><p>You can close this window.</p></body></html>")
			select {
			case codeChan <- query.Get("code"):
			default:
			}
		case query.Get("error") != "":
			fmt.Fprintf(w, "<html><body><h1>Authorization failed</h1><p>Error: %s</p></body></html>", query.Get("error"))
			select {
			case errorChan <- fmt.Errorf("authorization error: %s", query.Get("error")):
			default:
			}
		default:
			fmt.Fprint(w, "<html><body><h1>No authorization code received</h1></body></html>")
			select {
			case errorChan <- errors.New("no authorization code received"):
			default:
			}
		}
		go func() {
			time.Sleep(1 * time.Second)
			server.Shutdown(context.Background())
		}()
	})
	server.Handler = mux

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			select {
			case errorChan <- fmt.Errorf("server error: %w", err):
			default:
			}
		}
	}()

	return redirectURL, codeChan, errorChan, nil
}

// GetAuthenticatedClient returns an authenticated HTTP client using OAuth 2.0.
// If no token exists, it runs the browser flow with a loopback redirect on
// the given port.
func GetAuthenticatedClient(ctx context.Context, oauthConfig *oauth2.Config, tokenStore TokenStore, port int) (*http.Client, error) {
	return getAuthenticatedClient(ctx, oauthConfig, tokenStore, func() (string, error) {
		return loopbackAuthorization(oauthConfig, port)
	})
}

// GetAuthenticatedClientWithReader is like GetAuthenticatedClient but reads a
// pasted authorization code from reader. Used on hosts without a browser.
func GetAuthenticatedClientWithReader(ctx context.Context, oauthConfig *oauth2.Config, tokenStore TokenStore, reader io.Reader) (*http.Client, error) {
	return getAuthenticatedClient(ctx, oauthConfig, tokenStore, func() (string, error) {
		authURL := oauthConfig.AuthCodeURL("state-token", oauth2.AccessTypeOffline)

		fmt.Println("Please visit the following URL to authorize the application:")
		fmt.Println(authURL)
		fmt.Print("Enter the authorization code: ")

		var code string
		if _, err := fmt.Fscanln(reader, &code); err != nil {
			return "", fmt.Errorf("failed to read authorization code: %w", err)
		}
		return code, nil
	})
}

func getAuthenticatedClient(ctx context.Context, oauthConfig *oauth2.Config, tokenStore TokenStore, authorize func() (string, error)) (*http.Client, error) {
	token, err := tokenStore.LoadToken()
	if err != nil {
		return nil, fmt.Errorf("failed to load token: %w", err)
	}

	// First run: no token yet
	if token == nil {
		code, err := authorize()
		if err != nil {
			return nil, err
		}
		if code == "" {
			return nil, errors.New("no authorization code received")
		}

		token, err = oauthConfig.Exchange(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
		}

		if err := tokenStore.SaveToken(token); err != nil {
			return nil, fmt.Errorf("failed to save token: %w", err)
		}

		log.Info("Authorization successful")
	}

	autoSaveSource := &autoSaveTokenSource{
		source:     oauth2.ReuseTokenSource(token, oauthConfig.TokenSource(ctx, token)),
		tokenStore: tokenStore,
		lastToken:  token,
	}

	return oauth2.NewClient(ctx, autoSaveSource), nil
}

func loopbackAuthorization(oauthConfig *oauth2.Config, port int) (string, error) {
	redirectURL, codeChan, errorChan, err := startLocalServer(port)
	if err != nil {
		return "", err
	}

	oauthConfig.RedirectURL = redirectURL
	authURL := oauthConfig.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.ApprovalForce)

	fmt.Printf("Starting local server on %s\n", redirectURL)
	if redirectURL != fmt.Sprintf("http://127.0.0.1:%d", port) {
		fmt.Printf("Note: Port %d was unavailable. Make sure to add %s to your authorized redirect URIs in Google Cloud Console.\n", port, redirectURL)
	}
	fmt.Println("\nPlease visit the following URL to authorize the application:")
	fmt.Println(authURL)
	fmt.Println("\nWaiting for authorization...")

	select {
	case code := <-codeChan:
		return code, nil
	case err := <-errorChan:
		return "", fmt.Errorf("failed to receive authorization code: %w", err)
	case <-time.After(authorizationTimeout):
		return "", fmt.Errorf("authorization timeout: no response received within %s", authorizationTimeout)
	}
}
