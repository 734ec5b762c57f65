package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os/exec"
	"runtime"
	"time"
)

const loginTimeout = 3 * time.Minute

// LoginFlow obtains an authorization code through the browser and exchanges it.
type LoginFlow struct {
	Authorizer *Authorizer
	ListenAddr string    // local address serving the redirect URI, e.g. localhost:8080
	Out        io.Writer // instructions for the operator
	OpenURL    func(string) error
}

// ConsentURL returns the amoCRM consent page URL for clientID.
func ConsentURL(clientID, state string) string {
	q := url.Values{}
	q.Set("client_id", clientID)
	q.Set("state", state)
	q.Set("mode", "post_message")
	return AuthURL + "?" + q.Encode()
}

// Run opens the consent page, waits for the redirect carrying the code and saves the token.
func (f *LoginFlow) Run(ctx context.Context) (*TokenRecord, error) {
	redirect, err := url.Parse(f.Authorizer.OAuth.RedirectURL)
	if err != nil || redirect.Path == "" {
		return nil, fmt.Errorf("invalid redirect URI %q", f.Authorizer.OAuth.RedirectURL)
	}

	state, err := randomState()
	if err != nil {
		return nil, err
	}

	codeChan := make(chan string, 1)
	errChan := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc(redirect.Path, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("state") != state {
			http.Error(w, "invalid state", http.StatusBadRequest)
			return
		}
		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			select {
			case errChan <- errors.New("no code in callback"):
			default:
			}
			return
		}

		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `
			<html>
			<body>
				<h1>Authorization successful!</h1>
				<p>You can close this window and return to the terminal.</p>
			</body>
			</html>
		`)

		select {
		case codeChan <- code:
		default:
		}
	})

	server := &http.Server{Addr: f.ListenAddr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			default:
			}
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	authURL := ConsentURL(f.Authorizer.OAuth.ClientID, state)
	fmt.Fprintf(f.Out, "Opening browser for authorization...\n")
	fmt.Fprintf(f.Out, "If browser doesn't open, visit:\n%v\n\n", authURL)

	open := f.OpenURL
	if open == nil {
		open = openBrowser
	}
	_ = open(authURL)

	var code string
	select {
	case code = <-codeChan:
	case err := <-errChan:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(loginTimeout):
		return nil, fmt.Errorf("authorization timeout after %v", loginTimeout)
	}

	return f.Authorizer.ExchangeCode(ctx, code)
}

func randomState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func openBrowser(u string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", u)
	case "linux":
		cmd = exec.Command("xdg-open", u)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", u)
	default:
		return fmt.Errorf("unsupported platform %s", runtime.GOOS)
	}
	return cmd.Start()
}
