package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// LoopbackConsent runs the installed-app flow: the user approves in a
// browser and Google redirects the code to a one-shot server on 127.0.0.1.
type LoopbackConsent struct {
	Out         io.Writer
	OpenBrowser func(url string) error
	Timeout     time.Duration // default 5m
}

type codeResult struct {
	code string
	err  error
}

func (c *LoopbackConsent) Consent(ctx context.Context, conf *oauth2.Config) (*oauth2.Token, error) {
	out := c.Out
	if out == nil {
		out = os.Stderr
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen for redirect: %w", err)
	}

	cfg := *conf
	cfg.RedirectURL = fmt.Sprintf("http://%s/", ln.Addr().String())
	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()

	results := make(chan codeResult, 1)
	deliver := func(r codeResult) {
		select {
		case results <- r:
		default:
		}
	}

	srv := &http.Server{
		ReadHeaderTimeout: 10 * time.Second,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/" {
				http.NotFound(w, r)
				return
			}
			q := r.URL.Query()
			if q.Get("state") != state {
				http.Error(w, "state mismatch", http.StatusBadRequest)
				deliver(codeResult{err: errors.New("redirect state mismatch")})
				return
			}
			if e := q.Get("error"); e != "" {
				http.Error(w, "authorization denied: "+e, http.StatusForbidden)
				deliver(codeResult{err: fmt.Errorf("authorization denied: %s", e)})
				return
			}
			code := q.Get("code")
			if code == "" {
				http.Error(w, "missing code", http.StatusBadRequest)
				deliver(codeResult{err: errors.New("redirect without code")})
				return
			}
			_, _ = io.WriteString(w, "The authentication flow has completed. You may close this window.\n")
			deliver(codeResult{code: code})
		}),
	}
	go func() { _ = srv.Serve(ln) }()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	authURL := cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.S256ChallengeOption(verifier))
	_, _ = fmt.Fprintf(out, "Please visit this URL to authorize this application:\n%s\n", authURL)
	if c.OpenBrowser != nil {
		// Headless hosts have no browser; the printed URL is enough.
		_ = c.OpenBrowser(authURL)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var res codeResult
	select {
	case res = <-results:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("no authorization received within %s", timeout)
	}
	if res.err != nil {
		return nil, res.err
	}

	tok, err := cfg.Exchange(ctx, res.code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	return tok, nil
}

// DeviceConsent runs the device-code flow for hosts without a browser.
type DeviceConsent struct {
	Out io.Writer
}

func (c *DeviceConsent) Consent(ctx context.Context, conf *oauth2.Config) (*oauth2.Token, error) {
	out := c.Out
	if out == nil {
		out = os.Stderr
	}
	resp, err := conf.DeviceAuth(ctx)
	if err != nil {
		return nil, fmt.Errorf("device authorization: %w", err)
	}
	_, _ = fmt.Fprintf(out, "To authorize this application, visit %s and enter the code %s\n",
		resp.VerificationURI, resp.UserCode)

	tok, err := conf.DeviceAccessToken(ctx, resp)
	if err != nil {
		return nil, fmt.Errorf("device token: %w", err)
	}
	return tok, nil
}
