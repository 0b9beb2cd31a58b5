// Package loopback receives a single OAuth redirect on a local listener, for
// logging in from the command line without the HTTP server running.
package loopback

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// DefaultTimeout is how long a CLI login waits for the browser redirect.
const DefaultTimeout = 5 * time.Minute

// Receiver is a temporary server bound to a redirect URI's host and port.
type Receiver struct {
	listener net.Listener
	srv      *http.Server
	path     string
	state    string

	once   sync.Once
	result chan result
}

type result struct {
	code string
	err  error
}

// Listen starts a receiver for redirectURI, which must point at a loopback
// host with an explicit port. Only a callback carrying state is accepted.
func Listen(redirectURI, state string) (*Receiver, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return nil, fmt.Errorf("parse redirect uri: %w", err)
	}
	if !isLoopback(u.Hostname()) {
		return nil, fmt.Errorf("redirect uri %q is not a loopback address", redirectURI)
	}
	if u.Port() == "" {
		return nil, fmt.Errorf("redirect uri %q has no port", redirectURI)
	}
	if state == "" {
		return nil, errors.New("state must not be empty")
	}

	ln, err := net.Listen("tcp", u.Host)
	if err != nil {
		return nil, fmt.Errorf("failed to start callback server: %w", err)
	}

	path := u.Path
	if path == "" {
		path = "/"
	}
	r := &Receiver{
		listener: ln,
		path:     path,
		state:    state,
		result:   make(chan result, 1),
	}
	mux := http.NewServeMux()
	mux.HandleFunc(path, r.handle)
	r.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := r.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.deliver(result{err: fmt.Errorf("callback server: %w", err)})
		}
	}()
	return r, nil
}

// Addr is the address the receiver listens on.
func (r *Receiver) Addr() string {
	return r.listener.Addr().String()
}

// Wait blocks until the redirect arrives or ctx ends, then stops the server.
func (r *Receiver) Wait(ctx context.Context) (string, error) {
	defer r.Close()
	select {
	case res := <-r.result:
		return res.code, res.err
	case <-ctx.Done():
		return "", fmt.Errorf("waiting for authorization callback: %w", ctx.Err())
	}
}

// Close stops the server. It is safe to call more than once.
func (r *Receiver) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return r.srv.Shutdown(ctx)
}

// deliver records the first outcome; later callbacks are ignored.
func (r *Receiver) deliver(res result) bool {
	delivered := false
	r.once.Do(func() {
		r.result <- res
		delivered = true
	})
	return delivered
}

func (r *Receiver) handle(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	if q.Get("state") != r.state {
		http.Error(w, "Invalid state", http.StatusBadRequest)
		return
	}

	var res result
	switch {
	case q.Get("error") != "":
		res.err = fmt.Errorf("authorization denied: %s", q.Get("error"))
	case q.Get("code") == "":
		res.err = errors.New("callback carried no authorization code")
	default:
		res.code = q.Get("code")
	}

	if !r.deliver(res) {
		http.Error(w, "Callback already processed", http.StatusBadRequest)
		return
	}
	if res.err != nil {
		http.Error(w, res.err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "Authorization received. You can close this window and return to the terminal.")
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
