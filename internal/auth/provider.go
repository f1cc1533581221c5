package auth

import (
	"context"
	"net/http"
)

// HeaderProvider returns the credentials to attach to a websocket handshake
// or a REST request.
type HeaderProvider func(ctx context.Context) (http.Header, error)

// Bearer builds an Authorization: Bearer header from a token source.
func Bearer(src TokenSource) HeaderProvider {
	return func(ctx context.Context) (http.Header, error) {
		token, err := src.Token(ctx)
		if err != nil {
			return nil, err
		}
		h := http.Header{}
		if token != "" {
			h.Set("Authorization", "Bearer "+token)
		}
		return h, nil
	}
}

// Ambient sends a fixed set of headers, typically a session cookie, the way a
// browser would attach its own credentials.
func Ambient(h http.Header) HeaderProvider {
	return func(context.Context) (http.Header, error) {
		return h.Clone(), nil
	}
}

// None sends no credentials.
func None() HeaderProvider {
	return func(context.Context) (http.Header, error) {
		return http.Header{}, nil
	}
}

// Apply copies the provider's headers onto req.
func Apply(ctx context.Context, p HeaderProvider, req *http.Request) error {
	if p == nil {
		return nil
	}
	h, err := p(ctx)
	if err != nil {
		return err
	}
	for k, vs := range h {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return nil
}
