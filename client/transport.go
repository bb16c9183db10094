package client

import (
	"context"
	"fmt"

	"github.com/ruteri/secrets-gateway/interfaces"
)

// Transport is how the client reaches configuration. It is implemented by
// secretshandler.Client over HTTP and by StoreTransport directly on a store.
type Transport interface {
	// Ready returns nil when configuration can be served, otherwise an error
	// wrapping ErrUnavailable.
	Ready(ctx context.Context) error
	// Read returns the document at path.
	Read(ctx context.Context, path string) (interfaces.Document, error)
}

// StoreTransport reads configuration straight from a secret store.
type StoreTransport struct {
	Store interfaces.SecretStore
}

func (t StoreTransport) Ready(ctx context.Context) error {
	status, err := t.Store.Health(ctx)
	if err != nil {
		return err
	}
	if !status.Healthy() {
		return fmt.Errorf("%w: store %s initialized=%t sealed=%t", interfaces.ErrUnavailable, t.Store.Name(), status.Initialized, status.Sealed)
	}
	return nil
}

func (t StoreTransport) Read(ctx context.Context, path string) (interfaces.Document, error) {
	doc, err := t.Store.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	return doc.Data, nil
}
