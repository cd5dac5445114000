// SPDX-License-Identifier: MIT

package sweep

import (
	"context"
	"fmt"

	"github.com/comradarr/comradarr/internal/connector"
	"github.com/comradarr/comradarr/internal/reconnect"
	"github.com/comradarr/comradarr/internal/secrets"
	"github.com/comradarr/comradarr/internal/store"
)

// Clients builds authenticated upstream clients from stored connector rows.
// API keys live encrypted at rest; this factory is the one place they are
// decrypted.
type Clients struct {
	cipher *secrets.Cipher
	opts   []connector.Option
}

// NewClients returns a factory. opts apply to every client it builds.
func NewClients(cipher *secrets.Cipher, opts ...connector.Option) *Clients {
	return &Clients{cipher: cipher, opts: opts}
}

// For builds a client for one connector row.
func (f *Clients) For(conn store.Connector) (*connector.Client, error) {
	key, err := f.cipher.Decrypt(conn.APIKeyCipher)
	if err != nil {
		return nil, fmt.Errorf("decrypt api key for connector %d: %w", conn.ID, err)
	}
	return connector.New(conn.BaseURL, key, conn.Type, f.opts...), nil
}

// Prober adapts the factory for the reconnect supervisor: build a client for
// the connector under probe and ping it.
func (f *Clients) Prober() reconnect.Prober {
	return reconnect.ProberFunc(func(ctx context.Context, conn store.Connector) error {
		client, err := f.For(conn)
		if err != nil {
			return err
		}
		return client.Ping(ctx)
	})
}
