package main

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
	"gosuda.org/portal/portal/core/cryptoops"
	"gosuda.org/portal/sdk"
)

// startRelay exposes handler through the Portal relays in urls. It returns
// nil and no error when no relay is configured.
func startRelay(handler http.Handler, urls []string, name, credKey string, errCh chan<- error) (func(), error) {
	if len(urls) == 0 {
		return nil, nil
	}
	cred := sdk.NewCredential()
	if credKey != "" {
		key, err := base64.StdEncoding.DecodeString(credKey)
		if err != nil {
			return nil, fmt.Errorf("decode cred key: %w", err)
		}
		keyCred, err := cryptoops.NewCredentialFromPrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("credential from key: %w", err)
		}
		cred = keyCred
	}
	client, err := sdk.NewClient(func(c *sdk.RDClientConfig) {
		c.BootstrapServers = urls
	})
	if err != nil {
		return nil, fmt.Errorf("portal client: %w", err)
	}
	ln, err := client.Listen(cred, name, []string{"http/1.1"},
		sdk.WithDescription("Shared real-time clipboard"),
		sdk.WithOwner("Clipboard"),
		sdk.WithTags([]string{"clipboard", "share"}),
	)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("portal listen: %w", err)
	}
	log.Info().Str("name", name).Strs("servers", urls).Msg("[clipboard] serving through Portal relay")
	go func() {
		if err := http.Serve(ln, handler); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("portal http serve: %w", err)
		}
	}()
	return func() {
		_ = ln.Close()
		_ = client.Close()
	}, nil
}
