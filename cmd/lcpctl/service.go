package main

import (
	"github.com/readium/lcp-client-go/pkg/config"
	"github.com/readium/lcp-client-go/pkg/crl"
	"github.com/readium/lcp-client-go/pkg/httpfetch"
	"github.com/readium/lcp-client-go/pkg/lcp"
	"github.com/readium/lcp-client-go/pkg/profile"
	"github.com/readium/lcp-client-go/pkg/rights"
)

// buildService assembles a Service from the --config flag (or built-in
// defaults), the way each subcommand's RunE needs it: lcpctl is a
// one-shot CLI, not a daemon, so every invocation builds its own facade
// against the configured rights store and exits.
func buildService(configPath string) (*lcp.Service, func() error, error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg = config.Default()
	}
	if err != nil {
		return nil, nil, err
	}

	reg, err := profile.NewRegistry(cfg.Profiles)
	if err != nil {
		return nil, nil, err
	}

	fetcher := httpfetch.New(cfg.HTTP.RequestTimeout)
	crlCache, err := crl.NewCache(fetcher, cfg.CRL.CacheSize, cfg.CRL.TTL, cfg.CRL.FetchTimeout)
	if err != nil {
		return nil, nil, err
	}

	var crlStore *crl.PersistentStore
	if cfg.CRL.PersistPath != "" {
		crlStore, err = crl.NewPersistentStore(cfg.CRL.PersistPath)
		if err != nil {
			return nil, nil, err
		}
		crlCache.WithPersistence(crlStore)
	}

	var store rights.Store
	var closeStore func() error
	if cfg.RightsStore.EncryptionPassphrase != "" {
		enc, err := rights.NewEncryptedStore(cfg.RightsStore.BoltPath, rights.DeriveStoreKey(cfg.RightsStore.EncryptionPassphrase))
		if err != nil {
			return nil, nil, err
		}
		store, closeStore = enc, enc.Close
	} else {
		plain, err := rights.NewBoltRightsStore(cfg.RightsStore.BoltPath)
		if err != nil {
			return nil, nil, err
		}
		store, closeStore = plain, plain.Close
	}

	rightsMgr := rights.NewManager(store)
	svc := lcp.NewService(reg, crlCache, rightsMgr)

	closeFn := func() error {
		err := closeStore()
		if crlStore != nil {
			if cerr := crlStore.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
		return err
	}
	return svc, closeFn, nil
}
