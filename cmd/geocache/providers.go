package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/TomasB/geocache/internal/config"
	"github.com/TomasB/geocache/internal/data"
)

// buildProvider assembles the providers named in conf.Order. More than one
// provider is wrapped in a data.Chain. The returned func closes the offline
// databases that were opened.
func buildProvider(ctx context.Context, conf config.Provider) (data.Provider, func(), error) {
	var (
		providers []data.Provider
		closers   []io.Closer
	)
	closeAll := func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				slog.Warn("failed to close provider", "error", err)
			}
		}
	}

	for _, name := range conf.Order {
		switch name {
		case config.ProviderIPStack:
			if conf.IPStack.AccessKey == "" {
				slog.Warn("ipstack access key is not set, upstream lookups will be refused")
			}
			providers = append(providers, data.NewIPStack(conf.IPStack.BaseURL, conf.IPStack.AccessKey, conf.IPStack.Timeout))

		case config.ProviderMMDB:
			reader, err := data.NewMmdbReader(conf.MMDB.Path)
			if err != nil {
				closeAll()
				return nil, nil, err
			}
			closers = append(closers, reader)
			if conf.MMDB.Watch {
				if err := reader.Watch(ctx); err != nil {
					closeAll()
					return nil, nil, err
				}
			}
			slog.Info("MMDB loaded", "path", conf.MMDB.Path, "watch", conf.MMDB.Watch)
			providers = append(providers, reader)

		case config.ProviderIP2Location:
			reader, err := data.NewIP2Location(conf.IP2Location.Path)
			if err != nil {
				closeAll()
				return nil, nil, err
			}
			closers = append(closers, reader)
			slog.Info("IP2Location loaded", "path", conf.IP2Location.Path)
			providers = append(providers, reader)

		default:
			closeAll()
			return nil, nil, fmt.Errorf("%w: unknown provider %q", config.ErrInvalid, name)
		}
	}

	switch len(providers) {
	case 0:
		return nil, nil, fmt.Errorf("%w: provider.order is empty", config.ErrInvalid)
	case 1:
		return providers[0], closeAll, nil
	default:
		return data.NewChain(providers...), closeAll, nil
	}
}
