package demand

import (
	"github.com/keboola/go-demand/pkg/transport"
)

type config struct {
	transport transport.Transport
	client    *transport.Client
	logger    Logger
}

// Option for the New function.
type Option func(c *config)

// WithTransport sets the transport owned by the demand.
// The transport must not be shared with another demand.
func WithTransport(t transport.Transport) Option {
	return func(c *config) {
		c.transport = t
	}
}

// WithClient sets the client used to create the transport, it is ignored if WithTransport is used.
func WithClient(client transport.Client) Option {
	return func(c *config) {
		c.client = &client
	}
}

// WithLogger sets the logger, log.Log of the github.com/apex/log package is used by default.
func WithLogger(logger Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

func newConfig(opts []Option) config {
	cfg := config{}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = defaultLogger()
	}
	if cfg.transport == nil {
		client := transport.New()
		if cfg.client != nil {
			client = *cfg.client
		}
		cfg.transport = client.NewTransport()
	}
	return cfg
}
