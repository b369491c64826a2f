package discovery

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
	consulapi "github.com/hashicorp/consul/api"
	"go.uber.org/zap"
)

// Registrar registers this instance with Consul and resolves peer services.
type Registrar struct {
	client    *consulapi.Client
	serviceID string
	logger    *zap.SugaredLogger
}

func NewRegistrar(addr string, logger *zap.SugaredLogger) (*Registrar, error) {
	cfg := consulapi.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	client, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Registrar{client: client, logger: logger}, nil
}

// Register adds the instance with an HTTP health check on /healthz.
func (r *Registrar) Register(name, host string, port int) error {
	r.serviceID = fmt.Sprintf("%s-%s", name, uuid.NewString()[:8])
	reg := &consulapi.AgentServiceRegistration{
		ID:      r.serviceID,
		Name:    name,
		Address: host,
		Port:    port,
		Check: &consulapi.AgentServiceCheck{
			HTTP:                           "http://" + host + ":" + strconv.Itoa(port) + "/healthz",
			Interval:                       "10s",
			Timeout:                        "2s",
			DeregisterCriticalServiceAfter: "1m",
		},
	}
	if err := r.client.Agent().ServiceRegister(reg); err != nil {
		return err
	}
	r.logger.Infow("registered with consul", "service_id", r.serviceID)
	return nil
}

func (r *Registrar) Deregister() error {
	if r.serviceID == "" {
		return nil
	}
	return r.client.Agent().ServiceDeregister(r.serviceID)
}

// Lookup returns a base URL for one healthy instance of service.
func (r *Registrar) Lookup(service string) (string, error) {
	entries, _, err := r.client.Health().Service(service, "", true, nil)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", fmt.Errorf("no healthy instances for %s", service)
	}
	e := entries[0]
	addr := e.Service.Address
	if addr == "" {
		addr = e.Node.Address
	}
	return fmt.Sprintf("http://%s:%d", addr, e.Service.Port), nil
}
