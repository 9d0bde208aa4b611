package transport

import (
	"fmt"
	"sync"

	"github.com/grandcat/zeroconf"
)

// MDNSServiceType is the DNS-SD service type announced for the tcp transport.
const MDNSServiceType = "_btrelay._tcp"

// MDNSConfig holds the announced instance details.
type MDNSConfig struct {
	Name    string
	Port    int
	UUID    string
	Version string
}

// MDNSAdvertiser announces a tcp relay on the local network.
type MDNSAdvertiser struct {
	config MDNSConfig
	mu     sync.Mutex
	server *zeroconf.Server
}

func NewMDNSAdvertiser(cfg MDNSConfig) *MDNSAdvertiser {
	return &MDNSAdvertiser{config: cfg}
}

// TXT returns the TXT records announced with the service.
func (a *MDNSAdvertiser) TXT() []string {
	txt := []string{fmt.Sprintf("uuid=%s", a.config.UUID)}
	if a.config.Version != "" {
		txt = append(txt, fmt.Sprintf("version=%s", a.config.Version))
	}
	return txt
}

// Start registers the service. Repeated calls are no-ops while running.
func (a *MDNSAdvertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		return nil
	}

	server, err := zeroconf.Register(a.config.Name, MDNSServiceType, "local.", a.config.Port, a.TXT(), nil)
	if err != nil {
		return fmt.Errorf("mdns register: %w", err)
	}
	a.server = server
	return nil
}

func (a *MDNSAdvertiser) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
	return nil
}
