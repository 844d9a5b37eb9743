package sandbox

import (
	"context"
	"fmt"
	"net/http"
)

// Ports 管理容器端口的对外暴露。
type Ports struct {
	sandbox *Sandbox
}

type exposePortRequest struct {
	Port int    `json:"port"`
	Name string `json:"name,omitempty"`
}

type exposePortResult struct {
	Success bool        `json:"success"`
	Port    ExposedPort `json:"port"`
}

// Expose 暴露容器端口，name 可为空。
func (p *Ports) Expose(ctx context.Context, port int, name string) (*ExposedPort, error) {
	if err := validatePort(port); err != nil {
		return nil, err
	}
	var ret exposePortResult
	if err := p.sandbox.client.DoJSON(ctx, http.MethodPost, "/api/expose-port", &exposePortRequest{Port: port, Name: name}, &ret); err != nil {
		return nil, err
	}
	if ret.Port.Port == 0 {
		ret.Port.Port = port
	}
	return &ret.Port, nil
}

// Unexpose 取消暴露容器端口。
func (p *Ports) Unexpose(ctx context.Context, port int) error {
	if err := validatePort(port); err != nil {
		return err
	}
	return p.sandbox.client.DoJSON(ctx, http.MethodDelete, fmt.Sprintf("/api/exposed-ports/%d", port), nil, nil)
}

// List 列出已暴露的端口。
func (p *Ports) List(ctx context.Context) ([]ExposedPort, error) {
	var ret exposedPortsResult
	if err := p.sandbox.client.DoJSON(ctx, http.MethodGet, "/api/exposed-ports", nil, &ret); err != nil {
		return nil, err
	}
	return ret.Ports, nil
}

func validatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("invalid port number %d", port)
	}
	return nil
}
