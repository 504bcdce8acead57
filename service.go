package apmz

// AgentName identifies this agent in service metadata.
const AgentName = "apmz"

// AgentVersion is reported alongside AgentName.
const AgentVersion = "0.1.0"

// Service describes the logical service that owns a transaction.
type Service struct {
	Agent       Agent  `json:"agent"`
	Name        string `json:"name"`
	Version     string `json:"version,omitempty"`
	Environment string `json:"environment,omitempty"`
}

// Agent names the instrumentation library.
type Agent struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServiceFromConfig builds service metadata from cfg.
func ServiceFromConfig(cfg Config) *Service {
	return &Service{
		Name:        cfg.ServiceName,
		Version:     cfg.ServiceVersion,
		Environment: cfg.Environment,
		Agent:       Agent{Name: AgentName, Version: AgentVersion},
	}
}
