package params

type WebDaemonConfig struct {
	ListenerConfig
	DataDir string
	Session *SessionConfig
}

func DefaultWebListenerConfig() ListenerConfig {
	return ListenerConfig{
		Network: "tcp",
		Address: "localhost:3000",
	}
}

func DefaultWebDaemonConfig() *WebDaemonConfig {
	return &WebDaemonConfig{
		DataDir:        DatadirRoot,
		ListenerConfig: DefaultWebListenerConfig(),
		Session:        DefaultSessionConfig(),
	}
}
