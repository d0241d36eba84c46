package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "devexec":
		return devexecTemplate, nil
	case "env":
		return envTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const devexecTemplate = `[host]
address = "127.0.0.1:5037"
connect_timeout = "5s"
handshake_timeout = "5s"
read_timeout = "15s"
write_timeout = "15s"
status_dir = "/data/local/tmp"

[exec]
timeout = "0s"
idle_timeout = "0s"
buffer_size = 8192
protocols = ["multiplexed", "raw-with-exit", "raw-merged"]
strip_crlf = true
shutdown_output = true

[server]
addr = "127.0.0.1:8090"
token = ""
cors_origins = ["http://localhost:3000"]
`

const envTemplate = `DEVEXEC_HOST_ADDRESS=127.0.0.1:5037
DEVEXEC_SERVER_TOKEN=
DEVEXEC_EXEC_TIMEOUT=30s
DEVEXEC_LOG_LEVEL=info
`
