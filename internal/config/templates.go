package config

import (
	"fmt"
	"os"
	"strings"
)

// Template returns a starter config. Kinds: "full" lists every key with
// its default, "minimal" only what must be set.
func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "full":
		return fullTemplate, nil
	case "minimal":
		return minimalTemplate, nil
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

const fullTemplate = `# token may be left empty and supplied through EDGELINK_TOKEN
[gateway]
token = ""
url = ""
intents = 513
shard_id = 0
shard_count = 0
connect_timeout = "10s"
handshake_timeout = "10s"
write_timeout = "10s"
invalid_session_delay = "2s"
max_reconnect_attempts = 10
reconnect_delay = "1s"
reconnect_max_delay = "1m"
reconnect_jitter = true
send_limit = 120
send_window = "1m"
security_mode = "production"
ca_file = ""
server_name = ""
insecure_skip_verify = false

[rest]
base_url = "https://discord.com/api/v10"
retry_limit = 3
request_timeout = "15s"

[admin]
enabled = true
addr = "127.0.0.1:9400"
name = "edgelink"
status_token = ""
cors_origins = ["http://localhost:3000"]

[log]
level = "info"
`

const minimalTemplate = `[gateway]
token = ""
intents = 513
`
