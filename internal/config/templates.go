package config

import (
	"fmt"
	"os"
)

func Template() string {
	return coreTemplate
}

func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(coreTemplate), 0o600)
}

const coreTemplate = `# core executable; CORELINK_CORE overrides it
executable = "./bin/core"
args = []
protocol_flag = "--protocol"
dir = ""
shutdown_grace = "5s"
handshake_timeout = "10s"

[env]

[debug]
# CORELINK_PROTOCOL_DEBUG=1 also enables the tap
enabled = false
# log | stderr | transcript
sink = "log"
transcript_path = ""

[limits]
max_chunk_bytes = 67108864
`
