// Package state persists the small pieces of runtime state commands share
// through the state directory.
package state

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

const connectionFile = "connection.toml"

// Connection describes how clients reach the running MCP endpoint. The up
// command writes it after binding; status and external tooling read it.
type Connection struct {
	URL             string `toml:"url"`
	Transport       string `toml:"transport"`
	ProtocolVersion string `toml:"protocol_version"`
}

// WriteConnection stores the connection file in stateDir, creating the
// directory when missing.
func WriteConnection(stateDir string, conn Connection) error {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return err
	}
	f, err := os.Create(filepath.Join(stateDir, connectionFile))
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	return toml.NewEncoder(f).Encode(conn)
}

// ReadConnection loads the connection file. The second return is false when
// no server has written one yet.
func ReadConnection(stateDir string) (Connection, bool, error) {
	var conn Connection
	_, err := toml.DecodeFile(filepath.Join(stateDir, connectionFile), &conn)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Connection{}, false, nil
		}
		return Connection{}, false, err
	}
	return conn, true, nil
}
