// Package statefile persists the per-install device UUID that the vendor
// API uses to recognise a client across logins.  Reusing the UUID keeps
// the account's registered-device list from growing with every login.
package statefile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
)

// Version of state that we marshal/unmarshal
type stateMarshal struct {
	DeviceUUID string `json:"device-uuid"`
}

// LoadOrCreateUUID returns the device UUID stored in fileName, creating the
// file with a fresh UUID on first use.
func LoadOrCreateUUID(fileName string) (string, error) {
	state, err := load(fileName)
	if err == nil && state.DeviceUUID != "" {
		return state.DeviceUUID, nil
	}

	// Missing, empty or unreadable state: start over with a fresh UUID.
	state = stateMarshal{DeviceUUID: uuid.New().String()}
	if err := save(fileName, state); err != nil {
		return "", err
	}
	return state.DeviceUUID, nil
}

// DefaultPath returns the conventional state file location for a
// brand/username pair, under the user's home directory.
func DefaultPath(brand, username string) (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", errors.Wrap(err, "finding home directory")
	}
	return filepath.Join(home, fmt.Sprintf(".%s_config_%s.conf", brand, username)), nil
}

func load(fileName string) (stateMarshal, error) {
	sm := stateMarshal{}

	file, err := os.OpenFile(fileName, os.O_RDONLY, 0600)
	if err != nil {
		return sm, errors.Wrapf(err, "opening device state %s for read", fileName)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&sm); err != nil {
		return sm, errors.Wrapf(err, "loading device state from %s", fileName)
	}
	return sm, nil
}

func save(fileName string, sm stateMarshal) error {
	file, err := os.OpenFile(fileName, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return errors.Wrapf(err, "opening device state %s for write", fileName)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(sm); err != nil {
		return errors.Wrapf(err, "saving device state to %s", fileName)
	}
	return nil
}
