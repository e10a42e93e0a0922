// Package tokenfile reads and writes the saved login: the OAuth2 token plus
// the account it belongs to, cached so whoami and logout work offline.
package tokenfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"golang.org/x/oauth2"

	"github.com/tonimelisma/dropbox-go/internal/atomicfile"
)

// FilePerms restricts token files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the state directory.
const DirPerms = 0o700

// ErrNoToken is returned by Update when no login is saved.
var ErrNoToken = errors.New("tokenfile: not logged in")

// Account is what the token file remembers about the authorizing user.
// UID comes from the token response; the rest from /account/info.
type Account struct {
	UID         string `json:"uid"`
	DisplayName string `json:"display_name,omitempty"`
	Email       string `json:"email,omitempty"`
}

// File is the on-disk format.
type File struct {
	Token   *oauth2.Token `json:"token"`
	Account Account       `json:"account"`
}

// Load reads a token file. Returns (nil, nil) if the file does not exist.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, fmt.Errorf("tokenfile: reading %s: %w", path, err)
	}

	var tf File
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("tokenfile: decoding %s: %w", path, err)
	}

	if tf.Token == nil || tf.Token.AccessToken == "" {
		return nil, fmt.Errorf("tokenfile: %s has no access token (login again)", path)
	}

	return &tf, nil
}

// Save writes f atomically with 0600 permissions. Token values are never
// logged.
func Save(path string, f *File) error {
	if f == nil || f.Token == nil {
		return errors.New("tokenfile: nothing to save")
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("tokenfile: encoding: %w", err)
	}

	if err := atomicfile.Write(path, data, FilePerms, DirPerms); err != nil {
		return fmt.Errorf("tokenfile: %w", err)
	}

	return nil
}

// UpdateAccount refreshes the cached account fields that are set in acct,
// keeping the token as it is.
func UpdateAccount(path string, acct Account) error {
	f, err := Load(path)
	if err != nil {
		return err
	}

	if f == nil {
		return fmt.Errorf("%w: no token file at %s", ErrNoToken, path)
	}

	if acct.UID != "" {
		f.Account.UID = acct.UID
	}

	if acct.DisplayName != "" {
		f.Account.DisplayName = acct.DisplayName
	}

	if acct.Email != "" {
		f.Account.Email = acct.Email
	}

	return Save(path, f)
}

// Remove deletes the token file. A missing file is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("tokenfile: removing %s: %w", path, err)
	}

	return nil
}
