package git

import (
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"

	"git.home.luguber.info/inful/ghbackup/internal/config"
	"git.home.luguber.info/inful/ghbackup/internal/foundation/errors"
)

// tokenUser is the user name GitHub expects alongside an access token.
const tokenUser = "x-access-token"

// AuthFromConfig returns the credentials used for fetching. SSH cloning loads
// the configured key, or ~/.ssh/id_rsa; HTTPS cloning sends the token when set.
func AuthFromConfig(cfg config.DefaultConfig) (transport.AuthMethod, error) {
	if cfg.CloneViaSSH {
		keyPath := cfg.SSHKey
		if keyPath == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, errors.WrapError(err, errors.CategoryAuth, "cannot locate default SSH key").Build()
			}
			keyPath = filepath.Join(home, ".ssh", "id_rsa")
		}
		keys, err := ssh.NewPublicKeysFromFile("git", keyPath, "")
		if err != nil {
			return nil, errors.WrapError(err, errors.CategoryAuth, "failed to load SSH key").
				WithContext("path", keyPath).
				Build()
		}
		return keys, nil
	}
	if cfg.Token == "" {
		return nil, nil
	}
	return &http.BasicAuth{Username: tokenUser, Password: cfg.Token}, nil
}
