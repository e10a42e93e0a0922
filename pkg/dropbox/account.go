package dropbox

import (
	"context"
	"net/http"

	"github.com/tonimelisma/dropbox-go/pkg/dropbox/model"
)

// AccountInfo describes the account that owns the access token.
func (c *Client) AccountInfo(ctx context.Context) (*model.AccountInfo, error) {
	a, err := callJSON(ctx, c, http.MethodGet, RoleAPI, "/account/info", nil, model.DecodeAccountInfo)
	if err != nil {
		return nil, err
	}

	return &a, nil
}

// DisableAccessToken revokes the token the client uses. Later calls fail
// with ErrUnauthorized.
func (c *Client) DisableAccessToken(ctx context.Context) error {
	resp, err := c.Do(ctx, http.MethodPost, RoleAPI, "/disable_access_token", nil, nil, nil)
	if err != nil {
		return err
	}

	drain(resp)
	c.logger.Info("access token disabled")

	return nil
}
