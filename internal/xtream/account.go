package xtream

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/snapetech/iptvmerge/internal/provider"
)

// AccountInfo is the bare player_api.php answer. Both halves are kept raw so
// API clients see every field the panel sends.
type AccountInfo struct {
	UserInfo   json.RawMessage `json:"user_info"`
	ServerInfo json.RawMessage `json:"server_info"`
}

// AccountInfo calls player_api.php without an action.
func (c *Client) AccountInfo(ctx context.Context) (*AccountInfo, error) {
	body, err := c.get(ctx, "", nil)
	if err != nil {
		return nil, err
	}
	var info AccountInfo
	if err := unmarshalNumbers(body, &info); err != nil {
		return nil, fmt.Errorf("%w: auth: %v", ErrProtocol, err)
	}
	if len(info.UserInfo) == 0 || string(info.UserInfo) == "null" {
		return nil, fmt.Errorf("%w: auth: no user_info (bad credentials?)", ErrProtocol)
	}
	var auth struct {
		Auth any `json:"auth"`
	}
	if unmarshalNumbers(info.UserInfo, &auth) == nil && idString(auth.Auth) == "0" {
		return nil, fmt.Errorf("%w: auth: credentials rejected", ErrProtocol)
	}
	return &info, nil
}

// Account extracts status, expiry and connection limits from user_info.
func (a *AccountInfo) Account() (*provider.Account, error) {
	var u struct {
		Status         string `json:"status"`
		ExpDate        any    `json:"exp_date"`
		MaxConnections any    `json:"max_connections"`
		ActiveCons     any    `json:"active_cons"`
	}
	if err := unmarshalNumbers(a.UserInfo, &u); err != nil {
		return nil, fmt.Errorf("%w: user_info: %v", ErrProtocol, err)
	}
	acct := &provider.Account{
		Status:         u.Status,
		MaxConnections: atoi(idString(u.MaxConnections)),
		ActiveCons:     atoi(idString(u.ActiveCons)),
	}
	if sec, err := strconv.ParseInt(idString(u.ExpDate), 10, 64); err == nil && sec > 0 {
		acct.ExpiresAt = time.Unix(sec, 0).UTC()
	}
	return acct, nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}

// FetchAccount adapts a client constructor to provider.AccountFunc.
func FetchAccount(opts ...Option) provider.AccountFunc {
	return func(ctx context.Context, p provider.Provider) (*provider.Account, error) {
		info, err := NewClient(p, opts...).AccountInfo(ctx)
		if err != nil {
			return nil, err
		}
		return info.Account()
	}
}
