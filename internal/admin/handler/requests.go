package handler

import (
	"strings"

	dErrors "nip05d/pkg/domain-errors"
)

// AddUserRequest takes the key as pubkey (hex or npub) or as npub.
type AddUserRequest struct {
	Pubkey   string `json:"pubkey"`
	Npub     string `json:"npub"`
	Username string `json:"username"`
	Note     string `json:"note"`
}

func (r *AddUserRequest) Validate() error {
	if r.Pubkey == "" {
		r.Pubkey = r.Npub
	}
	if strings.TrimSpace(r.Pubkey) == "" {
		return dErrors.New(dErrors.CodeValidation, "pubkey is required")
	}
	if strings.TrimSpace(r.Username) == "" {
		return dErrors.New(dErrors.CodeValidation, "username is required")
	}
	return nil
}

type RemoveUserRequest struct {
	Username string `json:"username"`
}
