package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// QuotaInfo is the user's space allocation, in bytes.
type QuotaInfo struct {
	Quota      int64 `json:"quota"`
	Normal     int64 `json:"normal"`
	Shared     int64 `json:"shared"`
	Datastores int64 `json:"datastores,omitempty"`
}

// Used is the total consumed by normal and shared files.
func (q QuotaInfo) Used() int64 {
	return q.Normal + q.Shared
}

// DecodeQuotaInfo decodes a QuotaInfo. datastores is nullable.
func DecodeQuotaInfo(raw json.RawMessage) (QuotaInfo, error) {
	r, err := newReader("QuotaInfo", raw)
	if err != nil {
		return QuotaInfo{}, err
	}

	q := QuotaInfo{
		Quota:      required(r, "quota", integer),
		Normal:     required(r, "normal", integer),
		Shared:     required(r, "shared", integer),
		Datastores: orZero(nullable(r, "datastores", integer)),
	}

	return q, r.err
}

// Team is the business team of a paired account.
type Team struct {
	Name string `json:"name"`
}

// DecodeTeam decodes a Team.
func DecodeTeam(raw json.RawMessage) (Team, error) {
	r, err := newReader("Team", raw)
	if err != nil {
		return Team{}, err
	}

	t := Team{Name: required(r, "name", str)}

	return t, r.err
}

// AccountInfo describes the account that owns the access token.
type AccountInfo struct {
	DisplayName  string    `json:"display_name"`
	UID          string    `json:"uid"`
	Email        string    `json:"email"`
	Country      string    `json:"country"`
	ReferralLink string    `json:"referral_link"`
	Quota        QuotaInfo `json:"quota_info"`
	IsPaired     bool      `json:"is_paired"`
	Team         *Team     `json:"team,omitempty"`
}

// DecodeAccountInfo decodes the /account/info response. team is nullable.
func DecodeAccountInfo(raw json.RawMessage) (AccountInfo, error) {
	r, err := newReader("AccountInfo", raw)
	if err != nil {
		return AccountInfo{}, err
	}

	a := AccountInfo{
		DisplayName:  required(r, "display_name", str),
		UID:          required(r, "uid", idString),
		Email:        required(r, "email", str),
		Country:      required(r, "country", str),
		ReferralLink: required(r, "referral_link", str),
		Quota:        required(r, "quota_info", DecodeQuotaInfo),
		IsPaired:     required(r, "is_paired", boolean),
		Team:         nullable(r, "team", DecodeTeam),
	}

	return a, r.err
}

// idString accepts an identifier sent either as a JSON string or a number.
func idString(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		return str(trimmed)
	}

	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return "", fmt.Errorf("identifier must be a string or number: %w", err)
	}

	return n.String(), nil
}
