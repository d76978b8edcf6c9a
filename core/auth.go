package core

import (
	"encoding/json"
	"time"
)

// Authorization is a user-approved grant for a (dApp, site, version) tuple,
// bound to the wallet address that was active when it was approved.
type Authorization struct {
	DApp      string    // dApp identifier sent by the page
	Site      string    // hostname of the requesting tab
	Token     string    // opaque bearer token
	Address   string    // wallet address the grant is bound to
	IssuedAt  time.Time // when the grant was persisted
	ExpiresAt time.Time // when the grant stops being usable
	Version   Version   // protocol version the grant was issued for
}

// Grant is the input to issuing an Authorization.
type Grant struct {
	Token   string // pre-generated token; empty means generate one
	DApp    string
	Site    string
	Address string
	Version Version
	TTL     time.Duration
}

// Expired reports whether a is no longer usable at now.
func (a *Authorization) Expired(now time.Time) bool {
	return !a.ExpiresAt.After(now)
}

// Matches reports whether a answers a lookup for the tuple. Version "2"
// lookups need an exact version; version "1" lookups match any record.
func (a *Authorization) Matches(dapp, site string, version Version) bool {
	if a.DApp != dapp || a.Site != site {
		return false
	}
	if version == Version2 {
		return a.EffectiveVersion() == Version2
	}
	return true
}

// EffectiveVersion treats records persisted without a version as "1".
func (a *Authorization) EffectiveVersion() Version {
	if a.Version == "" {
		return Version1
	}
	return a.Version
}

type authorizationJSON struct {
	DApp       string `json:"dapp"`
	Hostname   string `json:"hostname"`
	Token      string `json:"token"`
	Address    string `json:"address"`
	IssuedAt   int64  `json:"issueDate,omitempty"`
	ExpireDate int64  `json:"expireDate"`
	Version    string `json:"version,omitempty"`
}

// MarshalJSON keeps the persisted layout used by the wallet's storage.
func (a Authorization) MarshalJSON() ([]byte, error) {
	out := authorizationJSON{
		DApp:       a.DApp,
		Hostname:   a.Site,
		Token:      a.Token,
		Address:    a.Address,
		ExpireDate: a.ExpiresAt.UnixMilli(),
		Version:    string(a.Version),
	}
	if !a.IssuedAt.IsZero() {
		out.IssuedAt = a.IssuedAt.UnixMilli()
	}
	return json.Marshal(out)
}

func (a *Authorization) UnmarshalJSON(data []byte) error {
	var in authorizationJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*a = Authorization{
		DApp:      in.DApp,
		Site:      in.Hostname,
		Token:     in.Token,
		Address:   in.Address,
		ExpiresAt: time.UnixMilli(in.ExpireDate),
		Version:   Version(in.Version),
	}
	if in.IssuedAt != 0 {
		a.IssuedAt = time.UnixMilli(in.IssuedAt)
	}
	return nil
}
