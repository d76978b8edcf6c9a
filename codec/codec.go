// Package codec reads and writes the compact request strings exchanged
// between the page and the wallet:
//
//	<requestId>,<kind>/<field>/.../<dapp>/<token>
//
// Field contents are never validated here.
package codec

import (
	"strconv"
	"strings"

	"github.com/layer-3/walletlink/core"
)

const (
	envelopeSep = ","
	segmentSep  = "/"
)

// Decode parses raw into a Command. Authorize commands come back bound;
// token-bearing commands must be bound with Bind once the protocol version
// of their authorization is known.
func Decode(raw string) (*core.Command, error) {
	parts := strings.Split(raw, envelopeSep)
	if len(parts) != 2 {
		return nil, malformed(0, "expected 2 envelope segments, got %d", len(parts))
	}

	id, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil {
		return nil, malformed(0, "request id %q is not an integer", parts[0])
	}

	segments := strings.Split(parts[1], segmentSep)
	kind := core.Kind(segments[0])
	if !kind.Valid() {
		return nil, malformed(id, "unknown kind %q", segments[0])
	}

	cmd := &core.Command{
		ID:       id,
		Kind:     kind,
		Segments: segments,
	}

	if kind == core.KindAuthorize {
		if err := bindAuthorize(cmd); err != nil {
			return nil, err
		}
		return cmd, nil
	}

	// Token-bearing layout: kind, fields..., dapp, token
	if n := len(segments); n >= 3 {
		cmd.DApp = segments[n-2]
		cmd.Token = segments[n-1]
	}

	return cmd, nil
}

// Bind selects the field layout for cmd's kind under version and fills
// cmd.Body and cmd.Version.
func Bind(cmd *core.Command, version core.Version) error {
	if cmd.Kind == core.KindAuthorize {
		return bindAuthorize(cmd)
	}
	if !version.Valid() {
		return malformed(cmd.ID, "unsupported protocol version %q", version)
	}
	if len(cmd.Segments) < 3 {
		return malformed(cmd.ID, "%s carries no dapp and token", cmd.Kind)
	}

	l, ok := lookup(cmd.Kind, version)
	if !ok {
		return malformed(cmd.ID, "no layout for %s v%s", cmd.Kind, version)
	}

	fields := cmd.Segments[1 : len(cmd.Segments)-2]
	if len(fields) < l.min || len(fields) > l.max {
		return malformed(cmd.ID, "%s v%s takes %d..%d fields, got %d", cmd.Kind, version, l.min, l.max, len(fields))
	}

	cmd.Body = l.decode(fields)
	cmd.Version = version
	return nil
}

func bindAuthorize(cmd *core.Command) error {
	if len(cmd.Segments) < 2 || cmd.Segments[1] == "" {
		return malformed(cmd.ID, "authorize without dapp")
	}
	if len(cmd.Segments) > 3 {
		return malformed(cmd.ID, "authorize takes at most 2 fields, got %d", len(cmd.Segments)-1)
	}

	version := core.Version1
	if len(cmd.Segments) == 3 {
		version = core.Version(cmd.Segments[2])
	}
	if !version.Valid() {
		return malformed(cmd.ID, "unsupported protocol version %q", version)
	}

	cmd.DApp = cmd.Segments[1]
	cmd.Version = version
	cmd.Body = core.AuthorizeBody{DApp: cmd.DApp, Version: version}
	return nil
}

// Encode renders cmd back into a request string. Body must be set;
// token-bearing kinds append cmd.DApp and cmd.Token.
func Encode(cmd *core.Command) (string, error) {
	if cmd.Body == nil {
		return "", malformed(cmd.ID, "nothing to encode")
	}

	kind := cmd.Body.Kind()
	segments := []string{string(kind)}

	if body, ok := cmd.Body.(core.AuthorizeBody); ok {
		version := body.Version
		if version == "" {
			version = core.Version1
		}
		segments = append(segments, body.DApp, string(version))
	} else {
		l, ok := lookup(kind, cmd.Version)
		if !ok {
			return "", malformed(cmd.ID, "no layout for %s v%s", kind, cmd.Version)
		}
		segments = append(segments, l.encode(cmd.Body)...)
		segments = append(segments, cmd.DApp, cmd.Token)
	}

	return strconv.FormatInt(cmd.ID, 10) + envelopeSep + strings.Join(segments, segmentSep), nil
}
