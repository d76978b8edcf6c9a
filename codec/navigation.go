package codec

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/layer-3/walletlink/core"
)

// Consent surface routes.
const (
	FlowAuthorize = "Authorize"
	FlowSign      = "Sign"
	FlowSignData  = "SignData"
)

// Navigation is a parsed consent-surface target.
type Navigation struct {
	Flow      string
	DApp      string
	Token     string
	RequestID int64
	TabID     int
	StreamID  string
	OriginURL string
	Favicon   string
	Version   core.Version
	Payload   string // still text-safe encoded
}

// FlowFor returns the surface route for a consent kind.
func FlowFor(kind core.Kind) (string, error) {
	switch kind {
	case core.KindAuthorize:
		return FlowAuthorize, nil
	case core.KindSignTx:
		return FlowSign, nil
	case core.KindSignData:
		return FlowSignData, nil
	}
	return "", fmt.Errorf("%s has no consent flow", kind)
}

// NavigationTarget renders the target of the approval surface for p.
// base is expected to end with the route prefix, e.g. "popup.html?/#/".
func NavigationTarget(base string, p *core.PendingApproval) (string, error) {
	flow, err := FlowFor(p.Kind)
	if err != nil {
		return "", err
	}

	common := []string{
		p.Token,
		strconv.FormatInt(p.RequestID, 10),
		strconv.Itoa(p.TabID),
		p.StreamID,
		EncodeText(p.OriginURL),
		EncodeText(p.OriginFavicon),
	}

	segments := []string{flow}
	switch p.Kind {
	case core.KindAuthorize:
		segments = append(segments, p.DApp)
		segments = append(segments, common...)
		segments = append(segments, string(p.Version))
	default:
		segments = append(segments, common...)
		segments = append(segments, p.Payload)
	}

	return base + strings.Join(segments, segmentSep), nil
}

// ParseNavigation reads a target produced by NavigationTarget.
func ParseNavigation(target string) (*Navigation, error) {
	route := target
	if i := strings.LastIndex(target, "#/"); i >= 0 {
		route = target[i+2:]
	}

	segments := strings.Split(route, segmentSep)
	nav := &Navigation{Flow: segments[0]}

	var rest []string
	switch nav.Flow {
	case FlowAuthorize:
		if len(segments) != 9 {
			return nil, fmt.Errorf("authorize target: expected 9 segments, got %d", len(segments))
		}
		nav.DApp = segments[1]
		nav.Version = core.Version(segments[8])
		rest = segments[2:8]
	case FlowSign, FlowSignData:
		if len(segments) != 8 {
			return nil, fmt.Errorf("%s target: expected 8 segments, got %d", nav.Flow, len(segments))
		}
		nav.Payload = segments[7]
		rest = segments[1:7]
	default:
		return nil, fmt.Errorf("unknown consent flow %q", nav.Flow)
	}

	nav.Token = rest[0]

	id, err := strconv.ParseInt(rest[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("request id: %w", err)
	}
	nav.RequestID = id

	tab, err := strconv.Atoi(rest[2])
	if err != nil {
		return nil, fmt.Errorf("tab id: %w", err)
	}
	nav.TabID = tab
	nav.StreamID = rest[3]

	if nav.OriginURL, err = DecodeText(rest[4]); err != nil {
		return nil, fmt.Errorf("origin url: %w", err)
	}
	if nav.Favicon, err = DecodeText(rest[5]); err != nil {
		return nil, fmt.Errorf("favicon: %w", err)
	}

	return nav, nil
}

// Kind maps the flow back to the consent kind.
func (n *Navigation) Kind() core.Kind {
	switch n.Flow {
	case FlowAuthorize:
		return core.KindAuthorize
	case FlowSign:
		return core.KindSignTx
	}
	return core.KindSignData
}
