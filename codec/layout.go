package codec

import "github.com/layer-3/walletlink/core"

// layout maps the positional fields between the kind and the trailing
// dapp/token to a typed body.
type layout struct {
	min, max int
	decode   func(fields []string) core.Body
	encode   func(body core.Body) []string
}

func field(fields []string, i int) string {
	if i < len(fields) {
		return fields[i]
	}
	return ""
}

// optional appends trailing values only when set, so that round trips
// reproduce the original arity.
func optional(out []string, values ...string) []string {
	for _, v := range values {
		if v == "" {
			break
		}
		out = append(out, v)
	}
	return out
}

var getAccountLayout = layout{
	min: 0, max: 1,
	decode: func(f []string) core.Body {
		return core.GetAccountBody{Platform: field(f, 0)}
	},
	encode: func(b core.Body) []string {
		return optional(nil, b.(core.GetAccountBody).Platform)
	},
}

var invokeScriptLayout = layout{
	min: 2, max: 2,
	decode: func(f []string) core.Body {
		return core.InvokeScriptBody{Chain: f[0], Script: f[1]}
	},
	encode: func(b core.Body) []string {
		body := b.(core.InvokeScriptBody)
		return []string{body.Chain, body.Script}
	},
}

var getPeerLayout = layout{
	decode: func([]string) core.Body { return core.GetPeerBody{} },
	encode: func(core.Body) []string { return nil },
}

var getNexusLayout = layout{
	decode: func([]string) core.Body { return core.GetNexusBody{} },
	encode: func(core.Body) []string { return nil },
}

var layouts = map[core.Kind]map[core.Version]layout{
	core.KindGetAccount: {
		core.Version1: getAccountLayout,
		core.Version2: getAccountLayout,
	},
	core.KindSignTx: {
		// nexus/chain/script/payload
		core.Version1: {
			min: 4, max: 4,
			decode: func(f []string) core.Body {
				return core.SignTxBody{Nexus: f[0], Chain: f[1], Script: f[2], Payload: f[3]}
			},
			encode: func(b core.Body) []string {
				body := b.(core.SignTxBody)
				return []string{body.Nexus, body.Chain, body.Script, body.Payload}
			},
		},
		// chain/script/payload/signature-kind/platform/[pow]
		core.Version2: {
			min: 5, max: 6,
			decode: func(f []string) core.Body {
				return core.SignTxBody{
					Chain:         f[0],
					Script:        f[1],
					Payload:       f[2],
					SignatureKind: f[3],
					Platform:      f[4],
					ProofOfWork:   field(f, 5),
				}
			},
			encode: func(b core.Body) []string {
				body := b.(core.SignTxBody)
				out := []string{body.Chain, body.Script, body.Payload, body.SignatureKind, body.Platform}
				return optional(out, body.ProofOfWork)
			},
		},
	},
	core.KindSignData: {
		// hexdata/signature-kind; a platform segment is tolerated but ignored
		core.Version1: {
			min: 2, max: 3,
			decode: func(f []string) core.Body {
				return core.SignDataBody{Data: f[0], SignatureKind: f[1]}
			},
			encode: func(b core.Body) []string {
				body := b.(core.SignDataBody)
				return []string{body.Data, body.SignatureKind}
			},
		},
		// hexdata/signature-kind/[platform]
		core.Version2: {
			min: 2, max: 3,
			decode: func(f []string) core.Body {
				return core.SignDataBody{Data: f[0], SignatureKind: f[1], Platform: field(f, 2)}
			},
			encode: func(b core.Body) []string {
				body := b.(core.SignDataBody)
				return optional([]string{body.Data, body.SignatureKind}, body.Platform)
			},
		},
	},
	core.KindInvokeScript: {
		core.Version1: invokeScriptLayout,
		core.Version2: invokeScriptLayout,
	},
	core.KindGetPeer: {
		core.Version1: getPeerLayout,
		core.Version2: getPeerLayout,
	},
	core.KindGetNexus: {
		core.Version1: getNexusLayout,
		core.Version2: getNexusLayout,
	},
}

func lookup(kind core.Kind, version core.Version) (layout, bool) {
	byVersion, ok := layouts[kind]
	if !ok {
		return layout{}, false
	}
	l, ok := byVersion[version]
	return l, ok
}

// Proof-of-work difficulty per level name accepted by signTx v2.
var proofOfWork = map[string]int{
	"None":     0,
	"Minimal":  5,
	"Moderate": 15,
	"Hard":     19,
	"Heavy":    24,
	"Extreme":  30,
}

// ProofOfWorkLevel returns the difficulty for a level name. An empty name
// is "None".
func ProofOfWorkLevel(name string) (int, bool) {
	if name == "" {
		return 0, true
	}
	level, ok := proofOfWork[name]
	return level, ok
}
