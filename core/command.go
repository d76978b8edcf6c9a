package core

// Kind selects the handler for a Command.
type Kind string

const (
	KindAuthorize    Kind = "authorize"
	KindGetAccount   Kind = "getAccount"
	KindSignTx       Kind = "signTx"
	KindSignData     Kind = "signData"
	KindInvokeScript Kind = "invokeScript"
	KindGetPeer      Kind = "getPeer"
	KindGetNexus     Kind = "getNexus"
)

// Valid reports whether k is a recognized literal.
func (k Kind) Valid() bool {
	switch k {
	case KindAuthorize, KindGetAccount, KindSignTx, KindSignData,
		KindInvokeScript, KindGetPeer, KindGetNexus:
		return true
	}
	return false
}

// Bearer reports whether commands of this kind carry a bearer token.
func (k Kind) Bearer() bool {
	return k.Valid() && k != KindAuthorize
}

// NeedsConsent reports whether k always goes through the consent flow.
func (k Kind) NeedsConsent() bool {
	return k == KindSignTx || k == KindSignData
}

// Version is the protocol version of a request.
type Version string

const (
	Version1 Version = "1"
	Version2 Version = "2"
)

// Valid reports whether v is a supported protocol version.
func (v Version) Valid() bool {
	return v == Version1 || v == Version2
}

// Command is a decoded request string. Body is nil until the command has
// been bound to a protocol version.
type Command struct {
	ID       int64
	Kind     Kind
	Version  Version
	DApp     string
	Token    string
	Segments []string // slash-delimited body, Segments[0] is the kind
	Body     Body
}

// Body is the kind-specific part of a Command.
type Body interface {
	Kind() Kind
}

type AuthorizeBody struct {
	DApp    string
	Version Version
}

type GetAccountBody struct {
	Platform string // empty means the native platform
}

// SignTxBody holds both layouts. Nexus is only carried by version 1;
// SignatureKind, Platform and ProofOfWork only by version 2.
type SignTxBody struct {
	Nexus         string
	Chain         string
	Script        string
	Payload       string
	SignatureKind string
	Platform      string
	ProofOfWork   string
}

type SignDataBody struct {
	Data          string // hex encoded
	SignatureKind string
	Platform      string
}

type InvokeScriptBody struct {
	Chain  string
	Script string
}

type GetPeerBody struct{}

type GetNexusBody struct{}

func (AuthorizeBody) Kind() Kind    { return KindAuthorize }
func (GetAccountBody) Kind() Kind   { return KindGetAccount }
func (SignTxBody) Kind() Kind       { return KindSignTx }
func (SignDataBody) Kind() Kind     { return KindSignData }
func (InvokeScriptBody) Kind() Kind { return KindInvokeScript }
func (GetPeerBody) Kind() Kind      { return KindGetPeer }
func (GetNexusBody) Kind() Kind     { return KindGetNexus }
