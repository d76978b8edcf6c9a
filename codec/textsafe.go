package codec

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/layer-3/walletlink/core"
)

// EncodeText makes free text safe to place in a slash-delimited segment:
// standard base64 with '/' escaped as '_'.
func EncodeText(s string) string {
	return strings.ReplaceAll(base64.StdEncoding.EncodeToString([]byte(s)), "/", "_")
}

// DecodeText reverses EncodeText.
func DecodeText(s string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(s, "_", "/"))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// EncodeBundle serializes v to JSON and makes it text-safe.
func EncodeBundle(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return EncodeText(string(raw)), nil
}

func DecodeTxBundle(s string) (*core.TxData, error) {
	var tx core.TxData
	if err := decodeBundle(s, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

func DecodeDataBundle(s string) (*core.DataBundle, error) {
	var data core.DataBundle
	if err := decodeBundle(s, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

func decodeBundle(s string, out any) error {
	raw, err := DecodeText(s)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(raw), out)
}
