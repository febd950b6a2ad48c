package domain

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Decode turns a raw upstream response body into a generic JSON value.
// Strategies are tried in order, each failure falling through to the next:
//
//  1. JSON content type: parse the body directly.
//  2. Plain-text content type, or a body composed entirely of base64 alphabet
//     characters: base64-decode (re-padding to a multiple of 4), XOR every
//     byte with the first byte of xorKey, then JSON-parse the result.
//  3. Non-empty body: a last plain JSON parse.
//
// The second return is false when no strategy produced a value; that is an
// empty poll, not an error. Decode is pure and never panics.
func Decode(body []byte, contentType string, xorKey string) (any, bool) {
	ct := strings.ToLower(contentType)
	text := strings.TrimSpace(string(body))

	if strings.Contains(ct, "application/json") {
		if v, err := parseJSON(body); err == nil {
			return v, true
		}
	}

	if text != "" && xorKey != "" && (strings.Contains(ct, "text/plain") || looksBase64(text)) {
		if decoded, err := DecodeXORBase64(text, xorKey); err == nil {
			if v, err := parseJSON([]byte(decoded)); err == nil {
				return v, true
			}
		}
	}

	if text != "" {
		if v, err := parseJSON([]byte(text)); err == nil {
			return v, true
		}
	}

	return nil, false
}

func parseJSON(data []byte) (any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// looksBase64 reports whether the text is plausibly base64: non-empty and
// composed entirely of base64 alphabet characters.
func looksBase64(text string) bool {
	if text == "" {
		return false
	}
	for _, r := range text {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case r == '+' || r == '/' || r == '=':
		default:
			return false
		}
	}
	return true
}

// DecodeXORBase64 reverses the upstream obfuscation: base64-decode the text
// (appending "=" padding as needed) and XOR every byte with the first byte of
// key. The result must be valid UTF-8.
func DecodeXORBase64(text, key string) (string, error) {
	if key == "" {
		return "", errors.New("empty XOR key")
	}
	text = strings.TrimSpace(text)
	if m := len(text) % 4; m != 0 {
		text += strings.Repeat("=", 4-m)
	}
	raw, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return "", fmt.Errorf("payload is not base64: %w", err)
	}
	keyByte := key[0]
	decoded := make([]byte, len(raw))
	for i, b := range raw {
		decoded[i] = b ^ keyByte
	}
	if !utf8.Valid(decoded) {
		return "", errors.New("decoded payload is not valid UTF-8")
	}
	return string(decoded), nil
}

// EncodeXORBase64 is the inverse of [DecodeXORBase64]: JSON-serialize v, XOR
// with the first byte of key, base64-encode. Used by tests and mock upstreams
// to produce obfuscated payloads.
func EncodeXORBase64(v any, key string) (string, error) {
	if key == "" {
		return "", errors.New("empty XOR key")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("serialize payload: %w", err)
	}
	keyByte := key[0]
	encoded := make([]byte, len(data))
	for i, b := range data {
		encoded[i] = b ^ keyByte
	}
	return base64.StdEncoding.EncodeToString(encoded), nil
}
