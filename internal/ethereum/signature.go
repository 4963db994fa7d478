package ethereum

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	eventNameRe  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	paramNameRe  = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
	bytesNRe     = regexp.MustCompile(`^bytes([1-9]|[12][0-9]|3[0-2])$`)
	intNRe       = regexp.MustCompile(`^u?int(8|16|24|32|40|48|56|64|72|80|88|96|104|112|120|128|136|144|152|160|168|176|184|192|200|208|216|224|232|240|248|256)?$`) //nolint:lll
	fixedArrayRe = regexp.MustCompile(`\[\d+\]$`)
)

// EventSignature is a parsed Solidity event declaration.
type EventSignature struct {
	Name  string
	Types []string
}

// ParseEventSignature accepts the canonical form "Transfer(address,address,uint256)"
// as well as declarations with parameter names and the indexed keyword.
func ParseEventSignature(sig string) (*EventSignature, error) {
	sig = strings.TrimSpace(sig)

	open := strings.Index(sig, "(")
	closing := strings.LastIndex(sig, ")")
	if open == -1 || closing == -1 || closing < open || closing != len(sig)-1 {
		return nil, fmt.Errorf("invalid event signature %q: malformed parentheses", sig)
	}

	name := strings.TrimSpace(sig[:open])
	if !eventNameRe.MatchString(name) {
		return nil, fmt.Errorf("invalid event signature %q: bad event name", sig)
	}

	event := &EventSignature{Name: name, Types: []string{}}

	params := strings.TrimSpace(sig[open+1 : closing])
	if params == "" {
		return event, nil
	}

	for _, param := range splitParams(params) {
		typ, err := paramType(strings.TrimSpace(param))
		if err != nil {
			return nil, fmt.Errorf("invalid event signature %q: %w", sig, err)
		}
		event.Types = append(event.Types, typ)
	}

	return event, nil
}

// Canonical returns the signature without parameter names, as hashed into topic0.
func (e *EventSignature) Canonical() string {
	return e.Name + "(" + strings.Join(e.Types, ",") + ")"
}

// Topic returns the event selector.
func (e *EventSignature) Topic() common.Hash {
	return crypto.Keccak256Hash([]byte(e.Canonical()))
}

// splitParams splits on top level commas so tuple types stay intact.
func splitParams(params string) []string {
	var (
		out     []string
		current strings.Builder
		depth   int
	)

	for _, ch := range params {
		switch {
		case ch == '(':
			depth++
		case ch == ')':
			depth--
		case ch == ',' && depth == 0:
			out = append(out, current.String())
			current.Reset()
			continue
		}
		current.WriteRune(ch)
	}

	return append(out, current.String())
}

// paramType extracts the type from "type", "type name", "type indexed" or "type indexed name".
func paramType(param string) (string, error) {
	parts := strings.Fields(param)
	if len(parts) == 0 {
		return "", fmt.Errorf("empty parameter")
	}

	typ := parts[0]
	if !validType(typ) {
		return "", fmt.Errorf("unsupported type %q", typ)
	}

	rest := parts[1:]
	if len(rest) > 0 && rest[0] == "indexed" {
		rest = rest[1:]
	}
	switch {
	case len(rest) > 1:
		return "", fmt.Errorf("too many words in parameter %q", param)
	case len(rest) == 1 && !paramNameRe.MatchString(rest[0]):
		return "", fmt.Errorf("invalid parameter name %q", rest[0])
	}

	return typ, nil
}

func validType(typ string) bool {
	switch {
	case strings.HasSuffix(typ, "[]"):
		return validType(strings.TrimSuffix(typ, "[]"))
	case fixedArrayRe.MatchString(typ):
		return validType(fixedArrayRe.ReplaceAllString(typ, ""))
	case strings.HasPrefix(typ, "(") && strings.HasSuffix(typ, ")"):
		for _, member := range splitParams(typ[1 : len(typ)-1]) {
			if !validType(strings.TrimSpace(member)) {
				return false
			}
		}
		return true
	}

	switch typ {
	case "address", "bool", "string", "bytes":
		return true
	}
	return bytesNRe.MatchString(typ) || intNRe.MatchString(typ)
}
