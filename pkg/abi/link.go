package abi

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var linkPlaceholder = regexp.MustCompile(`__\$[0-9a-fA-F]{34}\$__`)

// LibraryPlaceholder returns the 40 character placeholder solc emits for the
// fully qualified library name, e.g. "contracts/Math.sol:Math".
func LibraryPlaceholder(fqName string) string {
	h := crypto.Keccak256Hash([]byte(fqName)).Hex()
	return "__$" + h[2:36] + "$__"
}

// LinkBytecode substitutes library addresses into hex bytecode. libraries is
// keyed by fully qualified name or by the raw placeholder. Any placeholder
// left unresolved is an error.
func LinkBytecode(bytecode string, libraries map[string]common.Address) (string, error) {
	linked := bytecode
	for name, addr := range libraries {
		placeholder := name
		if !linkPlaceholder.MatchString(name) {
			placeholder = LibraryPlaceholder(name)
		}
		linked = strings.ReplaceAll(linked, placeholder, strings.ToLower(addr.Hex()[2:]))
	}
	if missing := linkPlaceholder.FindAllString(linked, -1); len(missing) > 0 {
		return "", fmt.Errorf("unlinked library placeholders: %s", strings.Join(unique(missing), ", "))
	}
	return linked, nil
}

func unique(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
