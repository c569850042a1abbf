package naming

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// LabelHash returns the Keccak-256 hash of a single label's UTF-8 bytes
func LabelHash(label string) common.Hash {
	return crypto.Keccak256Hash([]byte(label))
}

// NameHash implements the ENS namehash algorithm (EIP-137): the empty name
// hashes to 32 zero bytes, and namehash(label.rest) =
// keccak256(namehash(rest) || labelhash(label)). The output is byte-identical
// to what ENS registry contracts compute on-chain, which is what lets records
// registered here migrate without re-hashing.
func NameHash(name string) common.Hash {
	var node common.Hash
	if name == "" {
		return node
	}
	labels := strings.Split(name, ".")
	for i := len(labels) - 1; i >= 0; i-- {
		labelHash := LabelHash(labels[i])
		node = crypto.Keccak256Hash(node.Bytes(), labelHash.Bytes())
	}
	return node
}

// Namespace binds nickname labels to the parent domain they live under
// (e.g. "alice" under "villa.eth"). The parent hash is computed once.
type Namespace struct {
	parent     string
	parentHash common.Hash
}

// NewNamespace creates a namespace rooted at the given parent domain
func NewNamespace(parentDomain string) Namespace {
	return Namespace{
		parent:     parentDomain,
		parentHash: NameHash(parentDomain),
	}
}

// Parent returns the parent domain
func (ns Namespace) Parent() string {
	return ns.parent
}

// ParentHash returns the namehash of the parent domain
func (ns Namespace) ParentHash() common.Hash {
	return ns.parentHash
}

// FullName composes the fully qualified name for a label
func (ns Namespace) FullName(label string) string {
	if ns.parent == "" {
		return label
	}
	return label + "." + ns.parent
}

// Hashes returns (nameHash, labelHash) for a label under this namespace.
// Equivalent to NameHash(FullName(label)) but reuses the cached parent hash.
func (ns Namespace) Hashes(label string) (common.Hash, common.Hash) {
	labelHash := LabelHash(label)
	nameHash := crypto.Keccak256Hash(ns.parentHash.Bytes(), labelHash.Bytes())
	return nameHash, labelHash
}

// CanonicalLabel normalizes raw user input down to the bare canonical label.
// Fully qualified names have the parent domain stripped first, so
// "alice.villa.eth" and "alice" canonicalize identically.
func (ns Namespace) CanonicalLabel(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if ns.parent != "" {
		trimmed = strings.TrimSuffix(trimmed, "."+ns.parent)
	}
	return Canonicalize(trimmed)
}
