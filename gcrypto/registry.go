package gcrypto

import (
	"bytes"
	"fmt"
	"reflect"
)

// prefixSize is the fixed width of the type name prefix in marshaled keys.
const prefixSize = 8

// Registry maps key type names to constructors,
// so that public keys can be marshaled with a type prefix
// and unmarshaled back to the right concrete type.
//
// The zero value is ready to use.
// A Registry is not safe for concurrent registration;
// register all key types before sharing it.
type Registry struct {
	byPrefix map[string]NewPubKeyFunc
	byType   map[reflect.Type]string
}

// NewPubKeyFunc decodes the bytes returned by [PubKey.PubKeyBytes].
type NewPubKeyFunc func([]byte) (PubKey, error)

// Register associates name with the concrete type of inst and the given constructor.
// Register panics if name is longer than 8 bytes or is already registered.
func (r *Registry) Register(name string, inst PubKey, newFn NewPubKeyFunc) {
	if len(name) == 0 || len(name) > prefixSize {
		panic(fmt.Errorf("key type name %q must be between 1 and %d bytes", name, prefixSize))
	}

	if r.byPrefix == nil {
		r.byPrefix = make(map[string]NewPubKeyFunc)
		r.byType = make(map[reflect.Type]string)
	}

	if _, ok := r.byPrefix[name]; ok {
		panic(fmt.Errorf("key type name %q already registered", name))
	}

	r.byPrefix[name] = newFn
	r.byType[reflect.TypeOf(inst)] = name
}

// Marshal returns the type-prefixed encoding of pubKey.
// Marshal panics if the key's type was never registered.
func (r *Registry) Marshal(pubKey PubKey) []byte {
	name, ok := r.byType[reflect.TypeOf(pubKey)]
	if !ok {
		panic(fmt.Errorf("no registered name for public key type %T", pubKey))
	}

	b := pubKey.PubKeyBytes()
	out := make([]byte, prefixSize, prefixSize+len(b))
	copy(out, name)
	return append(out, b...)
}

// Unmarshal decodes a key previously produced by [Registry.Marshal].
func (r *Registry) Unmarshal(b []byte) (PubKey, error) {
	if len(b) < prefixSize {
		return nil, fmt.Errorf("marshaled key too short: %d bytes", len(b))
	}

	prefix := string(bytes.TrimRight(b[:prefixSize], "\x00"))
	return r.Decode(prefix, b[prefixSize:])
}

// Decode decodes raw public key bytes for the named key type.
func (r *Registry) Decode(typeName string, b []byte) (PubKey, error) {
	newFn, ok := r.byPrefix[typeName]
	if !ok {
		return nil, fmt.Errorf("no registered public key type for prefix %q", typeName)
	}

	return newFn(b)
}
