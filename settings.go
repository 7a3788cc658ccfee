package fpstorage

// Settings is the persistent key-value substrate the storage modules build on.
// Each Save and Delete is durable and atomic for its own name.
type Settings interface {
	// Load calls fn for every stored name starting with prefix.
	// An error returned by fn stops the iteration and is returned.
	Load(prefix string, fn func(name string, value []byte) error) error
	Save(name string, value []byte) error
	// Delete removes name. Removing a name that does not exist is not an error.
	Delete(name string) error
}

// BondRequester is the part of the connection stack the account key store
// needs to reconcile its bond records with the live bond list.
type BondRequester interface {
	IsAddrBonded(addr Addr) bool
	// BondRemove drops the link-layer bond. It returns ErrNotFound when no
	// such bond exists. The stack later reports the removal through the
	// store's Delete.
	BondRemove(addr Addr) error
}

// AccountKeyLen is the length of an Account Key in bytes.
const AccountKeyLen = 16

// AccountKey is an opaque Fast Pair Account Key.
type AccountKey [AccountKeyLen]byte
