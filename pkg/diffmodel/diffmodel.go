// Package diffmodel defines Diff, the tagged variant describing add/modify/
// delete entries between two filesystem snapshots, along with its node/kind
// enumerations and validation.
package diffmodel

import (
	"github.com/pkg/errors"

	"github.com/container-build/buildcore/pkg/binarypath"
)

// Node identifies the kind of filesystem node a Diff entry describes.
type Node uint8

const (
	NodeRegular Node = iota
	NodeDirectory
	NodeSymlink
	NodeDevice
	NodeFIFO
	NodeSocket
)

// String returns the node type's canonical wire spelling. These values feed
// the diff key record encoding and must never change.
func (n Node) String() string {
	switch n {
	case NodeRegular:
		return "reg"
	case NodeDirectory:
		return "dir"
	case NodeSymlink:
		return "sym"
	case NodeDevice:
		return "dev"
	case NodeFIFO:
		return "fifo"
	case NodeSocket:
		return "sock"
	default:
		return "unknown"
	}
}

// IsExcludedFromDiffKey reports whether entries of this node kind are
// discarded before diff key hashing: sockets and devices.
func (n Node) IsExcludedFromDiffKey() bool {
	return n == NodeSocket || n == NodeDevice
}

// ModifiedKind identifies what changed about a Modified entry.
type ModifiedKind uint8

const (
	KindMetadataOnly ModifiedKind = iota
	KindContentChanged
	KindTypeChanged
	KindSymlinkTargetChanged
)

// String returns the kind's canonical wire spelling. These values feed the
// diff key record encoding and must never change.
func (k ModifiedKind) String() string {
	switch k {
	case KindMetadataOnly:
		return "meta"
	case KindContentChanged:
		return "content"
	case KindTypeChanged:
		return "type"
	case KindSymlinkTargetChanged:
		return "symlink"
	default:
		return "unknown"
	}
}

// Attributes carries the optional per-entry attributes shared by Added and
// Modified variants.
type Attributes struct {
	Permissions   *uint32
	Size          *uint64
	ModTime       *int64 // Unix nanoseconds; optional.
	LinkTarget    binarypath.BinaryPath
	HasLinkTarget bool
	UID           *uint32
	GID           *uint32
	Xattrs        map[string][]byte
	DevMajor      *uint32
	DevMinor      *uint32
	NLink         *uint32
	// ContentHash is populated by the differ when node == regular and the
	// variant/kind combination requires it. It is nil until computed.
	ContentHash []byte
}

// Variant distinguishes the three Diff tags.
type Variant uint8

const (
	VariantAdded Variant = iota
	VariantModified
	VariantDeleted
)

// Diff is a single add/modify/delete record between a base and target
// filesystem snapshot.
type Diff struct {
	Variant Variant
	Path    binarypath.BinaryPath

	// Added/Modified fields.
	Node Node
	Kind ModifiedKind // only meaningful when Variant == VariantModified
	Attributes

	// Deleted fields.
	BaseNodeType             Node
	BaseNodeKnown            bool // false when the base side couldn't be statted
	BaseDirectoryWasNonEmpty bool
}

// EnsureValid ensures that the diff record is valid.
func (d *Diff) EnsureValid() error {
	if d == nil {
		return errors.New("nil diff")
	}
	switch d.Variant {
	case VariantAdded, VariantModified, VariantDeleted:
	default:
		return errors.New("unknown diff variant")
	}
	if d.Variant == VariantModified {
		switch d.Kind {
		case KindMetadataOnly, KindContentChanged, KindTypeChanged, KindSymlinkTargetChanged:
		default:
			return errors.New("unknown modified kind")
		}
	}
	return nil
}

// IsExcluded reports whether this record is discarded before diff key
// hashing.
func (d *Diff) IsExcluded() bool {
	switch d.Variant {
	case VariantAdded, VariantModified:
		return d.Node.IsExcludedFromDiffKey()
	case VariantDeleted:
		return d.BaseNodeKnown && d.BaseNodeType.IsExcludedFromDiffKey()
	default:
		return false
	}
}

// NeedsContentHash reports whether this record requires a content hash to be
// computed at diff-emission time: node is regular, and the variant is Added
// or the kind is contentChanged.
func (d *Diff) NeedsContentHash() bool {
	if d.Node != NodeRegular {
		return false
	}
	switch d.Variant {
	case VariantAdded:
		return true
	case VariantModified:
		return d.Kind == KindContentChanged
	default:
		return false
	}
}
