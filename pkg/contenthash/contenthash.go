// Package contenthash provides streaming file-content hashing and
// comparison: ContentHasher and FileContentDiffer. Hashing is driven through
// stream.NewHashedWriter, which attaches a hash.Hash to an io.Writer so that
// every byte written is processed exactly once.
package contenthash

import (
	"io"
	"io/ioutil"

	"github.com/pkg/errors"

	"github.com/container-build/buildcore/pkg/digest"
	"github.com/container-build/buildcore/pkg/stream"
)

// ChunkSize is the streaming read chunk size: 4 MiB.
const ChunkSize = 4 * 1024 * 1024

// ContentHasher computes a streaming SHA-256 digest of file content in fixed
// ChunkSize reads.
type ContentHasher struct{}

// NewContentHasher creates a new ContentHasher.
func NewContentHasher() *ContentHasher {
	return &ContentHasher{}
}

// Hash streams r in ChunkSize chunks and returns its SHA-256 digest. The
// copy runs through stream.NewHashedWriter, which guarantees the hash
// processes exactly the bytes that reach the (discarded) destination writer.
func (h *ContentHasher) Hash(r io.Reader) (digest.Digest, error) {
	hasher, err := digest.NewHasher(digest.SHA256)
	if err != nil {
		return digest.Digest{}, err
	}

	destination := stream.NewHashedWriter(ioutil.Discard, hasher)
	buffer := make([]byte, ChunkSize)
	for {
		n, readErr := r.Read(buffer)
		if n > 0 {
			if _, err := destination.Write(buffer[:n]); err != nil {
				return digest.Digest{}, errors.Wrap(err, "unable to update hash")
			}
		}
		if readErr == io.EOF {
			break
		} else if readErr != nil {
			return digest.Digest{}, errors.Wrap(readErr, "unable to read content")
		}
	}

	return digest.FromBytes(digest.SHA256, hasher.Sum(nil)), nil
}

// ComparisonResult is the outcome of FileContentDiffer.Compare.
type ComparisonResult uint8

const (
	// ResultIdentical indicates both files were hashed and their digests
	// matched.
	ResultIdentical ComparisonResult = iota
	// ResultContentChanged indicates the files were hashed and their
	// digests differed, or one side was absent.
	ResultContentChanged
	// ResultAttributeOnly indicates the caller requested an
	// attributes-only comparison, so content was never read.
	ResultAttributeOnly
)

// FileOpener opens a file for reading content comparison. It is supplied by
// the caller so this package has no dependency on how files are actually
// accessed (real filesystem, mock scan producer, etc.).
type FileOpener func() (io.ReadCloser, error)

// FileContentDiffer compares two optional files' content.
type FileContentDiffer struct {
	hasher *ContentHasher
}

// NewFileContentDiffer creates a new FileContentDiffer.
func NewFileContentDiffer() *FileContentDiffer {
	return &FileContentDiffer{hasher: NewContentHasher()}
}

// Compare compares the content at base and target. If attributesOnly is
// true, it returns ResultAttributeOnly immediately without touching either
// file. If either opener is nil (the corresponding side is absent), it
// returns ResultContentChanged. Otherwise both files are stream-hashed and
// their digests are compared.
func (d *FileContentDiffer) Compare(attributesOnly bool, base, target FileOpener) (ComparisonResult, error) {
	if attributesOnly {
		return ResultAttributeOnly, nil
	}

	if base == nil || target == nil {
		return ResultContentChanged, nil
	}

	baseDigest, err := d.hashOpener(base)
	if err != nil {
		return 0, errors.Wrap(err, "unable to hash base content")
	}
	targetDigest, err := d.hashOpener(target)
	if err != nil {
		return 0, errors.Wrap(err, "unable to hash target content")
	}

	if baseDigest.Equal(targetDigest) {
		return ResultIdentical, nil
	}
	return ResultContentChanged, nil
}

func (d *FileContentDiffer) hashOpener(open FileOpener) (digest.Digest, error) {
	reader, err := open()
	if err != nil {
		return digest.Digest{}, err
	}
	defer reader.Close()
	return d.hasher.Hash(reader)
}
