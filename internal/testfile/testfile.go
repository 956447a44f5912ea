package testfile

import (
	"bytes"
	"context"
	"crypto/sha256"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	filabi "github.com/filecoin-project/go-state-types/abi"
	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/multiformats/go-multihash"
	"github.com/ribasushi/go-toolbox/cmn"
	"golang.org/x/xerrors"
)

var log = logging.Logger("qabot/testfile")

const (
	BufferSize = 64 << 10
	namePrefix = "qab-testfile"
)

// Generator writes random test payloads into Dir
type Generator struct {
	Dir string
}

// NewPath returns a unique, not yet existing, path under dir
func NewPath(dir string) string {
	return filepath.Join(dir, namePrefix+"-"+uuid.NewString())
}

// Generate writes size random bytes to a fresh file and returns its path
// together with the sha2-256 multihash of the content. The hash is computed
// on a separate goroutine fed through a pipe while the file is written.
func (g *Generator) Generate(ctx context.Context, size int64) (string, multihash.Multihash, error) {
	if size <= 0 {
		return "", nil, xerrors.Errorf("invalid test file size %d", size)
	}

	t0 := time.Now()
	path := NewPath(g.Dir)
	fh, err := os.Create(path)
	if err != nil {
		return "", nil, cmn.WrErr(err)
	}

	pr, pw := io.Pipe()
	hashed := make(chan hashResult, 1)
	go func() {
		mh, err := hashReader(pr)
		pr.CloseWithError(err) //nolint:errcheck
		hashed <- hashResult{mh, err}
	}()

	src := io.LimitReader(rand.New(rand.NewSource(time.Now().UnixNano())), size) //nolint:gosec
	_, copyErr := io.CopyBuffer(io.MultiWriter(fh, pw), &ctxReader{ctx: ctx, r: src}, make([]byte, BufferSize))
	pw.CloseWithError(copyErr) //nolint:errcheck
	res := <-hashed

	if err := fh.Close(); err != nil && copyErr == nil {
		copyErr = err
	}
	if copyErr == nil {
		copyErr = res.err
	}
	if copyErr != nil {
		Remove(path)
		return "", nil, cmn.WrErr(copyErr)
	}

	log.Infow("generated test file",
		"path", path,
		"size", humanize.IBytes(uint64(size)),
		"sha256", res.mh.B58String(),
		"took", time.Since(t0).Truncate(time.Millisecond).String(),
	)
	return path, res.mh, nil
}

type hashResult struct {
	mh  multihash.Multihash
	err error
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}

func hashReader(r io.Reader) (multihash.Multihash, error) {
	h := sha256.New()
	if _, err := io.CopyBuffer(h, r, make([]byte, BufferSize)); err != nil {
		return nil, err
	}
	return multihash.Encode(h.Sum(nil), multihash.SHA2_256)
}

// HashFile recomputes the content hash of a file on disk
func HashFile(path string) (multihash.Multihash, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, cmn.WrErr(err)
	}
	defer fh.Close()

	mh, err := hashReader(fh)
	if err != nil {
		return nil, cmn.WrErr(err)
	}
	return mh, nil
}

// Equal compares two content hashes byte for byte
func Equal(a, b multihash.Multihash) bool {
	return len(a) > 0 && bytes.Equal(a, b)
}

// Remove deletes a test file if it is still there; failures are only logged
func Remove(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil {
		if !os.IsNotExist(err) {
			log.Errorw("failed to delete test file", "path", path, "error", err)
		}
		return
	}
	log.Infow("deleted test file", "path", path)
}

// SizeForSector keeps the test file within what a single sector can hold:
// a payload larger than the sector is cut down to half the sector size.
func SizeForSector(size int64, sector filabi.SectorSize) int64 {
	if sector > 0 && size > int64(sector) {
		log.Errorw("test file larger than sector size",
			"size", humanize.IBytes(uint64(size)),
			"sectorSize", humanize.IBytes(uint64(sector)),
		)
		return int64(sector) / 2
	}
	return size
}
