package crawlresult

import (
	"encoding/base64"
	"fmt"
	"os"

	"github.com/atra-crawler/atra/internal/warc"
)

// FullResult is a SlimResult with its body resolved.
type FullResult struct {
	SlimResult
	Body []byte
}

// WarcReader is the capability Inflate needs to resolve a HintWarc
// record; satisfied by *warc.Reader.
type WarcReader interface {
	ReadAt(pointer warc.SkipPointer) (warc.Record, error)
	ReadSegmented(pointers []warc.SkipPointerWithOffsets) ([]byte, error)
}

// Resolver reads an externally-stored body for a HintExternalFile
// record; the crawl core's default is to read directly from disk, but
// this seam lets a caller substitute a different body store.
type Resolver interface {
	ReadExternal(path string) ([]byte, error)
}

type diskResolver struct{}

func (diskResolver) ReadExternal(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("crawlresult: read external file %s: %w", path, err)
	}
	return b, nil
}

// DiskResolver resolves HintExternalFile bodies from the local filesystem.
var DiskResolver Resolver = diskResolver{}

// Inflate reconstructs slim's full body. For HintWarc records it reads
// the body back out of the WARC corpus via warcReader; for
// HintExternalFile it reads via resolver; for HintAssociated the caller
// must re-invoke Inflate (or Get+Inflate) on the associated URL, since
// resolving it here would require recursing into store, which the
// operation intentionally keeps out of its dependencies.
func Inflate(slim SlimResult, warcReader WarcReader, resolver Resolver) (FullResult, error) {
	switch slim.Hint.Kind {
	case HintNone:
		return FullResult{SlimResult: slim}, nil

	case HintInMemory:
		return FullResult{SlimResult: slim, Body: slim.Hint.InMemory}, nil

	case HintExternalFile:
		if resolver == nil {
			resolver = DiskResolver
		}
		body, err := resolver.ReadExternal(slim.Hint.ExternalPath)
		if err != nil {
			return FullResult{}, err
		}
		return FullResult{SlimResult: slim, Body: body}, nil

	case HintWarc:
		if slim.Hint.Warc == nil {
			return FullResult{}, fmt.Errorf("crawlresult: inflate %s: warc hint missing skip instruction", slim.URL)
		}
		body, err := inflateWarc(slim.Hint.Warc, warcReader)
		if err != nil {
			return FullResult{}, fmt.Errorf("crawlresult: inflate %s: %w", slim.URL, err)
		}
		return FullResult{SlimResult: slim, Body: body}, nil

	case HintAssociated:
		return FullResult{}, fmt.Errorf("crawlresult: inflate %s: aliases %q, re-inflate via the associated URL", slim.URL, slim.Hint.Associated)

	default:
		return FullResult{}, fmt.Errorf("crawlresult: inflate %s: unknown hint kind %v", slim.URL, slim.Hint.Kind)
	}
}

func inflateWarc(instr *warc.SkipInstruction, reader WarcReader) ([]byte, error) {
	var full []byte
	var headerLen uint32
	var base64Encoded bool

	if instr.Single != nil {
		rec, err := reader.ReadAt(instr.Single.Skip)
		if err != nil {
			return nil, err
		}
		full = rec.Body
		headerLen = instr.Single.HeaderLength
		base64Encoded = rec.Fields["Atra-Base64"] == "true"
	} else {
		body, err := reader.ReadSegmented(instr.Multiple)
		if err != nil {
			return nil, err
		}
		full = body
		if len(instr.Multiple) > 0 {
			headerLen = instr.Multiple[0].HeaderLength
		}
		// The base64 marker, if any, lives on the first segment's header;
		// ReadSegmented doesn't carry fields back, so re-read just that one.
		if len(instr.Multiple) > 0 {
			first, err := reader.ReadAt(instr.Multiple[0].Skip)
			if err != nil {
				return nil, err
			}
			base64Encoded = first.Fields["Atra-Base64"] == "true"
		}
	}

	if int(headerLen) > len(full) {
		return nil, fmt.Errorf("header length %d exceeds record length %d", headerLen, len(full))
	}
	payload := full[headerLen:]

	if base64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(string(payload))
		if err != nil {
			return nil, fmt.Errorf("decode base64 body: %w", err)
		}
		return decoded, nil
	}
	return payload, nil
}
