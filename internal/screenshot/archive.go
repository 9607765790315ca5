package screenshot

import (
	"bytes"
	"encoding/binary"

	"github.com/klauspost/compress/zstd"

	"github.com/corvidlabs/corvid-core/internal/errs"
)

// ArchivalBundle zstd-compresses a set of capture results into a single
// companion bundle for the "archival" quality preset, concatenating each
// frame length-prefixed so it can be split back apart without a separate
// container format.
func ArchivalBundle(results []Result) ([]byte, error) {
	var raw bytes.Buffer
	var lenBuf [binary.MaxVarintLen64]byte
	for _, r := range results {
		n := binary.PutUvarint(lenBuf[:], uint64(len(r.Bytes)))
		raw.Write(lenBuf[:n])
		raw.Write(r.Bytes)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		return nil, errs.Wrap(errs.IllegalState, "screenshot: zstd encoder init failed", err)
	}
	defer enc.Close()
	return enc.EncodeAll(raw.Bytes(), nil), nil
}

// UnpackArchivalBundle reverses ArchivalBundle.
func UnpackArchivalBundle(bundle []byte) ([][]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, errs.Wrap(errs.IllegalState, "screenshot: zstd decoder init failed", err)
	}
	defer dec.Close()
	raw, err := dec.DecodeAll(bundle, nil)
	if err != nil {
		return nil, errs.Wrap(errs.ArgumentInvalid, "screenshot: invalid archival bundle", err)
	}

	var out [][]byte
	buf := bytes.NewReader(raw)
	for buf.Len() > 0 {
		n, err := binary.ReadUvarint(buf)
		if err != nil {
			return nil, errs.Wrap(errs.ArgumentInvalid, "screenshot: corrupt archival bundle", err)
		}
		frame := make([]byte, n)
		if _, err := buf.Read(frame); err != nil {
			return nil, errs.Wrap(errs.ArgumentInvalid, "screenshot: truncated archival bundle", err)
		}
		out = append(out, frame)
	}
	return out, nil
}
