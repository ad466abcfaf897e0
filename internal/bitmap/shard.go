package bitmap

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/rohankatakam/warp/internal/errs"
)

const (
	shardMagic   = "EGBM"
	shardVersion = uint16(1)
)

// encodeShard serializes a shard's per-local-id adjacency bitmaps as a
// header followed by length-prefixed (localId, roaring-bytes) pairs, per
// spec §4.G's "length-prefixed sequence" shard format.
func encodeShard(byLocal map[uint32]*roaring.Bitmap) ([]byte, error) {
	locals := make([]uint32, 0, len(byLocal))
	for l := range byLocal {
		locals = append(locals, l)
	}
	sort.Slice(locals, func(i, j int) bool { return locals[i] < locals[j] })

	var body bytes.Buffer
	var varintBuf [binary.MaxVarintLen64]byte
	for _, local := range locals {
		bm := byLocal[local]
		n := binary.PutUvarint(varintBuf[:], uint64(local))
		body.Write(varintBuf[:n])

		bmBytes, err := bm.ToBytes()
		if err != nil {
			return nil, errs.InternalWrap(err, "serialize roaring bitmap")
		}
		n = binary.PutUvarint(varintBuf[:], uint64(len(bmBytes)))
		body.Write(varintBuf[:n])
		body.Write(bmBytes)
	}

	checksum := crc32.ChecksumIEEE(body.Bytes())
	var out bytes.Buffer
	out.WriteString(shardMagic)
	binary.Write(&out, binary.BigEndian, shardVersion)
	binary.Write(&out, binary.BigEndian, checksum)
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

// decodeShard is the inverse of encodeShard. A checksum or magic/version
// mismatch surfaces errs.ShardCorruption.
func decodeShard(data []byte) (map[uint32]*roaring.Bitmap, error) {
	if len(data) < len(shardMagic)+6 || string(data[:len(shardMagic)]) != shardMagic {
		return nil, errs.Newf(errs.ShardCorruption, errs.SeverityHigh, "shard file missing EGBM magic")
	}
	off := len(shardMagic)
	version := binary.BigEndian.Uint16(data[off:])
	off += 2
	if version != shardVersion {
		return nil, errs.Newf(errs.ShardCorruption, errs.SeverityHigh, "shard version %d unsupported", version)
	}
	checksum := binary.BigEndian.Uint32(data[off:])
	off += 4
	body := data[off:]
	if crc32.ChecksumIEEE(body) != checksum {
		return nil, errs.Newf(errs.ShardCorruption, errs.SeverityHigh, "shard checksum mismatch")
	}

	out := make(map[uint32]*roaring.Bitmap)
	i := 0
	for i < len(body) {
		local, n := binary.Uvarint(body[i:])
		if n <= 0 {
			return nil, errs.Newf(errs.ShardCorruption, errs.SeverityHigh, "corrupt shard local id")
		}
		i += n
		size, n := binary.Uvarint(body[i:])
		if n <= 0 {
			return nil, errs.Newf(errs.ShardCorruption, errs.SeverityHigh, "corrupt shard bitmap length")
		}
		i += n
		if i+int(size) > len(body) {
			return nil, errs.Newf(errs.ShardCorruption, errs.SeverityHigh, "truncated shard bitmap")
		}
		bm := roaring.New()
		if _, err := bm.FromBuffer(body[i : i+int(size)]); err != nil {
			return nil, errs.Wrapf(err, errs.ShardCorruption, errs.SeverityHigh, "decode roaring bitmap")
		}
		i += int(size)
		out[uint32(local)] = bm
	}
	return out, nil
}

func shardHex(b byte) string {
	const hexDigits = "0123456789abcdef"
	return string([]byte{hexDigits[b>>4], hexDigits[b&0xf]})
}
