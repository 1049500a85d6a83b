package engine

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"math"

	"trustcollapse.dev/internal/sim/world"
)

// Digest hashes the complete engine state. Two engines that agree on the
// digest agree bit for bit on every column of both worlds.
func (e *Engine) Digest() string {
	h := sha256.New()
	var tmp [8]byte

	digestWriteU64(h, &tmp, e.tick)
	digestWriteU64(h, &tmp, e.migrated)
	digestWriteU64(h, &tmp, uint64(e.cfg.Width))
	digestWriteU64(h, &tmp, uint64(e.cfg.Height))
	h.Write([]byte{boolByte(e.shuffle)})

	pending := e.queue.Pending()
	digestWriteU64(h, &tmp, uint64(len(pending)))
	for _, i := range pending {
		digestWriteU64(h, &tmp, uint64(i))
	}

	digestWorld(h, &tmp, e.good)
	digestWorld(h, &tmp, e.mixed)
	return hex.EncodeToString(h.Sum(nil))
}

func digestWorld(h hash.Hash, tmp *[8]byte, w *world.World) {
	h.Write([]byte{byte(w.Kind())})
	for i := 0; i < w.Len(); i++ {
		h.Write([]byte{boolByte(w.Occupied[i]), byte(w.Class[i]), byte(w.LastMove[i]), w.BadStreak[i]})
		digestWriteU64(h, tmp, math.Float64bits(w.Trust[i]))
	}
}

func digestWriteU64(h hash.Hash, tmp *[8]byte, v uint64) {
	binary.LittleEndian.PutUint64(tmp[:], v)
	h.Write(tmp[:])
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
