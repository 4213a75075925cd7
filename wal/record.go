package wal

import (
	"github.com/duskdb/duskdb/endian"
	"github.com/duskdb/duskdb/meas"
)

// RecordSize is the packed, little-endian wire size of one WAL record:
// id(4) + time(8) + value(8) + flag(4) = 24 bytes, no padding.
const RecordSize = 24

func encodeRecord(buf []byte, m meas.Measurement) {
	w := endian.NewWriter(buf)
	w.Uint32(m.ID)
	w.Int64(m.Time)
	w.Float64(m.Value)
	w.Uint32(m.Flag)
}

func decodeRecord(buf []byte) meas.Measurement {
	r := endian.NewReader(buf)

	return meas.Measurement{
		ID:    r.Uint32(),
		Time:  r.Int64(),
		Value: r.Float64(),
		Flag:  r.Uint32(),
	}
}
