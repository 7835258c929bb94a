package audio

import (
	"encoding/binary"

	apperrors "github.com/GriffinCanCode/voicelink/internal/errors"
)

// EncodeWAV wraps little-endian PCM in a canonical 44-byte RIFF/WAVE header.
func EncodeWAV(pcm []byte, f Format) []byte {
	f = f.withDefaults()
	blockAlign := f.Channels * f.BitsPerSample / 8
	out := make([]byte, wavHeaderSize+len(pcm))
	le := binary.LittleEndian

	copy(out[0:4], "RIFF")
	le.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	le.PutUint32(out[16:20], 16)
	le.PutUint16(out[20:22], 1) // PCM
	le.PutUint16(out[22:24], uint16(f.Channels))
	le.PutUint32(out[24:28], uint32(f.SampleRate))
	le.PutUint32(out[28:32], uint32(f.SampleRate*blockAlign))
	le.PutUint16(out[32:34], uint16(blockAlign))
	le.PutUint16(out[34:36], uint16(f.BitsPerSample))
	copy(out[36:40], "data")
	le.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[wavHeaderSize:], pcm)
	return out
}

// DecodeWAV parses a PCM WAV container, skipping chunks other than fmt and data.
func DecodeWAV(b []byte) (Format, []byte, error) {
	var f Format
	if len(b) < 12 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return f, nil, apperrors.New(apperrors.CodeDecodeFailed, "not a RIFF/WAVE container")
	}
	le := binary.LittleEndian
	var haveFmt bool
	for off := 12; off+8 <= len(b); {
		id := string(b[off : off+4])
		size := int(le.Uint32(b[off+4 : off+8]))
		body := off + 8
		if size < 0 || body+size > len(b) {
			return f, nil, apperrors.Newf(apperrors.CodeDecodeFailed, "chunk %q overruns container", id)
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return f, nil, apperrors.New(apperrors.CodeDecodeFailed, "short fmt chunk")
			}
			if le.Uint16(b[body:body+2]) != 1 {
				return f, nil, apperrors.New(apperrors.CodeDecodeFailed, "only PCM is supported")
			}
			f.Channels = int(le.Uint16(b[body+2 : body+4]))
			f.SampleRate = int(le.Uint32(b[body+4 : body+8]))
			f.BitsPerSample = int(le.Uint16(b[body+14 : body+16]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return f, nil, apperrors.New(apperrors.CodeDecodeFailed, "data chunk before fmt")
			}
			return f, b[body : body+size], nil
		}
		off = body + size + size%2
	}
	return f, nil, apperrors.New(apperrors.CodeDecodeFailed, "missing data chunk")
}

// Int16ToBytes packs samples as little-endian PCM.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// BytesToInt16 unpacks little-endian PCM. A trailing odd byte is ignored.
func BytesToInt16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}
