package audio

import (
	"encoding/binary"
	"errors"
	"io"
	"time"
)

// errNotMP4 indicates the container is not an ISO base media (m4a/mp4) file.
var errNotMP4 = errors.New("not an MP4 container")

var mp4Brands = map[string]bool{
	"M4A ": true,
	"M4B ": true,
	"mp41": true,
	"mp42": true,
	"isom": true,
	"qt  ": true,
}

// mp4Info is read from the moov/mvhd box.
type mp4Info struct {
	Created  time.Time
	Duration time.Duration
}

// macEpoch is the origin of MP4 timestamps.
var macEpoch = time.Date(1904, 1, 1, 0, 0, 0, 0, time.UTC)

func parseMP4(r io.ReadSeeker) (*mp4Info, error) {
	info := &mp4Info{}
	var foundFtyp, foundMvhd bool

	for {
		size, boxType, header, err := readBoxHeader(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		body := size - header

		switch boxType {
		case "ftyp":
			if err := checkBrand(r, body); err != nil {
				return nil, err
			}
			foundFtyp = true
		case "moov":
			found, err := parseMoov(r, body, info)
			if err != nil {
				return nil, err
			}
			foundMvhd = foundMvhd || found
		default:
			if size == 0 {
				break
			}
			if _, err := r.Seek(body, io.SeekCurrent); err != nil {
				return nil, err
			}
		}
		// size 0 means the box runs to the end of the file
		if size == 0 {
			break
		}
	}

	if !foundFtyp || !foundMvhd {
		return nil, errNotMP4
	}
	return info, nil
}

// readBoxHeader returns the total box size, its type and the header length.
func readBoxHeader(r io.Reader) (int64, string, int64, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, "", 0, err
	}

	size := int64(binary.BigEndian.Uint32(header[0:4]))
	boxType := string(header[4:8])
	headerLen := int64(8)

	if size == 1 {
		var ext [8]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return 0, "", 0, err
		}
		size = int64(binary.BigEndian.Uint64(ext[:]))
		headerLen = 16
	}
	if size != 0 && size < headerLen {
		return 0, "", 0, errNotMP4
	}
	return size, boxType, headerLen, nil
}

func checkBrand(r io.ReadSeeker, remaining int64) error {
	if remaining < 4 {
		return errNotMP4
	}
	brand := make([]byte, 4)
	if _, err := io.ReadFull(r, brand); err != nil {
		return err
	}
	if !mp4Brands[string(brand)] {
		return errNotMP4
	}
	_, err := r.Seek(remaining-4, io.SeekCurrent)
	return err
}

func parseMoov(r io.ReadSeeker, remaining int64, info *mp4Info) (bool, error) {
	start, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return false, err
	}
	end := start + remaining
	found := false

	for {
		pos, err := r.Seek(0, io.SeekCurrent)
		if err != nil {
			return found, err
		}
		if pos >= end {
			break
		}

		size, boxType, header, err := readBoxHeader(r)
		if err != nil {
			return found, err
		}
		if size == 0 {
			size = end - pos
		}

		if boxType == "mvhd" {
			if err := parseMvhd(r, size-header, info); err != nil {
				return found, err
			}
			found = true
			continue
		}
		if _, err := r.Seek(size-header, io.SeekCurrent); err != nil {
			return found, err
		}
	}
	return found, nil
}

func parseMvhd(r io.ReadSeeker, remaining int64, info *mp4Info) error {
	var versionFlags [4]byte
	if _, err := io.ReadFull(r, versionFlags[:]); err != nil {
		return err
	}
	read := int64(4)

	var created uint64
	var timescale uint32
	var duration uint64

	if versionFlags[0] == 1 {
		var buf [28]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return err
		}
		created = binary.BigEndian.Uint64(buf[0:8])
		timescale = binary.BigEndian.Uint32(buf[16:20])
		duration = binary.BigEndian.Uint64(buf[20:28])
		read += 28
	} else {
		var buf [16]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return err
		}
		created = uint64(binary.BigEndian.Uint32(buf[0:4]))
		timescale = binary.BigEndian.Uint32(buf[8:12])
		duration = uint64(binary.BigEndian.Uint32(buf[12:16]))
		read += 16
	}

	info.Created = macEpoch.Add(time.Duration(created) * time.Second)
	if timescale > 0 {
		info.Duration = time.Duration(float64(duration) / float64(timescale) * float64(time.Second))
	}

	if remaining > read {
		if _, err := r.Seek(remaining-read, io.SeekCurrent); err != nil {
			return err
		}
	}
	return nil
}
