package syscalls

import (
	"bytes"
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// guestStat is struct stat of the asm-generic ABI used by riscv64.
type guestStat struct {
	Dev       uint64
	Ino       uint64
	Mode      uint32
	Nlink     uint32
	Uid       uint32
	Gid       uint32
	Rdev      uint64
	_         uint64
	Size      int64
	Blksize   int32
	_         int32
	Blocks    int64
	Atime     int64
	AtimeNsec int64
	Mtime     int64
	MtimeNsec int64
	Ctime     int64
	CtimeNsec int64
	_         [2]uint32
}

// StatSize is the guest size of struct stat.
const StatSize = 128

func marshalStat(st *unix.Stat_t) []byte {
	g := guestStat{
		Dev:       uint64(st.Dev),
		Ino:       st.Ino,
		Mode:      st.Mode,
		Nlink:     uint32(st.Nlink),
		Uid:       st.Uid,
		Gid:       st.Gid,
		Rdev:      uint64(st.Rdev),
		Size:      st.Size,
		Blksize:   int32(st.Blksize),
		Blocks:    st.Blocks,
		Atime:     int64(st.Atim.Sec),
		AtimeNsec: int64(st.Atim.Nsec),
		Mtime:     int64(st.Mtim.Sec),
		MtimeNsec: int64(st.Mtim.Nsec),
		Ctime:     int64(st.Ctim.Sec),
		CtimeNsec: int64(st.Ctim.Nsec),
	}
	var buf bytes.Buffer
	buf.Grow(StatSize)
	if err := binary.Write(&buf, binary.LittleEndian, &g); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

const utsLen = 65

// utsname renders struct utsname: six NUL padded fields.
func utsname() []byte {
	out := make([]byte, 6*utsLen)
	for i, field := range []string{"Linux", "rvjit", "6.1.0", "#1", "riscv64", ""} {
		copy(out[i*utsLen:(i+1)*utsLen-1], field)
	}
	return out
}

func le64(vs ...uint64) []byte {
	out := make([]byte, 0, 8*len(vs))
	for _, v := range vs {
		out = binary.LittleEndian.AppendUint64(out, v)
	}
	return out
}
