package dbz

// Residency controls how a table's bytes are held while the index is
// open, mirroring the original dbzoptions pag_incore/exists_incore
// split between INCORE_NO, INCORE_MEM and INCORE_MMAP.
type Residency int

const (
	// OnDisk reads and writes slots directly against the file with
	// no cached copy in memory: lowest memory use, one syscall per
	// access.
	OnDisk Residency = iota
	// Memory loads the whole table into a byte slice at open time
	// and writes it back on Sync/Close.
	Memory
	// Mmap maps the table with PROT_READ|PROT_WRITE MAP_SHARED so
	// writes land in the page cache directly; Sync calls msync.
	Mmap
)

func (r Residency) String() string {
	switch r {
	case Memory:
		return "mem"
	case Mmap:
		return "mmap"
	default:
		return "disk"
	}
}

// ParseResidency accepts the same strings Config uses ("disk", "mem",
// "mmap"); anything else falls back to OnDisk.
func ParseResidency(s string) Residency {
	switch s {
	case "mem":
		return Memory
	case "mmap":
		return Mmap
	default:
		return OnDisk
	}
}

// Options configures how an Index is opened, the Go-side equivalent
// of struct dbzoptions.
type Options struct {
	// IndexResidency and ExistsResidency independently select the
	// residency of the .index and .hash tables.
	IndexResidency  Residency
	ExistsResidency Residency

	// WriteThrough fsyncs (or msyncs) after every Store instead of
	// leaving that to an explicit Sync call.
	WriteThrough bool

	// Nonblock is advisory: callers that set it are saying a slow
	// Store should not stall the caller. The in-process Go index has
	// no separate I/O thread to hand work to, so Nonblock only
	// suppresses the fsync in Store even when WriteThrough is set,
	// deferring durability to the next explicit Sync.
	Nonblock bool
}

// DefaultOptions matches hisv6's defaults: everything on disk, no
// write-through, blocking stores.
func DefaultOptions() Options {
	return Options{IndexResidency: OnDisk, ExistsResidency: OnDisk}
}
