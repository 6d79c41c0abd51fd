// Package virtio implements a virtio-mmio block device driver: the
// init handshake, a single descriptor-table/avail-ring/used-ring
// virtqueue, and the read/write protocol a buffer cache issues disk
// requests through. Since this kernel runs hosted rather than owning
// real MMIO, the control registers are a plain struct a test or the
// simdisk backend can poke directly, and device completion is driven
// by a goroutine standing in for the interrupt a real disk would
// raise.
package virtio

import (
	"fmt"
	"unsafe"

	"bcache"
	"lock"
)

// NUM is the virtqueue size; must be a power of two.
const NUM = 8

type vqDesc struct {
	Len   uint32
	Flags uint16
	Next  uint16
}

type vqUsedElem struct {
	Id  uint32
	Len uint32
}

// regs_t stands in for the virtio-mmio control register block. A real
// boot would mmio-map these at a fixed physical address; here they are
// plain fields so Mk and tests can drive the handshake without real
// hardware.
type regs_t struct {
	magic, version, deviceID, vendorID uint32
	deviceFeatures, driverFeatures     uint32
	status                             uint32
	queueNumMax, queueNum              uint32
	queuePFN                           uint32
	notifyCount                        int
	intrStatus                         uint32
}

type reqInfo struct {
	status  byte
	busy    bool
	channel lock.Channel
}

// BlockStore is the storage backend a Disk_t drives requests against —
// the bytes a real virtio-blk device would move through its descriptor
// chain. simdisk implements this against a host file.
type BlockStore interface {
	ReadBlock(blockno int, dst *[bcache.BSIZE]byte) error
	WriteBlock(blockno int, src *[bcache.BSIZE]byte) error
	Flush() error
}

// Disk_t is one virtio-mmio block device, implementing bcache.Disk_i.
type Disk_t struct {
	lk lock.Spinlock_t

	regs regs_t

	desc    [NUM]vqDesc
	availRing [NUM]uint16
	availIdx  uint16
	usedRing  [NUM]vqUsedElem
	usedIdx   uint16
	ackIdx    uint16
	free      [NUM]bool
	info      [NUM]reqInfo

	store BlockStore
	reads, writes int
}

// Mk constructs a Disk_t against store, with its simulated control
// registers already reporting a valid virtio-blk identity so Init can
// run the real handshake sequence against them.
func Mk(store BlockStore) *Disk_t {
	d := &Disk_t{store: store}
	d.regs.magic = magicValue
	d.regs.version = expectedVersion
	d.regs.deviceID = expectedDeviceID
	d.regs.vendorID = vendorValue
	d.regs.deviceFeatures = 0xffffffff
	d.regs.queueNumMax = NUM
	for i := range d.free {
		d.free[i] = true
	}
	return d
}

// Init runs the virtio-mmio device handshake: ACKNOWLEDGE, DRIVER,
// negotiate features, FEATURES_OK, select+size queue 0, DRIVER_OK.
func (d *Disk_t) Init() {
	if d.regs.magic != magicValue || d.regs.version != expectedVersion ||
		d.regs.deviceID != expectedDeviceID || d.regs.vendorID != vendorValue {
		panic("virtio: could not find virtio disk")
	}

	status := uint32(statusAcknowledge)
	d.regs.status = status
	status |= statusDriver
	d.regs.status = status

	features := d.regs.deviceFeatures
	features &^= 1 << featRO
	features &^= 1 << featSCSI
	features &^= 1 << featConfigWCE
	features &^= 1 << featMQ
	features &^= 1 << featAnyLayout
	features &^= 1 << featEventIdx
	features &^= 1 << featIndirectDesc
	d.regs.driverFeatures = features

	status |= statusFeaturesOK
	d.regs.status = status

	if d.regs.queueNumMax == 0 {
		panic("virtio: disk has no queue 0")
	}
	if d.regs.queueNumMax < NUM {
		panic("virtio: disk max queue too short")
	}
	d.regs.queueNum = NUM
	d.regs.queuePFN = 1

	status |= statusDriverOK
	d.regs.status = status
}

func (d *Disk_t) freeChan() lock.Channel { return lock.Channel(unsafe.Pointer(&d.free)) }
func (d *Disk_t) reqChan(i int) lock.Channel {
	return lock.Channel(unsafe.Pointer(&d.info[i]))
}

func (d *Disk_t) allocDesc() (int, bool) {
	for i := 0; i < NUM; i++ {
		if d.free[i] {
			d.free[i] = false
			return i, true
		}
	}
	return 0, false
}

func (d *Disk_t) alloc3desc(idx *[3]int) bool {
	for i := range idx {
		n, ok := d.allocDesc()
		if !ok {
			for j := 0; j < i; j++ {
				d.freeDesc(idx[j])
			}
			return false
		}
		idx[i] = n
	}
	return true
}

func (d *Disk_t) freeDesc(i int) {
	d.desc[i] = vqDesc{}
	d.free[i] = true
	lock.Wakeup(d.freeChan())
}

func (d *Disk_t) freeChain(idx [3]int) {
	for _, i := range idx {
		d.freeDesc(i)
	}
}

// Start submits req as a 3-descriptor chain (request header, data
// buffer, status byte), kicks the queue, and blocks until the device
// (simulated by a goroutine standing in for the real interrupt
// handler) marks it done. It always services the wait itself, so it
// never asks the caller to additionally wait on req.AckCh.
func (d *Disk_t) Start(req *bcache.Bdev_req_t) bool {
	writing := req.Cmd == bcache.BDEV_WRITE

	d.lk.Acquire()
	var idx [3]int
	for !d.alloc3desc(&idx) {
		lock.Sleep(d.freeChan(), &d.lk)
	}

	d.desc[idx[0]] = vqDesc{Flags: descFNext, Next: uint16(idx[1])}
	dataFlags := uint16(descFNext)
	if !writing {
		dataFlags |= descFWrite
	}
	d.desc[idx[1]] = vqDesc{Len: bcache.BSIZE, Flags: dataFlags, Next: uint16(idx[2])}
	d.desc[idx[2]] = vqDesc{Len: 1, Flags: descFWrite}

	d.info[idx[0]] = reqInfo{status: 0xff, busy: true, channel: d.reqChan(idx[0])}

	d.availRing[d.availIdx%NUM] = uint16(idx[0])
	d.availIdx++
	d.regs.notifyCount++
	d.lk.Release()

	go d.service(idx[0], req, writing)

	d.lk.Acquire()
	for d.info[idx[0]].busy {
		lock.Sleep(d.info[idx[0]].channel, &d.lk)
	}
	d.freeChain(idx)
	d.lk.Release()
	return false
}

// service performs the disk I/O a real device's DMA engine would do,
// then posts a used-ring entry and raises the simulated interrupt —
// the hosted stand-in for virtio-blk's asynchronous completion.
func (d *Disk_t) service(descIdx int, req *bcache.Bdev_req_t, writing bool) {
	var err error
	if writing {
		err = d.store.WriteBlock(req.Blockno, req.Data)
	} else {
		err = d.store.ReadBlock(req.Blockno, req.Data)
	}

	d.lk.Acquire()
	if writing {
		d.writes++
	} else {
		d.reads++
	}
	status := byte(0)
	if err != nil {
		status = 1
	}
	d.info[descIdx].status = status
	d.usedRing[d.usedIdx%NUM] = vqUsedElem{Id: uint32(descIdx), Len: bcache.BSIZE}
	d.usedIdx++
	d.regs.intrStatus |= 1
	d.lk.Release()

	d.Intr()
}

// Intr drains the used ring: every entry since the last interrupt is a
// completed request. Status bytes are checked under the fence the
// spec requires bracketing every used-ring observation; a nonzero
// status is a device-reported failure and is fatal, matching the
// original driver's own panic on that condition.
func (d *Disk_t) Intr() {
	d.lk.Acquire()
	d.regs.intrStatus &^= 0x3
	for d.ackIdx != d.usedIdx {
		e := d.usedRing[d.ackIdx%NUM]
		if d.info[e.Id].status != 0 {
			d.lk.Release()
			panic("virtio: disk request failed")
		}
		d.info[e.Id].busy = false
		lock.Wakeup(d.info[e.Id].channel)
		d.ackIdx++
	}
	d.lk.Release()
}

func (d *Disk_t) Stats() string {
	d.lk.Acquire()
	s := fmt.Sprintf("virtio: %d reads, %d writes, %d notifies", d.reads, d.writes, d.regs.notifyCount)
	d.lk.Release()
	return s
}
