package virtio

// virtio-mmio control register offsets, from QEMU's virtio_mmio.h,
// named next to the driver that uses them (the reference kernel's own
// convention for device register constants).
const (
	regMagic          = 0x000
	regVersion        = 0x004
	regDeviceID       = 0x008
	regVendorID       = 0x00c
	regDeviceFeatures = 0x010
	regDriverFeatures = 0x020
	regGuestPageSize  = 0x028
	regQueueSel       = 0x030
	regQueueNumMax    = 0x034
	regQueueNum       = 0x038
	regQueuePFN       = 0x040
	regQueueNotify    = 0x050
	regInterruptStat  = 0x060
	regInterruptAck   = 0x064
	regStatus         = 0x070
)

// virtio status register bits, from QEMU's virtio_config.h.
const (
	statusAcknowledge = 1
	statusDriver      = 2
	statusDriverOK    = 4
	statusFeaturesOK  = 8
)

// Device feature bits negotiated away during init.
const (
	featRO           = 5
	featSCSI         = 7
	featConfigWCE    = 11
	featMQ           = 12
	featAnyLayout    = 27
	featIndirectDesc = 28
	featEventIdx     = 29
)

// Virtqueue descriptor flags.
const (
	descFNext  = 1 // chained to another descriptor
	descFWrite = 2 // device writes (relative to read)
)

// virtio-blk request types.
const (
	blkTypeIn  = 0 // read from disk
	blkTypeOut = 1 // write to disk
)

const magicValue = 0x74726976
const vendorValue = 0x554d4551
const expectedVersion = 1
const expectedDeviceID = 2
