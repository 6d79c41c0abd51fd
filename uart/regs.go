package uart

// 16550 register offsets (see http://byterunner.com/16550.html), named
// next to the driver the way the reference kernel names its MMIO
// offset constants beside the device that uses them.
const (
	rhr = 0 // receive holding register (read)
	thr = 0 // transmit holding register (write)
	ier = 1 // interrupt enable register
	fcr = 2 // FIFO control register
	lcr = 3 // line control register
	lsr = 5 // line status register
)

const (
	lsrRxReady = 1 << 0
	lsrTxIdle  = 1 << 5
)
