package nrf24

// SPI commands.
const (
	cmdRRegister  = 0x00
	cmdWRegister  = 0x20
	cmdRRxPlWid   = 0x60
	cmdRRxPayload = 0x61
	cmdWTxPayload = 0xA0
	cmdFlushTx    = 0xE1
	cmdFlushRx    = 0xE2
	cmdNop        = 0xFF
)

// Registers.
const (
	regConfig     = 0x00
	regEnAA       = 0x01
	regEnRxAddr   = 0x02
	regSetupAW    = 0x03
	regSetupRetr  = 0x04
	regRFCh       = 0x05
	regRFSetup    = 0x06
	regStatus     = 0x07
	regRxAddrP0   = 0x0A
	regRxAddrP1   = 0x0B
	regTxAddr     = 0x10
	regRxPwP0     = 0x11
	regFIFOStatus = 0x17
	regDynPD      = 0x1C
	regFeature    = 0x1D
)

// Bits.
const (
	configPrimRx = 1 << 0
	configPwrUp  = 1 << 1
	configCRCO   = 1 << 2
	configEnCRC  = 1 << 3

	statusMaxRt = 1 << 4
	statusTxDs  = 1 << 5
	statusRxDr  = 1 << 6

	fifoRxEmpty = 1 << 0

	rfSetupLNA    = 1 << 0
	rfSetupDRHigh = 1 << 3
	rfSetupDRLow  = 1 << 5

	featureEnDPL = 1 << 2

	allPipes = 0x3F
)
