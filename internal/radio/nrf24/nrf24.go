// Package nrf24 drives an nRF24L01(+) transceiver over SPI, with the CE line
// on a GPIO pin. CSN is the SPI chip select.
package nrf24

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

const maxPayload = 32

type DataRate uint8

const (
	Rate1Mbps DataRate = iota
	Rate2Mbps
	Rate250Kbps
)

type PALevel uint8

const (
	PAMin PALevel = iota
	PALow
	PAHigh
	PAMax
)

func ParseDataRate(s string) (DataRate, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1mbps", "":
		return Rate1Mbps, nil
	case "2mbps":
		return Rate2Mbps, nil
	case "250kbps":
		return Rate250Kbps, nil
	}
	return 0, fmt.Errorf("unknown data rate %q", s)
}

func ParsePALevel(s string) (PALevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "min":
		return PAMin, nil
	case "low":
		return PALow, nil
	case "high", "":
		return PAHigh, nil
	case "max":
		return PAMax, nil
	}
	return 0, fmt.Errorf("unknown pa level %q", s)
}

type Config struct {
	Channel  uint8
	DataRate DataRate
	PALevel  PALevel
	// RetryDelay is in steps of 250µs (0..15), RetryCount is 0..15.
	RetryDelay      uint8
	RetryCount      uint8
	AutoAck         bool
	DynamicPayloads bool
	// AddressWidth is 3, 4 or 5 bytes.
	AddressWidth int
}

func DefaultConfig() Config {
	return Config{
		Channel:         0x76,
		DataRate:        Rate1Mbps,
		PALevel:         PAHigh,
		RetryDelay:      15,
		RetryCount:      15,
		AutoAck:         true,
		DynamicPayloads: true,
		AddressWidth:    5,
	}
}

// bus is the part of spi.Conn the driver uses.
type bus interface {
	Tx(w, r []byte) error
}

// Dev is one transceiver. It is not safe for concurrent use.
type Dev struct {
	bus  bus
	ce   gpio.PinIO
	port io.Closer
	cfg  Config

	txAddr     []byte
	rxAddrP0   []byte
	sleep      func(time.Duration)
	txDeadline time.Duration
}

// Open initializes the host drivers, opens the SPI port and CE pin by name
// (for example "/dev/spidev0.0" and "GPIO25") and configures the chip.
func Open(spiPort, cePin string, cfg Config) (*Dev, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	p, err := spireg.Open(spiPort)
	if err != nil {
		return nil, fmt.Errorf("open spi %s: %w", spiPort, err)
	}
	c, err := p.Connect(8*physic.MegaHertz, spi.Mode0, 8)
	if err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("connect spi %s: %w", spiPort, err)
	}
	ce := gpioreg.ByName(cePin)
	if ce == nil {
		_ = p.Close()
		return nil, fmt.Errorf("gpio pin %q not found", cePin)
	}
	d, err := newDev(c, ce, cfg)
	if err != nil {
		_ = p.Close()
		return nil, err
	}
	d.port = p
	return d, nil
}

// New configures a chip reachable through an already connected SPI conn.
func New(c spi.Conn, ce gpio.PinIO, cfg Config) (*Dev, error) {
	return newDev(c, ce, cfg)
}

func newDev(b bus, ce gpio.PinIO, cfg Config) (*Dev, error) {
	if cfg.AddressWidth < 3 || cfg.AddressWidth > 5 {
		return nil, fmt.Errorf("address width %d out of range 3..5", cfg.AddressWidth)
	}
	if cfg.Channel > 125 {
		return nil, fmt.Errorf("channel %d out of range 0..125", cfg.Channel)
	}
	d := &Dev{bus: b, ce: ce, cfg: cfg, sleep: time.Sleep, txDeadline: 95 * time.Millisecond}
	if err := d.begin(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Dev) begin() error {
	if err := d.ce.Out(gpio.Low); err != nil {
		return fmt.Errorf("ce low: %w", err)
	}
	d.sleep(5 * time.Millisecond)

	if err := d.writeReg(regSetupRetr, (d.cfg.RetryDelay&0x0F)<<4|d.cfg.RetryCount&0x0F); err != nil {
		return err
	}
	setup := d.rfSetup()
	if err := d.writeReg(regRFSetup, setup); err != nil {
		return err
	}
	got, err := d.readReg(regRFSetup)
	if err != nil {
		return err
	}
	if got != setup {
		return fmt.Errorf("nrf24 not responding: RF_SETUP reads 0x%02x, want 0x%02x", got, setup)
	}

	var feature, dynpd, enaa byte
	if d.cfg.DynamicPayloads {
		feature, dynpd = featureEnDPL, allPipes
	}
	if d.cfg.AutoAck {
		enaa = allPipes
	}
	writes := []struct{ reg, val byte }{
		{regFeature, feature},
		{regDynPD, dynpd},
		{regEnAA, enaa},
		{regEnRxAddr, 0},
		{regRxPwP0, maxPayload},
		{regRxPwP0 + 1, maxPayload},
		{regSetupAW, byte(d.cfg.AddressWidth - 2)},
		{regRFCh, d.cfg.Channel},
		{regStatus, statusRxDr | statusTxDs | statusMaxRt},
	}
	for _, w := range writes {
		if err := d.writeReg(w.reg, w.val); err != nil {
			return err
		}
	}
	if err := d.command(cmdFlushRx); err != nil {
		return err
	}
	if err := d.command(cmdFlushTx); err != nil {
		return err
	}

	cfg := byte(configEnCRC | configCRCO | configPwrUp)
	if err := d.writeReg(regConfig, cfg); err != nil {
		return err
	}
	d.sleep(5 * time.Millisecond)
	if got, err = d.readReg(regConfig); err != nil {
		return err
	}
	if got != cfg {
		return fmt.Errorf("nrf24 power up failed: CONFIG reads 0x%02x", got)
	}
	return nil
}

func (d *Dev) rfSetup() byte {
	v := byte(d.cfg.PALevel&0x03)<<1 | rfSetupLNA
	switch d.cfg.DataRate {
	case Rate2Mbps:
		v |= rfSetupDRHigh
	case Rate250Kbps:
		v |= rfSetupDRLow
	}
	return v
}

// address fits a to the configured width. Longer keys are truncated and
// shorter ones zero padded.
func (d *Dev) address(a []byte) []byte {
	out := make([]byte, d.cfg.AddressWidth)
	copy(out, a)
	return out
}

func (d *Dev) OpenWritingPipe(a []byte) error {
	addr := d.address(a)
	if err := d.writeRegs(regRxAddrP0, addr); err != nil {
		return err
	}
	if err := d.writeRegs(regTxAddr, addr); err != nil {
		return err
	}
	d.txAddr = addr
	return nil
}

// OpenReadingPipe enables pipe 0..5. Pipes 2..5 share the upper address
// bytes of pipe 1, so only their first byte is taken from a.
func (d *Dev) OpenReadingPipe(pipe int, a []byte) error {
	if pipe < 0 || pipe > 5 {
		return fmt.Errorf("pipe %d out of range 0..5", pipe)
	}
	addr := d.address(a)
	reg := byte(regRxAddrP0 + pipe)
	var err error
	switch {
	case pipe == 0:
		d.rxAddrP0 = addr
		err = d.writeRegs(reg, addr)
	case pipe == 1:
		err = d.writeRegs(reg, addr)
	default:
		err = d.writeReg(reg, addr[0])
	}
	if err != nil {
		return err
	}
	return d.updateReg(regEnRxAddr, 1<<pipe, 0)
}

func (d *Dev) StartListening() error {
	if err := d.updateReg(regConfig, configPwrUp|configPrimRx, 0); err != nil {
		return err
	}
	if err := d.writeReg(regStatus, statusRxDr|statusTxDs|statusMaxRt); err != nil {
		return err
	}
	if err := d.ce.Out(gpio.High); err != nil {
		return fmt.Errorf("ce high: %w", err)
	}
	if d.rxAddrP0 != nil {
		return d.writeRegs(regRxAddrP0, d.rxAddrP0)
	}
	// Pipe 0 carries the writing address for auto-ack; keep it closed in RX.
	return d.updateReg(regEnRxAddr, 0, 1)
}

func (d *Dev) StopListening() error {
	if err := d.ce.Out(gpio.Low); err != nil {
		return fmt.Errorf("ce low: %w", err)
	}
	d.sleep(100 * time.Microsecond)
	if err := d.updateReg(regConfig, 0, configPrimRx); err != nil {
		return err
	}
	if d.txAddr != nil {
		if err := d.writeRegs(regRxAddrP0, d.txAddr); err != nil {
			return err
		}
	}
	return d.updateReg(regEnRxAddr, 1, 0)
}

func (d *Dev) Available() (bool, error) {
	fifo, err := d.readReg(regFIFOStatus)
	if err != nil {
		return false, err
	}
	return fifo&fifoRxEmpty == 0, nil
}

// DynamicPayloadSize returns 0 after flushing the RX FIFO when the chip
// reports an impossible width.
func (d *Dev) DynamicPayloadSize() (int, error) {
	if !d.cfg.DynamicPayloads {
		return maxPayload, nil
	}
	r := make([]byte, 2)
	if err := d.bus.Tx([]byte{cmdRRxPlWid, cmdNop}, r); err != nil {
		return 0, err
	}
	if r[1] > maxPayload {
		return 0, d.command(cmdFlushRx)
	}
	return int(r[1]), nil
}

func (d *Dev) Read(n int) ([]byte, error) {
	if n <= 0 {
		return nil, nil
	}
	if n > maxPayload {
		n = maxPayload
	}
	w := make([]byte, n+1)
	w[0] = cmdRRxPayload
	for i := 1; i < len(w); i++ {
		w[i] = cmdNop
	}
	r := make([]byte, len(w))
	if err := d.bus.Tx(w, r); err != nil {
		return nil, err
	}
	if err := d.writeReg(regStatus, statusRxDr); err != nil {
		return nil, err
	}
	return r[1:], nil
}

var errTxTimeout = errors.New("nrf24 transmit timed out")

// Write loads payload into the TX FIFO, pulses CE and waits for TX_DS
// (acknowledged) or MAX_RT (retries exhausted).
func (d *Dev) Write(payload []byte) (bool, error) {
	if len(payload) > maxPayload {
		return false, fmt.Errorf("payload of %d bytes exceeds %d", len(payload), maxPayload)
	}
	buf := payload
	if !d.cfg.DynamicPayloads {
		buf = make([]byte, maxPayload)
		copy(buf, payload)
	}
	w := append([]byte{cmdWTxPayload}, buf...)
	if err := d.bus.Tx(w, make([]byte, len(w))); err != nil {
		return false, err
	}
	if err := d.ce.Out(gpio.High); err != nil {
		return false, fmt.Errorf("ce high: %w", err)
	}
	d.sleep(15 * time.Microsecond)

	deadline := time.Now().Add(d.txDeadline)
	var status byte
	var err error
	for {
		if status, err = d.status(); err != nil {
			break
		}
		if status&(statusTxDs|statusMaxRt) != 0 {
			break
		}
		if time.Now().After(deadline) {
			err = errTxTimeout
			break
		}
		d.sleep(100 * time.Microsecond)
	}
	if cerr := d.ce.Out(gpio.Low); cerr != nil && err == nil {
		err = fmt.Errorf("ce low: %w", cerr)
	}
	if werr := d.writeReg(regStatus, statusRxDr|statusTxDs|statusMaxRt); werr != nil && err == nil {
		err = werr
	}
	if err != nil || status&statusMaxRt != 0 {
		return false, errors.Join(err, d.command(cmdFlushTx))
	}
	return true, nil
}

// Close powers the chip down and releases the CE pin and SPI port.
func (d *Dev) Close() error {
	var errs []error
	if err := d.ce.Out(gpio.Low); err != nil {
		errs = append(errs, fmt.Errorf("ce low: %w", err))
	}
	if err := d.updateReg(regConfig, 0, configPwrUp); err != nil {
		errs = append(errs, fmt.Errorf("power down: %w", err))
	}
	if err := d.ce.Halt(); err != nil {
		errs = append(errs, fmt.Errorf("halt ce: %w", err))
	}
	if d.port != nil {
		if err := d.port.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close spi: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (d *Dev) status() (byte, error) {
	r := make([]byte, 1)
	if err := d.bus.Tx([]byte{cmdNop}, r); err != nil {
		return 0, err
	}
	return r[0], nil
}

func (d *Dev) command(cmd byte) error {
	return d.bus.Tx([]byte{cmd}, make([]byte, 1))
}

func (d *Dev) readReg(reg byte) (byte, error) {
	r := make([]byte, 2)
	if err := d.bus.Tx([]byte{cmdRRegister | reg, cmdNop}, r); err != nil {
		return 0, fmt.Errorf("read reg 0x%02x: %w", reg, err)
	}
	return r[1], nil
}

func (d *Dev) writeReg(reg, v byte) error {
	return d.writeRegs(reg, []byte{v})
}

func (d *Dev) writeRegs(reg byte, v []byte) error {
	w := append([]byte{cmdWRegister | reg}, v...)
	if err := d.bus.Tx(w, make([]byte, len(w))); err != nil {
		return fmt.Errorf("write reg 0x%02x: %w", reg, err)
	}
	return nil
}

// updateReg sets then clears bits in a single-byte register.
func (d *Dev) updateReg(reg, set, unset byte) error {
	v, err := d.readReg(reg)
	if err != nil {
		return err
	}
	return d.writeReg(reg, (v|set)&^unset)
}
