package radio

// MaxPayload is the largest frame a single transmission can carry.
const MaxPayload = 32

// Transceiver is the half-duplex radio driver. Implementations are not
// safe for concurrent use; Transport serializes access.
type Transceiver interface {
	OpenWritingPipe(addr []byte) error
	OpenReadingPipe(pipe int, addr []byte) error
	StartListening() error
	StopListening() error
	// Available reports whether a frame is waiting in the RX FIFO.
	Available() (bool, error)
	// DynamicPayloadSize is the length of the next frame in the RX FIFO.
	DynamicPayloadSize() (int, error)
	Read(n int) ([]byte, error)
	// Write blocks until the frame is acknowledged or retries run out.
	// false means the peer never acknowledged.
	Write(payload []byte) (bool, error)
	Close() error
}
