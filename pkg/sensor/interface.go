package sensor

// Source defines the interface for reading sources (serial or simulated).
type Source interface {
	Connect() error
	Close() error
	Readings() <-chan Reading
	IsConnected() bool
}

var (
	_ Source = (*Serial)(nil)
	_ Source = (*Mock)(nil)
)
